package resolve

import (
	"reflect"
	"testing"

	"github.com/oakfieldlabs/advisorai/internal/contacts"
	"github.com/oakfieldlabs/advisorai/internal/store"
)

func testSnapshot() *contacts.Snapshot {
	idx := contacts.NewIndex()
	idx.Rebuild([]store.Contact{
		{ID: "c-smith", Name: "John Smith", PrimaryEmail: "jsmith@example.com", Aliases: contacts.DeriveAliases("John Smith")},
		{ID: "c-doe", Name: "John Doe", PrimaryEmail: "jdoe@example.com", Aliases: contacts.DeriveAliases("John Doe")},
		{ID: "c-sarah", Name: "Sarah Johnson", PrimaryEmail: "sarah@example.com", Aliases: contacts.DeriveAliases("Sarah Johnson")},
	})
	return idx.Snapshot()
}

func TestResolveExact(t *testing.T) {
	got := Resolve(testSnapshot(), []string{"Sarah"}, nil)
	if len(got) != 1 {
		t.Fatalf("candidates = %d, want 1", len(got))
	}
	c := got[0]
	if c.Confidence != ConfidenceExact || !reflect.DeepEqual(c.ContactIDs, []string{"c-sarah"}) {
		t.Errorf("candidate = %+v", c)
	}
}

func TestResolveAmbiguous(t *testing.T) {
	got := Resolve(testSnapshot(), []string{"John"}, nil)
	if len(got) != 1 {
		t.Fatalf("candidates = %d, want 1", len(got))
	}
	c := got[0]
	if c.Confidence != ConfidenceNoneUnique {
		t.Fatalf("confidence = %s, want none-unique", c.Confidence)
	}
	if !reflect.DeepEqual(c.ContactIDs, []string{"c-doe", "c-smith"}) {
		t.Errorf("contact ids = %v", c.ContactIDs)
	}
}

func TestResolvePartial(t *testing.T) {
	// "johns" is a substring of "sarah johnson" only.
	got := Resolve(testSnapshot(), []string{"johns"}, nil)
	if got[0].Confidence != ConfidencePartial || got[0].ContactIDs[0] != "c-sarah" {
		t.Errorf("candidate = %+v", got[0])
	}
}

func TestResolvePronounFromHistory(t *testing.T) {
	history := []store.Turn{
		{Role: store.RoleUser, Content: "what did Sarah say"},
		{Role: store.RoleAssistant, Content: "...", ResolvedContacts: []string{"c-sarah"}},
	}
	got := Resolve(testSnapshot(), []string{"she"}, history)
	c := got[0]
	if c.Confidence != ConfidenceHistory || !reflect.DeepEqual(c.ContactIDs, []string{"c-sarah"}) {
		t.Errorf("candidate = %+v", c)
	}
}

func TestResolvePronounNoHistory(t *testing.T) {
	got := Resolve(testSnapshot(), []string{"she"}, nil)
	if got[0].Confidence != ConfidenceNone || len(got[0].ContactIDs) != 0 {
		t.Errorf("candidate = %+v", got[0])
	}
}

func TestResolveUnknownName(t *testing.T) {
	got := Resolve(testSnapshot(), []string{"Zelda"}, nil)
	if got[0].Confidence != ConfidenceNone {
		t.Errorf("candidate = %+v", got[0])
	}
}

func TestHistorySkipsMultiContactTurns(t *testing.T) {
	history := []store.Turn{
		{Role: store.RoleAssistant, ResolvedContacts: []string{"c-sarah"}},
		{Role: store.RoleAssistant, ResolvedContacts: []string{"c-doe", "c-smith"}},
	}
	id, ok := FromHistory(history)
	if !ok || id != "c-sarah" {
		t.Errorf("FromHistory = %q, %v", id, ok)
	}
}

func TestResolveDeterministic(t *testing.T) {
	snap := testSnapshot()
	spans := []string{"John", "Sarah", "she"}
	history := []store.Turn{{Role: store.RoleAssistant, ResolvedContacts: []string{"c-doe"}}}

	first := Resolve(snap, spans, history)
	second := Resolve(snap, spans, history)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("resolve not deterministic:\n%+v\n%+v", first, second)
	}
}
