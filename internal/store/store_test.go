package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertContactReplacesAliases(t *testing.T) {
	s := openTestStore(t)

	c := Contact{
		ID:           "c-1",
		Name:         "Sarah Johnson",
		PrimaryEmail: "Sarah@Example.com",
		Aliases:      []string{"sarah johnson", "sarah"},
	}
	if err := s.UpsertContact(c); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	c.Name = "Sarah Johnson-Lee"
	c.Aliases = []string{"sarah johnson-lee", "sarah", "sj"}
	if err := s.UpsertContact(c); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.ReadContacts()
	if err != nil {
		t.Fatalf("read contacts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("contacts = %d, want 1", len(got))
	}
	if got[0].Name != "Sarah Johnson-Lee" {
		t.Errorf("name = %q", got[0].Name)
	}
	if got[0].PrimaryEmail != "sarah@example.com" {
		t.Errorf("email not normalized: %q", got[0].PrimaryEmail)
	}
	if len(got[0].Aliases) != 3 {
		t.Errorf("aliases = %v, want the replaced set of 3", got[0].Aliases)
	}
}

func TestContactByEmail(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertContact(Contact{
		ID:              "c-1",
		Name:            "Sarah Johnson",
		PrimaryEmail:    "sarah@example.com",
		SecondaryEmails: []string{"sjohnson@work.com"},
	}); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		email  string
		wantID string
		found  bool
	}{
		{"sarah@example.com", "c-1", true},
		{"SARAH@example.com", "c-1", true},
		{"sjohnson@work.com", "c-1", true},
		{"nobody@example.com", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := s.ContactByEmail(tc.email)
		if tc.found {
			if err != nil {
				t.Errorf("ContactByEmail(%q): %v", tc.email, err)
				continue
			}
			if got.ID != tc.wantID {
				t.Errorf("ContactByEmail(%q) = %s, want %s", tc.email, got.ID, tc.wantID)
			}
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("ContactByEmail(%q) err = %v, want ErrNotFound", tc.email, err)
		}
	}
}

func TestTouchContactKeepsLatest(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertContact(Contact{ID: "c-1", Name: "Sarah Johnson"}); err != nil {
		t.Fatal(err)
	}

	later := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := s.TouchContactInteraction("c-1", later); err != nil {
		t.Fatal(err)
	}
	if err := s.TouchContactInteraction("c-1", earlier); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadContacts()
	if err != nil {
		t.Fatal(err)
	}
	if !got[0].LastInteraction.Equal(later) {
		t.Errorf("last interaction = %v, want %v", got[0].LastInteraction, later)
	}
}

func TestUpsertInteractionIdempotent(t *testing.T) {
	s := openTestStore(t)

	rec := Interaction{
		ID:         "mail:msg-1",
		Source:     SourceMail,
		SourceRef:  "msg-1",
		OccurredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Subject:    "retirement plan",
		Body:       "first version",
	}
	if err := s.UpsertInteraction(rec); err != nil {
		t.Fatal(err)
	}
	rec.Body = "second version"
	if err := s.UpsertInteraction(rec); err != nil {
		t.Fatal(err)
	}

	all, err := s.ReadInteractions(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("records = %d, want 1", len(all))
	}
	if all[0].Body != "second version" {
		t.Errorf("body = %q", all[0].Body)
	}
}

func TestSearchInteractionsFTS(t *testing.T) {
	s := openTestStore(t)

	seed := []Interaction{
		{ID: "mail:1", Source: SourceMail, SourceRef: "1", OccurredAt: time.Now(), Subject: "retirement planning", Body: "401k rollover options"},
		{ID: "mail:2", Source: SourceMail, SourceRef: "2", OccurredAt: time.Now(), Subject: "lunch", Body: "see you thursday"},
	}
	for _, rec := range seed {
		if err := s.UpsertInteraction(rec); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SearchInteractions(`"retirement"`, nil, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "mail:1" {
		t.Errorf("search result = %+v", got)
	}

	if got, err := s.SearchInteractions("", nil, 10); err != nil || got != nil {
		t.Errorf("empty query = %v, %v", got, err)
	}
}

func TestReadInteractionsScoped(t *testing.T) {
	s := openTestStore(t)

	seed := []Interaction{
		{ID: "mail:1", ContactID: "c-1", Source: SourceMail, SourceRef: "1", OccurredAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Body: "older"},
		{ID: "mail:2", ContactID: "c-1", Source: SourceMail, SourceRef: "2", OccurredAt: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), Body: "newer"},
		{ID: "mail:3", ContactID: "c-2", Source: SourceMail, SourceRef: "3", OccurredAt: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), Body: "other contact"},
	}
	for _, rec := range seed {
		if err := s.UpsertInteraction(rec); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ReadInteractions([]string{"c-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "mail:2" || got[1].ID != "mail:1" {
		t.Errorf("scoped read = %+v, want newest first for c-1", got)
	}

	all, err := s.ReadInteractions(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("unscoped read = %d records, want 3", len(all))
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing session err = %v, want ErrNotFound", err)
	}

	if err := s.CreateSession(Session{ID: "s-1", OwnerID: "advisor-1", Title: "retirement questions"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSession("s-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "retirement questions" || got.OwnerID != "advisor-1" {
		t.Errorf("session = %+v", got)
	}

	if err := s.CreateSession(Session{ID: "s-2", OwnerID: "advisor-1", Title: "second"}); err != nil {
		t.Fatal(err)
	}
	sessions, err := s.ListSessions("advisor-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Errorf("sessions = %d, want 2", len(sessions))
	}
	if other, _ := s.ListSessions("advisor-2"); len(other) != 0 {
		t.Errorf("other owner sees %d sessions", len(other))
	}
}

func TestAppendTurnOrderAndHistory(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateSession(Session{ID: "s-1", OwnerID: "advisor-1"}); err != nil {
		t.Fatal(err)
	}

	first, err := s.AppendTurn(Turn{ID: "t-1", SessionID: "s-1", Role: RoleUser, Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.AppendTurn(Turn{ID: "t-2", SessionID: "s-1", Role: RoleAssistant, Content: "hi", ReplyTo: "t-1", ResolvedContacts: []string{"c-1"}})
	if err != nil {
		t.Fatal(err)
	}
	if second.Seq <= first.Seq {
		t.Errorf("seq not increasing: %d then %d", first.Seq, second.Seq)
	}

	turns, err := s.ReadHistory("s-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[0].ID != "t-1" || turns[1].ID != "t-2" {
		t.Fatalf("history = %+v", turns)
	}
	if len(turns[1].ResolvedContacts) != 1 || turns[1].ResolvedContacts[0] != "c-1" {
		t.Errorf("resolved contacts = %v", turns[1].ResolvedContacts)
	}
}

func TestAppendTurnRejectsSecondAnswer(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateSession(Session{ID: "s-1", OwnerID: "advisor-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendTurn(Turn{ID: "t-1", SessionID: "s-1", Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendTurn(Turn{ID: "t-2", SessionID: "s-1", Role: RoleAssistant, Content: "first answer", ReplyTo: "t-1"}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AppendTurn(Turn{ID: "t-3", SessionID: "s-1", Role: RoleAssistant, Content: "second answer", ReplyTo: "t-1"}); err == nil {
		t.Fatal("second answer to the same user turn was accepted")
	}
}

func TestEmbeddingBackfillSurface(t *testing.T) {
	s := openTestStore(t)

	rec := Interaction{ID: "mail:1", Source: SourceMail, SourceRef: "1", OccurredAt: time.Now(), Body: "b"}
	if err := s.UpsertInteraction(rec); err != nil {
		t.Fatal(err)
	}

	pending, err := s.UnembeddedInteractions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("unembedded = %d, want 1", len(pending))
	}

	blob := []byte{1, 0, 0, 0, 0, 0, 128, 63}
	if err := s.SetInteractionEmbedding("mail:1", blob, 1); err != nil {
		t.Fatal(err)
	}

	pending, err = s.UnembeddedInteractions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("unembedded after set = %d, want 0", len(pending))
	}

	vectors, err := s.ReadInteractionVectors(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 1 || len(vectors[0].Embedding) != len(blob) {
		t.Errorf("vectors = %+v", vectors)
	}
}

func TestSaveInstructionUpsert(t *testing.T) {
	s := openTestStore(t)

	inst := Instruction{ID: "i-1", Name: "AAPL watch", Text: "Flag AAPL chatter", Triggers: []string{"aapl"}, Active: true}
	if err := s.SaveInstruction(inst); err != nil {
		t.Fatalf("save: %v", err)
	}

	inst.Name = "Apple watch"
	inst.Triggers = []string{"aapl", "apple"}
	inst.Active = false
	if err := s.SaveInstruction(inst); err != nil {
		t.Fatalf("second save: %v", err)
	}

	all, err := s.ListInstructions(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("instructions = %d, want 1", len(all))
	}
	if all[0].Name != "Apple watch" || len(all[0].Triggers) != 2 || all[0].Active {
		t.Errorf("instruction not replaced: %+v", all[0])
	}

	active, err := s.ListInstructions(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("active instructions = %d, want 0", len(active))
	}
}

func TestCreateTaskOnceDedup(t *testing.T) {
	s := openTestStore(t)

	task := Task{
		ID:            "task-1",
		InstructionID: "i-1",
		InteractionID: "mail:1",
		ContactID:     "c-1",
		Title:         "AAPL watch",
		Description:   "Sarah asked about AAPL",
		Status:        TaskPending,
	}
	created, err := s.CreateTaskOnce(task)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("first create reported no insert")
	}

	task.ID = "task-2"
	created, err = s.CreateTaskOnce(task)
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if created {
		t.Error("duplicate instruction/interaction pair inserted a second task")
	}

	pending, err := s.ListTasks(TaskPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "task-1" {
		t.Fatalf("pending = %+v, want the single original task", pending)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateTaskOnce(Task{ID: "task-1", InstructionID: "i-1", InteractionID: "mail:1", Title: "t", Status: TaskPending}); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateTaskStatus("task-1", TaskCompleted); err != nil {
		t.Fatalf("update: %v", err)
	}
	done, err := s.ListTasks(TaskCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 1 {
		t.Fatalf("completed = %d, want 1", len(done))
	}

	if err := s.UpdateTaskStatus("missing", TaskDismissed); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing task: err = %v, want ErrNotFound", err)
	}
}
