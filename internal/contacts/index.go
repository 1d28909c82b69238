// Package contacts maintains the queryable index of CRM contacts by
// name token, email and alias. The index is read-mostly: resolution
// works against an immutable snapshot, and a rebuild swaps the whole
// snapshot in one pointer store so no lookup ever observes a torn
// refresh.
package contacts

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/oakfieldlabs/advisorai/internal/store"
)

type Index struct {
	snap atomic.Pointer[Snapshot]
}

func NewIndex() *Index {
	idx := &Index{}
	idx.snap.Store(buildSnapshot(nil))
	return idx
}

// Rebuild replaces the current snapshot with one built from a fresh
// contact set.
func (i *Index) Rebuild(contacts []store.Contact) {
	i.snap.Store(buildSnapshot(contacts))
}

// Snapshot returns the current consistent view. Callers hold it for
// the duration of one resolution.
func (i *Index) Snapshot() *Snapshot {
	return i.snap.Load()
}

// Snapshot is an immutable view of the contact set.
type Snapshot struct {
	contacts []store.Contact
	exact    map[string][]store.Contact
	initials map[string][]store.Contact
}

func buildSnapshot(contacts []store.Contact) *Snapshot {
	snap := &Snapshot{
		contacts: append([]store.Contact(nil), contacts...),
		exact:    make(map[string][]store.Contact),
		initials: make(map[string][]store.Contact),
	}
	for _, c := range contacts {
		keys := make(map[string]struct{})
		for _, alias := range c.Aliases {
			if k := Normalize(alias); k != "" {
				keys[k] = struct{}{}
			}
		}
		if k := Normalize(c.PrimaryEmail); k != "" {
			keys[k] = struct{}{}
		}
		for _, email := range c.SecondaryEmails {
			if k := Normalize(email); k != "" {
				keys[k] = struct{}{}
			}
		}
		for k := range keys {
			snap.exact[k] = appendContact(snap.exact[k], c)
		}
		if ini := initialsOf(c.Name); ini != "" {
			snap.initials[ini] = appendContact(snap.initials[ini], c)
		}
	}
	return snap
}

// Lookup returns contacts whose alias or email matches the token
// exactly, case-insensitive and whitespace-normalized.
func (s *Snapshot) Lookup(token string) []store.Contact {
	key := Normalize(token)
	if key == "" {
		return nil
	}
	return sortedCopy(s.exact[key])
}

// LookupPartial returns lower-confidence matches: the token as a
// substring of a multi-word alias, or as the contact's initials
// ("jd" matching "John Doe"). Used only when Lookup found nothing.
func (s *Snapshot) LookupPartial(token string) []store.Contact {
	key := Normalize(token)
	if key == "" {
		return nil
	}

	matched := make(map[string]store.Contact)
	for _, c := range s.initials[key] {
		matched[c.ID] = c
	}
	for _, c := range s.contacts {
		if _, ok := matched[c.ID]; ok {
			continue
		}
		for _, alias := range c.Aliases {
			norm := Normalize(alias)
			// Substring matching is restricted to multi-word aliases:
			// a short token inside a single surname ("he" in "Chen")
			// is noise, not a reference.
			if !strings.Contains(norm, " ") {
				continue
			}
			if len(norm) > len(key) && strings.Contains(norm, key) {
				matched[c.ID] = c
				break
			}
		}
	}

	out := make([]store.Contact, 0, len(matched))
	for _, c := range matched {
		out = append(out, c)
	}
	return sortedCopy(out)
}

// All returns every contact, for exhaustive scans when a query
// plausibly references any client.
func (s *Snapshot) All() []store.Contact {
	return sortedCopy(s.contacts)
}

func (s *Snapshot) Len() int {
	return len(s.contacts)
}

// ByID finds a contact in the snapshot by identifier.
func (s *Snapshot) ByID(id string) (store.Contact, bool) {
	for _, c := range s.contacts {
		if c.ID == id {
			return c, true
		}
	}
	return store.Contact{}, false
}

// DeriveAliases computes a contact's alias set from its display name:
// the full name plus each individual name token. Derivation happens
// once at ingestion; the chat pipeline never mutates aliases.
func DeriveAliases(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	seen := make(map[string]struct{})
	aliases := make([]string, 0, 4)
	add := func(alias string) {
		key := Normalize(alias)
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		aliases = append(aliases, alias)
	}

	add(name)
	for _, part := range strings.Fields(name) {
		add(part)
	}
	return aliases
}

// Normalize lowercases and collapses internal whitespace.
func Normalize(token string) string {
	return strings.ToLower(strings.Join(strings.Fields(token), " "))
}

func initialsOf(name string) string {
	var b strings.Builder
	for _, part := range strings.Fields(name) {
		runes := []rune(part)
		if len(runes) > 0 {
			b.WriteRune(runes[0])
		}
	}
	ini := strings.ToLower(b.String())
	if len(ini) < 2 {
		return ""
	}
	return ini
}

func appendContact(list []store.Contact, c store.Contact) []store.Contact {
	for _, existing := range list {
		if existing.ID == c.ID {
			return list
		}
	}
	return append(list, c)
}

func sortedCopy(list []store.Contact) []store.Contact {
	if len(list) == 0 {
		return nil
	}
	out := append([]store.Contact(nil), list...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
