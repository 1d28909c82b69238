// Package resolve maps extracted name spans to CRM contacts. It is a
// pure function of its inputs plus one contact snapshot; ambiguity is
// always surfaced to the caller, never silently resolved, so one
// client's records can never leak into another client's answer.
package resolve

import (
	"github.com/oakfieldlabs/advisorai/internal/contacts"
	"github.com/oakfieldlabs/advisorai/internal/extract"
	"github.com/oakfieldlabs/advisorai/internal/store"
)

type Confidence string

const (
	// ConfidenceExact is a single exact alias or email match.
	ConfidenceExact Confidence = "exact"
	// ConfidencePartial is a single substring or initials match.
	ConfidencePartial Confidence = "partial"
	// ConfidenceHistory is a pronoun adopted from a prior turn's
	// resolved contact.
	ConfidenceHistory Confidence = "history"
	// ConfidenceNoneUnique carries multiple equally valid contacts
	// for the caller to surface as a clarifying question.
	ConfidenceNoneUnique Confidence = "none-unique"
	// ConfidenceNone means the span matched nothing.
	ConfidenceNone Confidence = "none"
)

// Candidate is the resolution outcome for one span. It is ephemeral
// and never persisted.
type Candidate struct {
	Span       string
	ContactIDs []string
	Confidence Confidence
}

// Resolve disambiguates each span against the snapshot, falling back
// to conversation history for pronoun-class spans. Given identical
// inputs the output is identical.
func Resolve(snap *contacts.Snapshot, spans []string, history []store.Turn) []Candidate {
	out := make([]Candidate, 0, len(spans))
	for _, span := range spans {
		out = append(out, resolveSpan(snap, span, history))
	}
	return out
}

func resolveSpan(snap *contacts.Snapshot, span string, history []store.Turn) Candidate {
	cand := Candidate{Span: span}

	exact := snap.Lookup(span)
	switch {
	case len(exact) == 1:
		cand.ContactIDs = ids(exact)
		cand.Confidence = ConfidenceExact
		return cand
	case len(exact) > 1:
		cand.ContactIDs = ids(exact)
		cand.Confidence = ConfidenceNoneUnique
		return cand
	}

	partial := snap.LookupPartial(span)
	switch {
	case len(partial) == 1:
		cand.ContactIDs = ids(partial)
		cand.Confidence = ConfidencePartial
		return cand
	case len(partial) > 1:
		cand.ContactIDs = ids(partial)
		cand.Confidence = ConfidenceNoneUnique
		return cand
	}

	if extract.HasPronounCue(span) {
		if id, ok := FromHistory(history); ok {
			cand.ContactIDs = []string{id}
			cand.Confidence = ConfidenceHistory
			return cand
		}
	}

	cand.Confidence = ConfidenceNone
	return cand
}

// FromHistory walks the history most-recent-turn-first and returns
// the contact of the last turn grounded on exactly one contact.
func FromHistory(history []store.Turn) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if len(history[i].ResolvedContacts) == 1 {
			return history[i].ResolvedContacts[0], true
		}
	}
	return "", false
}

func ids(list []store.Contact) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}
