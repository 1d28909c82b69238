// Package sync pulls contacts and interaction records from the
// external CRM, mail, and calendar collaborators into the local
// store, links records to contacts, and keeps the contact index and
// embeddings fresh.
package sync

import (
	"context"
	"time"
)

// ContactRecord is a contact as the CRM source reports it.
type ContactRecord struct {
	ID              string
	Name            string
	PrimaryEmail    string
	SecondaryEmails []string
}

// SourceRecord is one raw message or event from a mail or calendar
// source. SourceRef is the source's own identifier and keys the
// idempotent upsert.
type SourceRecord struct {
	SourceRef    string
	OccurredAt   time.Time
	Sender       string
	Participants []string
	Subject      string
	Body         string
}

type CRMSource interface {
	FetchContacts(ctx context.Context) ([]ContactRecord, error)
}

type MailSource interface {
	FetchMessages(ctx context.Context, since time.Time) ([]SourceRecord, error)
}

type CalendarSource interface {
	FetchEvents(ctx context.Context, since time.Time) ([]SourceRecord, error)
}
