package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/oakfieldlabs/advisorai/internal/contacts"
	"github.com/oakfieldlabs/advisorai/internal/retrieve"
	"github.com/oakfieldlabs/advisorai/internal/store"
)

const (
	// Lookback window for mail and calendar pulls. Upserts are
	// idempotent, so overlap between runs is harmless.
	defaultLookback = 30 * 24 * time.Hour

	// One retry per source per run; a source down twice in a row
	// waits for the next scheduled run.
	sourceRetryBackoff = 2 * time.Second

	embedBatchLimit = 64
)

type Syncer struct {
	store    *store.Store
	index    *contacts.Index
	crm      CRMSource
	mail     MailSource
	calendar CalendarSource
	embedder retrieve.Embedder
	lookback time.Duration

	// instructions is the active standing-instruction set for the
	// current run, loaded once at the start of each pass.
	instructions []store.Instruction
}

// NewSyncer builds a syncer. Any source may be nil and is skipped;
// a nil embedder skips the embedding backfill.
func NewSyncer(st *store.Store, index *contacts.Index, crm CRMSource, mail MailSource, calendar CalendarSource, embedder retrieve.Embedder) *Syncer {
	return &Syncer{
		store:    st,
		index:    index,
		crm:      crm,
		mail:     mail,
		calendar: calendar,
		embedder: embedder,
		lookback: defaultLookback,
	}
}

// Run executes one full sync pass: contacts, then mail and calendar
// records, then the contact index rebuild and embedding backfill.
// Per-source failures are logged and do not abort the other sources.
func (s *Syncer) Run(ctx context.Context) error {
	var errs []error

	active, err := s.store.ListInstructions(true)
	if err != nil {
		errs = append(errs, fmt.Errorf("load instructions: %w", err))
	}
	s.instructions = active

	if s.crm != nil {
		if err := withRetry(ctx, "crm contacts", func() error { return s.syncContacts(ctx) }); err != nil {
			errs = append(errs, fmt.Errorf("sync contacts: %w", err))
		}
	}

	since := time.Now().Add(-s.lookback)
	if s.mail != nil {
		if err := withRetry(ctx, "mail", func() error { return s.syncMail(ctx, since) }); err != nil {
			errs = append(errs, fmt.Errorf("sync mail: %w", err))
		}
	}
	if s.calendar != nil {
		if err := withRetry(ctx, "calendar", func() error { return s.syncCalendar(ctx, since) }); err != nil {
			errs = append(errs, fmt.Errorf("sync calendar: %w", err))
		}
	}

	if err := s.rebuildIndex(); err != nil {
		errs = append(errs, err)
	}
	if s.embedder != nil {
		if err := s.backfillEmbeddings(ctx); err != nil {
			log.Printf("[sync] embedding backfill warning: %v", err)
		}
	}

	return errors.Join(errs...)
}

func (s *Syncer) syncContacts(ctx context.Context) error {
	records, err := s.crm.FetchContacts(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		contact := store.Contact{
			ID:              rec.ID,
			Name:            rec.Name,
			PrimaryEmail:    rec.PrimaryEmail,
			SecondaryEmails: rec.SecondaryEmails,
			Aliases:         contacts.DeriveAliases(rec.Name),
		}
		if err := s.store.UpsertContact(contact); err != nil {
			return fmt.Errorf("upsert contact %s: %w", rec.ID, err)
		}
	}
	log.Printf("[sync] upserted %d contacts", len(records))
	return nil
}

func (s *Syncer) syncMail(ctx context.Context, since time.Time) error {
	records, err := s.mail.FetchMessages(ctx, since)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := s.storeRecord(rec, store.SourceMail); err != nil {
			return err
		}
	}
	log.Printf("[sync] upserted %d mail records", len(records))
	return nil
}

func (s *Syncer) syncCalendar(ctx context.Context, since time.Time) error {
	records, err := s.calendar.FetchEvents(ctx, since)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := s.storeRecord(rec, store.SourceCalendar); err != nil {
			return err
		}
	}
	log.Printf("[sync] upserted %d calendar records", len(records))
	return nil
}

// storeRecord upserts one raw record and links it to a contact when
// a participant email matches. Unlinked records are retained; they
// stay out of contact-scoped retrieval until a later sync links
// them.
func (s *Syncer) storeRecord(rec SourceRecord, kind store.SourceKind) error {
	interaction := store.Interaction{
		ID:           interactionID(kind, rec.SourceRef),
		Source:       kind,
		SourceRef:    rec.SourceRef,
		OccurredAt:   rec.OccurredAt,
		Participants: rec.Participants,
		Subject:      rec.Subject,
		Body:         rec.Body,
	}

	if kind == store.SourceMail {
		if score, ok := ScoreSentiment(rec.Subject + " " + rec.Body); ok {
			interaction.Sentiment = &score
		}
	}

	if contact, ok := s.matchContact(rec, kind); ok {
		interaction.ContactID = contact.ID
	}

	if err := s.store.UpsertInteraction(interaction); err != nil {
		return fmt.Errorf("upsert interaction %s: %w", interaction.ID, err)
	}
	if interaction.ContactID != "" {
		if err := s.store.TouchContactInteraction(interaction.ContactID, rec.OccurredAt); err != nil {
			return fmt.Errorf("touch contact %s: %w", interaction.ContactID, err)
		}
	}
	return s.createFollowUps(interaction)
}

// matchContact links mail by sender address, calendar events by any
// participant address.
func (s *Syncer) matchContact(rec SourceRecord, kind store.SourceKind) (store.Contact, bool) {
	emails := rec.Participants
	if kind == store.SourceMail && rec.Sender != "" {
		emails = []string{rec.Sender}
	}
	for _, email := range emails {
		contact, err := s.store.ContactByEmail(email)
		if err == nil {
			return contact, true
		}
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[sync] contact lookup for %s failed: %v", email, err)
		}
	}
	return store.Contact{}, false
}

func (s *Syncer) rebuildIndex() error {
	all, err := s.store.ReadContacts()
	if err != nil {
		return fmt.Errorf("read contacts for index: %w", err)
	}
	s.index.Rebuild(all)
	log.Printf("[sync] contact index rebuilt with %d contacts", len(all))
	return nil
}

func (s *Syncer) backfillEmbeddings(ctx context.Context) error {
	pending, err := s.store.UnembeddedInteractions(embedBatchLimit)
	if err != nil {
		return fmt.Errorf("read unembedded interactions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	texts := make([]string, len(pending))
	for i, rec := range pending {
		text := rec.Subject + "\n" + rec.Body
		if len(text) <= 1 {
			text = "(empty)"
		}
		texts[i] = text
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	for i, vec := range vectors {
		blob, err := retrieve.EncodeVector(vec)
		if err != nil {
			return fmt.Errorf("encode vector for %s: %w", pending[i].ID, err)
		}
		if err := s.store.SetInteractionEmbedding(pending[i].ID, blob, len(vec)); err != nil {
			return fmt.Errorf("store embedding for %s: %w", pending[i].ID, err)
		}
	}
	log.Printf("[sync] embedded %d interactions", len(vectors))
	return nil
}

func withRetry(ctx context.Context, name string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	log.Printf("[sync] %s source failed, retrying once: %v", name, err)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sourceRetryBackoff):
	}
	return fn()
}

func interactionID(kind store.SourceKind, sourceRef string) string {
	return string(kind) + ":" + sourceRef
}
