package store

import (
	"fmt"
	"strings"
)

// UpsertInteraction writes an interaction keyed by (source,
// source_ref) so a re-sync never duplicates records. Embeddings are
// preserved across upserts of the same record.
func (s *Store) UpsertInteraction(rec Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sentiment any
	if rec.Sentiment != nil {
		sentiment = *rec.Sentiment
	}
	_, err := s.db.Exec(`
		INSERT INTO interactions (id, contact_id, source, source_ref, occurred_at, participants, subject, body, sentiment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, source_ref) DO UPDATE SET
			contact_id = excluded.contact_id,
			occurred_at = excluded.occurred_at,
			participants = excluded.participants,
			subject = excluded.subject,
			body = excluded.body,
			sentiment = excluded.sentiment
	`, rec.ID, rec.ContactID, string(rec.Source), rec.SourceRef, formatTime(rec.OccurredAt),
		joinList(rec.Participants), strings.TrimSpace(rec.Subject), rec.Body, sentiment)
	if err != nil {
		return fmt.Errorf("upsert interaction: %w", err)
	}
	return nil
}

// LinkInteraction attaches an unlinked record to a contact.
func (s *Store) LinkInteraction(interactionID, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE interactions SET contact_id = ? WHERE id = ?`, contactID, interactionID)
	if err != nil {
		return fmt.Errorf("link interaction: %w", err)
	}
	return nil
}

// ReadInteractions returns the records linked to any of the given
// contacts, newest first. An empty id set returns every linked and
// unlinked record, for all-client queries.
func (s *Store) ReadInteractions(contactIDs []string) ([]Interaction, error) {
	query := `
		SELECT id, contact_id, source, source_ref, occurred_at, participants, subject, body, sentiment
		FROM interactions
	`
	args := make([]any, 0, len(contactIDs))
	if len(contactIDs) > 0 {
		query += ` WHERE contact_id IN (` + placeholders(len(contactIDs)) + `)`
		for _, id := range contactIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY occurred_at DESC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("read interactions: %w", err)
	}
	defer rows.Close()
	return scanInteractions(rows)
}

// SearchInteractions runs an FTS match over subject+body, optionally
// scoped to contacts, ordered by bm25 then recency.
func (s *Store) SearchInteractions(matchQuery string, contactIDs []string, limit int) ([]Interaction, error) {
	matchQuery = strings.TrimSpace(matchQuery)
	if matchQuery == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT i.id, i.contact_id, i.source, i.source_ref, i.occurred_at, i.participants, i.subject, i.body, i.sentiment
		FROM interactions i
		JOIN interactions_fts f ON i.rowid = f.rowid
		WHERE interactions_fts MATCH ?
	`
	args := []any{matchQuery}
	if len(contactIDs) > 0 {
		query += ` AND i.contact_id IN (` + placeholders(len(contactIDs)) + `)`
		for _, id := range contactIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY bm25(interactions_fts), i.occurred_at DESC, i.id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search interactions: %w", err)
	}
	defer rows.Close()
	return scanInteractions(rows)
}

// InteractionVector pairs a record with its stored embedding blob.
type InteractionVector struct {
	Interaction Interaction
	Embedding   []byte
}

// SetInteractionEmbedding stores an encoded embedding blob for a
// record.
func (s *Store) SetInteractionEmbedding(interactionID string, blob []byte, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE interactions SET embedding = ?, embedding_dim = ? WHERE id = ?`, blob, dim, interactionID)
	if err != nil {
		return fmt.Errorf("set interaction embedding: %w", err)
	}
	return nil
}

// ReadInteractionVectors returns embedded records for the given
// contacts (or all records when the id set is empty).
func (s *Store) ReadInteractionVectors(contactIDs []string) ([]InteractionVector, error) {
	query := `
		SELECT id, contact_id, source, source_ref, occurred_at, participants, subject, body, sentiment, embedding
		FROM interactions
		WHERE embedding IS NOT NULL AND embedding_dim > 0
	`
	args := make([]any, 0, len(contactIDs))
	if len(contactIDs) > 0 {
		query += ` AND contact_id IN (` + placeholders(len(contactIDs)) + `)`
		for _, id := range contactIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY occurred_at DESC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("read interaction vectors: %w", err)
	}
	defer rows.Close()

	result := make([]InteractionVector, 0)
	for rows.Next() {
		var rec Interaction
		var source, occurred, participants string
		var sentiment *float64
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.ContactID, &source, &rec.SourceRef, &occurred,
			&participants, &rec.Subject, &rec.Body, &sentiment, &blob); err != nil {
			return nil, fmt.Errorf("scan interaction vector: %w", err)
		}
		rec.Source = SourceKind(source)
		rec.OccurredAt = parseTime(occurred)
		rec.Participants = splitList(participants)
		rec.Sentiment = sentiment
		result = append(result, InteractionVector{Interaction: rec, Embedding: blob})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interaction vectors: %w", err)
	}
	return result, nil
}

// UnembeddedInteractions returns records still without a stored
// embedding, oldest first so backfill is stable.
func (s *Store) UnembeddedInteractions(limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, contact_id, source, source_ref, occurred_at, participants, subject, body, sentiment
		FROM interactions
		WHERE embedding IS NULL OR embedding_dim = 0
		ORDER BY occurred_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("unembedded interactions: %w", err)
	}
	defer rows.Close()
	return scanInteractions(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanInteractions(rows rowScanner) ([]Interaction, error) {
	result := make([]Interaction, 0)
	for rows.Next() {
		var rec Interaction
		var source, occurred, participants string
		var sentiment *float64
		if err := rows.Scan(
			&rec.ID,
			&rec.ContactID,
			&source,
			&rec.SourceRef,
			&occurred,
			&participants,
			&rec.Subject,
			&rec.Body,
			&sentiment,
		); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		rec.Source = SourceKind(source)
		rec.OccurredAt = parseTime(occurred)
		rec.Participants = splitList(participants)
		rec.Sentiment = sentiment
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interactions: %w", err)
	}
	return result, nil
}
