package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertContact writes a contact and replaces its alias set. Aliases
// are derived by the caller at ingestion time; the chat pipeline only
// ever reads them.
func (s *Store) UpsertContact(c Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert contact: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO contacts (id, name, primary_email, secondary_emails, last_interaction)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			primary_email = excluded.primary_email,
			secondary_emails = excluded.secondary_emails,
			updated_at = datetime('now')
	`, c.ID, strings.TrimSpace(c.Name), normalizeEmail(c.PrimaryEmail), joinList(c.SecondaryEmails), formatTime(c.LastInteraction))
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM contact_aliases WHERE contact_id = ?`, c.ID); err != nil {
		return fmt.Errorf("clear aliases: %w", err)
	}
	for _, alias := range c.Aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO contact_aliases (contact_id, alias) VALUES (?, ?)
			ON CONFLICT(contact_id, alias) DO NOTHING
		`, c.ID, alias); err != nil {
			return fmt.Errorf("write alias: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert contact: %w", err)
	}
	return nil
}

// ReadContacts returns every contact with its aliases, for index
// rebuilds.
func (s *Store) ReadContacts() ([]Contact, error) {
	rows, err := s.db.Query(`
		SELECT id, name, primary_email, secondary_emails, last_interaction
		FROM contacts
		ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]Contact, 0)
	for rows.Next() {
		var c Contact
		var secondary, last string
		if err := rows.Scan(&c.ID, &c.Name, &c.PrimaryEmail, &secondary, &last); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.SecondaryEmails = splitList(secondary)
		c.LastInteraction = parseTime(last)
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}

	aliasRows, err := s.db.Query(`SELECT contact_id, alias FROM contact_aliases`)
	if err != nil {
		return nil, fmt.Errorf("read aliases: %w", err)
	}
	defer aliasRows.Close()

	aliases := make(map[string][]string)
	for aliasRows.Next() {
		var id, alias string
		if err := aliasRows.Scan(&id, &alias); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		aliases[id] = append(aliases[id], alias)
	}
	if err := aliasRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aliases: %w", err)
	}

	for i := range contacts {
		contacts[i].Aliases = aliases[contacts[i].ID]
	}
	return contacts, nil
}

// ContactByEmail looks a contact up by any of its addresses.
func (s *Store) ContactByEmail(email string) (Contact, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Contact{}, ErrNotFound
	}

	row := s.db.QueryRow(`
		SELECT id, name, primary_email, secondary_emails, last_interaction
		FROM contacts
		WHERE primary_email = ? OR instr(secondary_emails, ?) > 0
		LIMIT 1
	`, email, email)

	var c Contact
	var secondary, last string
	if err := row.Scan(&c.ID, &c.Name, &c.PrimaryEmail, &secondary, &last); err != nil {
		if err == sql.ErrNoRows {
			return Contact{}, ErrNotFound
		}
		return Contact{}, fmt.Errorf("contact by email: %w", err)
	}
	c.SecondaryEmails = splitList(secondary)
	c.LastInteraction = parseTime(last)
	return c, nil
}

// TouchContactInteraction advances a contact's last-interaction
// timestamp, keeping the latest value.
func (s *Store) TouchContactInteraction(contactID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		UPDATE contacts
		SET last_interaction = MAX(last_interaction, ?), updated_at = datetime('now')
		WHERE id = ?
	`, formatTime(at), contactID)
	if err != nil {
		return fmt.Errorf("touch contact: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
