package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// CreateSession opens a new chat session.
func (s *Store) CreateSession(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO chat_sessions (id, owner_id, title) VALUES (?, ?, ?)
	`, sess.ID, sess.OwnerID, strings.TrimSpace(sess.Title))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(sessionID string) (Session, error) {
	row := s.db.QueryRow(`
		SELECT id, owner_id, title, created_at, updated_at
		FROM chat_sessions WHERE id = ?
	`, sessionID)

	var sess Session
	var created, updated string
	if err := row.Scan(&sess.ID, &sess.OwnerID, &sess.Title, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return sess, nil
}

// ListSessions returns an owner's sessions, most recently touched
// first.
func (s *Store) ListSessions(ownerID string) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, title, created_at, updated_at
		FROM chat_sessions
		WHERE owner_id = ?
		ORDER BY updated_at DESC, id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		var sess Session
		var created, updated string
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.CreatedAt = parseTime(created)
		sess.UpdatedAt = parseTime(updated)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// AppendTurn appends one turn to a session. Turns are never updated
// or deleted; the autoincrement seq fixes the order. An assistant
// turn that names an already-answered user turn in ReplyTo fails on
// the unique index, which is the guard against double answers.
func (s *Store) AppendTurn(turn Turn) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO chat_turns (id, session_id, role, content, resolved_contacts, reply_to)
		VALUES (?, ?, ?, ?, ?, ?)
	`, turn.ID, turn.SessionID, string(turn.Role), turn.Content, joinList(turn.ResolvedContacts), turn.ReplyTo)
	if err != nil {
		return Turn{}, fmt.Errorf("append turn: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Turn{}, fmt.Errorf("append turn seq: %w", err)
	}
	turn.Seq = seq

	if _, err := s.db.Exec(`UPDATE chat_sessions SET updated_at = datetime('now') WHERE id = ?`, turn.SessionID); err != nil {
		return Turn{}, fmt.Errorf("touch session: %w", err)
	}
	return turn, nil
}

// ReadHistory returns a session's turns in append order.
func (s *Store) ReadHistory(sessionID string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT seq, id, session_id, role, content, resolved_contacts, reply_to, created_at
		FROM chat_turns
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0)
	for rows.Next() {
		var turn Turn
		var role, resolved, created string
		if err := rows.Scan(&turn.Seq, &turn.ID, &turn.SessionID, &role, &turn.Content, &resolved, &turn.ReplyTo, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = Role(role)
		turn.ResolvedContacts = splitList(resolved)
		turn.CreatedAt = parseTime(created)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}
