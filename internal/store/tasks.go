package store

import (
	"fmt"
	"strings"
)

// SaveInstruction upserts a standing instruction by id.
func (s *Store) SaveInstruction(inst Instruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	if inst.Active {
		active = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO instructions (id, name, instruction, triggers, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			instruction = excluded.instruction,
			triggers = excluded.triggers,
			active = excluded.active
	`, inst.ID, strings.TrimSpace(inst.Name), strings.TrimSpace(inst.Text), joinList(inst.Triggers), active)
	if err != nil {
		return fmt.Errorf("save instruction: %w", err)
	}
	return nil
}

// ListInstructions returns instructions, optionally only active ones,
// in creation order.
func (s *Store) ListInstructions(activeOnly bool) ([]Instruction, error) {
	query := `SELECT id, name, instruction, triggers, active, created_at FROM instructions`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list instructions: %w", err)
	}
	defer rows.Close()

	out := make([]Instruction, 0)
	for rows.Next() {
		var inst Instruction
		var triggers, created string
		var active int
		if err := rows.Scan(&inst.ID, &inst.Name, &inst.Text, &triggers, &active, &created); err != nil {
			return nil, fmt.Errorf("scan instruction: %w", err)
		}
		inst.Triggers = splitList(triggers)
		inst.Active = active != 0
		inst.CreatedAt = parseTime(created)
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instructions: %w", err)
	}
	return out, nil
}

// CreateTaskOnce inserts a follow-up task unless one already exists
// for the same instruction and interaction. Reports whether a new
// task was created.
func (s *Store) CreateTaskOnce(task Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := task.Status
	if status == "" {
		status = TaskPending
	}
	res, err := s.db.Exec(`
		INSERT INTO tasks (id, instruction_id, interaction_id, contact_id, title, description, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instruction_id, interaction_id) DO NOTHING
	`, task.ID, task.InstructionID, task.InteractionID, task.ContactID,
		strings.TrimSpace(task.Title), task.Description, string(status))
	if err != nil {
		return false, fmt.Errorf("create task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create task result: %w", err)
	}
	return n > 0, nil
}

// ListTasks returns tasks with the given status (or all statuses when
// empty), newest first.
func (s *Store) ListTasks(status TaskStatus) ([]Task, error) {
	query := `
		SELECT id, instruction_id, interaction_id, contact_id, title, description, status, created_at, updated_at
		FROM tasks
	`
	args := make([]any, 0, 1)
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0)
	for rows.Next() {
		var task Task
		var st, created, updated string
		if err := rows.Scan(&task.ID, &task.InstructionID, &task.InteractionID, &task.ContactID,
			&task.Title, &task.Description, &st, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		task.Status = TaskStatus(st)
		task.CreatedAt = parseTime(created)
		task.UpdatedAt = parseTime(updated)
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

// UpdateTaskStatus moves a task to a new status.
func (s *Store) UpdateTaskStatus(taskID string, status TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, updated_at = datetime('now') WHERE id = ?
	`, string(status), taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
