package store

import "time"

// Contact is a CRM contact record. Aliases are derived once at
// ingestion and are read-only to the chat pipeline.
type Contact struct {
	ID              string
	Name            string
	PrimaryEmail    string
	SecondaryEmails []string
	Aliases         []string
	LastInteraction time.Time
}

// SourceKind is where an interaction record came from.
type SourceKind string

const (
	SourceMail     SourceKind = "mail"
	SourceCalendar SourceKind = "calendar"
)

// Interaction is one synced email or calendar record. ContactID is
// empty until the record is linked to a contact; unlinked records are
// retained but excluded from contact-scoped retrieval.
type Interaction struct {
	ID           string
	ContactID    string
	Source       SourceKind
	SourceRef    string
	OccurredAt   time.Time
	Participants []string
	Subject      string
	Body         string
	Sentiment    *float64
}

// Instruction is a standing rule the advisor sets once: when a synced
// record trips one of its trigger keywords, a follow-up task is
// created.
type Instruction struct {
	ID        string
	Name      string
	Text      string
	Triggers  []string
	Active    bool
	CreatedAt time.Time
}

// TaskStatus of a follow-up task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskDismissed TaskStatus = "dismissed"
)

// Task is a follow-up created when an instruction matched a synced
// record. The (instruction, interaction) pair is unique so a re-sync
// never duplicates a follow-up.
type Task struct {
	ID            string
	InstructionID string
	InteractionID string
	ContactID     string
	Title         string
	Description   string
	Status        TaskStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Session is one chat conversation.
type Session struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one chat message. Turns are append-only and strictly
// ordered by Seq within a session. ResolvedContacts records the
// contact ids an assistant turn was grounded on; later turns use it
// for pronoun resolution. ReplyTo points an assistant turn at the
// user turn it answers; the unique index on it is what makes a second
// answer to the same user turn impossible.
type Turn struct {
	ID               string
	SessionID        string
	Seq              int64
	Role             Role
	Content          string
	ResolvedContacts []string
	ReplyTo          string
	CreatedAt        time.Time
}
