package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a turn could not be appended after repeated
// sequence collisions with concurrent writers.
var ErrConflict = errors.New("conflict")

// MaxKeyDecisions bounds SessionContext.KeyDecisions.
const MaxKeyDecisions = 10

// Resource types.
const (
	ResourceText        = "text"
	ResourceChatContext = "chat_context"
)

type Chat struct {
	ID          string
	PrincipalID string
	PersonaID   string // empty when the chat has no persona
	FolderID    string
	Title       string
	Turns       []Turn
	Session     *SessionContext
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Attachment describes a file that accompanied a question. Only the
// descriptor is stored, never the payload.
type Attachment struct {
	Kind string
	Name string
}

type Turn struct {
	ID         string
	ChatID     string
	Seq        int
	Question   string
	Answer     string
	Attachment *Attachment
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SessionContext is the short-lived memory attached to a chat.
type SessionContext struct {
	Topic        string
	KeyDecisions []string
	UpdatedAt    time.Time
}

// Merge returns a copy of sc with the given topic and decisions applied.
// A non-empty topic replaces the current one; decisions are appended and
// the list is trimmed to the most recent MaxKeyDecisions entries.
func (sc SessionContext) Merge(topic string, decisions []string, now time.Time) SessionContext {
	out := SessionContext{Topic: sc.Topic, UpdatedAt: now}
	if topic != "" {
		out.Topic = topic
	}
	merged := make([]string, 0, len(sc.KeyDecisions)+len(decisions))
	merged = append(merged, sc.KeyDecisions...)
	for _, d := range decisions {
		if d != "" {
			merged = append(merged, d)
		}
	}
	if len(merged) > MaxKeyDecisions {
		merged = merged[len(merged)-MaxKeyDecisions:]
	}
	out.KeyDecisions = merged
	return out
}

// IsEmpty reports whether there is nothing worth showing to the model.
func (sc *SessionContext) IsEmpty() bool {
	return sc == nil || (sc.Topic == "" && len(sc.KeyDecisions) == 0)
}

type Resource struct {
	ID          string
	PrincipalID string
	PersonaID   string
	ChatID      string
	Type        string // ResourceText or ResourceChatContext
	Title       string
	Source      string
	Content     string
	CreatedAt   time.Time
}

type Persona struct {
	ID                     string
	PrincipalID            string
	Name                   string
	Instructions           string
	ExcludeBusinessContext bool
	IsolateRAGContext      bool
	CreatedAt              time.Time
}

type BusinessProfile struct {
	PrincipalID string
	Name        string
	Type        string
	Size        string
	Description string
	UpdatedAt   time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
