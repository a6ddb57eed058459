package core

import (
	"time"
)

// State is the lifecycle state of a memory.
type State string

const (
	// StateActive memories are retrievable and searchable.
	StateActive State = "active"

	// StatePaused memories are excluded from search but remain listable.
	// Pausing is reversible.
	StatePaused State = "paused"

	// StateArchived memories are excluded from search and default listings.
	StateArchived State = "archived"

	// StateDeleted memories are soft-deleted: invisible everywhere except
	// history, until purged.
	StateDeleted State = "deleted"
)

// Memory is a stored natural-language fact associated with a user.
//
// Memories are namespaced by UserID: no operation ever returns another
// user's memories. AppID and SessionID are optional secondary scopes.
type Memory struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	AppID     string `json:"app_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// Content is the memory text itself, e.g. "Prefers dark mode in all tools".
	Content string `json:"content"`

	// Categories are free-form labels, e.g. "preferences", "work".
	Categories []string `json:"categories,omitempty"`

	// Metadata holds caller-defined fields. Values must be JSON-encodable.
	Metadata map[string]any `json:"metadata,omitempty"`

	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Embedding is the vector used for similarity search. Not serialized
	// in API responses.
	Embedding []float32 `json:"-"`

	// Score is the cosine similarity to the query, populated on search
	// results only. Range [0,1].
	Score float64 `json:"score,omitempty"`
}

// Searchable reports whether the memory participates in vector search.
func (m *Memory) Searchable() bool {
	return m.State == StateActive
}

// Visible reports whether the memory appears in listings.
func (m *Memory) Visible() bool {
	return m.State != StateDeleted
}

// Clone returns a deep copy of the memory.
func (m *Memory) Clone() *Memory {
	cp := *m
	if m.Categories != nil {
		cp.Categories = append([]string(nil), m.Categories...)
	}
	if m.Metadata != nil {
		cp.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	if m.Embedding != nil {
		cp.Embedding = append([]float32(nil), m.Embedding...)
	}
	return &cp
}
