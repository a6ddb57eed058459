package core

import "time"

// EventKind identifies a memory mutation.
type EventKind string

const (
	EventAdd     EventKind = "add"
	EventUpdate  EventKind = "update"
	EventDelete  EventKind = "delete"
	EventPause   EventKind = "pause"
	EventResume  EventKind = "resume"
	EventArchive EventKind = "archive"
)

// Event records a single mutation of a memory. Events feed the
// append-only history log and the live websocket feed.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	MemoryID  string    `json:"memory_id"`
	UserID    string    `json:"user_id"`
	Previous  string    `json:"previous,omitempty"` // content before the mutation
	Current   string    `json:"current,omitempty"`  // content after the mutation
	Timestamp time.Time `json:"timestamp"`
}
