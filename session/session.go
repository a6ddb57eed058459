// Package session tracks conversation sessions so memories and
// checkpoints can be scoped to them.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one conversation between a user and an app.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	AppID        string    `json:"app_id,omitempty"`
	CheckpointID string    `json:"checkpoint_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Store persists sessions. Implementations: InMemory for single
// process use, Redis for shared deployments.
type Store interface {
	// Start creates a session for the user and returns it.
	Start(ctx context.Context, userID, appID string) (*Session, error)

	// Get retrieves a session by ID.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Touch bumps the session's last-active timestamp.
	Touch(ctx context.Context, sessionID string) error

	// SetCheckpoint records the session's latest checkpoint.
	SetCheckpoint(ctx context.Context, sessionID, checkpointID string) error

	// List returns a user's sessions, most recently active first.
	List(ctx context.Context, userID string) ([]*Session, error)

	// End removes the session.
	End(ctx context.Context, sessionID string) error

	// Close releases resources.
	Close() error
}

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = fmt.Errorf("session not found")

// InMemory is a map-backed session store.
type InMemory struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewInMemory creates an empty in-process store.
func NewInMemory() *InMemory {
	return &InMemory{sessions: make(map[string]*Session)}
}

func (s *InMemory) Start(ctx context.Context, userID, appID string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("session requires a user ID")
	}
	now := time.Now().UTC()
	sess := &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		AppID:        appID,
		StartedAt:    now,
		LastActiveAt: now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return clone(sess), nil
}

func (s *InMemory) Get(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(sess), nil
}

func (s *InMemory) Touch(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.LastActiveAt = time.Now().UTC()
	return nil
}

func (s *InMemory) SetCheckpoint(ctx context.Context, sessionID, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.CheckpointID = checkpointID
	sess.LastActiveAt = time.Now().UTC()
	return nil
}

func (s *InMemory) List(ctx context.Context, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, clone(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out, nil
}

func (s *InMemory) End(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *InMemory) Close() error {
	return nil
}

func clone(sess *Session) *Session {
	out := *sess
	return &out
}
