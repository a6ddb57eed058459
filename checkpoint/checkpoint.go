// Package checkpoint persists session state snapshots that pair with
// stored memories, so an agent can resume from the last checkpoint and
// recall what it knew at that point.
//
// Snapshots are encoded as protobuf Struct messages rather than raw
// JSON, so readers in other languages can decode them with stock
// protobuf tooling.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Phase tags where in a session lifecycle the snapshot was taken.
type Phase string

const (
	PhasePre  Phase = "pre"  // before a unit of work
	PhasePost Phase = "post" // after it completed
	PhaseAuto Phase = "auto" // periodic background snapshot
)

const fileExt = ".ckpt"

// Checkpoint is a point-in-time snapshot of session state.
type Checkpoint struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Label     string         `json:"label,omitempty"`
	Phase     Phase          `json:"phase"`
	State     map[string]any `json:"state,omitempty"`
	MemoryIDs []string       `json:"memory_ids,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// encode serializes a checkpoint to protobuf wire format. State values
// must be JSON-like (strings, numbers, bools, lists, maps).
func encode(cp *Checkpoint) ([]byte, error) {
	memoryIDs := make([]any, len(cp.MemoryIDs))
	for i, id := range cp.MemoryIDs {
		memoryIDs[i] = id
	}

	fields := map[string]any{
		"id":         cp.ID,
		"session_id": cp.SessionID,
		"user_id":    cp.UserID,
		"label":      cp.Label,
		"phase":      string(cp.Phase),
		"memory_ids": memoryIDs,
		"created_at": cp.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if cp.State != nil {
		fields["state"] = cp.State
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return proto.Marshal(st)
}

// decode deserializes protobuf wire format back into a checkpoint.
func decode(data []byte) (*Checkpoint, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	fields := st.AsMap()

	cp := &Checkpoint{
		ID:        str(fields, "id"),
		SessionID: str(fields, "session_id"),
		UserID:    str(fields, "user_id"),
		Label:     str(fields, "label"),
		Phase:     Phase(str(fields, "phase")),
	}
	if raw, ok := fields["state"].(map[string]any); ok {
		cp.State = raw
	}
	if raw, ok := fields["memory_ids"].([]any); ok {
		for _, v := range raw {
			if id, ok := v.(string); ok {
				cp.MemoryIDs = append(cp.MemoryIDs, id)
			}
		}
	}
	if ts := str(fields, "created_at"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint timestamp: %w", err)
		}
		cp.CreatedAt = t
	}
	return cp, nil
}

func str(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

// Store manages checkpoints on disk, one file per checkpoint, with an
// in-memory index for listing.
type Store struct {
	dir         string
	checkpoints map[string]*Checkpoint
	mu          sync.RWMutex
}

// NewStore creates a checkpoint store rooted at dir and loads any
// existing snapshots.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	s := &Store{
		dir:         dir,
		checkpoints: make(map[string]*Checkpoint),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save assigns an ID and timestamp if missing and flushes the
// checkpoint to disk.
func (s *Store) Save(cp *Checkpoint) error {
	if cp.SessionID == "" {
		return fmt.Errorf("checkpoint requires a session ID")
	}
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	data, err := encode(cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, cp.ID+fileExt)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	s.checkpoints[cp.ID] = cp
	return nil
}

// Get retrieves a checkpoint by ID.
func (s *Store) Get(id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, fmt.Errorf("checkpoint %s not found", id)
	}
	return cp, nil
}

// List returns a session's checkpoints, newest first.
func (s *Store) List(sessionID string) []*Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Checkpoint
	for _, cp := range s.checkpoints {
		if sessionID == "" || cp.SessionID == sessionID {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Latest returns the most recent checkpoint for a session, or nil.
func (s *Store) Latest(sessionID string) *Checkpoint {
	cps := s.List(sessionID)
	if len(cps) == 0 {
		return nil
	}
	return cps[0]
}

// Prune keeps the newest n checkpoints for a session and deletes the
// rest. Returns the number removed.
func (s *Store) Prune(sessionID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	cps := s.List(sessionID)
	if len(cps) <= keep {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, cp := range cps[keep:] {
		path := filepath.Join(s.dir, cp.ID+fileExt)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove checkpoint: %w", err)
		}
		delete(s.checkpoints, cp.ID)
		removed++
	}
	return removed, nil
}

// load reads existing checkpoint files into the index. Corrupt files
// are skipped so one bad snapshot does not block startup.
func (s *Store) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		cp, err := decode(data)
		if err != nil || cp.ID == "" {
			continue
		}
		s.checkpoints[cp.ID] = cp
	}
	return nil
}
