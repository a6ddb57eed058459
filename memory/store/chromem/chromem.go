// Package chromem implements the memory.Store interface on top of
// chromem-go, a pure Go embedded vector database.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/recallkit/recall/core"
)

// Store keeps one chromem collection per user for namespace isolation.
// The collection only indexes searchable memories; the full records,
// including paused and soft-deleted ones, live in a sidecar map so Get,
// List, and History stay cheap and exact.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	records     map[string]map[string]*core.Memory // userID -> memoryID -> record
	dir         string                             // empty for the in-memory store
	mu          sync.RWMutex
}

// New creates an in-memory chromem-backed store. Contents are lost on
// restart; the daemon uses NewPersistent.
func New() (*Store, error) {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		records:     make(map[string]map[string]*core.Memory),
	}, nil
}

// NewPersistent creates a store backed by dir. The vector index lives in
// chromem's own on-disk format; the sidecar records are serialized to a
// JSON file alongside it and reloaded on open.
func NewPersistent(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(filepath.Join(dir, "index"), false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}

	s := &Store{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		records:     make(map[string]map[string]*core.Memory),
		dir:         dir,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// storedRecord is the serialized form of one sidecar entry. The
// embedding is carried explicitly because Memory excludes it from JSON.
type storedRecord struct {
	Memory    *core.Memory `json:"memory"`
	Embedding []float32    `json:"embedding,omitempty"`
}

func (s *Store) recordsPath() string {
	return filepath.Join(s.dir, "records.json")
}

// load restores the sidecar records written by a previous run.
func (s *Store) load() error {
	data, err := os.ReadFile(s.recordsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read records: %w", err)
	}

	var stored map[string]map[string]storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("parse records: %w", err)
	}

	total := 0
	for userID, bucket := range stored {
		recs := make(map[string]*core.Memory, len(bucket))
		for id, rec := range bucket {
			mem := rec.Memory
			mem.Embedding = rec.Embedding
			recs[id] = mem
			total++
		}
		s.records[userID] = recs
	}
	log.Printf("[CHROMEM] Loaded %d memories for %d users from %s", total, len(stored), s.dir)
	return nil
}

// persist snapshots the sidecar records to disk. A no-op for the
// in-memory store.
func (s *Store) persist() error {
	if s.dir == "" {
		return nil
	}

	s.mu.RLock()
	stored := make(map[string]map[string]storedRecord, len(s.records))
	for userID, bucket := range s.records {
		b := make(map[string]storedRecord, len(bucket))
		for id, mem := range bucket {
			b[id] = storedRecord{Memory: mem, Embedding: mem.Embedding}
		}
		stored[userID] = b
	}
	s.mu.RUnlock()

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	tmp := s.recordsPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return os.Rename(tmp, s.recordsPath())
}

// getOrCreateCollection returns the vector collection for a user.
func (s *Store) getOrCreateCollection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[userID]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[userID]; exists {
		return col, nil
	}

	// GetOrCreateCollection also resurfaces collections the persistent
	// db loaded from disk.
	col, err := s.db.GetOrCreateCollection(collectionName(userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

func collectionName(userID string) string {
	if userID == "" {
		return "global"
	}
	return "user_" + userID
}

// Insert saves a memory and, when active, indexes its embedding.
func (s *Store) Insert(ctx context.Context, mem *core.Memory) error {
	col, err := s.getOrCreateCollection(mem.UserID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	bucket, ok := s.records[mem.UserID]
	if !ok {
		bucket = make(map[string]*core.Memory)
		s.records[mem.UserID] = bucket
	}
	bucket[mem.ID] = mem.Clone()
	s.mu.Unlock()

	if mem.Searchable() {
		if err := s.index(ctx, col, mem); err != nil {
			return err
		}
	}
	return s.persist()
}

// Update replaces a stored memory and reconciles the vector index with
// the record's new state.
func (s *Store) Update(ctx context.Context, mem *core.Memory) error {
	col, err := s.getOrCreateCollection(mem.UserID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	bucket, ok := s.records[mem.UserID]
	if !ok || bucket[mem.ID] == nil {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	bucket[mem.ID] = mem.Clone()
	s.mu.Unlock()

	// Drop the old vector unconditionally; re-add only if still searchable.
	if err := col.Delete(ctx, nil, nil, mem.ID); err != nil {
		log.Printf("[CHROMEM] Delete before re-index failed for id=%s: %v", mem.ID, err)
	}
	if mem.Searchable() {
		if err := s.index(ctx, col, mem); err != nil {
			return err
		}
	}
	return s.persist()
}

func (s *Store) index(ctx context.Context, col *chromem.Collection, mem *core.Memory) error {
	doc := chromem.Document{
		ID:        mem.ID,
		Content:   mem.Content,
		Embedding: mem.Embedding,
		Metadata: map[string]string{
			"user_id":    mem.UserID,
			"app_id":     mem.AppID,
			"session_id": mem.SessionID,
			"created_at": mem.CreatedAt.Format(time.RFC3339Nano),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Get retrieves a memory by ID within the user's namespace.
func (s *Store) Get(ctx context.Context, userID, memoryID string) (*core.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket, ok := s.records[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	mem, ok := bucket[memoryID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return mem.Clone(), nil
}

// List returns memories matching the filters, newest first.
func (s *Store) List(ctx context.Context, userID string, f core.Filters) ([]*core.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Memory
	for _, mem := range s.records[userID] {
		if f.Match(mem) {
			out = append(out, mem.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Query retrieves memories by vector similarity, scored and sorted.
func (s *Store) Query(ctx context.Context, userID string, embedding []float32, limit int, f core.Filters) ([]*core.Memory, error) {
	col, err := s.getOrCreateCollection(userID)
	if err != nil {
		return nil, err
	}

	// chromem requires nResults <= collection size.
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if limit > n {
		limit = n
	}

	where := map[string]string{}
	if f.AppID != "" {
		where["app_id"] = f.AppID
	}
	if f.SessionID != "" {
		where["session_id"] = f.SessionID
	}
	if len(where) == 0 {
		where = nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var memories []*core.Memory
	for _, result := range results {
		mem, ok := s.records[userID][result.ID]
		if !ok || !mem.Searchable() || !f.Match(mem) {
			continue
		}
		scored := mem.Clone()
		scored.Score = float64(result.Similarity)
		memories = append(memories, scored)
	}
	return memories, nil
}

// Delete removes a memory permanently.
func (s *Store) Delete(ctx context.Context, userID, memoryID string) error {
	col, err := s.getOrCreateCollection(userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	bucket, ok := s.records[userID]
	if !ok || bucket[memoryID] == nil {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	delete(bucket, memoryID)
	s.mu.Unlock()

	if err := col.Delete(ctx, nil, nil, memoryID); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	return s.persist()
}

// Reset drops every memory owned by the user.
func (s *Store) Reset(ctx context.Context, userID string) error {
	s.mu.Lock()
	delete(s.records, userID)
	if _, ok := s.collections[userID]; ok {
		delete(s.collections, userID)
		if err := s.db.DeleteCollection(collectionName(userID)); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("delete collection: %w", err)
		}
	}
	s.mu.Unlock()

	return s.persist()
}

// Count returns the number of stored memories for a user, soft-deleted
// ones excluded.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, mem := range s.records[userID] {
		if mem.Visible() {
			n++
		}
	}
	return n, nil
}

// Close writes a final snapshot of the sidecar records.
func (s *Store) Close() error {
	return s.persist()
}
