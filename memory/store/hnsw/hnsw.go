// Package hnsw implements the memory.Store interface with an in-process
// HNSW graph per user. It trades chromem's simplicity for sublinear
// search on large memory sets.
package hnsw

import (
	"context"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/recallkit/recall/core"
	"github.com/recallkit/recall/memory/rank"
)

// Store indexes active memories in one HNSW graph per user. Full records
// live beside the graph so lifecycle states and filters are exact.
type Store struct {
	graphs  map[string]*hnsw.Graph[string]
	records map[string]map[string]*core.Memory
	mu      sync.RWMutex
}

// New creates an empty HNSW-backed store.
func New() *Store {
	return &Store{
		graphs:  make(map[string]*hnsw.Graph[string]),
		records: make(map[string]map[string]*core.Memory),
	}
}

// graph returns the per-user graph, creating it on first use.
// Caller must hold the write lock.
func (s *Store) graph(userID string) *hnsw.Graph[string] {
	g, ok := s.graphs[userID]
	if !ok {
		g = hnsw.NewGraph[string]()
		s.graphs[userID] = g
	}
	return g
}

// Insert saves a memory and, when active, indexes its embedding.
func (s *Store) Insert(ctx context.Context, mem *core.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.records[mem.UserID]
	if !ok {
		bucket = make(map[string]*core.Memory)
		s.records[mem.UserID] = bucket
	}
	bucket[mem.ID] = mem.Clone()

	if mem.Searchable() {
		s.graph(mem.UserID).Add(hnsw.MakeNode(mem.ID, mem.Embedding))
	}
	return nil
}

// Update replaces a stored memory and reconciles the graph with the
// record's new state.
func (s *Store) Update(ctx context.Context, mem *core.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.records[mem.UserID]
	if !ok || bucket[mem.ID] == nil {
		return core.ErrNotFound
	}
	bucket[mem.ID] = mem.Clone()

	g := s.graph(mem.UserID)
	g.Delete(mem.ID)
	if mem.Searchable() {
		g.Add(hnsw.MakeNode(mem.ID, mem.Embedding))
	}
	return nil
}

// Get retrieves a memory by ID within the user's namespace.
func (s *Store) Get(ctx context.Context, userID, memoryID string) (*core.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mem, ok := s.records[userID][memoryID]
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

// Query retrieves memories by vector similarity. The graph returns
// approximate neighbors; scores are recomputed exactly with cosine
// similarity before filtering.
func (s *Store) Query(ctx context.Context, userID string, embedding []float32, limit int, f core.Filters) ([]*core.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[userID]
	if !ok {
		return nil, nil
	}

	// Over-fetch so post-filtering can still fill the limit.
	neighbors := g.Search(embedding, limit*2)

	var memories []*core.Memory
	for _, node := range neighbors {
		mem, ok := s.records[userID][node.Key]
		if !ok || !mem.Searchable() || !f.Match(mem) {
			continue
		}
		scored := mem.Clone()
		scored.Score = rank.Cosine(embedding, node.Value)
		memories = append(memories, scored)
		if len(memories) >= limit {
			break
		}
	}

	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].Score > memories[j].Score
	})
	return memories, nil
}

// Delete removes a memory permanently.
func (s *Store) Delete(ctx context.Context, userID, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.records[userID]
	if !ok || bucket[memoryID] == nil {
		return core.ErrNotFound
	}
	delete(bucket, memoryID)
	if g, ok := s.graphs[userID]; ok {
		g.Delete(memoryID)
	}
	return nil
}

// Reset drops every memory owned by the user.
func (s *Store) Reset(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, userID)
	delete(s.graphs, userID)
	return nil
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

// Close releases resources.
func (s *Store) Close() error {
	return nil
}
