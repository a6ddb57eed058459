package hnsw_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/recallkit/recall/core"
	"github.com/recallkit/recall/memory/embedder/mock"
	"github.com/recallkit/recall/memory/store/hnsw"
)

func embed(t *testing.T, text string) []float32 {
	t.Helper()
	vec, err := mock.New().Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("Failed to embed: %v", err)
	}
	return vec
}

func newMemory(t *testing.T, id, userID, content string) *core.Memory {
	t.Helper()
	now := time.Now()
	return &core.Memory{
		ID:        id,
		UserID:    userID,
		Content:   content,
		State:     core.StateActive,
		CreatedAt: now,
		UpdatedAt: now,
		Embedding: embed(t, content),
	}
}

func TestStore_QueryExactRescoring(t *testing.T) {
	ctx := context.Background()
	store := hnsw.New()

	if err := store.Insert(ctx, newMemory(t, "m1", "user1", "Runs marathons")); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if err := store.Insert(ctx, newMemory(t, "m2", "user1", "Paints watercolors")); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	results, err := store.Query(ctx, "user1", embed(t, "Runs marathons"), 10, core.Filters{})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Expected results")
	}
	if results[0].ID != "m1" || results[0].Score < 0.99 {
		t.Errorf("Expected m1 with ~1.0 score, got %s %f", results[0].ID, results[0].Score)
	}
}

func TestStore_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	store := hnsw.New()

	if err := store.Insert(ctx, newMemory(t, "m1", "user1", "Shared hobby text")); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	results, err := store.Query(ctx, "user2", embed(t, "Shared hobby text"), 10, core.Filters{})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Query leaked across users: %+v", results)
	}
	if _, err := store.Get(ctx, "user2", "m1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_UpdateDropsFromGraph(t *testing.T) {
	ctx := context.Background()
	store := hnsw.New()

	mem := newMemory(t, "m1", "user1", "Keeps a reading journal")
	if err := store.Insert(ctx, mem); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	deleted := mem.Clone()
	deleted.State = core.StateDeleted
	if err := store.Update(ctx, deleted); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	results, err := store.Query(ctx, "user1", embed(t, "Keeps a reading journal"), 10, core.Filters{})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Soft-deleted memory still searchable: %+v", results)
	}

	n, err := store.Count(ctx, "user1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if n != 0 {
		t.Errorf("Soft-deleted memory counted as visible: %d", n)
	}
}

func TestStore_DeleteAndReset(t *testing.T) {
	ctx := context.Background()
	store := hnsw.New()

	if err := store.Insert(ctx, newMemory(t, "m1", "user1", "Fact one")); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if err := store.Delete(ctx, "user1", "m1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if err := store.Delete(ctx, "user1", "m1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on double delete, got %v", err)
	}

	if err := store.Insert(ctx, newMemory(t, "m2", "user1", "Fact two")); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if err := store.Reset(ctx, "user1"); err != nil {
		t.Fatalf("Failed to reset: %v", err)
	}
	listed, err := store.List(ctx, "user1", core.Filters{})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("Expected empty listing after reset, got %+v", listed)
	}
}
