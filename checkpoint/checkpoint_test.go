package checkpoint_test

import (
	"context"
	"testing"
	"time"

	"github.com/recallkit/recall/checkpoint"
	"github.com/recallkit/recall/memory"
	"github.com/recallkit/recall/memory/embedder/mock"
	"github.com/recallkit/recall/memory/store/chromem"
)

func TestStore_SaveAndReload(t *testing.T) {
	dir := t.TempDir()

	store, err := checkpoint.NewStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	cp := &checkpoint.Checkpoint{
		SessionID: "sess1",
		UserID:    "user1",
		Label:     "after planning",
		Phase:     checkpoint.PhasePost,
		State: map[string]any{
			"step":     float64(3),
			"plan":     "draft",
			"approved": true,
		},
	}
	if err := store.Save(cp); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if cp.ID == "" || cp.CreatedAt.IsZero() {
		t.Fatal("Save must assign ID and timestamp")
	}

	// A fresh store over the same directory must see the snapshot.
	reloaded, err := checkpoint.NewStore(dir)
	if err != nil {
		t.Fatalf("Failed to reload store: %v", err)
	}
	got, err := reloaded.Get(cp.ID)
	if err != nil {
		t.Fatalf("Failed to get after reload: %v", err)
	}
	if got.SessionID != "sess1" || got.Label != "after planning" || got.Phase != checkpoint.PhasePost {
		t.Errorf("Reloaded checkpoint differs: %+v", got)
	}
	if got.State["plan"] != "draft" || got.State["approved"] != true {
		t.Errorf("State not preserved: %+v", got.State)
	}
	if got.State["step"] != float64(3) {
		t.Errorf("Numeric state not preserved: %v", got.State["step"])
	}
}

func TestStore_SaveRequiresSession(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Save(&checkpoint.Checkpoint{UserID: "user1"}); err == nil {
		t.Error("Expected error for missing session ID")
	}
}

func TestStore_ListLatestPrune(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	var last *checkpoint.Checkpoint
	for i := 0; i < 4; i++ {
		cp := &checkpoint.Checkpoint{
			SessionID: "sess1",
			UserID:    "user1",
			Phase:     checkpoint.PhaseAuto,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Save(cp); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
		last = cp
	}
	other := &checkpoint.Checkpoint{SessionID: "sess2", UserID: "user1", Phase: checkpoint.PhaseAuto}
	if err := store.Save(other); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	cps := store.List("sess1")
	if len(cps) != 4 {
		t.Fatalf("Expected 4 checkpoints, got %d", len(cps))
	}
	if cps[0].ID != last.ID {
		t.Errorf("List not newest first")
	}

	latest := store.Latest("sess1")
	if latest == nil || latest.ID != last.ID {
		t.Errorf("Latest returned wrong checkpoint")
	}

	removed, err := store.Prune("sess1", 2)
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if got := store.List("sess1"); len(got) != 2 {
		t.Errorf("Expected 2 remaining, got %d", len(got))
	}
	// Other sessions untouched.
	if got := store.List("sess2"); len(got) != 1 {
		t.Errorf("Prune crossed sessions: %d", len(got))
	}
}

func TestPairer_SaveAndResume(t *testing.T) {
	ctx := context.Background()

	cpStore, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create checkpoint store: %v", err)
	}
	memStore, err := chromem.New()
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	manager := memory.NewManager(memStore, mock.New(), nil)
	pairer := checkpoint.NewPairer(cpStore, manager)

	cp := &checkpoint.Checkpoint{
		SessionID: "sess1",
		UserID:    "user1",
		Label:     "milestone",
		Phase:     checkpoint.PhasePost,
	}
	if err := pairer.Save(ctx, cp); err != nil {
		t.Fatalf("Failed to save pair: %v", err)
	}
	if len(cp.MemoryIDs) != 1 {
		t.Fatalf("Expected 1 pointer memory, got %d", len(cp.MemoryIDs))
	}

	// The pointer memory carries the checkpoint ID in its metadata.
	mem, err := manager.Get(ctx, "user1", cp.MemoryIDs[0])
	if err != nil {
		t.Fatalf("Failed to get pointer memory: %v", err)
	}
	if mem.Metadata["checkpoint_id"] != cp.ID {
		t.Errorf("Pointer memory metadata: %+v", mem.Metadata)
	}

	got, contents, err := pairer.Resume(ctx, "user1", "sess1")
	if err != nil {
		t.Fatalf("Failed to resume: %v", err)
	}
	if got == nil || got.ID != cp.ID {
		t.Fatalf("Resume returned wrong checkpoint: %+v", got)
	}
	if len(contents) != 1 {
		t.Errorf("Expected 1 memory content, got %d", len(contents))
	}

	// No checkpoint for an unknown session.
	got, _, err = pairer.Resume(ctx, "user1", "nope")
	if err != nil || got != nil {
		t.Errorf("Expected nil checkpoint for unknown session, got %+v, %v", got, err)
	}
}
