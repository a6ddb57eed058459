package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/recallkit/recall/session"
)

func TestInMemory_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemory()

	sess, err := store.Start(ctx, "user1", "workbench")
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	if sess.ID == "" || sess.StartedAt.IsZero() {
		t.Fatal("Start must assign ID and timestamps")
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got.UserID != "user1" || got.AppID != "workbench" {
		t.Errorf("Unexpected session: %+v", got)
	}

	if err := store.SetCheckpoint(ctx, sess.ID, "cp-42"); err != nil {
		t.Fatalf("Failed to set checkpoint: %v", err)
	}
	got, err = store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got.CheckpointID != "cp-42" {
		t.Errorf("Checkpoint not recorded: %+v", got)
	}

	if err := store.End(ctx, sess.ID); err != nil {
		t.Fatalf("Failed to end session: %v", err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after end, got %v", err)
	}
}

func TestInMemory_StartRequiresUser(t *testing.T) {
	store := session.NewInMemory()
	if _, err := store.Start(context.Background(), "", "app"); err == nil {
		t.Error("Expected error for missing user ID")
	}
}

func TestInMemory_ListPerUser(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemory()

	first, err := store.Start(ctx, "user1", "")
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	second, err := store.Start(ctx, "user1", "")
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	if _, err := store.Start(ctx, "user2", ""); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	// Touching the first session makes it the most recently active.
	if err := store.Touch(ctx, first.ID); err != nil {
		t.Fatalf("Failed to touch: %v", err)
	}

	sessions, err := store.List(ctx, "user1")
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != first.ID {
		t.Errorf("Expected touched session first, got %s (want %s, other %s)",
			sessions[0].ID, first.ID, second.ID)
	}
	for _, s := range sessions {
		if s.UserID != "user1" {
			t.Errorf("List leaked session of user %s", s.UserID)
		}
	}
}

func TestInMemory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemory()

	sess, err := store.Start(ctx, "user1", "")
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	got.CheckpointID = "mutated"

	again, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if again.CheckpointID == "mutated" {
		t.Error("Get must return a copy, not the stored session")
	}
}
