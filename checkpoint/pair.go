package checkpoint

import (
	"context"
	"fmt"
	"log"

	"github.com/recallkit/recall/memory"
)

// Pairer saves checkpoints together with a pointer memory, so semantic
// search over memories can surface the snapshot that produced them.
type Pairer struct {
	store    *Store
	memories *memory.Manager
}

// NewPairer couples a checkpoint store with a memory manager.
func NewPairer(store *Store, memories *memory.Manager) *Pairer {
	return &Pairer{store: store, memories: memories}
}

// Save stores the checkpoint, then records a memory pointing back at
// it. A failed memory write does not roll back the checkpoint; the
// snapshot is the durable half of the pair.
func (p *Pairer) Save(ctx context.Context, cp *Checkpoint) error {
	if err := p.store.Save(cp); err != nil {
		return err
	}

	label := cp.Label
	if label == "" {
		label = string(cp.Phase)
	}
	content := fmt.Sprintf("Checkpoint %q saved for session %s", label, cp.SessionID)

	result, err := p.memories.Add(ctx, cp.UserID, content, memory.AddOptions{
		SessionID:  cp.SessionID,
		Categories: []string{"checkpoint"},
		Metadata: map[string]any{
			"checkpoint_id": cp.ID,
			"phase":         string(cp.Phase),
		},
	})
	if err != nil {
		log.Printf("[CHECKPOINT] Pointer memory write failed for %s: %v", cp.ID, err)
		return nil
	}

	for _, mem := range result.Memories {
		cp.MemoryIDs = append(cp.MemoryIDs, mem.ID)
	}
	if len(result.Memories) > 0 {
		// Persist the back-references picked up from the memory write.
		return p.store.Save(cp)
	}
	return nil
}

// Resume returns the latest checkpoint for the session plus the
// memories recorded with it. Missing memories are skipped.
func (p *Pairer) Resume(ctx context.Context, userID, sessionID string) (*Checkpoint, []string, error) {
	cp := p.store.Latest(sessionID)
	if cp == nil {
		return nil, nil, nil
	}

	var contents []string
	for _, id := range cp.MemoryIDs {
		mem, err := p.memories.Get(ctx, userID, id)
		if err != nil {
			continue
		}
		contents = append(contents, mem.Content)
	}
	return cp, contents, nil
}
