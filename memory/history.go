package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recallkit/recall/core"
)

// historyLog is the append-only record of memory mutations, kept per
// memory ID. History survives soft deletion of the memory itself.
type historyLog struct {
	mu       sync.RWMutex
	byMemory map[string][]core.Event
}

func newHistoryLog() *historyLog {
	return &historyLog{byMemory: make(map[string][]core.Event)}
}

// append records an event and returns it with ID and timestamp filled in.
func (h *historyLog) append(kind core.EventKind, mem *core.Memory, previous string) core.Event {
	ev := core.Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		MemoryID:  mem.ID,
		UserID:    mem.UserID,
		Previous:  previous,
		Current:   mem.Content,
		Timestamp: time.Now(),
	}
	if kind == core.EventDelete {
		ev.Current = ""
	}

	h.mu.Lock()
	h.byMemory[mem.ID] = append(h.byMemory[mem.ID], ev)
	h.mu.Unlock()

	return ev
}

// get returns the events for a memory in append order.
func (h *historyLog) get(memoryID string) []core.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]core.Event(nil), h.byMemory[memoryID]...)
}
