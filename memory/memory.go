package memory

import (
	"context"

	"github.com/recallkit/recall/core"
)

// Store is the vector storage backend interface.
// Implementations: chromem (embedded vector DB), hnsw (in-process graph index).
type Store interface {
	// Insert saves a new memory. The embedding must be set before calling.
	Insert(ctx context.Context, mem *core.Memory) error

	// Update replaces an existing memory, re-indexing its embedding.
	Update(ctx context.Context, mem *core.Memory) error

	// Get retrieves a memory by ID within the user's namespace.
	// Returns core.ErrNotFound when absent.
	Get(ctx context.Context, userID, memoryID string) (*core.Memory, error)

	// List returns memories matching the filters, newest first.
	List(ctx context.Context, userID string, f core.Filters) ([]*core.Memory, error)

	// Query retrieves memories by vector similarity, scored and sorted by
	// score descending. Only memories in a searchable state participate.
	Query(ctx context.Context, userID string, embedding []float32, limit int, f core.Filters) ([]*core.Memory, error)

	// Delete removes a memory from the index permanently.
	Delete(ctx context.Context, userID, memoryID string) error

	// Reset drops every memory owned by the user.
	Reset(ctx context.Context, userID string) error

	// Count returns the number of memories owned by the user.
	Count(ctx context.Context, userID string) (int, error)

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), onnx (local model), openai (API).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Notifier receives memory mutation events. The server's websocket hub
// implements this; a nil notifier disables the feed.
type Notifier interface {
	Notify(ev core.Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ev core.Event)

func (f NotifierFunc) Notify(ev core.Event) { f(ev) }
