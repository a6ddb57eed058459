package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/recallkit/recall/core"
	"github.com/recallkit/recall/memory/extractor"
	"github.com/recallkit/recall/memory/rank"
)

// Manager orchestrates memory operations over a Store and Embedder.
// It owns the history log, enforces per-user caps, and broadcasts
// mutation events to an optional Notifier.
type Manager struct {
	store     Store
	embedder  Embedder
	extractor extractor.Extractor
	config    *Config
	history   *historyLog
	notifier  Notifier
	tracer    trace.Tracer
}

// Option configures the manager.
type Option func(*Manager)

// WithExtractor enables the LLM fact pipeline. Without it, Add stores
// input text verbatim as a single memory.
func WithExtractor(x extractor.Extractor) Option {
	return func(m *Manager) { m.extractor = x }
}

// WithNotifier sets the event sink for the live feed.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// NewManager creates a manager. A nil config uses DefaultConfig.
func NewManager(store Store, embedder Embedder, config *Config, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	m := &Manager{
		store:    store,
		embedder: embedder,
		config:   config,
		history:  newHistoryLog(),
		tracer:   otel.Tracer("recall/memory"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe sets the event sink after construction, replacing any
// notifier configured with WithNotifier.
func (m *Manager) Subscribe(n Notifier) {
	m.notifier = n
}

// AddOptions scopes and annotates an Add call.
type AddOptions struct {
	AppID      string
	SessionID  string
	Categories []string
	Metadata   map[string]any

	// Infer runs the LLM extractor when one is configured. When false
	// (or no extractor is set) the text is stored verbatim.
	Infer bool
}

// AddResult reports what an Add call did. With the extractor enabled a
// single call can produce several events of different kinds.
type AddResult struct {
	Events   []core.Event   `json:"events"`
	Memories []*core.Memory `json:"memories"`
}

// Add stores new information for a user. With an extractor configured
// and opts.Infer set, the text is distilled into facts and each fact is
// reconciled against the user's nearest existing memories; otherwise
// the text becomes one memory verbatim.
func (m *Manager) Add(ctx context.Context, userID, text string, opts AddOptions) (*AddResult, error) {
	ctx, span := m.tracer.Start(ctx, "memory.Add",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if userID == "" {
		return nil, core.ErrMissingUser
	}
	if text == "" {
		return nil, core.ErrEmptyContent
	}

	if opts.Infer && m.extractor != nil {
		return m.addInferred(ctx, userID, text, opts)
	}
	return m.addVerbatim(ctx, userID, text, opts)
}

func (m *Manager) addVerbatim(ctx context.Context, userID, text string, opts AddOptions) (*AddResult, error) {
	mem, ev, err := m.insert(ctx, userID, text, opts.Categories, opts)
	if err != nil {
		return nil, err
	}
	return &AddResult{Events: []core.Event{ev}, Memories: []*core.Memory{mem}}, nil
}

func (m *Manager) addInferred(ctx context.Context, userID, text string, opts AddOptions) (*AddResult, error) {
	facts, err := m.extractor.ExtractFacts(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}
	if len(facts) == 0 {
		log.Printf("[MEMORY] No facts extracted for user=%s", userID)
		return &AddResult{}, nil
	}

	result := &AddResult{}
	for _, fact := range facts {
		embedding, err := m.embedder.Embed(ctx, fact.Content)
		if err != nil {
			return result, fmt.Errorf("embed fact: %w", err)
		}

		neighbors, err := m.store.Query(ctx, userID, embedding, 5, core.Filters{})
		if err != nil {
			return result, fmt.Errorf("query neighbors: %w", err)
		}
		neighbors = m.threshold(neighbors)

		decision, err := m.extractor.Reconcile(ctx, fact, neighbors)
		if err != nil {
			return result, fmt.Errorf("reconcile fact: %w", err)
		}

		if err := m.apply(ctx, userID, fact, decision, opts, result); err != nil {
			return result, err
		}
	}

	log.Printf("[MEMORY] Add processed %d facts into %d events for user=%s",
		len(facts), len(result.Events), userID)
	return result, nil
}

// apply executes a single reconciliation decision.
func (m *Manager) apply(ctx context.Context, userID string, fact extractor.Fact, d extractor.Decision, opts AddOptions, result *AddResult) error {
	switch d.Op {
	case extractor.OpAdd:
		content := d.Content
		if content == "" {
			content = fact.Content
		}
		categories := d.Categories
		if len(categories) == 0 {
			categories = fact.Categories
		}
		mem, ev, err := m.insert(ctx, userID, content, categories, opts)
		if err != nil {
			return err
		}
		result.Events = append(result.Events, ev)
		result.Memories = append(result.Memories, mem)

	case extractor.OpUpdate:
		mem, err := m.Update(ctx, userID, d.TargetID, UpdateRequest{Content: d.Content})
		if err != nil {
			return fmt.Errorf("apply update to %s: %w", d.TargetID, err)
		}
		evs := m.history.get(mem.ID)
		result.Events = append(result.Events, evs[len(evs)-1])
		result.Memories = append(result.Memories, mem)

	case extractor.OpDelete:
		ev, err := m.Delete(ctx, userID, d.TargetID)
		if err != nil {
			return fmt.Errorf("apply delete to %s: %w", d.TargetID, err)
		}
		result.Events = append(result.Events, ev)

	case extractor.OpNone:
		// Duplicate or trivial fact, nothing to store.
	}
	return nil
}

// insert builds, embeds, and stores a fresh memory.
func (m *Manager) insert(ctx context.Context, userID, content string, categories []string, opts AddOptions) (*core.Memory, core.Event, error) {
	if m.config.MaxPerUser > 0 {
		n, err := m.store.Count(ctx, userID)
		if err != nil {
			return nil, core.Event{}, fmt.Errorf("count memories: %w", err)
		}
		if n >= m.config.MaxPerUser {
			return nil, core.Event{}, fmt.Errorf("memory cap reached for user %s (%d)", userID, m.config.MaxPerUser)
		}
	}

	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return nil, core.Event{}, fmt.Errorf("embed content: %w", err)
	}

	now := time.Now()
	mem := &core.Memory{
		ID:         uuid.New().String(),
		UserID:     userID,
		AppID:      opts.AppID,
		SessionID:  opts.SessionID,
		Content:    content,
		Categories: categories,
		Metadata:   opts.Metadata,
		State:      core.StateActive,
		CreatedAt:  now,
		UpdatedAt:  now,
		Embedding:  rank.Normalize(embedding),
	}

	if err := m.store.Insert(ctx, mem); err != nil {
		return nil, core.Event{}, fmt.Errorf("store memory: %w", err)
	}

	ev := m.record(core.EventAdd, mem, "")
	return mem, ev, nil
}

// SearchOptions tunes a Search call.
type SearchOptions struct {
	Limit   int
	Filters core.Filters

	// MinSimilarity overrides the configured threshold when > 0.
	MinSimilarity float64
}

// Search retrieves memories by semantic similarity to the query, sorted
// by score descending. Scores below the similarity threshold are dropped
// and recency is blended in per the configured bias.
func (m *Manager) Search(ctx context.Context, userID, query string, opts SearchOptions) ([]*core.Memory, error) {
	ctx, span := m.tracer.Start(ctx, "memory.Search",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if userID == "" {
		return nil, core.ErrMissingUser
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = m.config.SearchLimit
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	memories, err := m.store.Query(ctx, userID, embedding, limit, opts.Filters)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}

	min := opts.MinSimilarity
	if min <= 0 {
		min = m.config.MinSimilarity
	}

	now := time.Now()
	filtered := memories[:0]
	for _, mem := range memories {
		if mem.Score < min {
			continue
		}
		mem.Score = rank.Blend(mem.Score, now.Sub(mem.UpdatedAt), m.config.RecencyBias, m.config.RecencyHalfLife)
		filtered = append(filtered, mem)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})

	log.Printf("[MEMORY] Search returned %d/%d memories for user=%s", len(filtered), len(memories), userID)
	return filtered, nil
}

// RetrieveOrEmpty is the guard-railed retrieval path for agent loops:
// when search fails for any reason it logs and returns no memories so
// the caller continues without them.
func (m *Manager) RetrieveOrEmpty(ctx context.Context, userID, query string) []*core.Memory {
	memories, err := m.Search(ctx, userID, query, SearchOptions{})
	if err != nil {
		log.Printf("[MEMORY] Retrieval failed, continuing without memories: %v", err)
		return nil
	}
	return memories
}

// Get retrieves a single memory by ID.
func (m *Manager) Get(ctx context.Context, userID, memoryID string) (*core.Memory, error) {
	if userID == "" {
		return nil, core.ErrMissingUser
	}
	return m.store.Get(ctx, userID, memoryID)
}

// GetAll lists a user's memories, newest first.
func (m *Manager) GetAll(ctx context.Context, userID string, f core.Filters) ([]*core.Memory, error) {
	if userID == "" {
		return nil, core.ErrMissingUser
	}
	return m.store.List(ctx, userID, f)
}

// UpdateRequest carries the mutable fields of a memory. Zero fields are
// left unchanged.
type UpdateRequest struct {
	Content    string
	Categories []string
	Metadata   map[string]any
}

// Update rewrites a memory. Content changes trigger re-embedding.
func (m *Manager) Update(ctx context.Context, userID, memoryID string, req UpdateRequest) (*core.Memory, error) {
	ctx, span := m.tracer.Start(ctx, "memory.Update")
	defer span.End()

	mem, err := m.store.Get(ctx, userID, memoryID)
	if err != nil {
		return nil, err
	}

	previous := mem.Content
	if req.Content != "" && req.Content != mem.Content {
		embedding, err := m.embedder.Embed(ctx, req.Content)
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		mem.Content = req.Content
		mem.Embedding = rank.Normalize(embedding)
	}
	if req.Categories != nil {
		mem.Categories = req.Categories
	}
	if req.Metadata != nil {
		mem.Metadata = req.Metadata
	}
	mem.UpdatedAt = time.Now()

	if err := m.store.Update(ctx, mem); err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}

	m.record(core.EventUpdate, mem, previous)
	return mem, nil
}

// Delete soft-deletes a memory: it disappears from search and listings
// but its history remains readable.
func (m *Manager) Delete(ctx context.Context, userID, memoryID string) (core.Event, error) {
	mem, err := m.store.Get(ctx, userID, memoryID)
	if err != nil {
		return core.Event{}, err
	}

	previous := mem.Content
	mem.State = core.StateDeleted
	mem.UpdatedAt = time.Now()
	if err := m.store.Update(ctx, mem); err != nil {
		return core.Event{}, fmt.Errorf("delete memory: %w", err)
	}

	return m.record(core.EventDelete, mem, previous), nil
}

// DeleteAll soft-deletes every visible memory of a user.
func (m *Manager) DeleteAll(ctx context.Context, userID string) (int, error) {
	ctx, span := m.tracer.Start(ctx, "memory.DeleteAll",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	memories, err := m.store.List(ctx, userID, core.Filters{})
	if err != nil {
		return 0, fmt.Errorf("list memories: %w", err)
	}

	deleted := 0
	for _, mem := range memories {
		if _, err := m.Delete(ctx, userID, mem.ID); err != nil {
			return deleted, err
		}
		deleted++
	}

	log.Printf("[MEMORY] Deleted %d memories for user=%s", deleted, userID)
	return deleted, nil
}

// Purge permanently removes all of a user's memories from the index.
// Unlike DeleteAll this is not recoverable and leaves no history trail.
func (m *Manager) Purge(ctx context.Context, userID string) error {
	if userID == "" {
		return core.ErrMissingUser
	}
	return m.store.Reset(ctx, userID)
}

// History returns the append-only event log for a memory. The log is
// scoped to the owning user; anyone else sees nothing, keeping history
// namespaced like every other read.
func (m *Manager) History(userID, memoryID string) []core.Event {
	events := m.history.get(memoryID)
	if len(events) > 0 && events[0].UserID != userID {
		return nil
	}
	return events
}

// Pause excludes a memory from search without deleting it.
func (m *Manager) Pause(ctx context.Context, userID, memoryID string) error {
	return m.transition(ctx, userID, memoryID, core.StatePaused, core.EventPause)
}

// Resume returns a paused or archived memory to the active state.
func (m *Manager) Resume(ctx context.Context, userID, memoryID string) error {
	return m.transition(ctx, userID, memoryID, core.StateActive, core.EventResume)
}

// Archive removes a memory from search and default listings.
func (m *Manager) Archive(ctx context.Context, userID, memoryID string) error {
	return m.transition(ctx, userID, memoryID, core.StateArchived, core.EventArchive)
}

func (m *Manager) transition(ctx context.Context, userID, memoryID string, state core.State, kind core.EventKind) error {
	mem, err := m.store.Get(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	if mem.State == state {
		return nil
	}
	mem.State = state
	mem.UpdatedAt = time.Now()
	if err := m.store.Update(ctx, mem); err != nil {
		return fmt.Errorf("transition memory to %s: %w", state, err)
	}
	m.record(kind, mem, mem.Content)
	return nil
}

// Stats summarizes a user's memory footprint.
type Stats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Paused   int `json:"paused"`
	Archived int `json:"archived"`
}

// Stats counts a user's memories by state.
func (m *Manager) Stats(ctx context.Context, userID string) (Stats, error) {
	memories, err := m.store.List(ctx, userID, core.Filters{
		States: []core.State{core.StateActive, core.StatePaused, core.StateArchived},
	})
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, mem := range memories {
		s.Total++
		switch mem.State {
		case core.StateActive:
			s.Active++
		case core.StatePaused:
			s.Paused++
		case core.StateArchived:
			s.Archived++
		}
	}
	return s, nil
}

// record appends a history entry and fans it out to the notifier.
func (m *Manager) record(kind core.EventKind, mem *core.Memory, previous string) core.Event {
	ev := m.history.append(kind, mem, previous)
	if m.notifier != nil {
		m.notifier.Notify(ev)
	}
	return ev
}

// threshold drops neighbors below the configured similarity floor.
func (m *Manager) threshold(memories []*core.Memory) []*core.Memory {
	out := memories[:0]
	for _, mem := range memories {
		if mem.Score >= m.config.MinSimilarity {
			out = append(out, mem)
		}
	}
	return out
}
