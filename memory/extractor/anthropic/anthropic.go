// Package anthropic implements fact extraction and reconciliation with
// the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/recallkit/recall/core"
	"github.com/recallkit/recall/memory/extractor"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024
)

const extractSystemPrompt = `You extract long-term memories from conversation text.
Return a JSON array of facts worth remembering about the user: preferences,
decisions, biographical details, constraints, goals. Ignore small talk and
transient state. Each element: {"content": "...", "categories": ["..."]}.
Content must be a single self-contained sentence. Return [] if nothing is
worth keeping. Return ONLY the JSON array, no prose.`

const reconcileSystemPrompt = `You maintain a deduplicated memory store.
Given a NEW fact and EXISTING similar memories, decide one action:
- ADD: the fact is genuinely new
- UPDATE: it supersedes or refines an existing memory (include its id)
- DELETE: it contradicts an existing memory that must be removed (include its id)
- NONE: it is already covered, do nothing
Respond ONLY with JSON: {"op": "ADD|UPDATE|DELETE|NONE", "target_id": "",
"content": "", "categories": []}. For UPDATE, content is the merged memory.`

// Config configures the extractor.
type Config struct {
	// APIKey is the Anthropic API key (ANTHROPIC_API_KEY).
	APIKey string

	// Model defaults to a small fast model; extraction does not need a
	// frontier one.
	Model string

	// MaxTokens caps the response size.
	MaxTokens int64
}

// Extractor asks Claude to distill facts and reconcile them against
// existing memories.
type Extractor struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// New creates an Anthropic-backed extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	return &Extractor{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}, nil
}

// ExtractFacts distills memorable facts from free-form text.
func (e *Extractor) ExtractFacts(ctx context.Context, text string) ([]extractor.Fact, error) {
	raw, err := e.complete(ctx, extractSystemPrompt, text)
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	var facts []extractor.Fact
	if err := json.Unmarshal([]byte(stripFences(raw)), &facts); err != nil {
		return nil, fmt.Errorf("parse facts response: %w", err)
	}

	out := facts[:0]
	for _, f := range facts {
		if strings.TrimSpace(f.Content) != "" {
			out = append(out, f)
		}
	}
	return out, nil
}

// Reconcile decides how a new fact relates to its nearest neighbors.
func (e *Extractor) Reconcile(ctx context.Context, fact extractor.Fact, neighbors []*core.Memory) (extractor.Decision, error) {
	if len(neighbors) == 0 {
		return extractor.Decision{Op: extractor.OpAdd, Content: fact.Content, Categories: fact.Categories}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "NEW FACT: %s\n\nEXISTING MEMORIES:\n", fact.Content)
	for _, mem := range neighbors {
		fmt.Fprintf(&b, "- id=%s content=%q\n", mem.ID, mem.Content)
	}

	raw, err := e.complete(ctx, reconcileSystemPrompt, b.String())
	if err != nil {
		return extractor.Decision{}, fmt.Errorf("reconcile: %w", err)
	}

	var decision struct {
		Op         string   `json:"op"`
		TargetID   string   `json:"target_id"`
		Content    string   `json:"content"`
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &decision); err != nil {
		return extractor.Decision{}, fmt.Errorf("parse reconcile response: %w", err)
	}

	op := extractor.Op(strings.ToUpper(decision.Op))
	switch op {
	case extractor.OpAdd, extractor.OpUpdate, extractor.OpDelete, extractor.OpNone:
	default:
		log.Printf("[EXTRACTOR] Unknown op %q, defaulting to ADD", decision.Op)
		op = extractor.OpAdd
	}

	content := decision.Content
	if content == "" {
		content = fact.Content
	}
	categories := decision.Categories
	if len(categories) == 0 {
		categories = fact.Categories
	}

	return extractor.Sanitize(extractor.Decision{
		Op:         op,
		TargetID:   decision.TargetID,
		Content:    content,
		Categories: categories,
	}, fact), nil
}

// complete runs a single-turn request and returns the text response.
func (e *Extractor) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("empty response")
	}
	return text, nil
}

// stripFences removes a markdown code fence the model sometimes wraps
// around JSON despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
