// Package extractor defines the optional LLM pipeline that distills raw
// conversation text into discrete facts and reconciles them against the
// memories already stored for a user.
package extractor

import (
	"context"
	"log"

	"github.com/recallkit/recall/core"
)

// Fact is a single candidate memory extracted from raw text.
type Fact struct {
	// Content is the distilled statement, e.g. "Works at Acme as a data
	// engineer".
	Content string

	// Categories suggested by the extractor, e.g. "work", "preferences".
	Categories []string
}

// Op is the reconciliation action for a fact.
type Op string

const (
	// OpAdd stores the fact as a new memory.
	OpAdd Op = "ADD"

	// OpUpdate rewrites an existing memory that the fact supersedes or
	// refines.
	OpUpdate Op = "UPDATE"

	// OpDelete removes an existing memory the fact contradicts.
	OpDelete Op = "DELETE"

	// OpNone discards the fact (duplicate or not worth storing).
	OpNone Op = "NONE"
)

// Decision is the outcome of reconciling one fact against its nearest
// existing memories.
type Decision struct {
	Op Op

	// TargetID is the existing memory affected by UPDATE or DELETE.
	TargetID string

	// Content is the text to store for ADD, or the rewritten text for
	// UPDATE.
	Content string

	// Categories for the stored memory.
	Categories []string
}

// Sanitize repairs a decision that names no target: UPDATE falls back
// to ADD and DELETE to NONE. One malformed model reply must not abort
// the remaining facts in a batch.
func Sanitize(d Decision, fact Fact) Decision {
	if d.TargetID != "" {
		return d
	}
	switch d.Op {
	case OpUpdate:
		log.Printf("[EXTRACTOR] UPDATE without target_id, storing as ADD")
		d.Op = OpAdd
		if d.Content == "" {
			d.Content = fact.Content
		}
	case OpDelete:
		log.Printf("[EXTRACTOR] DELETE without target_id, ignoring")
		d.Op = OpNone
	}
	return d
}

// Extractor is the LLM-backed fact pipeline.
// Implementations: anthropic (Claude), openai (GPT).
//
// The Manager works without an Extractor: in verbatim mode the input
// text is stored as a single memory unchanged.
type Extractor interface {
	// ExtractFacts distills raw text into candidate facts. An empty
	// result means the text carried nothing worth remembering.
	ExtractFacts(ctx context.Context, text string) ([]Fact, error)

	// Reconcile decides what to do with a fact given the most similar
	// existing memories (may be empty).
	Reconcile(ctx context.Context, fact Fact, neighbors []*core.Memory) (Decision, error)
}
