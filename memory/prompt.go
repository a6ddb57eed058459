package memory

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/recallkit/recall/core"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// countTokens measures text with the cl100k_base tokenizer, falling back
// to the len/4 heuristic when the encoding cannot be loaded (offline).
func countTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Printf("[MEMORY] tiktoken unavailable, using len/4 estimate: %v", err)
			return
		}
		encoding = enc
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// FormatForPrompt renders search results as a block ready for system
// prompt injection, staying under the configured token budget. Memories
// are included in score order; one that would overflow the budget is
// truncated, and anything after it is dropped.
func (m *Manager) FormatForPrompt(memories []*core.Memory) string {
	if len(memories) == 0 {
		return ""
	}

	budget := m.config.PromptTokenBudget
	if budget <= 0 {
		budget = DefaultConfig().PromptTokenBudget
	}

	var b strings.Builder
	header := "=== RELEVANT MEMORIES ===\n"
	b.WriteString(header)
	used := countTokens(header)

	for i, mem := range memories {
		line := fmt.Sprintf("%d. %s\n", i+1, mem.Content)
		cost := countTokens(line)

		if used+cost > budget {
			remaining := budget - used
			if remaining <= 4 {
				break
			}
			// Rough char allowance for the leftover budget.
			maxChars := remaining * 4
			if maxChars < len(line) {
				line = truncate(line, maxChars) + "\n"
			}
			b.WriteString(line)
			break
		}

		b.WriteString(line)
		used += cost
	}

	return b.String()
}

// truncate shortens a string to at most maxLen bytes, adding "..." if
// truncated. The cut lands on a rune boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
