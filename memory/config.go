package memory

import "time"

// Config holds Manager configuration.
type Config struct {
	// MinSimilarity is the minimum cosine similarity for search results
	// [0.0-1.0]. Small local models produce lower scores (~0.35 for
	// similar text) than API embedders (0.7-0.85 range).
	MinSimilarity float64

	// SearchLimit is the default result count for Search when the caller
	// does not specify one.
	SearchLimit int

	// MaxPerUser caps total memories per user. 0 means unlimited.
	// When the cap is reached, Add fails rather than silently evicting.
	MaxPerUser int

	// RecencyBias mixes recency into search ranking [0.0-1.0].
	// 0 ranks purely by similarity.
	RecencyBias float64

	// RecencyHalfLife controls how fast the recency term decays.
	RecencyHalfLife time.Duration

	// PromptTokenBudget caps the token count of FormatForPrompt output.
	PromptTokenBudget int
}

// DefaultConfig returns sensible defaults for a local deployment.
func DefaultConfig() *Config {
	return &Config{
		MinSimilarity:     0.3,
		SearchLimit:       10,
		MaxPerUser:        10000,
		RecencyBias:       0.1,
		RecencyHalfLife:   30 * 24 * time.Hour,
		PromptTokenBudget: 2000,
	}
}
