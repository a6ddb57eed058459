// Package config loads service configuration from a YAML file, a .env
// file, and environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`

	// DefaultUser scopes requests that carry no user_id. Falls back to
	// the USER environment variable.
	DefaultUser string `yaml:"default_user"`

	// DataDir holds checkpoints and other on-disk state.
	DataDir string `yaml:"data_dir"`

	// RedisURL enables the Redis session store when set; otherwise
	// sessions are in-process.
	RedisURL string `yaml:"redis_url"`

	// SessionTTL bounds session lifetime in the Redis store.
	SessionTTL time.Duration `yaml:"session_ttl"`

	Embedder  EmbedderConfig  `yaml:"embedder"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Memory    MemoryConfig    `yaml:"memory"`
}

// EmbedderConfig selects and configures the embedding backend.
type EmbedderConfig struct {
	// Provider is one of "openai", "onnx", or "mock".
	Provider string `yaml:"provider"`

	// Model names the embedding model for API providers.
	Model string `yaml:"model"`

	// BaseURL overrides the API endpoint.
	BaseURL string `yaml:"base_url"`

	// ModelPath and TokenizerPath locate the local ONNX model.
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`

	// CacheSize is the embedding cache capacity (0 disables caching).
	CacheSize int64 `yaml:"cache_size"`
}

// ExtractorConfig selects and configures the fact extraction LLM.
type ExtractorConfig struct {
	// Provider is "anthropic", "openai", or "" to disable inference.
	Provider string `yaml:"provider"`

	// Model names the chat model.
	Model string `yaml:"model"`
}

// MemoryConfig tunes retrieval behavior.
type MemoryConfig struct {
	MinSimilarity     float64       `yaml:"min_similarity"`
	SearchLimit       int           `yaml:"search_limit"`
	MaxPerUser        int           `yaml:"max_per_user"`
	RecencyBias       float64       `yaml:"recency_bias"`
	RecencyHalfLife   time.Duration `yaml:"recency_half_life"`
	PromptTokenBudget int           `yaml:"prompt_token_budget"`
}

// Secrets are only read from the environment, never from YAML.
type Secrets struct {
	OpenAIKey    string
	AnthropicKey string
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Addr:       ":8765",
		DataDir:    defaultDataDir(),
		SessionTTL: 24 * time.Hour,
		Embedder: EmbedderConfig{
			Provider:  "openai",
			CacheSize: 10_000,
		},
		Extractor: ExtractorConfig{
			Provider: "openai",
		},
	}
}

// Load reads configuration. A missing file is fine; defaults plus the
// environment apply. A .env file in the working directory is read first
// so it can feed the environment lookups.
func Load(path string) (*Config, *Secrets, error) {
	// Missing .env is the common case outside development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	secrets := &Secrets{
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
	}
	return cfg, secrets, nil
}

// applyEnv lets the environment override file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RECALL_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("RECALL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RECALL_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("RECALL_DEFAULT_USER"); v != "" {
		cfg.DefaultUser = v
	}
	if cfg.DefaultUser == "" {
		cfg.DefaultUser = os.Getenv("USER")
	}
	if v := os.Getenv("RECALL_EMBEDDER"); v != "" {
		cfg.Embedder.Provider = v
	}
	if v := os.Getenv("RECALL_EXTRACTOR"); v != "" {
		cfg.Extractor.Provider = v
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recall"
	}
	return filepath.Join(home, ".recall")
}
