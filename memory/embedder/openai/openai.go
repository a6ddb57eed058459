// Package openai provides an Embedder backed by the OpenAI embeddings
// API.
package openai

import (
	"context"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
)

// Model dimensions for the embedding models we support.
const (
	dimsSmall = 1536 // text-embedding-3-small
	dimsLarge = 3072 // text-embedding-3-large
)

// Config configures the OpenAI embedder.
type Config struct {
	// APIKey is the OpenAI API key (OPENAI_API_KEY).
	APIKey string

	// Model defaults to text-embedding-3-small.
	Model string

	// BaseURL overrides the API endpoint for proxies and compatible
	// servers (Ollama, LiteLLM).
	BaseURL string
}

// Embedder calls the OpenAI embeddings endpoint.
type Embedder struct {
	client     *goopenai.Client
	model      goopenai.EmbeddingModel
	dimensions int
}

// New creates an OpenAI embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := goopenai.EmbeddingModel(cfg.Model)
	if cfg.Model == "" {
		model = goopenai.SmallEmbedding3
	}

	dims := dimsSmall
	if model == goopenai.LargeEmbedding3 {
		dims = dimsLarge
	}

	return &Embedder{
		client:     goopenai.NewClientWithConfig(clientCfg),
		model:      model,
		dimensions: dims,
	}, nil
}

// Embed converts a single text to an embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Model: e.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}
