// Package main is the entry point for recalld, the memory service
// daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/recallkit/recall/checkpoint"
	"github.com/recallkit/recall/config"
	"github.com/recallkit/recall/mcp"
	"github.com/recallkit/recall/memory"
	"github.com/recallkit/recall/memory/embedder"
	"github.com/recallkit/recall/memory/embedder/mock"
	embedderopenai "github.com/recallkit/recall/memory/embedder/openai"
	"github.com/recallkit/recall/memory/extractor"
	extractoranthropic "github.com/recallkit/recall/memory/extractor/anthropic"
	extractoropenai "github.com/recallkit/recall/memory/extractor/openai"
	"github.com/recallkit/recall/memory/store/chromem"
	"github.com/recallkit/recall/server"
	"github.com/recallkit/recall/session"
)

// Build-time variables (set via ldflags).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("recalld"),
		kong.Description("Self-hosted semantic memory service"),
		kong.UsageOnError(),
		kongVars(),
	)

	if err := run(&cli, kctx.Command()); err != nil {
		log.Fatalf("[RECALLD] %v", err)
	}
}

func run(cli *CLI, command string) error {
	switch command {
	case "version":
		fmt.Printf("recalld %s (%s)\n", version, commit)
		return nil
	}

	cfg, secrets, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	mgr, cleanup, err := buildManager(cfg, secrets)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "serve", "":
		return runServe(ctx, cli, cfg, mgr)
	case "mcp":
		return runMCP(cli, cfg, mgr)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runServe(ctx context.Context, cli *CLI, cfg *config.Config, mgr *memory.Manager) error {
	checkpoints, err := checkpoint.NewStore(filepath.Join(cfg.DataDir, "checkpoints"))
	if err != nil {
		return err
	}

	sessions, err := buildSessions(cfg)
	if err != nil {
		return err
	}
	defer sessions.Close()

	addr := cfg.Addr
	if cli.Serve.Addr != "" {
		addr = cli.Serve.Addr
	}

	srv := server.New(server.Config{
		Addr:        addr,
		DefaultUser: cfg.DefaultUser,
	}, mgr, checkpoints, sessions)
	return srv.Run(ctx)
}

func runMCP(cli *CLI, cfg *config.Config, mgr *memory.Manager) error {
	mcp.Version = version
	srv := mcp.New(mcp.Config{DefaultUser: cfg.DefaultUser}, mgr)

	if cli.MCP.Transport == "sse" {
		return srv.ServeSSE(cli.MCP.Addr)
	}
	return srv.ServeStdio()
}

// buildManager assembles the store, embedder, and extractor per config.
func buildManager(cfg *config.Config, secrets *config.Secrets) (*memory.Manager, func(), error) {
	store, err := chromem.NewPersistent(filepath.Join(cfg.DataDir, "memories"))
	if err != nil {
		return nil, nil, fmt.Errorf("create store: %w", err)
	}

	emb, err := buildEmbedder(cfg, secrets)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() { store.Close() }
	if cfg.Embedder.CacheSize > 0 {
		cached, err := embedder.NewCached(emb, cfg.Embedder.CacheSize)
		if err != nil {
			return nil, nil, err
		}
		emb = cached
		cleanup = func() {
			cached.Close()
			store.Close()
		}
	}

	opts := []memory.Option{}
	if x, err := buildExtractor(cfg, secrets); err != nil {
		return nil, nil, err
	} else if x != nil {
		opts = append(opts, memory.WithExtractor(x))
	}

	memCfg := memory.DefaultConfig()
	if cfg.Memory.MinSimilarity > 0 {
		memCfg.MinSimilarity = cfg.Memory.MinSimilarity
	}
	if cfg.Memory.SearchLimit > 0 {
		memCfg.SearchLimit = cfg.Memory.SearchLimit
	}
	if cfg.Memory.MaxPerUser > 0 {
		memCfg.MaxPerUser = cfg.Memory.MaxPerUser
	}
	if cfg.Memory.RecencyBias > 0 {
		memCfg.RecencyBias = cfg.Memory.RecencyBias
	}
	if cfg.Memory.RecencyHalfLife > 0 {
		memCfg.RecencyHalfLife = cfg.Memory.RecencyHalfLife
	}
	if cfg.Memory.PromptTokenBudget > 0 {
		memCfg.PromptTokenBudget = cfg.Memory.PromptTokenBudget
	}

	return memory.NewManager(store, emb, memCfg, opts...), cleanup, nil
}

func buildEmbedder(cfg *config.Config, secrets *config.Secrets) (embedder.Embedder, error) {
	switch cfg.Embedder.Provider {
	case "openai", "":
		return embedderopenai.New(embedderopenai.Config{
			APIKey:  secrets.OpenAIKey,
			Model:   cfg.Embedder.Model,
			BaseURL: cfg.Embedder.BaseURL,
		})
	case "onnx":
		return buildONNXEmbedder(cfg)
	case "mock":
		log.Printf("[RECALLD] Using mock embedder; search quality will be poor")
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Embedder.Provider)
	}
}

func buildExtractor(cfg *config.Config, secrets *config.Secrets) (extractor.Extractor, error) {
	switch cfg.Extractor.Provider {
	case "anthropic":
		return extractoranthropic.New(extractoranthropic.Config{
			APIKey: secrets.AnthropicKey,
			Model:  cfg.Extractor.Model,
		})
	case "openai":
		return extractoropenai.New(extractoropenai.Config{
			APIKey: secrets.OpenAIKey,
			Model:  cfg.Extractor.Model,
		})
	case "":
		log.Printf("[RECALLD] No extractor configured; memories are stored verbatim")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown extractor provider %q", cfg.Extractor.Provider)
	}
}

func buildSessions(cfg *config.Config) (session.Store, error) {
	if cfg.RedisURL == "" {
		return session.NewInMemory(), nil
	}
	return session.NewRedis(cfg.RedisURL, cfg.SessionTTL)
}
