// Package mcp exposes the memory service as a Model Context Protocol
// server, so MCP clients can store and recall memories as tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/recallkit/recall/core"
	"github.com/recallkit/recall/memory"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config configures the MCP surface.
type Config struct {
	// DefaultUser is used when a tool call carries no user_id.
	DefaultUser string
}

// Server adapts the memory manager to MCP tools.
type Server struct {
	manager     *memory.Manager
	mcpServer   *server.MCPServer
	defaultUser string
}

// New builds the MCP server and registers the memory tools.
func New(cfg Config, manager *memory.Manager) *Server {
	s := &Server{
		manager:     manager,
		defaultUser: cfg.DefaultUser,
	}

	s.mcpServer = server.NewMCPServer(
		"recall",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions()),
	)

	s.mcpServer.AddTool(mcp.NewTool("add_memories",
		mcp.WithDescription("Store new information about the user as long-term memories. Facts are extracted and deduplicated automatically."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The text to remember")),
		mcp.WithString("user_id", mcp.Description("User the memory belongs to; defaults to the configured user")),
	), s.handleAddMemories)

	s.mcpServer.AddTool(mcp.NewTool("search_memory",
		mcp.WithDescription("Search the user's memories by semantic similarity. Call this before answering questions about the user's preferences or history."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What to look for")),
		mcp.WithString("user_id", mcp.Description("User whose memories to search")),
		mcp.WithNumber("limit", mcp.Description("Maximum results to return")),
	), s.handleSearchMemory)

	s.mcpServer.AddTool(mcp.NewTool("list_memories",
		mcp.WithDescription("List all of the user's stored memories, newest first."),
		mcp.WithString("user_id", mcp.Description("User whose memories to list")),
	), s.handleListMemories)

	s.mcpServer.AddTool(mcp.NewTool("delete_all_memories",
		mcp.WithDescription("Delete every memory stored for the user. The memories stop appearing in search and listings but remain in history."),
		mcp.WithString("user_id", mcp.Description("User whose memories to delete")),
	), s.handleDeleteAllMemories)

	return s
}

// ServeStdio blocks serving the MCP protocol over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the MCP protocol over HTTP server-sent events.
func (s *Server) ServeSSE(addr string) error {
	sse := server.NewSSEServer(s.mcpServer)
	log.Printf("[MCP] SSE server listening on %s", addr)
	return sse.Start(addr)
}

func (s *Server) userID(req mcp.CallToolRequest) string {
	if id := req.GetString("user_id", ""); id != "" {
		return id
	}
	return s.defaultUser
}

func (s *Server) handleAddMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.manager.Add(ctx, s.userID(req), text, memory.AddOptions{Infer: true})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("add memories: %v", err)), nil
	}
	if len(result.Events) == 0 {
		return mcp.NewToolResultText("Nothing worth remembering was found in the text."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Stored %d change(s):\n", len(result.Events))
	for _, ev := range result.Events {
		fmt.Fprintf(&b, "- %s: %s\n", ev.Kind, ev.Current)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	limit := req.GetInt("limit", 0)
	memories, err := s.manager.Search(ctx, s.userID(req), query, memory.SearchOptions{Limit: limit})
	if err != nil {
		// Retrieval problems must not derail the calling agent; it
		// continues the conversation without memories.
		log.Printf("[MCP] Search failed, returning empty result: %v", err)
		return mcp.NewToolResultText("No memories available (retrieval failed, continuing without them)."), nil
	}
	if len(memories) == 0 {
		return mcp.NewToolResultText("No relevant memories found."), nil
	}
	return memoriesResult(memories)
}

func (s *Server) handleListMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	memories, err := s.manager.GetAll(ctx, s.userID(req), core.Filters{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list memories: %v", err)), nil
	}
	if len(memories) == 0 {
		return mcp.NewToolResultText("No memories stored."), nil
	}
	return memoriesResult(memories)
}

func (s *Server) handleDeleteAllMemories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deleted, err := s.manager.DeleteAll(ctx, s.userID(req))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete memories: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted %d memories.", deleted)), nil
}

// memoriesResult renders memories as a JSON tool result.
func memoriesResult(memories []*core.Memory) (*mcp.CallToolResult, error) {
	type entry struct {
		ID         string   `json:"id"`
		Content    string   `json:"content"`
		Categories []string `json:"categories,omitempty"`
		Score      float64  `json:"score,omitempty"`
		CreatedAt  string   `json:"created_at"`
	}
	entries := make([]entry, 0, len(memories))
	for _, mem := range memories {
		entries = append(entries, entry{
			ID:         mem.ID,
			Content:    mem.Content,
			Categories: mem.Categories,
			Score:      mem.Score,
			CreatedAt:  mem.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode memories: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// instructions tells the client model when to reach for the tools.
func instructions() string {
	return `You have access to a persistent memory service.

- Call search_memory before answering questions about the user's
  preferences, history, or prior decisions.
- Call add_memories whenever the user shares durable information:
  preferences, facts about themselves, decisions, constraints.
- Memories persist across conversations; do not re-ask for information
  that search_memory already returns.
- If search_memory reports that retrieval failed, continue the
  conversation normally without memories.`
}
