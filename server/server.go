// Package server exposes the memory service over HTTP. The API is
// versioned under /api/v1 and pairs with a websocket event feed at /ws.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/recallkit/recall/checkpoint"
	"github.com/recallkit/recall/memory"
	"github.com/recallkit/recall/session"
)

// DefaultAddr is the listen address clients expect.
const DefaultAddr = ":8765"

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address (default :8765).
	Addr string

	// DefaultUser is used when a request carries no user_id.
	DefaultUser string
}

// Server routes HTTP requests to the memory manager and its sibling
// stores.
type Server struct {
	manager     *memory.Manager
	checkpoints *checkpoint.Store
	pairer      *checkpoint.Pairer
	sessions    session.Store
	hub         *hub
	httpServer  *http.Server
	defaultUser string
	tracer      trace.Tracer
}

// New wires a server around the manager. The checkpoint store and
// session store are optional; their routes return 503 when absent.
func New(cfg Config, manager *memory.Manager, checkpoints *checkpoint.Store, sessions session.Store) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{
		manager:     manager,
		checkpoints: checkpoints,
		sessions:    sessions,
		hub:         newHub(),
		defaultUser: cfg.DefaultUser,
		tracer:      otel.Tracer("recall/server"),
	}
	if checkpoints != nil {
		s.pairer = checkpoint.NewPairer(checkpoints, manager)
	}
	manager.Subscribe(s.hub)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/memories", s.handleAddMemories)
	mux.HandleFunc("GET /api/v1/memories", s.handleListMemories)
	mux.HandleFunc("DELETE /api/v1/memories", s.handleDeleteAllMemories)
	mux.HandleFunc("POST /api/v1/memories/search", s.handleSearch)
	mux.HandleFunc("GET /api/v1/memories/{id}", s.handleGetMemory)
	mux.HandleFunc("PUT /api/v1/memories/{id}", s.handleUpdateMemory)
	mux.HandleFunc("DELETE /api/v1/memories/{id}", s.handleDeleteMemory)
	mux.HandleFunc("GET /api/v1/memories/{id}/history", s.handleHistory)
	mux.HandleFunc("PUT /api/v1/memories/{id}/state", s.handleSetState)

	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	mux.HandleFunc("POST /api/v1/checkpoints", s.handleSaveCheckpoint)
	mux.HandleFunc("GET /api/v1/checkpoints", s.handleListCheckpoints)
	mux.HandleFunc("GET /api/v1/checkpoints/{id}", s.handleGetCheckpoint)
	mux.HandleFunc("POST /api/v1/checkpoints/prune", s.handlePruneCheckpoints)
	mux.HandleFunc("GET /api/v1/checkpoints/resume", s.handleResume)

	mux.HandleFunc("POST /api/v1/sessions", s.handleStartSession)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleEndSession)

	mux.HandleFunc("GET /ws", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[SERVER] Listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Printf("[SERVER] Shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// logRequests wraps the mux with request logging.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[SERVER] %s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// userID resolves the effective user for a request.
func (s *Server) userID(r *http.Request) string {
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	return s.defaultUser
}
