package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/recallkit/recall/checkpoint"
	"github.com/recallkit/recall/core"
	"github.com/recallkit/recall/memory"
	"github.com/recallkit/recall/session"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// mapError converts domain errors to HTTP status codes.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, core.ErrMissingUser), errors.Is(err, core.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addMemoriesRequest struct {
	UserID     string         `json:"user_id"`
	Text       string         `json:"text"`
	AppID      string         `json:"app_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Categories []string       `json:"categories,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Infer      *bool          `json:"infer,omitempty"`
}

func (s *Server) handleAddMemories(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "server.AddMemories")
	defer span.End()

	var req addMemoriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		req.UserID = s.defaultUser
	}
	span.SetAttributes(attribute.String("user.id", req.UserID))

	// Fact inference is on unless the caller turns it off.
	infer := req.Infer == nil || *req.Infer

	result, err := s.manager.Add(ctx, req.UserID, req.Text, memory.AddOptions{
		AppID:      req.AppID,
		SessionID:  req.SessionID,
		Categories: req.Categories,
		Metadata:   req.Metadata,
		Infer:      infer,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type searchRequest struct {
	UserID        string   `json:"user_id"`
	Query         string   `json:"query"`
	Limit         int      `json:"limit,omitempty"`
	MinSimilarity float64  `json:"min_similarity,omitempty"`
	AppID         string   `json:"app_id,omitempty"`
	SessionID     string   `json:"session_id,omitempty"`
	Categories    []string `json:"categories,omitempty"`
}

type searchResponse struct {
	Memories []*core.Memory `json:"memories"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "server.Search")
	defer span.End()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		req.UserID = s.defaultUser
	}
	span.SetAttributes(attribute.String("user.id", req.UserID))

	memories, err := s.manager.Search(ctx, req.UserID, req.Query, memory.SearchOptions{
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
		Filters: core.Filters{
			AppID:      req.AppID,
			SessionID:  req.SessionID,
			Categories: req.Categories,
		},
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Memories: memories})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := core.Filters{
		AppID:     q.Get("app_id"),
		SessionID: q.Get("session_id"),
	}
	if c := q.Get("category"); c != "" {
		f.Categories = []string{c}
	}
	if st := q.Get("state"); st != "" {
		f.States = []core.State{core.State(st)}
	}

	memories, err := s.manager.GetAll(r.Context(), s.userID(r), f)
	if err != nil {
		mapError(w, err)
		return
	}
	memories = paginate(memories, q.Get("offset"), q.Get("limit"))
	writeJSON(w, http.StatusOK, searchResponse{Memories: memories})
}

// paginate applies offset/limit query values to a listing. Bad or
// absent values leave the slice untouched.
func paginate(memories []*core.Memory, offset, limit string) []*core.Memory {
	if off, err := strconv.Atoi(offset); err == nil && off > 0 {
		if off >= len(memories) {
			return nil
		}
		memories = memories[off:]
	}
	if lim, err := strconv.Atoi(limit); err == nil && lim > 0 && lim < len(memories) {
		memories = memories[:lim]
	}
	return memories
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	mem, err := s.manager.Get(r.Context(), s.userID(r), r.PathValue("id"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

type updateMemoryRequest struct {
	Content    string         `json:"content,omitempty"`
	Categories []string       `json:"categories,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	var req updateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	mem, err := s.manager.Update(r.Context(), s.userID(r), r.PathValue("id"), memory.UpdateRequest{
		Content:    req.Content,
		Categories: req.Categories,
		Metadata:   req.Metadata,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	ev, err := s.manager.Delete(r.Context(), s.userID(r), r.PathValue("id"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteAllMemories(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.manager.DeleteAll(r.Context(), s.userID(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	events := s.manager.History(s.userID(r), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string][]core.Event{"events": events})
}

type setStateRequest struct {
	State core.State `json:"state"`
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	userID := s.userID(r)
	id := r.PathValue("id")

	var err error
	switch req.State {
	case core.StatePaused:
		err = s.manager.Pause(r.Context(), userID, id)
	case core.StateActive:
		err = s.manager.Resume(r.Context(), userID, id)
	case core.StateArchived:
		err = s.manager.Archive(r.Context(), userID, id)
	default:
		writeError(w, http.StatusBadRequest, errors.New("state must be active, paused, or archived"))
		return
	}
	if err != nil {
		mapError(w, err)
		return
	}

	mem, err := s.manager.Get(r.Context(), userID, id)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.Stats(r.Context(), s.userID(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type saveCheckpointRequest struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Label     string         `json:"label,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	State     map[string]any `json:"state,omitempty"`
}

func (s *Server) handleSaveCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.pairer == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("checkpoints not configured"))
		return
	}

	var req saveCheckpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		req.UserID = s.defaultUser
	}

	phase := checkpoint.Phase(req.Phase)
	if phase == "" {
		phase = checkpoint.PhaseAuto
	}

	cp := &checkpoint.Checkpoint{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Label:     req.Label,
		Phase:     phase,
		State:     req.State,
	}
	if err := s.pairer.Save(r.Context(), cp); err != nil {
		mapError(w, err)
		return
	}

	if s.sessions != nil && req.SessionID != "" {
		// A missing session is not an error; checkpoints can outlive it.
		s.sessions.SetCheckpoint(r.Context(), req.SessionID, cp.ID)
	}
	writeJSON(w, http.StatusCreated, cp)
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("checkpoints not configured"))
		return
	}
	cps := s.checkpoints.List(r.URL.Query().Get("session_id"))
	writeJSON(w, http.StatusOK, map[string][]*checkpoint.Checkpoint{"checkpoints": cps})
}

func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("checkpoints not configured"))
		return
	}
	cp, err := s.checkpoints.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handlePruneCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("checkpoints not configured"))
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	keep := 10
	if k := r.URL.Query().Get("keep"); k != "" {
		n, err := strconv.Atoi(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		keep = n
	}

	removed, err := s.checkpoints.Prune(sessionID, keep)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

type resumeResponse struct {
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint"`
	Memories   []string               `json:"memories,omitempty"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.pairer == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("checkpoints not configured"))
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	cp, memories, err := s.pairer.Resume(r.Context(), s.userID(r), sessionID)
	if err != nil {
		mapError(w, err)
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, errors.New("no checkpoint for session"))
		return
	}
	writeJSON(w, http.StatusOK, resumeResponse{Checkpoint: cp, Memories: memories})
}

type startSessionRequest struct {
	UserID string `json:"user_id"`
	AppID  string `json:"app_id,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("sessions not configured"))
		return
	}

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		req.UserID = s.defaultUser
	}

	sess, err := s.sessions.Start(r.Context(), req.UserID, req.AppID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("sessions not configured"))
		return
	}
	sessions, err := s.sessions.List(r.Context(), s.userID(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]*session.Session{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("sessions not configured"))
		return
	}
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		mapError(w, err)
		return
	}
	if err := s.sessions.Touch(r.Context(), sess.ID); err == nil {
		sess.LastActiveAt = time.Now().UTC()
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("sessions not configured"))
		return
	}
	if err := s.sessions.End(r.Context(), r.PathValue("id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
