package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"legatus/pkg/auth"
	"legatus/pkg/checkpoint"
	"legatus/pkg/task"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// createTaskRequest is the POST /tasks body (spec §6.1).
type createTaskRequest struct {
	Prompt  string `json:"prompt"`
	Title   string `json:"title,omitempty"`
	Project string `json:"project,omitempty"`
	Direct  bool   `json:"direct,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	title := req.Title
	if title == "" {
		title = req.Prompt
	}

	t := task.New(title, req.Prompt, req.Project, 3)
	if err := s.bus.StartCampaign(r.Context(), t, req.Direct); err != nil {
		s.logger.Error("failed to start campaign", "task", t.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to start campaign: "+err.Error())
		return
	}
	s.metrics.RecordTaskCreated("campaign")

	created, err := s.store.GetTask(r.Context(), t.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "task created but could not be reloaded")
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListAllTasks(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// handleTaskHistory returns finished tasks ordered by updated_at desc,
// capped at the requested limit (spec §6.1).
func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	tasks, err := s.store.ListAllTasks(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	finished := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status.IsTerminal() {
			finished = append(finished, t)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].UpdatedAt.After(finished[j].UpdatedAt)
	})
	if len(finished) > limit {
		finished = finished[:limit]
	}
	respondJSON(w, http.StatusOK, finished)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

// checkpointView adds the "stale" flag spec's supplemented checkpoint
// expiry feature requires on top of the stored Checkpoint.
type checkpointView struct {
	*checkpoint.Checkpoint
	Stale bool `json:"stale"`
}

func (s *Server) toView(c *checkpoint.Checkpoint) checkpointView {
	return checkpointView{Checkpoint: c, Stale: c.IsExpired(s.checkpointTimeout)}
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.PendingCheckpoints(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]checkpointView, 0, len(pending))
	for _, c := range pending {
		views = append(views, s.toView(c))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.store.GetCheckpoint(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "checkpoint not found")
		return
	}
	respondJSON(w, http.StatusOK, s.toView(c))
}

func (s *Server) handleApproveCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resolvedBy := resolvedByFrom(r)
	c, err := s.ckpt.Approve(r.Context(), id, resolvedBy)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.metrics.RecordCheckpointResolved(string(c.SourceRole), "approved")
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleRejectCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reason := r.URL.Query().Get("reason")
	resolvedBy := resolvedByFrom(r)
	c, err := s.ckpt.Reject(r.Context(), id, resolvedBy, reason)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.metrics.RecordCheckpointResolved(string(c.SourceRole), "rejected")
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	entries, err := s.store.ListActivity(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project_id")
	summary, err := s.store.CostSummary(r.Context(), project)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.memory.List(r.Context())
	if err != nil {
		// Memory is advisory; failures are swallowed per spec §7 rather
		// than surfaced as a hard API error.
		s.logger.Warn("memory service list failed", "error", err)
		respondJSON(w, http.StatusOK, []any{})
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := parseLimit(r, 10)
	entries, err := s.memory.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Warn("memory service search failed", "error", err)
		respondJSON(w, http.StatusOK, []any{})
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMemoryForget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.memory.Forget(r.Context(), id); err != nil {
		s.logger.Warn("memory service forget failed", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSystemPause(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetPaused(r.Context(), true); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleSystemResume(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetPaused(r.Context(), false); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.bus.Rescan(r.Context())
	respondJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	paused, err := s.store.IsPaused(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pending, err := s.store.PendingCheckpoints(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"paused":             paused,
		"pending_checkpoints": len(pending),
	})
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// resolvedByFrom reports who approved/rejected a checkpoint: the
// authenticated subject if auth is enabled, else "operator".
func resolvedByFrom(r *http.Request) string {
	if claims := auth.GetClaims(r); claims != nil {
		return claims.Subject
	}
	return "operator"
}
