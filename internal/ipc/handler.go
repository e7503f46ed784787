// Package ipc provides the HTTP API over the engine: filesystem operations,
// orchestrator tasks, session history, and the audit stream.
package ipc

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/midstream/internal/domain"
	"github.com/anthropics/midstream/internal/fsops"
	"github.com/anthropics/midstream/internal/orchestrator"
	"github.com/anthropics/midstream/internal/store"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Pool        *orchestrator.Pool
	FS          *fsops.Local
	DB          *sql.DB
	SessionRepo *store.SessionRepo
	EventRepo   *store.EventRepo
	AuditRepo   *store.AuditRepo
}

// HealthResponse is the body for GET /api/v1/health.
type HealthResponse struct {
	Status string                  `json:"status"`
	Pool   orchestrator.PoolStatus `json:"pool"`
}

// SubmitTaskRequest is the body for POST /api/v1/tasks.
type SubmitTaskRequest struct {
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
}

// PruneResponse is the body for DELETE /api/v1/tasks/completed.
type PruneResponse struct {
	Pruned int `json:"pruned"`
}

// ClearResponse is the body for DELETE /api/v1/tasks.
type ClearResponse struct {
	Cleared int `json:"cleared"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Pool: h.Pool.Status()})
}

// SubmitTask handles POST /api/v1/tasks.
func (h *Handler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	id, err := h.Pool.Submit(req.Prompt, req.System)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := h.Pool.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// GetTask handles GET /api/v1/tasks/{taskID}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.Pool.Get(r.PathValue("taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /api/v1/tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Pool.List())
}

// PruneTasks handles DELETE /api/v1/tasks/completed.
func (h *Handler) PruneTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PruneResponse{Pruned: h.Pool.Prune()})
}

// ClearTasks handles DELETE /api/v1/tasks.
func (h *Handler) ClearTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ClearResponse{Cleared: h.Pool.Clear()})
}

// ListSessions handles GET /api/v1/sessions?limit=N.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err == nil && parsed > 0 {
			limit = parsed
		}
	}

	sessions, err := h.SessionRepo.ListRecent(r.Context(), h.DB, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []domain.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /api/v1/sessions/{sessionID}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := h.SessionRepo.GetByID(r.Context(), h.DB, r.PathValue("sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListSessionEvents handles GET /api/v1/sessions/{sessionID}/events?since_seq=N.
func (h *Handler) ListSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	sinceSeq := int64(0)
	if s := r.URL.Query().Get("since_seq"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			sinceSeq = parsed
		}
	}

	events, err := h.EventRepo.ListBySession(r.Context(), h.DB, sessionID, sinceSeq)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.TranscriptEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListSessionAudit handles GET /api/v1/sessions/{sessionID}/audit.
func (h *Handler) ListSessionAudit(w http.ResponseWriter, r *http.Request) {
	records, err := h.AuditRepo.ListBySession(r.Context(), h.DB, r.PathValue("sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// StreamAudit handles GET /api/v1/audit/stream?since_id=N (SSE). New audit
// records are polled every two seconds and pushed as data events.
func (h *Handler) StreamAudit(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}

	sinceID := int64(0)
	if s := r.URL.Query().Get("since_id"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			sinceID = parsed
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Send what already exists, then poll.
	records, err := h.AuditRepo.ListSince(r.Context(), h.DB, sinceID)
	if err != nil {
		writeSSEError(w, flusher, err)
		return
	}
	lastID := sinceID
	for _, rec := range records {
		writeSSEEvent(w, flusher, rec)
		lastID = rec.ID
	}

	ctx := r.Context()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			newRecords, err := h.AuditRepo.ListSince(ctx, h.DB, lastID)
			if err != nil {
				return
			}
			for _, rec := range newRecords {
				writeSSEEvent(w, flusher, rec)
				lastID = rec.ID
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if engErr, ok := err.(*domain.EngineError); ok {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrSessionNotFound.Code, domain.ErrTaskNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrDuplicateSession.Code:
			status = http.StatusConflict
		case domain.ErrPathOutsideRoots.Code:
			status = http.StatusForbidden
		case domain.ErrRateLimitExceeded.Code:
			status = http.StatusTooManyRequests
		case domain.ErrEmptyPrompt.Code:
			status = http.StatusBadRequest
		case domain.ErrPoolClosed.Code:
			status = http.StatusServiceUnavailable
		case domain.ErrInvalidTransition.Code, domain.ErrNotADirectory.Code,
			domain.ErrNotAFile.Code, domain.ErrInvalidPattern.Code:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	if errors.Is(err, fs.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, APIError{Code: -1, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, rec domain.AuditRecord) {
	data, _ := json.Marshal(rec)
	fmt.Fprintf(w, "data: %s\n\n", data)
	f.Flush()
}

func writeSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
	f.Flush()
}
