package ipc

import (
	"encoding/json"
	"net/http"

	"github.com/anthropics/midstream/internal/domain"
)

// PathRequest is the body for fs endpoints addressing a single path.
type PathRequest struct {
	Path string `json:"path"`
}

// WriteFileRequest is the body for POST /api/v1/fs/write.
type WriteFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// PatternRequest is the body for POST /api/v1/fs/search and /api/v1/fs/grep.
type PatternRequest struct {
	Path    string `json:"path"`
	Pattern string `json:"pattern"`
}

// FileResponse carries the content of one file.
type FileResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// EntriesResponse lists a directory.
type EntriesResponse struct {
	Path    string            `json:"path"`
	Entries []domain.DirEntry `json:"entries"`
}

// MatchesResponse carries file-name search hits.
type MatchesResponse struct {
	Pattern string   `json:"pattern"`
	Matches []string `json:"matches"`
}

// GrepResponse carries content search hits.
type GrepResponse struct {
	Pattern string             `json:"pattern"`
	Matches []domain.GrepMatch `json:"matches"`
}

// DirResponse carries a working-directory path.
type DirResponse struct {
	Dir string `json:"dir"`
}

// RootsResponse lists the allowed roots.
type RootsResponse struct {
	Roots []string `json:"roots"`
}

// ReadFile handles POST /api/v1/fs/read.
func (h *Handler) ReadFile(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "path is required"})
		return
	}

	content, err := h.FS.ReadFile(r.Context(), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FileResponse{Path: req.Path, Content: content})
}

// WriteFile handles POST /api/v1/fs/write.
func (h *Handler) WriteFile(w http.ResponseWriter, r *http.Request) {
	var req WriteFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "path is required"})
		return
	}

	if err := h.FS.WriteFile(r.Context(), req.Path, req.Content); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDirectory handles POST /api/v1/fs/list. An empty path lists the
// working directory.
func (h *Handler) ListDirectory(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	entries, err := h.FS.ListDirectory(r.Context(), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EntriesResponse{Path: req.Path, Entries: entries})
}

// SearchFiles handles POST /api/v1/fs/search.
func (h *Handler) SearchFiles(w http.ResponseWriter, r *http.Request) {
	var req PatternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	matches, err := h.FS.SearchFiles(r.Context(), req.Path, req.Pattern)
	if err != nil {
		writeError(w, err)
		return
	}
	if matches == nil {
		matches = []string{}
	}
	writeJSON(w, http.StatusOK, MatchesResponse{Pattern: req.Pattern, Matches: matches})
}

// GrepFiles handles POST /api/v1/fs/grep.
func (h *Handler) GrepFiles(w http.ResponseWriter, r *http.Request) {
	var req PatternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	matches, err := h.FS.GrepFiles(r.Context(), req.Path, req.Pattern)
	if err != nil {
		writeError(w, err)
		return
	}
	if matches == nil {
		matches = []domain.GrepMatch{}
	}
	writeJSON(w, http.StatusOK, GrepResponse{Pattern: req.Pattern, Matches: matches})
}

// ChangeDirectory handles POST /api/v1/fs/cd.
func (h *Handler) ChangeDirectory(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	dir, err := h.FS.ChangeDirectory(r.Context(), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DirResponse{Dir: dir})
}

// CurrentDirectory handles GET /api/v1/fs/pwd.
func (h *Handler) CurrentDirectory(w http.ResponseWriter, r *http.Request) {
	dir, err := h.FS.CurrentDirectory(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DirResponse{Dir: dir})
}

// CreateDirectory handles POST /api/v1/fs/mkdir.
func (h *Handler) CreateDirectory(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "path is required"})
		return
	}

	dir, err := h.FS.CreateDirectory(r.Context(), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, DirResponse{Dir: dir})
}

// AllowedRoots handles GET /api/v1/fs/roots.
func (h *Handler) AllowedRoots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RootsResponse{Roots: h.FS.AllowedRoots()})
}
