package ipc

import (
	"context"
	"net/http"
)

// Server wraps an HTTP server with engine-specific routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address. Every route
// passes through CORS and per-client rate limiting.
func NewServer(h *Handler, listenAddr string, rate RateLimitConfig) *Server {
	mux := http.NewServeMux()

	// Health endpoint.
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Filesystem endpoints.
	mux.HandleFunc("POST /api/v1/fs/read", h.ReadFile)
	mux.HandleFunc("POST /api/v1/fs/write", h.WriteFile)
	mux.HandleFunc("POST /api/v1/fs/list", h.ListDirectory)
	mux.HandleFunc("POST /api/v1/fs/search", h.SearchFiles)
	mux.HandleFunc("POST /api/v1/fs/grep", h.GrepFiles)
	mux.HandleFunc("POST /api/v1/fs/cd", h.ChangeDirectory)
	mux.HandleFunc("POST /api/v1/fs/mkdir", h.CreateDirectory)
	mux.HandleFunc("GET /api/v1/fs/pwd", h.CurrentDirectory)
	mux.HandleFunc("GET /api/v1/fs/roots", h.AllowedRoots)

	// Task endpoints.
	mux.HandleFunc("POST /api/v1/tasks", h.SubmitTask)
	mux.HandleFunc("GET /api/v1/tasks", h.ListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{taskID}", h.GetTask)
	mux.HandleFunc("DELETE /api/v1/tasks", h.ClearTasks)
	mux.HandleFunc("DELETE /api/v1/tasks/completed", h.PruneTasks)

	// Session endpoints.
	mux.HandleFunc("GET /api/v1/sessions", h.ListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{sessionID}", h.GetSession)
	mux.HandleFunc("GET /api/v1/sessions/{sessionID}/events", h.ListSessionEvents)
	mux.HandleFunc("GET /api/v1/sessions/{sessionID}/audit", h.ListSessionAudit)

	// Audit stream endpoint.
	mux.HandleFunc("GET /api/v1/audit/stream", h.StreamAudit)

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: corsMiddleware(rateLimitMiddleware(newLimiter(rate), mux)),
	}

	return &Server{
		httpServer: srv,
	}
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for local tooling access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
