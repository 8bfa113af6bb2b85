// internal/httpapi/server.go
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/user/aicoder/internal/gateway"
	"github.com/user/aicoder/internal/status"
	"github.com/user/aicoder/internal/types"
	"github.com/user/aicoder/pkg/llm"
)

// HistoryReader returns the recorded status stream of a run.
type HistoryReader interface {
	History(ctx context.Context, runID types.RunID, limit int) ([]types.StatusRecord, error)
}

// StatusReader returns the latest status record of a run, or of the current
// run when runID is empty, as seen by other processes.
type StatusReader interface {
	Latest(ctx context.Context, runID types.RunID) (types.StatusRecord, bool, error)
}

// Option configures a Server.
type Option func(*Server)

// WithRunStore enables the run listing endpoints.
func WithRunStore(s types.RunStore) Option {
	return func(srv *Server) { srv.runs = s }
}

// WithHistory enables GET /api/runs/{id}/history.
func WithHistory(h HistoryReader) Option {
	return func(srv *Server) { srv.history = h }
}

// WithStatusFallback makes GET /api/agent/status consult r when the local
// hub has no record.
func WithStatusFallback(r StatusReader) Option {
	return func(srv *Server) { srv.fallback = r }
}

// WithArtifacts enables GET /api/artifacts/{id}.
func WithArtifacts(a types.ArtifactStore) Option {
	return func(srv *Server) { srv.artifacts = a }
}

// WithCompletion sets the model behind POST /api/generate.
func WithCompletion(p llm.Provider) Option {
	return func(srv *Server) { srv.completion = p }
}

// WithRateLimit limits POST requests to rps per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(srv *Server) {
		if rps <= 0 {
			srv.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		srv.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithStreamIdle sets how long a status stream may stay silent before the
// server closes it with a timeout notice. Non-positive values keep the
// default.
func WithStreamIdle(d time.Duration) Option {
	return func(srv *Server) {
		if d > 0 {
			srv.idle = d
		}
	}
}

// WithReviewRoot confines review requests to directories below root.
func WithReviewRoot(root string) Option {
	return func(srv *Server) { srv.reviewRoot = root }
}

// Server is the HTTP surface of the agent: run submission, live status
// streaming, run history and streamed code completion.
type Server struct {
	gw         *gateway.Gateway
	hub        *status.Hub
	runs       types.RunStore
	history    HistoryReader
	fallback   StatusReader
	artifacts  types.ArtifactStore
	completion llm.Provider
	limiter    *rate.Limiter
	idle       time.Duration
	reviewRoot string
	mux        *http.ServeMux
}

// NewServer creates a Server that submits runs to gw and streams statuses
// from hub.
func NewServer(gw *gateway.Gateway, hub *status.Hub, opts ...Option) *Server {
	s := &Server{
		gw:   gw,
		hub:  hub,
		idle: 25 * time.Second,
		mux:  http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/agent", s.limit(s.handleAgent))
	s.mux.HandleFunc("GET /api/agent/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/agent/status/stream", s.handleStatusStream)
	s.mux.HandleFunc("POST /api/generate", s.limit(s.handleGenerate))
	s.mux.HandleFunc("POST /api/review", s.limit(s.handleReview))
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	s.mux.HandleFunc("GET /api/runs/{id}/history", s.handleRunHistory)
	s.mux.HandleFunc("GET /api/artifacts/{id}", s.handleArtifact)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC(),
		"subscribers": s.hub.Subscribers(),
		"activeRuns":  s.gw.Queue.Active(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
