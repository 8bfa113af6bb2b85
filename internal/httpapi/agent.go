package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/user/aicoder/internal/gateway"
	"github.com/user/aicoder/internal/runtime"
	"github.com/user/aicoder/internal/types"
)

const maxBody = 1 << 20

type agentRequest struct {
	Prompt string `json:"prompt"`
	Lane   string `json:"lane"`
	Async  bool   `json:"async"`
	Review bool   `json:"review"`
}

type reviewRequest struct {
	Dir   string `json:"dir"`
	Lane  string `json:"lane"`
	Async bool   `json:"async"`
}

type acceptedResponse struct {
	RunID  types.RunID `json:"runId"`
	Status string      `json:"status"`
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	run, err := s.gw.Submit(r.Context(), gateway.Request{Prompt: req.Prompt, Lane: req.Lane, Review: req.Review})
	if err != nil {
		if errors.Is(err, runtime.ErrPromptRequired) {
			writeError(w, http.StatusBadRequest, "Prompt is required")
			return
		}
		slog.Error("submit run failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondRun(w, r, run, req.Async)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	dir, err := s.reviewDir(req.Dir)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.gw.Review(r.Context(), req.Lane, dir)
	if err != nil {
		slog.Error("submit review failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondRun(w, r, run, req.Async)
}

// respondRun answers 202 with the run id for async requests, or waits for
// the run and answers with its result.
func (s *Server) respondRun(w http.ResponseWriter, r *http.Request, run *gateway.Run, async bool) {
	if async {
		writeJSON(w, http.StatusAccepted, acceptedResponse{RunID: run.ID, Status: string(gateway.RunStatusQueued)})
		return
	}

	result, err := run.Wait(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			// The client went away; the run continues in the background.
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	code := http.StatusOK
	if !result.Success {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, result)
}

func (s *Server) reviewDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", errors.New("dir is required")
	}
	if s.reviewRoot == "" {
		return filepath.Clean(dir), nil
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.reviewRoot, dir)
	}
	dir = filepath.Clean(dir)
	rel, err := filepath.Rel(s.reviewRoot, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("dir must be inside %s", s.reviewRoot)
	}
	return dir, nil
}
