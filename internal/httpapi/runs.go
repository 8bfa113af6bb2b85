package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/user/aicoder/internal/state"
	"github.com/user/aicoder/internal/types"
)

func queryLimit(r *http.Request, def int) int {
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// validID reports whether id is a well-formed run or artifact id. Ids are
// used to build file paths in the stores.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}
	runs, err := s.runs.List(r.Context(), queryLimit(r, 50))
	if err != nil {
		slog.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if runs == nil {
		runs = []*types.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}
	id := types.RunID(r.PathValue("id"))
	if !validID(string(id)) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	rec, err := s.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		slog.Error("get run failed", "run_id", string(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "status history not configured")
		return
	}
	id := types.RunID(r.PathValue("id"))
	if !validID(string(id)) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	recs, err := s.history.History(r.Context(), id, queryLimit(r, 200))
	if err != nil {
		slog.Error("read status history failed", "run_id", string(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if recs == nil {
		recs = []types.StatusRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type artifactResponse struct {
	Meta    *types.ArtifactMeta `json:"meta"`
	Content string              `json:"content"`
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		writeError(w, http.StatusServiceUnavailable, "artifacts not configured")
		return
	}
	id := types.ArtifactID(r.PathValue("id"))
	if !validID(string(id)) {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	meta, err := s.artifacts.GetMeta(r.Context(), id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		slog.Error("get artifact failed", "artifact_id", string(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	content, err := s.artifacts.Get(r.Context(), id)
	if err != nil {
		slog.Error("read artifact failed", "artifact_id", string(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, artifactResponse{Meta: meta, Content: content})
}
