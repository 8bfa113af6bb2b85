package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/user/aicoder/pkg/llm"
)

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// handleGenerate streams a code completion for the prompt as delta frames,
// ending with a done or an error frame.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.completion == nil {
		writeError(w, http.StatusServiceUnavailable, "model unavailable: no completion model is configured")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "Prompt is required")
		return
	}

	deltas, err := s.completion.Stream(r.Context(), []llm.Message{
		{Role: llm.RoleUser, Content: "Write code for: " + req.Prompt},
	})
	if err != nil {
		slog.Error("start completion stream", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	sse, ok := newSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	for d := range deltas {
		if d.Err != nil {
			_ = sse.send(noticeFrame{Type: frameError, Message: d.Err.Error()})
			return
		}
		if d.Content == "" {
			continue
		}
		if err := sse.send(noticeFrame{Type: frameDelta, Content: d.Content}); err != nil {
			return
		}
	}
	_ = sse.send(noticeFrame{Type: frameDone})
}
