package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/aicoder/internal/types"
)

// Frame types of the status stream.
const (
	frameConnected = "connected"
	frameStatus    = "status"
	frameTimeout   = "timeout"
	frameDelta     = "delta"
	frameDone      = "done"
	frameError     = "error"
)

// statusFrame is a StatusRecord with the stream envelope's type field
// flattened into the same object.
type statusFrame struct {
	Type string `json:"type"`
	types.StatusRecord
}

type noticeFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Content string `json:"content,omitempty"`
}

// sseWriter writes data-only Server-Sent Events.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSE(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, f: f}, true
}

func (s *sseWriter) send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID := types.RunID(r.URL.Query().Get("run"))
	rec, ok := s.hub.Latest(runID)
	if !ok && s.fallback != nil {
		var err error
		rec, ok, err = s.fallback.Latest(r.Context(), runID)
		if err != nil {
			slog.Warn("status fallback failed", "run_id", runID, "error", err)
		}
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    types.StatusUnknown,
			"message":   "No status information available",
			"timestamp": time.Now().UTC(),
		})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleStatusStream sends a connected handshake, the latest record of the
// watched run, and then every new record. A stream that sees no record for
// the idle window is closed with a timeout notice so the client reconnects.
// A stream bound to one run also ends after that run's final record.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	sse, ok := newSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	runID := types.RunID(r.URL.Query().Get("run"))

	sub := s.hub.Subscribe(runID)
	defer s.hub.Unsubscribe(sub)
	logger := slog.With("run_id", string(runID))
	logger.Debug("status stream connected", "subscribers", s.hub.Subscribers())

	if err := sse.send(noticeFrame{Type: frameConnected, Message: "SSE connection established"}); err != nil {
		return
	}

	idle := time.NewTimer(s.idle)
	defer idle.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("status stream disconnected")
			return
		case <-idle.C:
			_ = sse.send(noticeFrame{Type: frameTimeout, Message: "Connection timeout - will reconnect"})
			return
		case rec, ok := <-sub.C:
			if !ok {
				logger.Debug("status stream dropped by hub")
				return
			}
			if err := sse.send(statusFrame{Type: frameStatus, StatusRecord: rec}); err != nil {
				return
			}
			if runID != "" && rec.Final {
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.idle)
		}
	}
}
