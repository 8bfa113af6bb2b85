package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/aicoder/internal/status"
	"github.com/user/aicoder/internal/types"
)

// seenTTL bounds how long a delivered run is remembered. A resubscribe
// replays the current run's latest record, which must not be sent twice.
const seenTTL = time.Hour

// Watcher subscribes to a status hub and delivers every run's final record
// to the default targets plus any targets routed to that run.
type Watcher struct {
	hub      *status.Hub
	registry *Registry
	targets  []string

	mu     sync.Mutex
	routes map[types.RunID][]string
	seen   map[types.RunID]time.Time
	now    func() time.Time
}

// NewWatcher creates a Watcher that notifies targets about every run.
func NewWatcher(hub *status.Hub, registry *Registry, targets ...string) *Watcher {
	return &Watcher{
		hub:      hub,
		registry: registry,
		targets:  targets,
		routes:   make(map[types.RunID][]string),
		seen:     make(map[types.RunID]time.Time),
		now:      time.Now,
	}
}

// Route adds target as a recipient of runID's final record only.
func (w *Watcher) Route(runID types.RunID, target string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.routes[runID] = append(w.routes[runID], target)
}

// Run delivers final records until ctx is cancelled. When the hub drops the
// watcher for falling behind it subscribes again.
func (w *Watcher) Run(ctx context.Context) {
	for {
		sub := w.hub.Subscribe("")
		w.drain(ctx, sub)
		w.hub.Unsubscribe(sub)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("notify watcher resubscribing after drop")
	}
}

func (w *Watcher) drain(ctx context.Context, sub *status.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-sub.C:
			if !ok {
				return
			}
			if rec.Final {
				w.Notify(ctx, rec)
			}
		}
	}
}

// Notify delivers rec to its recipients once per run.
func (w *Watcher) Notify(ctx context.Context, rec types.StatusRecord) {
	w.mu.Lock()
	if _, done := w.seen[rec.SessionID]; done {
		w.mu.Unlock()
		return
	}
	now := w.now()
	for id, at := range w.seen {
		if now.Sub(at) > seenTTL {
			delete(w.seen, id)
		}
	}
	w.seen[rec.SessionID] = now
	targets := append(append([]string(nil), w.targets...), w.routes[rec.SessionID]...)
	delete(w.routes, rec.SessionID)
	w.mu.Unlock()

	msg := Format(rec)
	for _, target := range targets {
		if err := w.registry.Deliver(ctx, target, msg); err != nil {
			slog.Warn("delivery failed", "target", target, "run_id", string(rec.SessionID), "error", err)
		}
	}
}

// Format renders a final status record as a short notification.
func Format(rec types.StatusRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s %s", rec.SessionID.Short(), rec.Status)
	if rec.Message != "" {
		fmt.Fprintf(&b, ": %s", rec.Message)
	}
	if rec.ProjectName != "" {
		fmt.Fprintf(&b, "\nProject: %s (%s)", rec.ProjectName, rec.ProjectPath)
	}
	return b.String()
}
