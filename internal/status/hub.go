// Package status fans out run status records to live viewers.
package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user/aicoder/internal/types"
)

const defaultBuffer = 64

// Hub keeps the latest record of every run and pushes new records to
// subscribers. Publishing never blocks: a subscriber whose buffer is full is
// dropped and its channel closed.
type Hub struct {
	mu      sync.Mutex
	nextID  int
	runs    map[types.RunID]*runState
	current types.RunID
	subs    map[int]*Subscription
	buffer  int
	now     func() time.Time
}

type runState struct {
	latest  types.StatusRecord
	updated time.Time
}

// Subscription is one viewer. C is closed on Unsubscribe or when the viewer
// falls too far behind.
type Subscription struct {
	C     <-chan types.StatusRecord
	RunID types.RunID

	id int
	ch chan types.StatusRecord
}

// NewHub creates a hub whose subscribers buffer up to buffer records.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		runs:   make(map[types.RunID]*runState),
		subs:   make(map[int]*Subscription),
		buffer: buffer,
		now:    time.Now,
	}
}

var _ types.StatusSink = (*Hub)(nil)

// Publish stores rec as the latest record of its run and delivers it to
// every subscriber following that run or following all runs.
func (h *Hub) Publish(_ context.Context, rec *types.StatusRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := *rec
	h.runs[r.SessionID] = &runState{latest: r, updated: h.now()}
	h.current = r.SessionID

	for id, sub := range h.subs {
		if sub.RunID != "" && sub.RunID != r.SessionID {
			continue
		}
		select {
		case sub.ch <- r:
		default:
			slog.Warn("dropping slow status subscriber", "subscriber", id, "run_id", sub.RunID)
			delete(h.subs, id)
			close(sub.ch)
		}
	}
	return nil
}

// Subscribe registers a viewer of runID, or of every run when runID is empty.
// The run's latest record, if any, is the first value on C, so a viewer never
// sees a record older than the one current when it attached.
func (h *Hub) Subscribe(runID types.RunID) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan types.StatusRecord, h.buffer)
	sub := &Subscription{C: ch, RunID: runID, id: h.nextID, ch: ch}
	h.nextID++
	h.subs[sub.id] = sub

	if latest, ok := h.latestLocked(runID); ok {
		ch <- latest
	}
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once and after the
// hub dropped the subscriber.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
		close(sub.ch)
	}
}

// Latest returns the most recent record of runID, or of the most recently
// active run when runID is empty.
func (h *Hub) Latest(runID types.RunID) (types.StatusRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latestLocked(runID)
}

func (h *Hub) latestLocked(runID types.RunID) (types.StatusRecord, bool) {
	if runID == "" {
		runID = h.current
	}
	r, ok := h.runs[runID]
	if !ok {
		return types.StatusRecord{}, false
	}
	return r.latest, true
}

// Current returns the id of the most recently active run.
func (h *Hub) Current() types.RunID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Evict forgets finished runs whose last record is older than maxAge and
// returns how many were removed.
func (h *Hub) Evict(maxAge time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Add(-maxAge)
	n := 0
	for id, r := range h.runs {
		if r.latest.Final && r.updated.Before(cutoff) {
			delete(h.runs, id)
			n++
		}
	}
	if _, ok := h.runs[h.current]; !ok {
		h.current = ""
	}
	return n
}

// Subscribers returns the number of attached viewers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
