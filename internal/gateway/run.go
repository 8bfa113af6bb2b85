package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/user/aicoder/internal/types"
)

// RunStatus represents the queue lifecycle of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunKind selects what a Run executes.
type RunKind string

const (
	KindAgent  RunKind = "agent"
	KindReview RunKind = "review"
)

// Run tracks a single agent or review execution.
type Run struct {
	ID     types.RunID
	Kind   RunKind
	Lane   string
	Prompt string

	// Dir is the project directory a review run inspects.
	Dir string
	// Review requests a review pass after a successful agent run.
	Review bool

	Status    RunStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Ctx       context.Context
	Result    *types.RunResult
	Error     error

	once sync.Once
	done chan struct{}
}

// NewRun creates a queued Run. Runs sharing a lane execute one at a time in
// submission order.
func NewRun(kind RunKind, lane, prompt string) *Run {
	return &Run{
		ID:        types.NewRunID(),
		Kind:      kind,
		Lane:      lane,
		Prompt:    prompt,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Done is closed once the run has been processed.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) finish() {
	r.once.Do(func() {
		if r.done != nil {
			close(r.done)
		}
	})
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (*types.RunResult, error) {
	select {
	case <-r.done:
		return r.Result, r.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
