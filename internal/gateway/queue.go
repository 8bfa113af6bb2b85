package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrQueueClosed is returned by Enqueue before Start or after Stop.
var ErrQueueClosed = errors.New("queue is not running")

// Queue manages per-lane FIFO channels with a global concurrency semaphore.
// Runs within a lane are processed sequentially, while the semaphore limits
// the total number of concurrent runs across all lanes.
type Queue struct {
	lanes     map[string]chan *Run
	semaphore *semaphore.Weighted
	processor func(*Run) error
	active    atomic.Int64
	laneSize  int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewQueue creates a Queue that allows up to maxConcurrent runs to execute
// simultaneously across all lanes.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[string]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		laneSize:  100,
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish. Runs still waiting in a lane finish with an error.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.cancel()
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Run to its lane, creating the lane (and its goroutine) on
// first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return ErrQueueClosed
	}

	lane, exists := q.lanes[run.Lane]
	if !exists {
		lane = make(chan *Run, q.laneSize)
		q.lanes[run.Lane] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("queue full for lane %q", run.Lane)
	}
}

// processLane drains a single lane, acquiring a semaphore slot before running
// the processor synchronously.
func (q *Queue) processLane(lane chan *Run) {
	defer q.wg.Done()
	for run := range lane {
		if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
			q.abandon(run, err)
			continue
		}
		q.execute(run)
		q.semaphore.Release(1)
	}
}

func (q *Queue) execute(run *Run) {
	defer run.finish()

	q.active.Add(1)
	defer q.active.Add(-1)

	now := time.Now()
	run.StartedAt = &now
	run.Status = RunStatusRunning
	run.Ctx = q.ctx

	var err error
	if q.processor != nil {
		err = q.processor(run)
	}

	ended := time.Now()
	run.EndedAt = &ended
	if err != nil {
		slog.Error("run failed", "run_id", string(run.ID), "lane", run.Lane, "error", err)
		run.Status = RunStatusFailed
		run.Error = err
		return
	}
	run.Status = RunStatusComplete
}

func (q *Queue) abandon(run *Run, err error) {
	run.Status = RunStatusFailed
	run.Error = fmt.Errorf("run abandoned: %w", err)
	run.finish()
}

// Active returns the number of runs being processed right now.
func (q *Queue) Active() int64 {
	return q.active.Load()
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}
