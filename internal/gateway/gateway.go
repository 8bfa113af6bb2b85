package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/aicoder/internal/runtime"
	"github.com/user/aicoder/internal/types"
)

// DefaultLane is used when a request does not name one.
const DefaultLane = "default"

// Runner executes one agent run.
type Runner interface {
	Run(ctx context.Context, runID types.RunID, prompt string, sink types.StatusSink) (*types.RunResult, error)
}

// Reviewer analyses a generated project directory.
type Reviewer interface {
	Review(ctx context.Context, runID types.RunID, dir string, sink types.StatusSink) (*types.RunResult, error)
}

// Request describes an agent run submitted to the gateway.
type Request struct {
	Prompt string
	Lane   string
	// Review chains a review run after a successful agent run that
	// produced a project.
	Review bool
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithReviewer enables review runs.
func WithReviewer(r Reviewer) Option {
	return func(g *Gateway) { g.reviewer = r }
}

// WithRunStore persists a RunRecord before and after each run.
func WithRunStore(s types.RunStore) Option {
	return func(g *Gateway) { g.runs = s }
}

// WithAutoReview chains a review after every successful project run.
func WithAutoReview(enabled bool) Option {
	return func(g *Gateway) { g.autoReview = enabled }
}

// WithConcurrency sets how many runs may execute at once.
func WithConcurrency(n int64) Option {
	return func(g *Gateway) { g.concurrency = n }
}

// Gateway accepts run requests, queues them per lane, and drives them
// through the runtime or the reviewer.
type Gateway struct {
	runner     Runner
	reviewer   Reviewer
	sink       types.StatusSink
	runs       types.RunStore
	autoReview bool

	concurrency int64
	Queue       *Queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Gateway that runs agents with runner and reports every
// status record to sink.
func New(runner Runner, sink types.StatusSink, opts ...Option) *Gateway {
	g := &Gateway{
		runner:      runner,
		sink:        sink,
		concurrency: 2,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.sink == nil {
		g.sink = types.SinkFunc(func(context.Context, *types.StatusRecord) error { return nil })
	}
	g.Queue = NewQueue(g.concurrency)
	g.Queue.SetProcessor(g.process)
	return g
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for any
// outstanding work to finish.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
	g.wg.Wait()
}

// Submit validates req and enqueues an agent run. The returned Run can be
// waited on.
func (g *Gateway) Submit(ctx context.Context, req Request) (*Run, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, runtime.ErrPromptRequired
	}
	run := NewRun(KindAgent, laneOf(req.Lane), req.Prompt)
	run.Review = req.Review
	if err := g.enqueue(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Review enqueues a review of dir.
func (g *Gateway) Review(ctx context.Context, lane, dir string) (*Run, error) {
	if g.reviewer == nil {
		return nil, fmt.Errorf("review is not configured")
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("project directory is required")
	}
	run := NewRun(KindReview, laneOf(lane), "review "+dir)
	run.Dir = dir
	if err := g.enqueue(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// RunSync submits req and waits for its result.
func (g *Gateway) RunSync(ctx context.Context, req Request) (*types.RunResult, error) {
	run, err := g.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return run.Wait(ctx)
}

func (g *Gateway) enqueue(ctx context.Context, run *Run) error {
	g.save(ctx, run, types.StatusStarting, nil)
	if err := g.Queue.Enqueue(run); err != nil {
		return fmt.Errorf("enqueue run %s: %w", run.ID.Short(), err)
	}
	slog.Debug("run queued", "run_id", string(run.ID), "kind", run.Kind, "lane", run.Lane)
	return nil
}

func (g *Gateway) process(run *Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	g.save(ctx, run, types.StatusProcessing, nil)

	var (
		result *types.RunResult
		err    error
	)
	switch run.Kind {
	case KindReview:
		result, err = g.reviewer.Review(ctx, run.ID, run.Dir, g.sink)
	default:
		result, err = g.runner.Run(ctx, run.ID, run.Prompt, g.sink)
	}
	if err != nil {
		g.save(context.WithoutCancel(ctx), run, types.StatusError, &types.RunResult{RunID: run.ID, Status: types.StatusError, Error: err.Error()})
		return err
	}

	run.Result = result
	g.save(context.WithoutCancel(ctx), run, result.Status, result)

	if run.Kind == KindAgent && (run.Review || g.autoReview) {
		g.chainReview(run, result)
	}
	return nil
}

// chainReview enqueues a review of the project an agent run produced. It
// runs on the same lane so it starts after the agent run has finished.
func (g *Gateway) chainReview(run *Run, result *types.RunResult) {
	if g.reviewer == nil || !result.Success || result.ProjectPath == "" {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		rv, err := g.Review(g.ctx, run.Lane, result.ProjectPath)
		if err != nil {
			slog.Warn("chained review not queued", "run_id", string(run.ID), "error", err)
			return
		}
		slog.Info("review queued", "run_id", string(run.ID), "review_id", string(rv.ID))
	}()
}

func (g *Gateway) save(ctx context.Context, run *Run, status types.Status, result *types.RunResult) {
	if g.runs == nil {
		return
	}
	rec := &types.RunRecord{
		ID:        run.ID,
		Kind:      string(run.Kind),
		Prompt:    run.Prompt,
		Status:    status,
		CreatedAt: run.CreatedAt,
		UpdatedAt: time.Now(),
		Result:    result,
	}
	if err := g.runs.Save(ctx, rec); err != nil {
		slog.Warn("failed to save run record", "run_id", string(run.ID), "error", err)
	}
}

func laneOf(lane string) string {
	if lane == "" {
		return DefaultLane
	}
	return lane
}
