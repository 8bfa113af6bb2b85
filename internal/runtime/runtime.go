package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/user/aicoder/internal/transcript"
	"github.com/user/aicoder/internal/types"
	"github.com/user/aicoder/pkg/llm"
)

var (
	// ErrPromptRequired is returned when a run is requested with a blank prompt.
	ErrPromptRequired = errors.New("prompt is required")
	// ErrProviderUnavailable marks runs that could not reach any model.
	ErrProviderUnavailable = errors.New("model unavailable")
)

// Options bounds a run.
type Options struct {
	MaxIterations int
	WallClock     time.Duration
	LLMTimeout    time.Duration
	ToolTimeout   time.Duration

	Simulated    bool
	WorkspaceDir string

	// OpenCommand, when set, is run with the project path appended after a
	// real-mode run that produced a project (e.g. "code -n").
	OpenCommand string

	// PreviewLimit caps the tool result text carried in status records.
	PreviewLimit int
}

// DefaultOptions returns the standard budgets: 6 turns, 25s wall clock,
// 10s per model call.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 6,
		WallClock:     25 * time.Second,
		LLMTimeout:    10 * time.Second,
		ToolTimeout:   15 * time.Second,
		Simulated:     true,
		WorkspaceDir:  filepath.Join(os.TempDir(), "aicoder"),
		PreviewLimit:  300,
	}
}

// Runtime implements the think/act/observe loop.
type Runtime struct {
	provider  llm.Provider
	registry  *Registry
	artifacts types.ArtifactStore
	counter   *transcript.Counter
	opts      Options
	now       func() time.Time
}

// New creates a Runtime. provider may be nil, in which case every run fails
// fast with a model-unavailable error. artifacts and counter are optional.
func New(provider llm.Provider, registry *Registry, artifacts types.ArtifactStore, counter *transcript.Counter, opts Options) *Runtime {
	if opts.PreviewLimit <= 0 {
		opts.PreviewLimit = 300
	}
	return &Runtime{
		provider:  provider,
		registry:  registry,
		artifacts: artifacts,
		counter:   counter,
		opts:      opts,
		now:       time.Now,
	}
}

// Options returns the budgets this runtime enforces.
func (rt *Runtime) Options() Options {
	return rt.opts
}

// Run drives one agent run to completion and reports its statuses to sink.
// The returned error is non-nil only when the prompt is blank; every other
// failure is described by the result and the run's terminal status.
func (rt *Runtime) Run(ctx context.Context, runID types.RunID, prompt string, sink types.StatusSink) (*types.RunResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrPromptRequired
	}

	workDir := filepath.Join(rt.opts.WorkspaceDir, runID.Short())
	r := &run{
		rt:     rt,
		sink:   sink,
		rc:     NewRunContext(runID, workDir, rt.opts.Simulated),
		start:  rt.now(),
		logger: slog.With("run_id", runID),
		result: &types.RunResult{RunID: runID, Results: []types.ResultEntry{}},
	}
	r.rc.notify = func(status types.Status, message string) {
		r.publish(ctx, &types.StatusRecord{Status: status, Message: message})
	}

	r.publish(ctx, &types.StatusRecord{Status: types.StatusStarting, Message: "Starting AI agent..."})

	if rt.provider == nil {
		return r.fail(ctx, fmt.Sprintf("%v: no model provider is configured", ErrProviderUnavailable)), nil
	}

	if !rt.opts.Simulated {
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			return r.fail(ctx, fmt.Sprintf("create workspace: %v", err)), nil
		}
	}

	system, err := transcript.Render(transcript.PromptData{
		Tools:         rt.registry.Infos(),
		Simulated:     rt.opts.Simulated,
		MaxIterations: rt.opts.MaxIterations,
	})
	if err != nil {
		return r.fail(ctx, err.Error()), nil
	}
	tr := transcript.New(system, prompt)

	r.publish(ctx, &types.StatusRecord{Status: types.StatusProcessing, Message: fmt.Sprintf("Processing request: %q", prompt)})

	for {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, fmt.Sprintf("Run cancelled: %v", err)), nil
		}
		if r.result.Iterations >= rt.opts.MaxIterations || rt.now().Sub(r.start) >= rt.opts.WallClock {
			return r.timeout(ctx), nil
		}

		r.result.Iterations++
		r.logger.Debug("agent turn", "iteration", r.result.Iterations, "transcript_tokens", tr.Tokens(rt.counter))
		r.publish(ctx, &types.StatusRecord{
			Status:  types.StatusProcessing,
			Message: fmt.Sprintf("Agent iteration %d/%d", r.result.Iterations, rt.opts.MaxIterations),
		})

		reply, err := rt.complete(ctx, tr.Messages(), &r.result.Usage)
		if err != nil {
			r.logger.Error("model call failed", "iteration", r.result.Iterations, "error", err)
			return r.fail(ctx, fmt.Sprintf("AI model error: %v", err)), nil
		}

		step, err := ParseReply(reply)
		if err != nil {
			r.logger.Warn("unusable model reply, treating as output", "iteration", r.result.Iterations, "error", err)
		}

		switch s := step.(type) {
		case Think:
			tr.AppendAssistant(reply)
			r.add(types.ResultEntry{Type: types.EntryThink, Content: s.Content})
			r.publish(ctx, &types.StatusRecord{Status: types.StatusThinking, Message: s.Content})

		case Action:
			obs := r.act(ctx, s)
			tr.AppendAssistant(EncodeObserve(obs))

		case Output:
			tr.AppendAssistant(reply)
			r.add(types.ResultEntry{Type: types.EntryOutput, Content: s.Content})
			return r.complete(ctx), nil
		}
	}
}

func (rt *Runtime) complete(ctx context.Context, messages []llm.Message, usage *types.Usage) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, rt.opts.LLMTimeout)
	defer cancel()

	resp, err := rt.provider.Complete(callCtx, messages)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("AI model timeout after %s", rt.opts.LLMTimeout)
		}
		return "", err
	}
	usage.InputTokens += resp.Usage.InputTokens
	usage.OutputTokens += resp.Usage.OutputTokens
	return resp.Content, nil
}

// run is the mutable state of a single Run call.
type run struct {
	rt     *Runtime
	sink   types.StatusSink
	rc     *RunContext
	start  time.Time
	logger *slog.Logger
	result *types.RunResult
	ended  bool
}

func (r *run) add(e types.ResultEntry) {
	r.result.Results = append(r.result.Results, e)
}

func (r *run) publish(ctx context.Context, rec *types.StatusRecord) {
	if r.ended {
		return
	}
	rec.Timestamp = r.rt.now()
	rec.SessionID = r.rc.RunID
	rec.ProjectName, rec.ProjectPath, _ = r.rc.Project()
	if rec.Final {
		r.ended = true
	}
	if r.sink == nil {
		return
	}
	// Statuses are published even after cancellation so the run still ends
	// with a terminal record.
	if err := r.sink.Publish(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("publish status", "status", rec.Status, "error", err)
	}
}

func (r *run) act(ctx context.Context, a Action) Observe {
	r.add(types.ResultEntry{Type: types.EntryAction, Tool: a.Tool, Input: a.Input})
	call := &types.ToolCall{Tool: a.Tool, Input: a.Input}
	r.publish(ctx, &types.StatusRecord{Status: types.StatusExecuting, Message: fmt.Sprintf("Executing %s", a.Tool), ToolCall: call})

	deadline := r.rt.now().Add(r.rt.opts.ToolTimeout)
	if budget := r.start.Add(r.rt.opts.WallClock); budget.Before(deadline) {
		deadline = budget
	}
	toolCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	out, err := r.rt.registry.Invoke(toolCtx, r.rc, a.Tool, a.Input)
	obs := Observe{Tool: a.Tool, Input: a.Input}

	switch {
	case errors.Is(err, ErrUnknownTool):
		msg := fmt.Sprintf("Unknown tool: %s", a.Tool)
		r.logger.Warn("unknown tool requested", "tool", a.Tool)
		r.add(types.ResultEntry{Type: types.EntryError, Content: msg})
		r.publish(ctx, &types.StatusRecord{Status: types.StatusError, Message: msg, ToolCall: call})
		obs.Content = fmt.Sprintf("Simulated execution of %s with input: %s", a.Tool, a.Input)

	case err != nil:
		r.logger.Warn("tool failed", "tool", a.Tool, "error", err)
		r.add(types.ResultEntry{Type: types.EntryError, Content: err.Error()})
		r.publish(ctx, &types.StatusRecord{Status: types.StatusError, Message: fmt.Sprintf("Tool %s failed: %v", a.Tool, err), ToolCall: call})
		obs.Content = "Error: " + err.Error()

	default:
		obs.Content = out
		rec := &types.StatusRecord{
			Status:           types.StatusToolCompleted,
			Message:          fmt.Sprintf("%s completed", a.Tool),
			ToolCall:         call,
			ToolResult:       preview(out, r.rt.opts.PreviewLimit),
			ToolResultLength: len(out),
		}
		if len(out) > r.rt.opts.PreviewLimit && r.rt.artifacts != nil {
			id, err := r.rt.artifacts.Put(ctx, r.rc.RunID, a.Tool, out)
			if err != nil {
				r.logger.Warn("store tool output", "tool", a.Tool, "error", err)
			} else {
				rec.ToolResultArtifact = id
			}
		}
		r.publish(ctx, rec)
	}

	r.add(types.ResultEntry{Type: types.EntryObserve, Content: obs.Content})
	return obs
}

func (r *run) complete(ctx context.Context) *types.RunResult {
	name, path, files := r.rc.Project()
	msg := fmt.Sprintf("Task completed in %d iterations", r.result.Iterations)

	if name != "" {
		r.publish(ctx, &types.StatusRecord{Status: types.StatusFinalizing, Message: fmt.Sprintf("Finalizing project %q", name)})
		if !r.rc.Simulated && r.rt.opts.OpenCommand != "" {
			r.publish(ctx, &types.StatusRecord{Status: types.StatusOpeningEditor, Message: "Opening project in editor"})
			if err := openProject(r.rt.opts.OpenCommand, path); err != nil {
				r.logger.Warn("open project", "path", path, "error", err)
			}
		}
		msg = fmt.Sprintf("Project %q completed with %d files", name, len(files))
	}

	r.result.Success = true
	r.result.Status = types.StatusCompleted
	r.finish(ctx, &types.StatusRecord{Status: types.StatusCompleted, Message: msg})
	return r.result
}

func (r *run) timeout(ctx context.Context) *types.RunResult {
	r.logger.Info("run budget exhausted", "iterations", r.result.Iterations)
	r.result.Success = true
	r.result.Status = types.StatusTimeout
	r.finish(ctx, &types.StatusRecord{Status: types.StatusTimeout, Message: "Processing timeout - completing with current results"})
	return r.result
}

func (r *run) fail(ctx context.Context, msg string) *types.RunResult {
	r.result.Success = false
	r.result.Status = types.StatusError
	r.result.Error = msg
	r.finish(ctx, &types.StatusRecord{Status: types.StatusError, Message: msg})
	return r.result
}

func (r *run) finish(ctx context.Context, rec *types.StatusRecord) {
	r.result.ProjectName, r.result.ProjectPath, r.result.ProjectFiles = r.rc.Project()
	r.result.ProcessingTime = r.rt.now().Sub(r.start).Milliseconds()
	rec.Final = true
	r.publish(ctx, rec)
}

// preview cuts s to at most limit bytes without splitting a rune.
func preview(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
