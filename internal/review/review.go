package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/user/aicoder/internal/transcript"
	"github.com/user/aicoder/internal/types"
	"github.com/user/aicoder/pkg/llm"
)

// ErrDirRequired is returned when Review is called without a directory.
var ErrDirRequired = errors.New("project directory is required")

const previewLimit = 150

// Options bounds a review.
type Options struct {
	// MaxFileTokens truncates each file before it is sent to the model.
	MaxFileTokens int
	// Concurrency is the number of files analysed at once.
	Concurrency int
	// Timeout bounds each model call.
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{MaxFileTokens: 6000, Concurrency: 3, Timeout: 60 * time.Second}
}

// Reviewer analyses the files of a generated project with a completion
// model and writes a test analysis report into the project.
type Reviewer struct {
	provider llm.Provider
	counter  *transcript.Counter
	opts     Options
	now      func() time.Time
}

func New(provider llm.Provider, counter *transcript.Counter, opts Options) *Reviewer {
	d := DefaultOptions()
	if opts.MaxFileTokens <= 0 {
		opts.MaxFileTokens = d.MaxFileTokens
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = d.Concurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	return &Reviewer{provider: provider, counter: counter, opts: opts, now: time.Now}
}

// Review analyses dir under runID, reporting progress to sink. Like an
// agent run it ends with exactly one final status record; the returned
// error is non-nil only when dir is blank.
func (r *Reviewer) Review(ctx context.Context, runID types.RunID, dir string, sink types.StatusSink) (*types.RunResult, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, ErrDirRequired
	}
	s := &session{
		r:      r,
		sink:   sink,
		runID:  runID,
		dir:    dir,
		name:   filepath.Base(dir),
		start:  r.now(),
		logger: slog.With("run_id", runID, "review_dir", dir),
		result: &types.RunResult{RunID: runID, ProjectName: filepath.Base(dir), ProjectPath: dir, Results: []types.ResultEntry{}},
	}

	s.publish(ctx, &types.StatusRecord{Status: types.StatusStarting, Message: "Review agent initializing..."})
	if r.provider == nil {
		return s.fail(ctx, "model unavailable: no completion model is configured"), nil
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return s.fail(ctx, fmt.Sprintf("Project path does not exist: %s", dir)), nil
	}

	s.publish(ctx, &types.StatusRecord{Status: types.StatusProcessing, Message: "Scanning project files..."})
	files, err := Scan(dir)
	if err != nil {
		return s.fail(ctx, err.Error()), nil
	}
	if len(files) == 0 {
		return s.fail(ctx, fmt.Sprintf("No reviewable files found in %s", dir)), nil
	}
	for _, f := range files {
		s.result.ProjectFiles = append(s.result.ProjectFiles, f.Path)
	}
	s.publish(ctx, &types.StatusRecord{Status: types.StatusProcessing, Message: fmt.Sprintf("Found %d files to analyze", len(files))})

	analyses := s.analyseAll(ctx, files)
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, fmt.Sprintf("Review cancelled: %v", err)), nil
	}

	s.publish(ctx, &types.StatusRecord{Status: types.StatusFinalizing, Message: "Generating comprehensive test report..."})
	summary, err := s.complete(ctx, summaryPrompt(dir, analyses))
	if err != nil {
		return s.fail(ctx, fmt.Sprintf("AI model error: %v", err)), nil
	}
	s.add(types.ResultEntry{Type: types.EntryOutput, Content: summary})

	path, err := writeReport(dir, renderReport(dir, summary, analyses, r.now()))
	if err != nil {
		return s.fail(ctx, err.Error()), nil
	}
	s.publish(ctx, &types.StatusRecord{Status: types.StatusFileCreated, Message: fmt.Sprintf("Created report %s", path)})

	s.result.Success = true
	s.result.Status = types.StatusCompleted
	s.finish(ctx, &types.StatusRecord{
		Status:  types.StatusCompleted,
		Message: fmt.Sprintf("Analysis completed: %d files reviewed, report saved to %s", len(files), path),
	})
	return s.result, nil
}

// session is the mutable state of one Review call. Files are analysed
// concurrently so every field below mu is guarded by it.
type session struct {
	r      *Reviewer
	sink   types.StatusSink
	runID  types.RunID
	dir    string
	name   string
	start  time.Time
	logger *slog.Logger

	mu     sync.Mutex
	result *types.RunResult
	ended  bool
}

func (s *session) analyseAll(ctx context.Context, files []File) []Analysis {
	analyses := make([]Analysis, len(files))
	var done int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.r.opts.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			s.publish(gctx, &types.StatusRecord{
				Status:   types.StatusExecuting,
				Message:  fmt.Sprintf("Analyzing %s...", f.Path),
				ToolCall: &types.ToolCall{Tool: "analyzeFile", Input: f.Path},
			})
			a := s.analyse(gctx, f)
			analyses[i] = a

			s.mu.Lock()
			done++
			n := done
			s.mu.Unlock()

			if a.Err != "" {
				s.add(types.ResultEntry{Type: types.EntryError, Tool: "analyzeFile", Input: f.Path, Content: a.Err})
				s.publish(gctx, &types.StatusRecord{
					Status:  types.StatusError,
					Message: fmt.Sprintf("Error analyzing %s: %s", f.Path, a.Err),
				})
			} else {
				s.add(types.ResultEntry{Type: types.EntryObserve, Tool: "analyzeFile", Input: f.Path, Content: a.Text})
				s.publish(gctx, &types.StatusRecord{
					Status:           types.StatusToolCompleted,
					Message:          fmt.Sprintf("Completed analysis of %s (%d/%d)", f.Path, n, len(files)),
					ToolCall:         &types.ToolCall{Tool: "analyzeFile", Input: f.Path},
					ToolResult:       preview(a.Text, previewLimit),
					ToolResultLength: len(a.Text),
				})
			}
			// A failed file is recorded in the report; only cancellation
			// stops the group.
			return gctx.Err()
		})
	}
	_ = g.Wait()
	return analyses
}

func (s *session) analyse(ctx context.Context, f File) Analysis {
	a := Analysis{File: f.Path}
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(f.Path)))
	if err != nil {
		a.Err = err.Error()
		return a
	}
	content := string(data)
	a.Lines = strings.Count(content, "\n") + 1
	content, truncated := s.r.counter.Truncate(content, s.r.opts.MaxFileTokens)
	if truncated {
		s.logger.Debug("file truncated for review", "file", f.Path, "max_tokens", s.r.opts.MaxFileTokens)
	}
	text, err := s.complete(ctx, filePrompt(f, content, truncated))
	if err != nil {
		a.Err = err.Error()
		return a
	}
	a.Text = text
	return a
}

func (s *session) complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.r.opts.Timeout)
	defer cancel()
	resp, err := s.r.provider.Complete(callCtx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.result.Iterations++
	s.result.Usage.InputTokens += resp.Usage.InputTokens
	s.result.Usage.OutputTokens += resp.Usage.OutputTokens
	s.mu.Unlock()
	return resp.Content, nil
}

func (s *session) add(e types.ResultEntry) {
	s.mu.Lock()
	s.result.Results = append(s.result.Results, e)
	s.mu.Unlock()
}

func (s *session) publish(ctx context.Context, rec *types.StatusRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	rec.Timestamp = s.r.now()
	rec.SessionID = s.runID
	rec.ProjectName = s.name
	rec.ProjectPath = s.dir
	if rec.Final {
		s.ended = true
	}
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("publish status", "status", rec.Status, "error", err)
	}
}

func (s *session) fail(ctx context.Context, msg string) *types.RunResult {
	s.mu.Lock()
	s.result.Success = false
	s.result.Status = types.StatusError
	s.result.Error = msg
	s.mu.Unlock()
	s.finish(ctx, &types.StatusRecord{Status: types.StatusError, Message: msg})
	return s.result
}

func (s *session) finish(ctx context.Context, rec *types.StatusRecord) {
	s.mu.Lock()
	s.result.ProcessingTime = s.r.now().Sub(s.start).Milliseconds()
	s.mu.Unlock()
	rec.Final = true
	s.publish(ctx, rec)
}

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
