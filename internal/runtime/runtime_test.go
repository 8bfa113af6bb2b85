package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/aicoder/internal/types"
	"github.com/user/aicoder/pkg/llm"
)

// scriptedProvider replays replies in order and records transcript sizes.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	sizes   []int
	last    []llm.Message
	err     error
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sizes = append(p.sizes, len(messages))
	p.last = messages
	if p.err != nil {
		return nil, p.err
	}
	idx := len(p.sizes) - 1
	if idx < len(p.replies) {
		return &llm.Response{Content: p.replies[idx], Usage: llm.Usage{InputTokens: 10, OutputTokens: 2}}, nil
	}
	return &llm.Response{Content: `{"step":"think","content":"still thinking"}`}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Delta, error) {
	return nil, errors.New("not supported")
}

type funcTool struct {
	name string
	fn   func(ctx context.Context, rc *RunContext, input string) (string, error)
}

func (f *funcTool) Name() string        { return f.name }
func (f *funcTool) Description() string { return f.name + " tool" }
func (f *funcTool) Execute(ctx context.Context, rc *RunContext, input string) (string, error) {
	if f.fn == nil {
		return "", nil
	}
	return f.fn(ctx, rc, input)
}

func weatherTool() *funcTool {
	return &funcTool{name: "getWeatherInfo", fn: func(_ context.Context, _ *RunContext, city string) (string, error) {
		return city + " has 43 Degree C", nil
	}}
}

// recorder is a StatusSink keeping every record.
type recorder struct {
	mu      sync.Mutex
	records []types.StatusRecord
}

func (r *recorder) Publish(_ context.Context, rec *types.StatusRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func (r *recorder) statuses() []types.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Status, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Status
	}
	return out
}

func (r *recorder) last() types.StatusRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[len(r.records)-1]
}

func (r *recorder) finals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Final {
			n++
		}
	}
	return n
}

func entryTypes(res *types.RunResult) []types.EntryType {
	out := make([]types.EntryType, len(res.Results))
	for i, e := range res.Results {
		out[i] = e.Type
	}
	return out
}

func equalTypes(a, b []types.EntryType) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func testOptions(t *testing.T) Options {
	opts := DefaultOptions()
	opts.WorkspaceDir = t.TempDir()
	return opts
}

func TestRunWeatherLookup(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"step":"action","tool":"getWeatherInfo","input":"Paris"}`,
		`{"step":"output","content":"It is 43 Degree C in Paris."}`,
	}}
	sink := &recorder{}
	rt := New(provider, NewRegistry(weatherTool()), nil, nil, testOptions(t))

	res, err := rt.Run(context.Background(), types.NewRunID(), "What is the weather in Paris?", sink)
	if err != nil {
		t.Fatal(err)
	}

	if !res.Success || res.Status != types.StatusCompleted {
		t.Errorf("expected completed success, got %+v", res)
	}
	if res.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", res.Iterations)
	}
	want := []types.EntryType{types.EntryAction, types.EntryObserve, types.EntryOutput}
	if !equalTypes(entryTypes(res), want) {
		t.Errorf("expected %v, got %v", want, entryTypes(res))
	}
	if res.Results[1].Content != "Paris has 43 Degree C" {
		t.Errorf("unexpected observation %q", res.Results[1].Content)
	}
	if res.Usage.InputTokens != 20 || res.Usage.OutputTokens != 4 {
		t.Errorf("unexpected usage %+v", res.Usage)
	}

	statuses := fmt.Sprint(sink.statuses())
	for _, s := range []types.Status{types.StatusStarting, types.StatusExecuting, types.StatusToolCompleted} {
		if !strings.Contains(statuses, string(s)) {
			t.Errorf("expected %s in %s", s, statuses)
		}
	}
	if last := sink.last(); last.Status != types.StatusCompleted || !last.Final {
		t.Errorf("expected final completed record, got %+v", last)
	}
	if sink.finals() != 1 {
		t.Errorf("expected exactly one final record, got %d", sink.finals())
	}
}

func TestRunTranscriptGrowsOnePerTurn(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"step":"think","content":"a"}`,
		`{"step":"action","tool":"getWeatherInfo","input":"Oslo"}`,
		`{"step":"think","content":"b"}`,
		`{"step":"output","content":"done"}`,
	}}
	rt := New(provider, NewRegistry(weatherTool()), nil, nil, testOptions(t))

	if _, err := rt.Run(context.Background(), types.NewRunID(), "hi", nil); err != nil {
		t.Fatal(err)
	}

	want := []int{2, 3, 4, 5}
	if fmt.Sprint(provider.sizes) != fmt.Sprint(want) {
		t.Errorf("expected transcript sizes %v, got %v", want, provider.sizes)
	}
}

func TestRunThinkForeverTimesOut(t *testing.T) {
	provider := &scriptedProvider{}
	sink := &recorder{}
	rt := New(provider, NewRegistry(), nil, nil, testOptions(t))

	res, err := rt.Run(context.Background(), types.NewRunID(), "loop", sink)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Status != types.StatusTimeout {
		t.Errorf("expected successful timeout, got %+v", res)
	}
	if res.Iterations != 6 {
		t.Errorf("expected 6 iterations, got %d", res.Iterations)
	}
	if len(res.Results) != 6 {
		t.Errorf("expected 6 think entries, got %d", len(res.Results))
	}
	if last := sink.last(); last.Status != types.StatusTimeout || !last.Final {
		t.Errorf("expected final timeout record, got %+v", last)
	}
}

func TestRunNonJSONReplyBecomesOutput(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"Here is your answer"}}
	rt := New(provider, NewRegistry(), nil, nil, testOptions(t))

	res, err := rt.Run(context.Background(), types.NewRunID(), "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Iterations != 1 || len(res.Results) != 1 {
		t.Fatalf("expected a single turn, got %+v", res)
	}
	if res.Results[0].Type != types.EntryOutput || res.Results[0].Content != "Here is your answer" {
		t.Errorf("unexpected entry %+v", res.Results[0])
	}
	if res.Status != types.StatusCompleted {
		t.Errorf("expected completed, got %s", res.Status)
	}
}

func TestRunEchoedObserveBecomesOutput(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"step":"observe","content":"done"}`}}
	sink := &recorder{}
	rt := New(provider, NewRegistry(), nil, nil, testOptions(t))

	res, err := rt.Run(context.Background(), types.NewRunID(), "hi", sink)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusCompleted || res.Iterations != 1 {
		t.Fatalf("expected completion after one turn, got %s after %d", res.Status, res.Iterations)
	}
	if len(res.Results) != 1 || res.Results[0] != (types.ResultEntry{Type: types.EntryOutput, Content: "done"}) {
		t.Errorf("unexpected results %+v", res.Results)
	}
	if last := sink.last(); last.Status != types.StatusCompleted || !last.Final {
		t.Errorf("expected final completed record, got %+v", last)
	}
}

func TestRunUnknownToolContinues(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"step":"action","tool":"launchRocket","input":"moon"}`,
		`{"step":"output","content":"ok"}`,
	}}
	sink := &recorder{}
	rt := New(provider, NewRegistry(), nil, nil, testOptions(t))

	res, err := rt.Run(context.Background(), types.NewRunID(), "go", sink)
	if err != nil {
		t.Fatal(err)
	}
	want := []types.EntryType{types.EntryAction, types.EntryError, types.EntryObserve, types.EntryOutput}
	if !equalTypes(entryTypes(res), want) {
		t.Errorf("expected %v, got %v", want, entryTypes(res))
	}
	if res.Results[2].Content != "Simulated execution of launchRocket with input: moon" {
		t.Errorf("unexpected observation %q", res.Results[2].Content)
	}
	if !res.Success {
		t.Error("expected run to succeed")
	}
	if sink.finals() != 1 || sink.last().Status != types.StatusCompleted {
		t.Errorf("expected mid-run error not to end the run, got %v", sink.statuses())
	}
}

func TestRunToolFailureIsObserved(t *testing.T) {
	failing := &funcTool{name: "executeCommand", fn: func(context.Context, *RunContext, string) (string, error) {
		return "", errors.New("exit status 1")
	}}
	provider := &scriptedProvider{replies: []string{
		`{"step":"action","tool":"executeCommand","input":"false"}`,
		`{"step":"output","content":"it failed"}`,
	}}
	rt := New(provider, NewRegistry(failing), nil, nil, testOptions(t))

	res, err := rt.Run(context.Background(), types.NewRunID(), "run false", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []types.EntryType{types.EntryAction, types.EntryError, types.EntryObserve, types.EntryOutput}
	if !equalTypes(entryTypes(res), want) {
		t.Errorf("expected %v, got %v", want, entryTypes(res))
	}
	if res.Results[2].Content != "Error: exit status 1" {
		t.Errorf("unexpected observation %q", res.Results[2].Content)
	}
	if !strings.Contains(provider.lastMessage(), "Error: exit status 1") {
		t.Error("expected the error to reach the transcript")
	}
}

func (p *scriptedProvider) lastMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.last) == 0 {
		return ""
	}
	return p.last[len(p.last)-1].Content
}

func TestRunModelError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("API error (status 500): boom")}
	sink := &recorder{}
	rt := New(provider, NewRegistry(), nil, nil, testOptions(t))

	res, err := rt.Run(context.Background(), types.NewRunID(), "hi", sink)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Status != types.StatusError {
		t.Errorf("expected failed run, got %+v", res)
	}
	if !strings.Contains(res.Error, "boom") {
		t.Errorf("expected model error in result, got %q", res.Error)
	}
	if last := sink.last(); last.Status != types.StatusError || !last.Final {
		t.Errorf("expected final error record, got %+v", last)
	}
}

func TestRunWithoutProvider(t *testing.T) {
	sink := &recorder{}
	rt := New(nil, NewRegistry(), nil, nil, testOptions(t))

	res, err := rt.Run(context.Background(), types.NewRunID(), "hi", sink)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Iterations != 0 {
		t.Errorf("expected fail-fast result, got %+v", res)
	}
	if !strings.Contains(res.Error, "model unavailable") {
		t.Errorf("unexpected error %q", res.Error)
	}
	if sink.last().Status != types.StatusError {
		t.Errorf("expected error status, got %s", sink.last().Status)
	}
}

func TestRunBlankPrompt(t *testing.T) {
	rt := New(&scriptedProvider{}, NewRegistry(), nil, nil, testOptions(t))
	for _, prompt := range []string{"", "   \n\t"} {
		if _, err := rt.Run(context.Background(), types.NewRunID(), prompt, nil); !errors.Is(err, ErrPromptRequired) {
			t.Errorf("expected ErrPromptRequired for %q, got %v", prompt, err)
		}
	}
}

func TestRunZeroWallClock(t *testing.T) {
	opts := testOptions(t)
	opts.WallClock = 0
	provider := &scriptedProvider{}
	rt := New(provider, NewRegistry(), nil, nil, opts)

	res, err := rt.Run(context.Background(), types.NewRunID(), "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusTimeout || res.Iterations != 0 {
		t.Errorf("expected immediate timeout, got %+v", res)
	}
	if len(provider.sizes) != 0 {
		t.Error("expected no model calls")
	}
}

type blockingProvider struct{ scriptedProvider }

func (p *blockingProvider) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunModelCallTimeout(t *testing.T) {
	opts := testOptions(t)
	opts.LLMTimeout = 20 * time.Millisecond
	rt := New(&blockingProvider{}, NewRegistry(), nil, nil, opts)

	start := time.Now()
	res, err := rt.Run(context.Background(), types.NewRunID(), "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("expected the model call to be cut off")
	}
	if res.Status != types.StatusError || !strings.Contains(res.Error, "timeout") {
		t.Errorf("expected timeout error, got %+v", res)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &recorder{}
	rt := New(&scriptedProvider{}, NewRegistry(), nil, nil, testOptions(t))

	res, err := rt.Run(ctx, types.NewRunID(), "hi", sink)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusError || !strings.Contains(res.Error, "cancelled") {
		t.Errorf("expected cancelled run, got %+v", res)
	}
	if !sink.last().Final {
		t.Error("expected a terminal record after cancellation")
	}
}

type memArtifacts struct {
	mu   sync.Mutex
	data map[types.ArtifactID]string
}

func (m *memArtifacts) Put(_ context.Context, _ types.RunID, _ string, data string) (types.ArtifactID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := types.NewArtifactID()
	m.data[id] = data
	return id, nil
}

func (m *memArtifacts) Get(_ context.Context, id types.ArtifactID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[id], nil
}

func (m *memArtifacts) GetMeta(context.Context, types.ArtifactID) (*types.ArtifactMeta, error) {
	return nil, errors.New("not implemented")
}

func TestRunLargeToolOutputPreview(t *testing.T) {
	big := strings.Repeat("x", 1000)
	tool := &funcTool{name: "dump", fn: func(context.Context, *RunContext, string) (string, error) { return big, nil }}
	provider := &scriptedProvider{replies: []string{
		`{"step":"action","tool":"dump","input":""}`,
		`{"step":"output","content":"done"}`,
	}}
	arts := &memArtifacts{data: map[types.ArtifactID]string{}}
	sink := &recorder{}
	rt := New(provider, NewRegistry(tool), arts, nil, testOptions(t))

	res, err := rt.Run(context.Background(), types.NewRunID(), "dump", sink)
	if err != nil {
		t.Fatal(err)
	}
	if res.Results[1].Content != big {
		t.Error("expected the full output in the run result")
	}

	var completed *types.StatusRecord
	for i := range sink.records {
		if sink.records[i].Status == types.StatusToolCompleted {
			completed = &sink.records[i]
		}
	}
	if completed == nil {
		t.Fatal("expected a tool_completed record")
	}
	if len(completed.ToolResult) != 303 || completed.ToolResultLength != 1000 {
		t.Errorf("expected 300 char preview of 1000, got %d of %d", len(completed.ToolResult), completed.ToolResultLength)
	}
	full, _ := arts.Get(context.Background(), completed.ToolResultArtifact)
	if full != big {
		t.Error("expected full output stored as artifact")
	}
}

func TestRunTracksProject(t *testing.T) {
	tool := &funcTool{name: "executeCommand", fn: func(_ context.Context, rc *RunContext, input string) (string, error) {
		rc.RecordDir("todo-app")
		rc.RecordFile("todo-app/index.html")
		rc.Notify(types.StatusFileCreated, "File created: todo-app/index.html")
		return "ok", nil
	}}
	provider := &scriptedProvider{replies: []string{
		`{"step":"action","tool":"executeCommand","input":"{}"}`,
		`{"step":"output","content":"built"}`,
	}}
	sink := &recorder{}
	opts := testOptions(t)
	opts.OpenCommand = "does-not-matter"
	rt := New(provider, NewRegistry(tool), nil, nil, opts)

	res, err := rt.Run(context.Background(), types.NewRunID(), "todo app", sink)
	if err != nil {
		t.Fatal(err)
	}
	if res.ProjectName != "todo-app" || len(res.ProjectFiles) != 1 {
		t.Errorf("expected project tracking, got %+v", res)
	}

	statuses := fmt.Sprint(sink.statuses())
	if !strings.Contains(statuses, "file_created") || !strings.Contains(statuses, "finalizing") {
		t.Errorf("expected file_created and finalizing, got %s", statuses)
	}
	if strings.Contains(statuses, "opening_vscode") {
		t.Error("expected no editor launch in simulated mode")
	}
	if last := sink.last(); last.ProjectName != "todo-app" || !strings.Contains(last.Message, "1 files") {
		t.Errorf("unexpected final record %+v", last)
	}
}
