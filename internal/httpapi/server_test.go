package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/aicoder/internal/gateway"
	"github.com/user/aicoder/internal/state"
	"github.com/user/aicoder/internal/status"
	"github.com/user/aicoder/internal/types"
	"github.com/user/aicoder/pkg/llm"
)

type fakeRunner struct {
	fail bool
}

func (f *fakeRunner) Run(ctx context.Context, runID types.RunID, prompt string, sink types.StatusSink) (*types.RunResult, error) {
	_ = sink.Publish(ctx, &types.StatusRecord{Status: types.StatusStarting, Message: "Starting AI agent...", SessionID: runID})
	res := &types.RunResult{RunID: runID, Success: !f.fail, Iterations: 1, Status: types.StatusCompleted}
	final := &types.StatusRecord{Status: types.StatusCompleted, Message: "Task completed in 1 iterations", SessionID: runID, Final: true}
	if f.fail {
		res.Status = types.StatusError
		res.Error = "AI model error: boom"
		final = &types.StatusRecord{Status: types.StatusError, Message: res.Error, SessionID: runID, Final: true}
	}
	_ = sink.Publish(ctx, final)
	return res, nil
}

type streamProvider struct {
	chunks []string
	err    error
}

func (p *streamProvider) Complete(context.Context, []llm.Message) (*llm.Response, error) {
	return &llm.Response{Content: strings.Join(p.chunks, "")}, nil
}

func (p *streamProvider) Stream(_ context.Context, messages []llm.Message) (<-chan llm.Delta, error) {
	ch := make(chan llm.Delta, len(p.chunks)+1)
	for _, c := range p.chunks {
		ch <- llm.Delta{Content: c}
	}
	if p.err != nil {
		ch <- llm.Delta{Err: p.err}
	}
	close(ch)
	return ch, nil
}

type fixture struct {
	srv       *Server
	hub       *status.Hub
	store     *state.RunStore
	log       *state.StatusLog
	artifacts *state.ArtifactStore
}

func setup(t *testing.T, runner gateway.Runner, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := state.NewRunStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	hub := status.NewHub(16)
	log := state.NewStatusLog(dir)
	artifacts := state.NewArtifactStore(dir)

	gw := gateway.New(runner, status.Multi(hub, log), gateway.WithRunStore(store))
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)

	opts = append([]Option{WithRunStore(store), WithHistory(log), WithArtifacts(artifacts)}, opts...)
	return &fixture{
		srv:       NewServer(gw, hub, opts...),
		hub:       hub,
		store:     store,
		log:       log,
		artifacts: artifacts,
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	f := setup(t, &fakeRunner{})
	w := do(t, f.srv, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decode[map[string]any](t, w); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestAgentPromptRequired(t *testing.T) {
	f := setup(t, &fakeRunner{})
	for _, body := range []string{`{"prompt":""}`, `{"prompt":"   "}`, `{}`} {
		w := do(t, f.srv, "POST", "/api/agent", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", body, w.Code)
		}
		if got := decode[map[string]string](t, w)["error"]; got != "Prompt is required" {
			t.Errorf("%s: error = %q", body, got)
		}
	}
	if _, ok := f.hub.Latest(""); ok {
		t.Error("no status should be published for a blank prompt")
	}
}

func TestAgentInvalidJSON(t *testing.T) {
	f := setup(t, &fakeRunner{})
	if w := do(t, f.srv, "POST", "/api/agent", "{"); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAgentSync(t *testing.T) {
	f := setup(t, &fakeRunner{})
	w := do(t, f.srv, "POST", "/api/agent", `{"prompt":"what is the weather in Paris?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}
	res := decode[types.RunResult](t, w)
	if !res.Success || res.Iterations != 1 {
		t.Fatalf("result = %+v", res)
	}

	w = do(t, f.srv, "GET", "/api/agent/status", "")
	rec := decode[types.StatusRecord](t, w)
	if rec.Status != types.StatusCompleted || rec.SessionID != res.RunID || !rec.Final {
		t.Errorf("latest = %+v", rec)
	}
}

func TestAgentSyncFailure(t *testing.T) {
	f := setup(t, &fakeRunner{fail: true})
	w := do(t, f.srv, "POST", "/api/agent", `{"prompt":"x"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if res := decode[types.RunResult](t, w); res.Success || res.Error == "" {
		t.Errorf("result = %+v", res)
	}
}

func TestAgentAsync(t *testing.T) {
	f := setup(t, &fakeRunner{})
	w := do(t, f.srv, "POST", "/api/agent", `{"prompt":"x","async":true}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	acc := decode[acceptedResponse](t, w)
	if acc.RunID == "" || acc.Status != "queued" {
		t.Fatalf("accepted = %+v", acc)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, ok := f.hub.Latest(acc.RunID)
		if ok && rec.Final {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("async run did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStatusUnknown(t *testing.T) {
	f := setup(t, &fakeRunner{})
	w := do(t, f.srv, "GET", "/api/agent/status?run="+string(types.NewRunID()), "")
	if got := decode[map[string]any](t, w)["status"]; got != "unknown" {
		t.Errorf("status = %v", got)
	}
}

type fakeStatusReader struct {
	recs map[types.RunID]types.StatusRecord
	err  error
}

func (f *fakeStatusReader) Latest(_ context.Context, runID types.RunID) (types.StatusRecord, bool, error) {
	if f.err != nil {
		return types.StatusRecord{}, false, f.err
	}
	rec, ok := f.recs[runID]
	return rec, ok, nil
}

func TestStatusFallback(t *testing.T) {
	remote := types.NewRunID()
	reader := &fakeStatusReader{recs: map[types.RunID]types.StatusRecord{
		remote: {SessionID: remote, Status: types.StatusExecuting, Message: "Running tool"},
	}}
	f := setup(t, &fakeRunner{}, WithStatusFallback(reader))

	w := do(t, f.srv, "GET", "/api/agent/status?run="+string(remote), "")
	got := decode[types.StatusRecord](t, w)
	if got.SessionID != remote || got.Status != types.StatusExecuting {
		t.Errorf("expected record from fallback, got %+v", got)
	}

	w = do(t, f.srv, "GET", "/api/agent/status?run="+string(types.NewRunID()), "")
	if s := decode[map[string]any](t, w)["status"]; s != "unknown" {
		t.Errorf("status = %v", s)
	}

	reader.err = errors.New("redis down")
	w = do(t, f.srv, "GET", "/api/agent/status?run="+string(remote), "")
	if w.Code != http.StatusOK || decode[map[string]any](t, w)["status"] != "unknown" {
		t.Errorf("expected unknown status when the fallback fails, got %d %s", w.Code, w.Body.String())
	}
}

// readFrames reads up to n data frames. It may run on its own goroutine, so
// it reports failures with t.Error.
func readFrames(t *testing.T, url string, n int) []map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Error(err)
		return nil
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
		return nil
	}

	var frames []map[string]any
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() && len(frames) < n {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			t.Errorf("bad frame %q: %v", line, err)
			return frames
		}
		frames = append(frames, f)
	}
	return frames
}

func TestStatusStreamReplaysFinal(t *testing.T) {
	f := setup(t, &fakeRunner{})
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	w := do(t, f.srv, "POST", "/api/agent", `{"prompt":"x"}`)
	res := decode[types.RunResult](t, w)

	frames := readFrames(t, ts.URL+"/api/agent/status/stream?run="+string(res.RunID), 3)
	if len(frames) != 2 {
		t.Fatalf("frames = %v", frames)
	}
	if frames[0]["type"] != "connected" {
		t.Errorf("first frame = %v", frames[0])
	}
	if frames[1]["type"] != "status" || frames[1]["status"] != "completed" || frames[1]["sessionId"] != string(res.RunID) {
		t.Errorf("status frame = %v", frames[1])
	}
}

func TestStatusStreamIdleTimeout(t *testing.T) {
	f := setup(t, &fakeRunner{}, WithStreamIdle(50*time.Millisecond))
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	frames := readFrames(t, ts.URL+"/api/agent/status/stream", 5)
	if len(frames) != 2 {
		t.Fatalf("frames = %v", frames)
	}
	if frames[1]["type"] != "timeout" || frames[1]["message"] != "Connection timeout - will reconnect" {
		t.Errorf("timeout frame = %v", frames[1])
	}
	if n := f.hub.Subscribers(); n != 0 {
		t.Errorf("subscribers = %d after close", n)
	}
}

func TestStatusStreamLive(t *testing.T) {
	f := setup(t, &fakeRunner{})
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	run := types.NewRunID()
	done := make(chan []map[string]any)
	go func() { done <- readFrames(t, ts.URL+"/api/agent/status/stream?run="+string(run), 10) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	ctx := context.Background()
	f.hub.Publish(ctx, &types.StatusRecord{Status: types.StatusThinking, Message: "hmm", SessionID: run})
	f.hub.Publish(ctx, &types.StatusRecord{Status: types.StatusTimeout, Message: "done", SessionID: run, Final: true})

	frames := <-done
	var got []string
	for _, fr := range frames {
		if fr["type"] == "status" {
			got = append(got, fr["status"].(string))
		}
	}
	if strings.Join(got, ",") != "thinking,timeout" {
		t.Errorf("statuses = %v", got)
	}
}

func TestGenerate(t *testing.T) {
	f := setup(t, &fakeRunner{}, WithCompletion(&streamProvider{chunks: []string{"func ", "main() {}"}}))
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/generate", "application/json", strings.NewReader(`{"prompt":"hello world"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var kinds []string
	var content strings.Builder
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimPrefix(sc.Text(), "data: ")
		if line == "" {
			continue
		}
		var fr noticeFrame
		if err := json.Unmarshal([]byte(line), &fr); err != nil {
			t.Fatal(err)
		}
		kinds = append(kinds, fr.Type)
		content.WriteString(fr.Content)
	}
	if strings.Join(kinds, ",") != "delta,delta,done" {
		t.Errorf("frames = %v", kinds)
	}
	if content.String() != "func main() {}" {
		t.Errorf("content = %q", content.String())
	}
}

func TestGenerateStreamError(t *testing.T) {
	f := setup(t, &fakeRunner{}, WithCompletion(&streamProvider{chunks: []string{"a"}, err: errors.New("status 500")}))
	w := do(t, f.srv, "POST", "/api/generate", `{"prompt":"x"}`)
	body := w.Body.String()
	if !strings.Contains(body, `"type":"error"`) || strings.Contains(body, `"type":"done"`) {
		t.Errorf("body = %s", body)
	}
}

func TestGenerateWithoutModel(t *testing.T) {
	f := setup(t, &fakeRunner{})
	if w := do(t, f.srv, "POST", "/api/generate", `{"prompt":"x"}`); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	f := setup(t, &fakeRunner{}, WithRateLimit(0.001, 1))
	if w := do(t, f.srv, "POST", "/api/agent", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("first status = %d", w.Code)
	}
	if w := do(t, f.srv, "POST", "/api/agent", `{}`); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", w.Code)
	}
	if w := do(t, f.srv, "GET", "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("GET should not be limited, got %d", w.Code)
	}
}

func TestRunsEndpoints(t *testing.T) {
	f := setup(t, &fakeRunner{})
	res := decode[types.RunResult](t, do(t, f.srv, "POST", "/api/agent", `{"prompt":"x"}`))

	runs := decode[[]types.RunRecord](t, do(t, f.srv, "GET", "/api/runs", ""))
	if len(runs) != 1 || runs[0].ID != res.RunID {
		t.Fatalf("runs = %+v", runs)
	}

	rec := decode[types.RunRecord](t, do(t, f.srv, "GET", "/api/runs/"+string(res.RunID), ""))
	if rec.Status != types.StatusCompleted || rec.Prompt != "x" {
		t.Errorf("record = %+v", rec)
	}

	history := decode[[]types.StatusRecord](t, do(t, f.srv, "GET", "/api/runs/"+string(res.RunID)+"/history", ""))
	if len(history) != 2 || history[0].Status != types.StatusStarting || !history[1].Final {
		t.Errorf("history = %+v", history)
	}

	if w := do(t, f.srv, "GET", "/api/runs/"+string(types.NewRunID()), ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d", w.Code)
	}
	if w := do(t, f.srv, "GET", "/api/runs/not-a-run", ""); w.Code != http.StatusNotFound {
		t.Errorf("malformed id status = %d", w.Code)
	}
}

func TestArtifactEndpoint(t *testing.T) {
	f := setup(t, &fakeRunner{})
	id, err := f.artifacts.Put(context.Background(), types.NewRunID(), "executeCommand", "full output")
	if err != nil {
		t.Fatal(err)
	}
	got := decode[artifactResponse](t, do(t, f.srv, "GET", "/api/artifacts/"+string(id), ""))
	if got.Content != "full output" || got.Meta == nil || got.Meta.Tool != "executeCommand" {
		t.Errorf("artifact = %+v", got)
	}
	if w := do(t, f.srv, "GET", "/api/artifacts/"+string(types.NewArtifactID()), ""); w.Code != http.StatusNotFound {
		t.Errorf("missing artifact status = %d", w.Code)
	}
}

func TestReviewDirConfined(t *testing.T) {
	root := t.TempDir()
	f := setup(t, &fakeRunner{}, WithReviewRoot(root))
	for _, dir := range []string{"", "../escape", "/etc"} {
		if w := do(t, f.srv, "POST", "/api/review", `{"dir":"`+dir+`"}`); w.Code != http.StatusBadRequest {
			t.Errorf("dir %q: status = %d", dir, w.Code)
		}
	}
	// Inside the root but no reviewer configured.
	if w := do(t, f.srv, "POST", "/api/review", `{"dir":"proj"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
}
