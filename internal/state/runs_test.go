package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/aicoder/internal/types"
)

func newTestRunStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := NewRunStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to create run store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunStoreSaveGet(t *testing.T) {
	s := newTestRunStore(t)
	ctx := context.Background()

	rec := &types.RunRecord{
		ID:     types.NewRunID(),
		Kind:   "agent",
		Prompt: "What is the weather in Paris?",
		Status: types.StatusProcessing,
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}

	rec.Status = types.StatusCompleted
	rec.Result = &types.RunResult{
		RunID:      rec.ID,
		Success:    true,
		Iterations: 2,
		Results:    []types.ResultEntry{{Type: types.EntryOutput, Content: "43 Degree C"}},
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusCompleted || got.Prompt != rec.Prompt {
		t.Errorf("unexpected record %+v", got)
	}
	if got.Result == nil || got.Result.Iterations != 2 || got.Result.Results[0].Content != "43 Degree C" {
		t.Errorf("unexpected result %+v", got.Result)
	}
}

func TestRunStoreNotFound(t *testing.T) {
	s := newTestRunStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunStoreListNewestFirst(t *testing.T) {
	s := newTestRunStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, prompt := range []string{"first", "second", "third"} {
		rec := &types.RunRecord{
			ID:        types.NewRunID(),
			Kind:      "agent",
			Prompt:    prompt,
			Status:    types.StatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Prompt != "third" || runs[1].Prompt != "second" {
		t.Errorf("expected newest first, got %s, %s", runs[0].Prompt, runs[1].Prompt)
	}
}

func TestRunStoreRequiresID(t *testing.T) {
	s := newTestRunStore(t)
	if err := s.Save(context.Background(), &types.RunRecord{}); err == nil {
		t.Error("expected error for missing id")
	}
}
