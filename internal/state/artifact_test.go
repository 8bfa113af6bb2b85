// internal/state/artifact_test.go
package state

import (
	"context"
	"errors"
	"testing"

	"github.com/user/aicoder/internal/types"
)

func TestArtifactStore(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	ctx := context.Background()
	runID := types.NewRunID()

	id, err := store.Put(ctx, runID, "executeCommand", "line1\nline2\n")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Error("expected non-empty artifact ID")
	}

	data, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if data != "line1\nline2\n" {
		t.Errorf("unexpected data %q", data)
	}

	meta, err := store.GetMeta(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if meta.RunID != runID || meta.Tool != "executeCommand" || meta.Size != 12 {
		t.Errorf("unexpected meta %+v", meta)
	}
}

func TestArtifactStoreNotFound(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	_, err := store.Get(context.Background(), types.NewArtifactID())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
