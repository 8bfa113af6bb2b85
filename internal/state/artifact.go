// internal/state/artifact.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/aicoder/internal/types"
)

// artifactWrapper is the on-disk format for artifact files.
type artifactWrapper struct {
	Meta *types.ArtifactMeta `json:"meta"`
	Data string              `json:"data"`
}

// ArtifactStore keeps full tool outputs as individual JSON files at
// runs/<runID>/artifacts/<artifactID>.json.
type ArtifactStore struct {
	root string
}

// NewArtifactStore creates a new file-backed ArtifactStore rooted at the given directory.
func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

func (a *ArtifactStore) artifactsDir(runID types.RunID) string {
	return filepath.Join(a.root, "runs", string(runID), "artifacts")
}

// findArtifact locates an artifact file by ID across all runs.
func (a *ArtifactStore) findArtifact(id types.ArtifactID) (string, error) {
	pattern := filepath.Join(a.root, "runs", "*", "artifacts", string(id)+".json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob artifact: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: artifact %s", ErrNotFound, id)
	}
	return matches[0], nil
}

func (a *ArtifactStore) readWrapper(id types.ArtifactID) (*artifactWrapper, error) {
	path, err := a.findArtifact(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact file: %w", err)
	}

	var wrapper artifactWrapper
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return &wrapper, nil
}

// Put stores data and returns its ID.
func (a *ArtifactStore) Put(_ context.Context, runID types.RunID, tool string, data string) (types.ArtifactID, error) {
	id := types.NewArtifactID()

	wrapper := &artifactWrapper{
		Meta: &types.ArtifactMeta{
			ID:        id,
			RunID:     runID,
			Tool:      tool,
			Size:      len(data),
			CreatedAt: time.Now(),
		},
		Data: data,
	}

	content, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}

	dir := a.artifactsDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(dir, string(id)+".json"), content); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the stored data for the given artifact.
func (a *ArtifactStore) Get(_ context.Context, id types.ArtifactID) (string, error) {
	wrapper, err := a.readWrapper(id)
	if err != nil {
		return "", err
	}
	return wrapper.Data, nil
}

// GetMeta returns the metadata for the given artifact.
func (a *ArtifactStore) GetMeta(_ context.Context, id types.ArtifactID) (*types.ArtifactMeta, error) {
	wrapper, err := a.readWrapper(id)
	if err != nil {
		return nil, err
	}
	return wrapper.Meta, nil
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// partial file.
func writeFileAtomic(target string, content []byte) error {
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
