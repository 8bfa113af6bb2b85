package runtime

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/user/aicoder/internal/types"
)

// RunContext is the per-run state shared with tools: where files go, what
// has been created, and a hook for progress statuses.
type RunContext struct {
	RunID     types.RunID
	WorkDir   string
	Simulated bool

	notify func(status types.Status, message string)

	mu          sync.Mutex
	projectName string
	files       []string
	created     []string
}

// NewRunContext returns a context rooted at workDir.
func NewRunContext(runID types.RunID, workDir string, simulated bool) *RunContext {
	return &RunContext{RunID: runID, WorkDir: workDir, Simulated: simulated}
}

// Notify publishes a progress status for the run. It is a no-op when the
// context is not attached to a running loop.
func (rc *RunContext) Notify(status types.Status, message string) {
	if rc.notify != nil {
		rc.notify(status, message)
	}
}

// Resolve maps a model-supplied relative path into WorkDir. Absolute paths
// and paths escaping WorkDir are rejected.
func (rc *RunContext) Resolve(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative", rel)
	}
	clean := filepath.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return filepath.Join(rc.WorkDir, clean), nil
}

// RecordDir notes a created directory. The first top-level directory names
// the project.
func (rc *RunContext) RecordDir(rel string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	clean := filepath.ToSlash(filepath.Clean(rel))
	rc.created = append(rc.created, clean)
	rc.claimProject(clean)
}

// RecordFile notes a written file.
func (rc *RunContext) RecordFile(rel string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	clean := filepath.ToSlash(filepath.Clean(rel))
	rc.created = append(rc.created, clean)
	for _, f := range rc.files {
		if f == clean {
			return
		}
	}
	rc.files = append(rc.files, clean)
	if strings.Contains(clean, "/") {
		rc.claimProject(clean)
	}
}

func (rc *RunContext) claimProject(clean string) {
	if rc.projectName != "" {
		return
	}
	rc.projectName = strings.SplitN(clean, "/", 2)[0]
}

// Project returns the project name, its absolute path and the files written
// so far. Name is empty when nothing was created.
func (rc *RunContext) Project() (name, path string, files []string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.projectName == "" {
		return "", "", append([]string(nil), rc.files...)
	}
	return rc.projectName, filepath.Join(rc.WorkDir, rc.projectName), append([]string(nil), rc.files...)
}

// Created returns every path created during the run, in order.
func (rc *RunContext) Created() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]string(nil), rc.created...)
}
