// internal/state/statuslog.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/aicoder/internal/types"
)

// StatusLog is a JSONL-backed append-only history of status records.
// Records are stored per run in runs/<runID>/status.jsonl.
type StatusLog struct {
	root  string
	mu    sync.Mutex
	locks map[types.RunID]*sync.Mutex
}

// NewStatusLog creates a new file-backed StatusLog rooted at the given directory.
func NewStatusLog(root string) *StatusLog {
	return &StatusLog{
		root:  root,
		locks: make(map[types.RunID]*sync.Mutex),
	}
}

// getLock returns the per-run mutex, creating one if it doesn't exist.
func (l *StatusLog) getLock(runID types.RunID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lock, ok := l.locks[runID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	l.locks[runID] = lock
	return lock
}

// release drops the lock of a finished run.
func (l *StatusLog) release(runID types.RunID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, runID)
}

func (l *StatusLog) logPath(runID types.RunID) string {
	return filepath.Join(l.root, "runs", string(runID), "status.jsonl")
}

// Publish appends rec to its run's history.
func (l *StatusLog) Publish(_ context.Context, rec *types.StatusRecord) error {
	lock := l.getLock(rec.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.logPath(rec.SessionID)), 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	f, err := os.OpenFile(l.logPath(rec.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open status log: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write status: %w", err)
	}

	if rec.Final {
		l.release(rec.SessionID)
	}
	return nil
}

// History returns the last limit records of a run, oldest first. A limit of
// zero or less returns everything.
func (l *StatusLog) History(_ context.Context, runID types.RunID, limit int) ([]types.StatusRecord, error) {
	lock := l.getLock(runID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(l.logPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open status log: %w", err)
	}
	defer f.Close()

	var records []types.StatusRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec types.StatusRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal status: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan status log: %w", err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}
