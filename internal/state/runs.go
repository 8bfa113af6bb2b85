package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/aicoder/internal/types"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultBusyTimeout = 5 * time.Second
	defaultListLimit   = 50

	// timeLayout has fixed width so timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// RunStore persists run summaries in SQLite.
type RunStore struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
}

type RunStoreOption func(*RunStore)

func WithBusyTimeout(timeout time.Duration) RunStoreOption {
	return func(s *RunStore) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) RunStoreOption {
	return func(s *RunStore) {
		s.enableWAL = enabled
	}
}

// NewRunStore opens (creating if needed) the database at path.
func NewRunStore(path string, opts ...RunStoreOption) (*RunStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &RunStore{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RunStore) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Save inserts or updates a run.
func (s *RunStore) Save(ctx context.Context, rec *types.RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run id is required")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	var result sql.NullString
	if rec.Result != nil {
		raw, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("marshal run result: %w", err)
		}
		result = sql.NullString{String: string(raw), Valid: true}
	}

	const q = `
INSERT INTO runs (run_id, kind, prompt, status, result, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  kind=excluded.kind,
  prompt=excluded.prompt,
  status=excluded.status,
  result=excluded.result,
  updated_at=excluded.updated_at;
`
	_, err := s.db.ExecContext(ctx, q,
		string(rec.ID),
		rec.Kind,
		rec.Prompt,
		string(rec.Status),
		result,
		rec.CreatedAt.UTC().Format(timeLayout),
		rec.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// Get loads one run. It returns ErrNotFound for unknown ids.
func (s *RunStore) Get(ctx context.Context, id types.RunID) (*types.RunRecord, error) {
	const q = `
SELECT run_id, kind, prompt, status, result, created_at, updated_at
FROM runs
WHERE run_id = ?;
`
	rec, err := scanRun(s.db.QueryRowContext(ctx, q, string(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load run: %w", err)
	}
	return rec, nil
}

// List returns the newest runs first.
func (s *RunStore) List(ctx context.Context, limit int) ([]*types.RunRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	const q = `
SELECT run_id, kind, prompt, status, result, created_at, updated_at
FROM runs
ORDER BY created_at DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*types.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func (s *RunStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*types.RunRecord, error) {
	var (
		rec                    types.RunRecord
		id, status             string
		result                 sql.NullString
		createdRaw, updatedRaw string
	)
	if err := row.Scan(&id, &rec.Kind, &rec.Prompt, &status, &result, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	rec.ID = types.RunID(id)
	rec.Status = types.Status(status)

	var err error
	if rec.CreatedAt, err = time.Parse(timeLayout, createdRaw); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(timeLayout, updatedRaw); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if result.Valid {
		rec.Result = &types.RunResult{}
		if err := json.Unmarshal([]byte(result.String), rec.Result); err != nil {
			return nil, fmt.Errorf("decode run result: %w", err)
		}
	}
	return &rec, nil
}
