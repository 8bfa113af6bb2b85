// Package state provides filesystem and SQLite backed storage implementations.
package state

import (
	"errors"

	"github.com/user/aicoder/internal/types"
)

// ErrNotFound is returned when a run or artifact does not exist.
var ErrNotFound = errors.New("state: not found")

// Compile-time interface compliance checks.
var _ types.StatusSink = (*StatusLog)(nil)
var _ types.ArtifactStore = (*ArtifactStore)(nil)
var _ types.RunStore = (*RunStore)(nil)
