// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type RunID string
type ArtifactID string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewArtifactID() ArtifactID {
	return ArtifactID(uuid.New().String())
}

// Short returns the first segment of the id, used for workspace directory names.
func (id RunID) Short() string {
	s := string(id)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
