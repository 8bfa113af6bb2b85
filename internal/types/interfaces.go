// internal/types/interfaces.go
package types

import (
	"context"
)

// StatusSink receives every status record a run produces, in order.
type StatusSink interface {
	Publish(ctx context.Context, rec *StatusRecord) error
}

type RunStore interface {
	Save(ctx context.Context, rec *RunRecord) error
	Get(ctx context.Context, id RunID) (*RunRecord, error)
	List(ctx context.Context, limit int) ([]*RunRecord, error)
}

type ArtifactStore interface {
	Put(ctx context.Context, runID RunID, tool string, data string) (ArtifactID, error)
	Get(ctx context.Context, id ArtifactID) (string, error)
	GetMeta(ctx context.Context, id ArtifactID) (*ArtifactMeta, error)
}

// SinkFunc adapts a function to StatusSink.
type SinkFunc func(ctx context.Context, rec *StatusRecord) error

func (f SinkFunc) Publish(ctx context.Context, rec *StatusRecord) error {
	return f(ctx, rec)
}
