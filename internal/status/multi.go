package status

import (
	"context"
	"errors"

	"github.com/user/aicoder/internal/types"
)

type multi []types.StatusSink

// Multi publishes every record to each sink in order. All sinks see the
// record even when an earlier one fails; the errors are joined.
func Multi(sinks ...types.StatusSink) types.StatusSink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Publish(ctx context.Context, rec *types.StatusRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
