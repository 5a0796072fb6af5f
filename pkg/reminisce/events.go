package reminisce

import (
	"context"

	"github.com/papercomputeco/reminisce/pkg/eventstream"
	"github.com/papercomputeco/reminisce/pkg/invalidation"
)

// EmitEntityChange applies an entity change event to the cached memories.
func (s *Service) EmitEntityChange(ctx context.Context, event *eventstream.EntityChangeEvent) Result[invalidation.Outcome] {
	if event != nil && event.Timestamp.IsZero() {
		e := *event
		e.Timestamp = s.config.Clock.Now()
		event = &e
	}

	out, err := s.config.Invalidation.Apply(ctx, event)
	if err != nil {
		s.logFailure("invalidate", err)
		return fail[invalidation.Outcome](err)
	}
	return ok(out)
}
