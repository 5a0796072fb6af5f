package reminisce

import (
	"context"

	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/storage"
)

// Get returns one memory without recording an access.
func (s *Service) Get(ctx context.Context, id string) Result[*memory.Unit] {
	u, err := s.config.Driver.Get(ctx, id)
	if err != nil {
		s.logFailure("get", err)
		return fail[*memory.Unit](err)
	}
	return ok(u)
}

// Forget deletes a memory.
func (s *Service) Forget(ctx context.Context, id string) Result[bool] {
	deleted, err := s.config.Driver.Delete(ctx, id)
	if err != nil {
		s.logFailure("forget", err)
		return fail[bool](err)
	}
	if !deleted {
		return fail[bool](memoryNotFound(id))
	}
	return ok(true)
}

// Related returns memories linked to id, walking depth hops. A depth of zero
// means one hop.
func (s *Service) Related(ctx context.Context, id string, depth int) Result[[]*memory.Unit] {
	if depth < 0 || depth > 5 {
		return fail[[]*memory.Unit](memory.ValidationError{Field: "depth", Reason: "must be between 0 and 5"})
	}
	units, err := s.config.Driver.FindRelated(ctx, id, depth)
	if err != nil {
		s.logFailure("related", err)
		return fail[[]*memory.Unit](err)
	}
	if units == nil {
		units = []*memory.Unit{}
	}
	return ok(units)
}

func memoryNotFound(id string) error {
	return storage.NotFoundError{ID: id}
}
