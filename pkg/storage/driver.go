// Package storage defines the persistence contract for memory units.
package storage

import (
	"context"
	"time"

	"github.com/papercomputeco/reminisce/pkg/memory"
)

// Driver persists memory units. Every backend enforces the same invariants:
// Create stamps timestamps and defaults, updates always refresh updatedAt and
// clamp confidence and importance, and Find ranks with memory.DefaultOrder
// unless told otherwise.
type Driver interface {
	// Create stores a new unit and returns its id. An empty ID is assigned.
	Create(ctx context.Context, unit *memory.Unit) (string, error)

	// Get retrieves a unit by id. Unknown ids return NotFoundError.
	Get(ctx context.Context, id string) (*memory.Unit, error)

	// Find returns units matching the query, ordered and limited.
	Find(ctx context.Context, q memory.Query) ([]*memory.Unit, error)

	// Count returns the number of units matching the filter.
	Count(ctx context.Context, f memory.Filter) (int, error)

	// Update applies a patch to one unit. Returns false if the unit does not exist.
	Update(ctx context.Context, id string, patch memory.Patch) (bool, error)

	// UpdateMany applies a patch to every matching unit in one batch and
	// returns the number of units changed.
	UpdateMany(ctx context.Context, f memory.Filter, patch memory.Patch) (int, error)

	// Delete removes one unit. Returns false if the unit does not exist.
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteMany removes every matching unit and returns how many were removed.
	DeleteMany(ctx context.Context, f memory.Filter) (int, error)

	// FindRelated resolves relatedMemories in both directions up to depth hops.
	FindRelated(ctx context.Context, id string, depth int) ([]*memory.Unit, error)

	// Summarize computes aggregate statistics as of now.
	Summarize(ctx context.Context, now time.Time) (*memory.Summary, error)

	// Close releases any resources held by the driver.
	Close() error
}

// Clock returns the current time. Drivers default to time.Now.
type Clock func() time.Time

// Now calls the clock, falling back to time.Now when unset.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
