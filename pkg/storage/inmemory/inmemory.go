// Package inmemory provides an indexed, process-local memory store.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/storage"
)

// Driver implements storage.Driver using in-memory maps.
type Driver struct {
	// Clock overrides the time source used for timestamps.
	Clock storage.Clock

	// mu is a read write sync mutex guarding units and their indexes
	mu sync.RWMutex

	// units is keyed by memory id. Stored units are never handed out
	// directly; callers always receive clones.
	units map[string]*memory.Unit

	idx *indexes
}

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		units: make(map[string]*memory.Unit),
		idx:   newIndexes(),
	}
}

// Create stores a new unit and returns its id.
func (d *Driver) Create(_ context.Context, unit *memory.Unit) (string, error) {
	if unit == nil {
		return "", storage.ErrNilUnit
	}

	u := unit.Clone()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	memory.PrepareCreate(u, d.Clock.Now())

	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.units[u.ID]; ok {
		d.idx.remove(old)
	}
	d.units[u.ID] = u
	d.idx.add(u)

	return u.ID, nil
}

// Get retrieves a unit by id.
func (d *Driver) Get(_ context.Context, id string) (*memory.Unit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.units[id]
	if !ok {
		return nil, storage.NotFoundError{ID: id}
	}
	return u.Clone(), nil
}

// Find returns matching units ordered by the query's sort.
func (d *Driver) Find(_ context.Context, q memory.Query) ([]*memory.Unit, error) {
	d.mu.RLock()
	matched := d.match(q.Filter)
	out := make([]*memory.Unit, 0, len(matched))
	for _, u := range matched {
		out = append(out, u.Clone())
	}
	d.mu.RUnlock()

	memory.SortUnits(out, q.Ordering())
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Count returns the number of matching units.
func (d *Driver) Count(_ context.Context, f memory.Filter) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.match(f)), nil
}

// Update applies a patch to a single unit.
func (d *Driver) Update(_ context.Context, id string, patch memory.Patch) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.units[id]
	if !ok {
		return false, nil
	}
	d.apply(u, patch, d.Clock.Now())
	return true, nil
}

// UpdateMany applies a patch to every matching unit.
func (d *Driver) UpdateMany(_ context.Context, f memory.Filter, patch memory.Patch) (int, error) {
	now := d.Clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	matched := d.match(f)
	for _, u := range matched {
		d.apply(u, patch, now)
	}
	return len(matched), nil
}

// Delete removes a single unit.
func (d *Driver) Delete(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.units[id]
	if !ok {
		return false, nil
	}
	d.idx.remove(u)
	delete(d.units, id)
	return true, nil
}

// DeleteMany removes every matching unit.
func (d *Driver) DeleteMany(_ context.Context, f memory.Filter) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	matched := d.match(f)
	for _, u := range matched {
		d.idx.remove(u)
		delete(d.units, u.ID)
	}
	return len(matched), nil
}

// FindRelated resolves related memories up to depth hops.
func (d *Driver) FindRelated(ctx context.Context, id string, depth int) ([]*memory.Unit, error) {
	return storage.WalkRelated(ctx, d, id, depth)
}

// Summarize computes aggregate statistics.
func (d *Driver) Summarize(_ context.Context, now time.Time) (*memory.Summary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := memory.NewSummary()
	var confidenceSum float64
	for _, u := range d.units {
		s.Total++
		s.ByTier[u.Tier]++
		s.ByConfidence.Bucket(u.Confidence)
		if u.Validated {
			s.Validated++
		}
		if u.IsExpired(now) {
			s.Expired++
		}
		s.TotalAccess += u.AccessCount
		confidenceSum += u.Confidence
	}
	if s.Total > 0 {
		s.AvgConfidence = confidenceSum / float64(s.Total)
	}
	return s, nil
}

// Len returns the number of stored units.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.units)
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

// match must be called with mu held.
func (d *Driver) match(f memory.Filter) []*memory.Unit {
	var out []*memory.Unit

	if ids := d.idx.candidates(f); ids != nil {
		for id := range ids {
			if u, ok := d.units[id]; ok && f.Matches(u) {
				out = append(out, u)
			}
		}
		return out
	}

	for _, u := range d.units {
		if f.Matches(u) {
			out = append(out, u)
		}
	}
	return out
}

// apply must be called with mu held for writing.
func (d *Driver) apply(u *memory.Unit, patch memory.Patch, now time.Time) {
	d.idx.remove(u)
	patch.Apply(u, now)
	d.idx.add(u)
}
