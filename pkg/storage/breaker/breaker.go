// Package breaker wraps a storage.Driver with a circuit breaker so that a
// failing backend is shed quickly instead of stalling every caller.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/storage"
)

// Config holds the circuit breaker settings.
type Config struct {
	Name string

	// MaxRequests allowed through while half-open.
	MaxRequests uint32

	// Interval after which closed-state counts reset.
	Interval time.Duration

	// Timeout before an open breaker moves to half-open.
	Timeout time.Duration

	// FailureThreshold is the failure ratio that trips the breaker once
	// MinRequests have been observed.
	FailureThreshold float64
	MinRequests      uint32

	Logger *zap.Logger
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// Driver is a circuit-breaking storage.Driver decorator.
type Driver struct {
	next storage.Driver
	cb   *gobreaker.CircuitBreaker
}

// New wraps next with a circuit breaker.
func New(next storage.Driver, cfg Config) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("storage circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Only backend unavailability counts against the breaker. Unknown
		// ids and rejected input are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || !storage.IsTransient(err)
		},
	})

	return &Driver{next: next, cb: cb}
}

// State reports the breaker state.
func (d *Driver) State() gobreaker.State {
	return d.cb.State()
}

func execute[T any](d *Driver, op string, fn func() (T, error)) (T, error) {
	var zero T
	v, err := d.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, &storage.TransientError{Op: op, Err: err}
	}
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

func (d *Driver) Create(ctx context.Context, unit *memory.Unit) (string, error) {
	return execute(d, "create", func() (string, error) { return d.next.Create(ctx, unit) })
}

func (d *Driver) Get(ctx context.Context, id string) (*memory.Unit, error) {
	return execute(d, "get", func() (*memory.Unit, error) { return d.next.Get(ctx, id) })
}

func (d *Driver) Find(ctx context.Context, q memory.Query) ([]*memory.Unit, error) {
	return execute(d, "find", func() ([]*memory.Unit, error) { return d.next.Find(ctx, q) })
}

func (d *Driver) Count(ctx context.Context, f memory.Filter) (int, error) {
	return execute(d, "count", func() (int, error) { return d.next.Count(ctx, f) })
}

func (d *Driver) Update(ctx context.Context, id string, patch memory.Patch) (bool, error) {
	return execute(d, "update", func() (bool, error) { return d.next.Update(ctx, id, patch) })
}

func (d *Driver) UpdateMany(ctx context.Context, f memory.Filter, patch memory.Patch) (int, error) {
	return execute(d, "update", func() (int, error) { return d.next.UpdateMany(ctx, f, patch) })
}

func (d *Driver) Delete(ctx context.Context, id string) (bool, error) {
	return execute(d, "delete", func() (bool, error) { return d.next.Delete(ctx, id) })
}

func (d *Driver) DeleteMany(ctx context.Context, f memory.Filter) (int, error) {
	return execute(d, "delete", func() (int, error) { return d.next.DeleteMany(ctx, f) })
}

func (d *Driver) FindRelated(ctx context.Context, id string, depth int) ([]*memory.Unit, error) {
	return execute(d, "find_related", func() ([]*memory.Unit, error) { return d.next.FindRelated(ctx, id, depth) })
}

func (d *Driver) Summarize(ctx context.Context, now time.Time) (*memory.Summary, error) {
	return execute(d, "summarize", func() (*memory.Summary, error) { return d.next.Summarize(ctx, now) })
}

// Close closes the wrapped driver. It bypasses the breaker.
func (d *Driver) Close() error {
	return d.next.Close()
}
