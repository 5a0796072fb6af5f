// Package decay runs the periodic maintenance of the memory store: expiring,
// downgrading and deleting memories, and refreshing aggregate statistics.
//
// Each task runs on its own ticker. A task whose previous run is still in
// progress skips the tick. Failures are logged and retried on the next tick;
// they never stop the scheduler or the other tasks.
package decay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/metrics"
	"github.com/papercomputeco/reminisce/pkg/storage"
)

const (
	DefaultExpiredInterval    = time.Hour
	DefaultStaleInterval      = 24 * time.Hour
	DefaultStatsInterval      = 5 * time.Minute
	DefaultConfidenceFloor    = 0.3
	DefaultDowngradeExtension = 7 * 24 * time.Hour
	DefaultStaleAfter         = 90 * 24 * time.Hour
	DefaultStaleConfidence    = 0.5
)

// Task names, used in logs and metrics.
const (
	TaskExpired = "expired"
	TaskStale   = "stale"
	TaskStats   = "stats"
)

var (
	// ErrTaskRunning is returned when a task is invoked while a previous run
	// of the same task is still in progress.
	ErrTaskRunning = errors.New("decay task already running")

	// ErrStarted is returned by Start on a running scheduler.
	ErrStarted = errors.New("decay scheduler already started")
)

// Config configures a Scheduler. Zero values fall back to defaults.
type Config struct {
	Driver storage.Driver

	ExpiredInterval time.Duration
	StaleInterval   time.Duration
	StatsInterval   time.Duration

	// ConfidenceFloor splits expired memories into deleted (below) and
	// downgraded (at or above).
	ConfidenceFloor    float64
	DowngradeExtension time.Duration

	StaleAfter      time.Duration
	StaleConfidence float64

	Clock   storage.Clock
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// SweepResult counts what a sweep changed.
type SweepResult struct {
	Deleted    int `json:"deleted"`
	Downgraded int `json:"downgraded"`
}

// Scheduler owns the maintenance tasks. Create with NewScheduler, then Start
// and Stop from the process entry point.
type Scheduler struct {
	config *Config
	logger *zap.Logger

	expiredRunning atomic.Bool
	staleRunning   atomic.Bool
	statsRunning   atomic.Bool

	stats atomic.Pointer[memory.Summary]

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(c *Config) (*Scheduler, error) {
	if c.Driver == nil {
		return nil, fmt.Errorf("decay scheduler requires a storage driver")
	}
	if c.ExpiredInterval <= 0 {
		c.ExpiredInterval = DefaultExpiredInterval
	}
	if c.StaleInterval <= 0 {
		c.StaleInterval = DefaultStaleInterval
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = DefaultConfidenceFloor
	}
	if c.DowngradeExtension <= 0 {
		c.DowngradeExtension = DefaultDowngradeExtension
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.StaleConfidence <= 0 {
		c.StaleConfidence = DefaultStaleConfidence
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Scheduler{
		config: c,
		logger: c.Logger,
	}, nil
}

// Start launches the three task loops and refreshes statistics once. The
// loops stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrStarted
	}

	ctx, s.cancel = context.WithCancel(ctx)

	s.loop(ctx, TaskExpired, s.config.ExpiredInterval, func(ctx context.Context) error {
		_, err := s.RunExpiredSweep(ctx)
		return err
	})
	s.loop(ctx, TaskStale, s.config.StaleInterval, func(ctx context.Context) error {
		_, err := s.RunStaleSweep(ctx)
		return err
	})
	s.loop(ctx, TaskStats, s.config.StatsInterval, func(ctx context.Context) error {
		_, err := s.RefreshStats(ctx)
		return err
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick(ctx, TaskStats, func(ctx context.Context) error {
			_, err := s.RefreshStats(ctx)
			return err
		})
	}()

	s.logger.Info("decay scheduler started",
		zap.Duration("expired_interval", s.config.ExpiredInterval),
		zap.Duration("stale_interval", s.config.StaleInterval),
		zap.Duration("stats_interval", s.config.StatsInterval),
	)

	return nil
}

// Stop cancels the task loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("decay scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx, name, run)
			}
		}
	}()
}

// tick runs one task and absorbs its failure.
func (s *Scheduler) tick(ctx context.Context, name string, run func(context.Context) error) {
	err := run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrTaskRunning):
		s.logger.Debug("decay task still running, skipping tick", zap.String("task", name))
	case ctx.Err() != nil:
	default:
		s.logger.Error("decay task failed", zap.String("task", name), zap.Error(err))
	}
}

// RunExpiredSweep deletes expired memories below the confidence floor and
// downgrades the remaining expired ones to short tier with an extended
// expiry. Archived memories are left alone.
func (s *Scheduler) RunExpiredSweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	err := s.guard(&s.expiredRunning, TaskExpired, func() error {
		now := s.config.Clock.Now()
		expired := memory.Filter{
			ExpiredBefore: &now,
			ExcludeTiers:  []memory.Tier{memory.TierArchived},
		}

		doomed := expired
		doomed.MaxConfidence = &s.config.ConfidenceFloor
		n, err := s.config.Driver.DeleteMany(ctx, doomed)
		if err != nil {
			return fmt.Errorf("delete expired: %w", err)
		}
		res.Deleted = n

		// The floor bound keeps a memory invalidated between the two
		// statements from being raised back to the floor.
		softened := expired
		softened.MinConfidence = &s.config.ConfidenceFloor
		n, err = s.config.Driver.UpdateMany(ctx, softened, memory.Patch{
			Tier:       memory.Ptr(memory.TierShort),
			Confidence: memory.Ptr(memory.Clamp(s.config.ConfidenceFloor)),
			ExpiresAt:  memory.Ptr(now.Add(s.config.DowngradeExtension)),
		})
		if err != nil {
			return fmt.Errorf("downgrade expired: %w", err)
		}
		res.Downgraded = n

		s.config.Metrics.RecordSweepEffect(TaskExpired, "deleted", res.Deleted)
		s.config.Metrics.RecordSweepEffect(TaskExpired, "downgraded", res.Downgraded)
		s.logger.Info("expired sweep finished",
			zap.Int("deleted", res.Deleted),
			zap.Int("downgraded", res.Downgraded),
		)
		return nil
	})
	return res, err
}

// RunStaleSweep deletes low-confidence memories that have not been used for
// the stale period. Long-tier and archived memories are exempt.
func (s *Scheduler) RunStaleSweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	err := s.guard(&s.staleRunning, TaskStale, func() error {
		cutoff := s.config.Clock.Now().Add(-s.config.StaleAfter)
		n, err := s.config.Driver.DeleteMany(ctx, memory.Filter{
			IdleBefore:    &cutoff,
			MaxConfidence: &s.config.StaleConfidence,
			ExcludeTiers:  []memory.Tier{memory.TierLong, memory.TierArchived},
		})
		if err != nil {
			return fmt.Errorf("delete stale: %w", err)
		}
		res.Deleted = n

		s.config.Metrics.RecordSweepEffect(TaskStale, "deleted", n)
		s.logger.Info("stale sweep finished", zap.Int("deleted", n))
		return nil
	})
	return res, err
}

// RefreshStats recomputes aggregate statistics. It never modifies memories.
func (s *Scheduler) RefreshStats(ctx context.Context) (*memory.Summary, error) {
	var sum *memory.Summary
	err := s.guard(&s.statsRunning, TaskStats, func() error {
		var err error
		sum, err = s.config.Driver.Summarize(ctx, s.config.Clock.Now())
		if err != nil {
			return fmt.Errorf("summarize: %w", err)
		}
		s.stats.Store(sum)
		s.config.Metrics.ObserveSummary(sum)
		return nil
	})
	return sum, err
}

// Stats returns the summary from the most recent refresh, or nil if none has
// completed.
func (s *Scheduler) Stats() *memory.Summary {
	return s.stats.Load()
}

func (s *Scheduler) guard(running *atomic.Bool, name string, run func() error) error {
	if !running.CompareAndSwap(false, true) {
		s.config.Metrics.RecordSweep(name, metrics.OutcomeSkipped, 0)
		return ErrTaskRunning
	}
	defer running.Store(false)

	start := time.Now()
	err := run()

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	s.config.Metrics.RecordSweep(name, outcome, time.Since(start))

	return err
}
