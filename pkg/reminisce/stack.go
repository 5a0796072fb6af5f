package reminisce

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/chain"
	"github.com/papercomputeco/reminisce/pkg/decay"
	"github.com/papercomputeco/reminisce/pkg/fingerprint"
	"github.com/papercomputeco/reminisce/pkg/invalidation"
	"github.com/papercomputeco/reminisce/pkg/metrics"
	"github.com/papercomputeco/reminisce/pkg/recall"
	"github.com/papercomputeco/reminisce/pkg/storage"
	"github.com/papercomputeco/reminisce/pkg/worker"
)

// Options tune the components a Stack builds. Zero values select defaults.
type Options struct {
	Analyzer fingerprint.AnalyzerConfig

	MinConfidence   float64
	RecallLimit     int
	LearnConfidence float64

	MaxContexts       int
	ContextIdle       time.Duration
	CompoundThreshold int

	// Decay is copied into the scheduler config; its Driver, Clock,
	// Metrics and Logger are replaced.
	Decay decay.Config

	// Rules defaults to invalidation.DefaultRules.
	Rules invalidation.Rules

	Workers   uint
	QueueSize uint

	Resolver EntityResolver

	Clock   storage.Clock
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// Stack is a fully wired memory layer over one driver.
type Stack struct {
	Service      *Service
	Scheduler    *decay.Scheduler
	Pool         *worker.Pool
	Contexts     *chain.Tracker
	Invalidation *invalidation.Engine
	Recall       *recall.Engine
}

// NewStack builds every component around driver.
func NewStack(driver storage.Driver, o Options) (*Stack, error) {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	analyzer := fingerprint.NewAnalyzer(o.Analyzer)

	pool, err := worker.NewPool(&worker.Config{
		Driver:     driver,
		NumWorkers: o.Workers,
		QueueSize:  o.QueueSize,
		Metrics:    o.Metrics,
		Logger:     o.Logger.Named("access"),
	})
	if err != nil {
		return nil, err
	}

	contexts := chain.NewTracker(&chain.Config{
		Analyzer:          analyzer,
		MaxContexts:       o.MaxContexts,
		IdleTimeout:       o.ContextIdle,
		CompoundThreshold: o.CompoundThreshold,
		Clock:             o.Clock.Now,
		Metrics:           o.Metrics,
		Logger:            o.Logger.Named("chain"),
	})

	recaller, err := recall.NewEngine(&recall.Config{
		Driver:        driver,
		Pool:          pool,
		Contexts:      contexts,
		MinConfidence: o.MinConfidence,
		Limit:         o.RecallLimit,
		Clock:         o.Clock,
		Metrics:       o.Metrics,
		Logger:        o.Logger.Named("recall"),
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	invalidator, err := invalidation.NewEngine(&invalidation.Config{
		Driver:  driver,
		Rules:   o.Rules,
		Clock:   o.Clock,
		Metrics: o.Metrics,
		Logger:  o.Logger.Named("invalidation"),
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	dc := o.Decay
	dc.Driver = driver
	dc.Clock = o.Clock
	dc.Metrics = o.Metrics
	dc.Logger = o.Logger.Named("decay")
	scheduler, err := decay.NewScheduler(&dc)
	if err != nil {
		pool.Close()
		return nil, err
	}

	svc, err := New(&Config{
		Driver:          driver,
		Analyzer:        analyzer,
		Recall:          recaller,
		Invalidation:    invalidator,
		Contexts:        contexts,
		Scheduler:       scheduler,
		Resolver:        o.Resolver,
		LearnConfidence: o.LearnConfidence,
		Clock:           o.Clock,
		Metrics:         o.Metrics,
		Logger:          o.Logger.Named("service"),
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Stack{
		Service:      svc,
		Scheduler:    scheduler,
		Pool:         pool,
		Contexts:     contexts,
		Invalidation: invalidator,
		Recall:       recaller,
	}, nil
}

// Start launches the background maintenance tasks.
func (s *Stack) Start(ctx context.Context) error {
	return s.Scheduler.Start(ctx)
}

// Stop halts maintenance and drains pending access statistics. Request
// handlers must be stopped first.
func (s *Stack) Stop() {
	s.Scheduler.Stop()
	s.Pool.Close()
}
