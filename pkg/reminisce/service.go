// Package reminisce is the public face of the memory layer. It combines the
// store, recall, invalidation, query-context tracking and decay components
// behind one Service whose operations never return bare errors: every call
// yields a Result, so callers can degrade to computing fresh answers.
package reminisce

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/chain"
	"github.com/papercomputeco/reminisce/pkg/decay"
	"github.com/papercomputeco/reminisce/pkg/fingerprint"
	"github.com/papercomputeco/reminisce/pkg/invalidation"
	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/metrics"
	"github.com/papercomputeco/reminisce/pkg/recall"
	"github.com/papercomputeco/reminisce/pkg/storage"
)

// DefaultLearnConfidence is the confidence of a learned memory when the caller
// does not set one. It clears the default recall threshold.
const DefaultLearnConfidence = 0.8

// EntityResolver confirms that entities exist in the collaborator that owns
// them.
type EntityResolver interface {
	EntityExists(ctx context.Context, ref memory.EntityRef) (bool, error)
}

// Config wires a Service. Driver, Recall, Invalidation and Contexts are
// required.
type Config struct {
	Driver       storage.Driver
	Analyzer     *fingerprint.Analyzer
	Recall       *recall.Engine
	Invalidation *invalidation.Engine
	Contexts     *chain.Tracker

	// Scheduler supplies cached statistics. When nil, stats are computed on
	// every call.
	Scheduler *decay.Scheduler

	// Resolver checks entities on learn. Optional.
	Resolver EntityResolver

	LearnConfidence float64

	Clock   storage.Clock
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// Service implements the memory operations exposed to tools and operators.
type Service struct {
	config   *Config
	logger   *zap.Logger
	validate *validator.Validate

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Service.
func New(c *Config) (*Service, error) {
	switch {
	case c.Driver == nil:
		return nil, fmt.Errorf("service requires a storage driver")
	case c.Recall == nil:
		return nil, fmt.Errorf("service requires a recall engine")
	case c.Invalidation == nil:
		return nil, fmt.Errorf("service requires an invalidation engine")
	case c.Contexts == nil:
		return nil, fmt.Errorf("service requires a context tracker")
	}
	if c.Analyzer == nil {
		c.Analyzer = fingerprint.NewAnalyzer(fingerprint.DefaultAnalyzerConfig())
	}
	if c.LearnConfidence <= 0 {
		c.LearnConfidence = DefaultLearnConfidence
	}
	c.LearnConfidence = memory.Clamp(c.LearnConfidence)
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Service{
		config:   c,
		logger:   c.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Analyzer returns the analyzer used for tool calls.
func (s *Service) Analyzer() *fingerprint.Analyzer {
	return s.config.Analyzer
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return err
	}
	return nil
}

func (s *Service) logFailure(op string, err error) {
	kind := classify(err).Kind
	if kind == KindNotFound || kind == KindValidation {
		s.logger.Debug("memory operation rejected", zap.String("op", op), zap.Error(err))
		return
	}
	s.logger.Warn("memory operation failed", zap.String("op", op), zap.Error(err))
}
