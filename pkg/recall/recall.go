// Package recall finds cached memories for a tool call or query pattern.
package recall

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/metrics"
	"github.com/papercomputeco/reminisce/pkg/storage"
	"github.com/papercomputeco/reminisce/pkg/worker"
)

const (
	// DefaultMinConfidence is the trust floor applied when a request does not
	// carry its own.
	DefaultMinConfidence = 0.7

	// DefaultLimit bounds the number of memories returned per recall.
	DefaultLimit = 10
)

// CompoundChecker reports whether a query context is a compound chain.
type CompoundChecker interface {
	IsCompound(contextID string) bool
}

// Request describes what to recall. At least one of Fingerprint, Pattern or
// Entities must be set.
type Request struct {
	Fingerprint string
	Pattern     *memory.Pattern
	Entities    []memory.EntityKey

	// ContextID ties the lookup to a query context. Exact fingerprint hits
	// are not served inside a compound context.
	ContextID string

	// MinConfidence overrides the engine default when set.
	MinConfidence *float64
	Limit         int
}

// Config configures an Engine.
type Config struct {
	Driver storage.Driver

	// Pool applies access statistics off the request path. When nil they are
	// written before Recall returns.
	Pool *worker.Pool

	// Contexts is consulted for compound chains. Optional.
	Contexts CompoundChecker

	MinConfidence float64
	Limit         int

	Clock   storage.Clock
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// Engine ranks and returns memories, recording usage on every hit.
type Engine struct {
	config *Config
	logger *zap.Logger
}

// NewEngine creates a recall engine.
func NewEngine(c *Config) (*Engine, error) {
	if c.Driver == nil {
		return nil, fmt.Errorf("recall engine requires a storage driver")
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = DefaultMinConfidence
	}
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Engine{
		config: c,
		logger: c.Logger,
	}, nil
}

// Recall returns matching memories ordered by importance, confidence and
// recency. An empty result is a miss, not an error.
//
// Expiry and confidence are checked against the store at read time, so units
// the decay sweeps have not reached yet are still filtered out.
func (e *Engine) Recall(ctx context.Context, req Request) ([]*memory.Unit, error) {
	if req.Fingerprint == "" && req.Pattern == nil && len(req.Entities) == 0 {
		return nil, memory.ValidationError{Field: "pattern", Reason: "recall requires a fingerprint, pattern or entities"}
	}

	minConfidence := e.config.MinConfidence
	if req.MinConfidence != nil {
		minConfidence = memory.Clamp(*req.MinConfidence)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = e.config.Limit
	}

	now := e.config.Clock.Now()
	live := memory.Filter{
		MinConfidence: &minConfidence,
		LiveAt:        &now,
		ExcludeTiers:  []memory.Tier{memory.TierArchived},
	}

	if req.Fingerprint != "" && !e.compound(req.ContextID) {
		f := live
		f.Fingerprint = req.Fingerprint

		hits, err := e.find(ctx, metrics.ModeFingerprint, f, limit)
		if err != nil {
			return nil, err
		}
		if len(hits) > 0 {
			return e.touch(hits, now), nil
		}
	}

	if req.Pattern == nil && len(req.Entities) == 0 {
		return nil, nil
	}

	f := patternFilter(live, req.Pattern, req.Entities)
	hits, err := e.find(ctx, metrics.ModePattern, f, limit)
	if err != nil {
		return nil, err
	}

	return e.touch(hits, now), nil
}

func (e *Engine) compound(contextID string) bool {
	if contextID == "" || e.config.Contexts == nil {
		return false
	}
	return e.config.Contexts.IsCompound(contextID)
}

func (e *Engine) find(ctx context.Context, mode string, f memory.Filter, limit int) ([]*memory.Unit, error) {
	start := time.Now()
	hits, err := e.config.Driver.Find(ctx, memory.Query{Filter: f, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("recall by %s: %w", mode, err)
	}

	e.config.Metrics.RecordRecall(mode, len(hits), time.Since(start))
	e.logger.Debug("recall lookup",
		zap.String("mode", mode),
		zap.Int("hits", len(hits)),
	)

	return hits, nil
}

// touch reflects the hit on the returned copies and hands the persistent
// update to the worker pool.
func (e *Engine) touch(hits []*memory.Unit, now time.Time) []*memory.Unit {
	if len(hits) == 0 {
		return hits
	}

	ids := make([]string, 0, len(hits))
	for _, u := range hits {
		u.AccessCount++
		u.LastAccessed = now
		ids = append(ids, u.ID)
	}

	job := worker.Job{MemoryIDs: ids, AccessedAt: now}
	if e.config.Pool != nil {
		e.config.Pool.Enqueue(job)
		return hits
	}

	patch := memory.Patch{IncrementAccess: 1, LastAccessed: &now}
	if _, err := e.config.Driver.UpdateMany(context.Background(), memory.Filter{IDs: ids}, patch); err != nil {
		e.logger.Error("failed to store access statistics", zap.Error(err))
	}

	return hits
}

func patternFilter(base memory.Filter, p *memory.Pattern, entities []memory.EntityKey) memory.Filter {
	f := base
	f.Entities = entities
	if p == nil {
		return f
	}

	f.PatternType = p.Type
	f.Intent = p.Intent
	f.Keywords = p.Keywords
	for _, e := range p.InvolvedEntities {
		if e.Type != "" {
			f.InvolvedTypes = append(f.InvolvedTypes, e.Type)
		}
	}

	return f
}
