// Package invalidation applies entity change events to cached memories.
//
// Rules write absolute values, so replaying an event leaves memories in the
// state the first delivery produced.
package invalidation

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/eventstream"
	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/metrics"
	"github.com/papercomputeco/reminisce/pkg/storage"
)

// DefaultReducedConfidence is the value reduceConfidence rules write.
const DefaultReducedConfidence = 0.5

// Config configures an Engine.
type Config struct {
	Driver storage.Driver

	// Rules defaults to DefaultRules.
	Rules Rules

	ReducedConfidence float64

	Clock   storage.Clock
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// Outcome reports what an event did.
type Outcome struct {
	Matched  bool `json:"matched"`
	Key      Key  `json:"key"`
	Rule     Rule `json:"rule"`
	Affected int  `json:"affected"`
}

// Engine resolves events to rules and applies them through the store.
type Engine struct {
	config *Config
	logger *zap.Logger
}

// NewEngine creates an invalidation engine.
func NewEngine(c *Config) (*Engine, error) {
	if c.Driver == nil {
		return nil, fmt.Errorf("invalidation engine requires a storage driver")
	}
	if c.Rules == nil {
		c.Rules = DefaultRules()
	}
	if c.ReducedConfidence <= 0 {
		c.ReducedConfidence = DefaultReducedConfidence
	}
	c.ReducedConfidence = memory.Clamp(c.ReducedConfidence)
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Engine{
		config: c,
		logger: c.Logger,
	}, nil
}

// Apply resolves and applies the rule for an event. An event without a rule
// is a no-op, not an error.
func (e *Engine) Apply(ctx context.Context, event *eventstream.EntityChangeEvent) (Outcome, error) {
	if err := event.Validate(); err != nil {
		return Outcome{}, err
	}

	rule, key, ok := e.config.Rules.Resolve(event.EntityType, event.EventType)
	if !ok {
		e.logger.Debug("no invalidation rule",
			zap.String("entity_type", event.EntityType),
			zap.String("event_type", event.EventType),
		)
		return Outcome{}, nil
	}

	out := Outcome{Matched: true, Key: key, Rule: rule}

	target := memory.EntityKey{Type: memory.NormalizeEntityType(event.EntityType)}
	if rule.Scope == ScopeEntity {
		if event.EntityID == "" {
			e.logger.Debug("entity-scoped rule needs an entity id",
				zap.Stringer("rule", key),
			)
			return out, nil
		}
		target.ID = event.EntityID
	}

	f := memory.Filter{Entities: []memory.EntityKey{target}}
	var patch memory.Patch

	switch rule.Action {
	case ActionExpire:
		at := event.Timestamp
		if at.IsZero() {
			at = e.config.Clock.Now()
		}
		patch = memory.Patch{
			ExpiresAt:  &at,
			Confidence: memory.Ptr(0.0),
		}
	case ActionReduceConfidence:
		// Only memories above the reduced value move; trust is never raised.
		f.MinConfidence = memory.Ptr(math.Nextafter(e.config.ReducedConfidence, 1))
		patch = memory.Patch{Confidence: memory.Ptr(e.config.ReducedConfidence)}
	default:
		return out, fmt.Errorf("unknown invalidation action %q", rule.Action)
	}

	n, err := e.config.Driver.UpdateMany(ctx, f, patch)
	if err != nil {
		return out, fmt.Errorf("apply %s for %s: %w", rule.Action, key, err)
	}
	out.Affected = n

	e.config.Metrics.RecordInvalidation(string(rule.Action), n)
	e.logger.Info("invalidation applied",
		zap.Stringer("rule", key),
		zap.String("action", string(rule.Action)),
		zap.Stringer("scope", rule.Scope),
		zap.String("entity_id", event.EntityID),
		zap.Int("affected", n),
	)

	return out, nil
}

// Handle adapts Apply to eventstream.Handler.
func (e *Engine) Handle(ctx context.Context, event *eventstream.EntityChangeEvent) error {
	_, err := e.Apply(ctx, event)
	return err
}
