package reminisce

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/memory"
)

// LearnRequest stores a new memory.
type LearnRequest struct {
	Pattern       memory.Pattern        `json:"pattern"`
	Result        json.RawMessage       `json:"result" validate:"required"`
	Summary       string                `json:"summary,omitempty"`
	Entities      []memory.EntityRef    `json:"entities,omitempty" validate:"dive"`
	Relationships []memory.Relationship `json:"relationships,omitempty"`
	Context       memory.Context        `json:"context"`

	Importance *float64    `json:"importance,omitempty" validate:"omitempty,gte=0,lte=1"`
	Confidence *float64    `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Tier       memory.Tier `json:"tier,omitempty" validate:"omitempty,oneof=short medium long archived"`
	Tags       []string    `json:"tags,omitempty"`

	// Fingerprint makes the memory reachable by exact tool-call lookup.
	Fingerprint string `json:"fingerprint,omitempty"`

	// RelatedMemories are linked in both directions.
	RelatedMemories []string `json:"relatedMemories,omitempty"`
}

// Learn stores a memory and returns it as persisted.
func (s *Service) Learn(ctx context.Context, req LearnRequest) Result[*memory.Unit] {
	u, err := s.learn(ctx, req)
	if err != nil {
		s.logFailure("learn", err)
		return fail[*memory.Unit](err)
	}
	return ok(u)
}

func (s *Service) learn(ctx context.Context, req LearnRequest) (*memory.Unit, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	if !json.Valid(req.Result) {
		return nil, memory.ValidationError{Field: "result", Reason: "must be valid JSON"}
	}
	if err := s.resolveEntities(ctx, req.Entities); err != nil {
		return nil, err
	}

	confidence := s.config.LearnConfidence
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	importance := memory.DefaultImportance
	if req.Importance != nil {
		importance = *req.Importance
	}

	unit := &memory.Unit{
		Fingerprint:     req.Fingerprint,
		Pattern:         req.Pattern,
		Entities:        req.Entities,
		Relationships:   req.Relationships,
		Result:          req.Result,
		Summary:         req.Summary,
		Context:         req.Context,
		Tier:            req.Tier,
		Tags:            memory.AddToSet(nil, req.Tags...),
		RelatedMemories: memory.AddToSet(nil, req.RelatedMemories...),
	}
	unit.SetScores(confidence, importance)
	if unit.Context.Timestamp.IsZero() {
		unit.Context.Timestamp = s.config.Clock.Now()
	}

	id, err := s.config.Driver.Create(ctx, unit)
	if err != nil {
		return nil, fmt.Errorf("store memory: %w", err)
	}
	s.config.Metrics.RecordLearn()

	if len(unit.RelatedMemories) > 0 {
		_, err := s.config.Driver.UpdateMany(ctx,
			memory.Filter{IDs: unit.RelatedMemories},
			memory.Patch{AddRelated: []string{id}},
		)
		if err != nil {
			s.logger.Warn("failed to back-link related memories",
				zap.String("memory_id", id),
				zap.Error(err),
			)
		}
	}

	stored, err := s.config.Driver.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read stored memory: %w", err)
	}

	s.logger.Debug("memory learned",
		zap.String("memory_id", id),
		zap.String("pattern_type", stored.Pattern.Type),
		zap.Int("entities", len(stored.Entities)),
	)

	return stored, nil
}

func (s *Service) resolveEntities(ctx context.Context, entities []memory.EntityRef) error {
	if s.config.Resolver == nil {
		return nil
	}
	for _, e := range entities {
		exists, err := s.config.Resolver.EntityExists(ctx, e)
		if err != nil {
			return fmt.Errorf("resolve entity %s/%s: %w", e.EntityType, e.EntityID, err)
		}
		if !exists {
			return memory.ValidationError{
				Field:  "entities",
				Reason: fmt.Sprintf("unknown %s %q", e.EntityType, e.EntityID),
			}
		}
	}
	return nil
}
