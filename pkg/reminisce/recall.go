package reminisce

import (
	"context"

	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/recall"
)

// RecallRequest asks for memories by fingerprint, pattern or entities.
type RecallRequest struct {
	Fingerprint string             `json:"fingerprint,omitempty"`
	Pattern     *memory.Pattern    `json:"pattern,omitempty"`
	Entities    []memory.EntityRef `json:"entities,omitempty" validate:"dive"`

	// ContextID links the lookup to a query context.
	ContextID string `json:"contextId,omitempty"`

	MinConfidence *float64 `json:"minConfidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Limit         int      `json:"limit,omitempty" validate:"gte=0,lte=100"`
}

// Recall returns memories matching the request. An empty slice is a miss.
func (s *Service) Recall(ctx context.Context, req RecallRequest) Result[[]*memory.Unit] {
	if err := s.check(req); err != nil {
		return fail[[]*memory.Unit](err)
	}

	keys := make([]memory.EntityKey, 0, len(req.Entities))
	for _, e := range req.Entities {
		keys = append(keys, e.Key())
	}

	hits, err := s.config.Recall.Recall(ctx, recall.Request{
		Fingerprint:   req.Fingerprint,
		Pattern:       req.Pattern,
		Entities:      keys,
		ContextID:     req.ContextID,
		MinConfidence: req.MinConfidence,
		Limit:         req.Limit,
	})
	if err != nil {
		s.logFailure("recall", err)
		return fail[[]*memory.Unit](err)
	}

	if len(hits) > 0 {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
		hits = []*memory.Unit{}
	}

	return ok(hits)
}
