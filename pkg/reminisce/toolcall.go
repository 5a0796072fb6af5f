package reminisce

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/papercomputeco/reminisce/pkg/fingerprint"
	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/recall"
)

// ToolCall identifies a tool invocation.
type ToolCall struct {
	ToolName  string         `json:"toolName" validate:"required"`
	Params    map[string]any `json:"params,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
}

// Lookup is the outcome of checking the cache for a tool call.
type Lookup struct {
	Analysis fingerprint.Analysis `json:"analysis"`
	Hit      bool                 `json:"hit"`
	Memory   *memory.Unit         `json:"memory,omitempty"`
}

// ToolOutcome is an executed tool call to remember.
type ToolOutcome struct {
	ToolCall

	Result        json.RawMessage       `json:"result" validate:"required"`
	Entities      []memory.EntityRef    `json:"entities,omitempty" validate:"dive"`
	Relationships []memory.Relationship `json:"relationships,omitempty"`
	Importance    *float64              `json:"importance,omitempty" validate:"omitempty,gte=0,lte=1"`
	Context       memory.Context        `json:"context"`
}

// Remembered reports whether an outcome was stored.
type Remembered struct {
	Analysis fingerprint.Analysis `json:"analysis"`
	Stored   bool                 `json:"stored"`
	Memory   *memory.Unit         `json:"memory,omitempty"`
}

// LookupToolCall checks the cache for an exact earlier result of the same
// call. Calls that are not worth caching always miss.
func (s *Service) LookupToolCall(ctx context.Context, call ToolCall) Result[Lookup] {
	if err := s.check(call); err != nil {
		return fail[Lookup](err)
	}

	analysis := s.config.Analyzer.Analyze(call.ToolName, call.Params)
	out := Lookup{Analysis: analysis}
	if !analysis.ShouldCache {
		return ok(out)
	}

	hits, err := s.config.Recall.Recall(ctx, recall.Request{
		Fingerprint: analysis.Fingerprint,
		ContextID:   call.ContextID,
		Limit:       1,
	})
	if err != nil {
		s.logFailure("lookup", err)
		return fail[Lookup](err)
	}

	if len(hits) == 0 {
		s.misses.Add(1)
		return ok(out)
	}

	s.hits.Add(1)
	out.Hit = true
	out.Memory = hits[0]
	return ok(out)
}

// RememberToolCall records the call in its query context, if any, and stores
// the result when the call is cacheable.
func (s *Service) RememberToolCall(ctx context.Context, outcome ToolOutcome) Result[Remembered] {
	if err := s.check(outcome); err != nil {
		return fail[Remembered](err)
	}

	if outcome.ContextID != "" {
		var result any = outcome.Result
		if s.config.Contexts.AddStep(outcome.ContextID, outcome.ToolName, outcome.Params, result) == nil {
			return fail[Remembered](contextNotFound(outcome.ContextID))
		}
	}

	analysis := s.config.Analyzer.Analyze(outcome.ToolName, outcome.Params)
	out := Remembered{Analysis: analysis}
	if !analysis.ShouldCache {
		return ok(out)
	}

	mctx := outcome.Context
	if mctx.SourceTool == "" {
		mctx.SourceTool = outcome.ToolName
	}

	u, err := s.learn(ctx, LearnRequest{
		Fingerprint: analysis.Fingerprint,
		Pattern: memory.Pattern{
			Type:     outcome.ToolName,
			Keywords: s.keywordsOf(outcome.Params),
		},
		Result:        outcome.Result,
		Entities:      outcome.Entities,
		Relationships: outcome.Relationships,
		Importance:    outcome.Importance,
		Context:       mctx,
	})
	if err != nil {
		s.logFailure("remember", err)
		return fail[Remembered](fmt.Errorf("remember %s: %w", outcome.ToolName, err))
	}

	out.Stored = true
	out.Memory = u
	return ok(out)
}

// keywordsOf collects the string values of fingerprinted parameters, in key
// order.
func (s *Service) keywordsOf(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		if s.config.Analyzer.IsTransient(k) {
			continue
		}
		if v, ok := params[k].(string); ok && v != "" {
			out = memory.AddToSet(out, v)
		}
	}
	return out
}
