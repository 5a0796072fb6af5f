package reminisce

import "github.com/papercomputeco/reminisce/pkg/chain"

// ContextCreated is returned by CreateContext.
type ContextCreated struct {
	ContextID string `json:"contextId"`
}

// AddStepRequest records a tool call in a query context.
type AddStepRequest struct {
	ContextID string         `json:"contextId" validate:"required"`
	ToolName  string         `json:"toolName" validate:"required"`
	Params    map[string]any `json:"params,omitempty"`
	Result    any            `json:"result,omitempty"`
}

// CompoundStatus reports whether a context is a compound chain.
type CompoundStatus struct {
	ContextID  string `json:"contextId"`
	IsCompound bool   `json:"isCompound"`
	Steps      int    `json:"steps"`
	Complexity int    `json:"aggregateComplexity"`
}

// CreateContext starts a query context.
func (s *Service) CreateContext() Result[ContextCreated] {
	return ok(ContextCreated{ContextID: s.config.Contexts.CreateContext()})
}

// AddStep records a step. Unknown or completed contexts are not found.
func (s *Service) AddStep(req AddStepRequest) Result[*chain.Step] {
	if err := s.check(req); err != nil {
		return fail[*chain.Step](err)
	}

	step := s.config.Contexts.AddStep(req.ContextID, req.ToolName, req.Params, req.Result)
	if step == nil {
		return fail[*chain.Step](contextNotFound(req.ContextID))
	}
	return ok(step)
}

// IsCompound reports the compound status of a context.
func (s *Service) IsCompound(contextID string) Result[CompoundStatus] {
	c, found := s.config.Contexts.Get(contextID)
	if !found {
		return fail[CompoundStatus](contextNotFound(contextID))
	}
	return ok(CompoundStatus{
		ContextID:  contextID,
		IsCompound: s.config.Contexts.IsCompound(contextID),
		Steps:      len(c.Steps),
		Complexity: c.AggregateComplexity,
	})
}

// CompleteContext marks a context finished.
func (s *Service) CompleteContext(contextID string) Result[bool] {
	if !s.config.Contexts.Complete(contextID) {
		return fail[bool](contextNotFound(contextID))
	}
	return ok(true)
}

// GetContext returns a snapshot of one context.
func (s *Service) GetContext(contextID string) Result[chain.Context] {
	c, found := s.config.Contexts.Get(contextID)
	if !found {
		return fail[chain.Context](contextNotFound(contextID))
	}
	return ok(c)
}

// ListContexts returns every live context, most recently active first.
func (s *Service) ListContexts() Result[[]chain.Context] {
	return ok(s.config.Contexts.List())
}

// ContextNotFoundError is returned for unknown query contexts.
type ContextNotFoundError struct {
	ID string
}

func (e ContextNotFoundError) Error() string {
	return "query context not found: " + e.ID
}

func contextNotFound(id string) error {
	return ContextNotFoundError{ID: id}
}

