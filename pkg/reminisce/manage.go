package reminisce

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/memory"
)

// ManageAction names an administrative change to one memory.
type ManageAction string

const (
	ActionUpdateImportance ManageAction = "update_importance"
	ActionUpdateConfidence ManageAction = "update_confidence"
	ActionChangeTier       ManageAction = "change_tier"
	ActionAddTag           ManageAction = "add_tag"
	ActionRemoveTag        ManageAction = "remove_tag"
	ActionArchive          ManageAction = "archive"
	ActionUnarchive        ManageAction = "unarchive"
)

// ManageRequest applies one action to a memory. Value is a number for the
// importance and confidence actions and a string for tier and tag actions.
type ManageRequest struct {
	MemoryID string       `json:"memoryId" validate:"required"`
	Action   ManageAction `json:"action" validate:"required,oneof=update_importance update_confidence change_tier add_tag remove_tag archive unarchive"`
	Value    any          `json:"value,omitempty"`

	// Validate marks the memory as verified on update_confidence.
	Validate bool `json:"validate,omitempty"`
}

// Manage changes a memory and returns its new state.
func (s *Service) Manage(ctx context.Context, req ManageRequest) Result[*memory.Unit] {
	u, err := s.manage(ctx, req)
	if err != nil {
		s.logFailure("manage", err)
		return fail[*memory.Unit](err)
	}
	return ok(u)
}

func (s *Service) manage(ctx context.Context, req ManageRequest) (*memory.Unit, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	current, err := s.config.Driver.Get(ctx, req.MemoryID)
	if err != nil {
		return nil, err
	}

	patch, err := s.patchFor(current, req)
	if err != nil {
		return nil, err
	}

	updated, err := s.config.Driver.Update(ctx, req.MemoryID, patch)
	if err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	if !updated {
		return nil, memoryNotFound(req.MemoryID)
	}

	u, err := s.config.Driver.Get(ctx, req.MemoryID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("memory managed",
		zap.String("memory_id", req.MemoryID),
		zap.String("action", string(req.Action)),
	)
	return u, nil
}

func (s *Service) patchFor(current *memory.Unit, req ManageRequest) (memory.Patch, error) {
	switch req.Action {
	case ActionUpdateImportance:
		v, err := scoreValue(req.Value)
		if err != nil {
			return memory.Patch{}, err
		}
		return memory.Patch{Importance: &v}, nil

	case ActionUpdateConfidence:
		v, err := scoreValue(req.Value)
		if err != nil {
			return memory.Patch{}, err
		}
		p := memory.Patch{Confidence: &v}
		if req.Validate {
			p.Validated = memory.Ptr(true)
		}
		return p, nil

	case ActionChangeTier:
		name, err := stringValue(req.Value, "tier")
		if err != nil {
			return memory.Patch{}, err
		}
		to, err := memory.ParseTier(name)
		if err != nil {
			return memory.Patch{}, err
		}
		return s.tierPatch(current.Tier, to)

	case ActionAddTag, ActionRemoveTag:
		tag, err := stringValue(req.Value, "tag")
		if err != nil {
			return memory.Patch{}, err
		}
		if req.Action == ActionAddTag {
			return memory.Patch{AddTags: []string{tag}}, nil
		}
		return memory.Patch{RemoveTags: []string{tag}}, nil

	case ActionArchive:
		return s.tierPatch(current.Tier, memory.TierArchived)

	case ActionUnarchive:
		if current.Tier != memory.TierArchived {
			return memory.Patch{}, memory.ValidationError{Field: "tier", Reason: "memory is not archived"}
		}
		return s.tierPatch(current.Tier, memory.TierShort)
	}

	return memory.Patch{}, memory.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)}
}

// tierPatch moves a memory between tiers and resets its expiry to the new
// tier's default lifetime.
func (s *Service) tierPatch(from, to memory.Tier) (memory.Patch, error) {
	if !memory.CanTransition(from, to) {
		return memory.Patch{}, memory.ValidationError{
			Field:  "tier",
			Reason: fmt.Sprintf("cannot move from %s to %s", from, to),
		}
	}

	p := memory.Patch{Tier: &to}
	if from == to {
		return p, nil
	}
	if ttl := to.DefaultTTL(); ttl > 0 {
		p.ExpiresAt = memory.Ptr(s.config.Clock.Now().Add(ttl))
	} else {
		p.ClearExpiry = true
	}
	return p, nil
}

// scoreValue reads a [0,1] score. Out-of-range values are rejected rather
// than clamped at this boundary.
func scoreValue(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, memory.ValidationError{Field: "value", Reason: "must be a number"}
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, memory.ValidationError{Field: "value", Reason: "must be a number"}
		}
		f = parsed
	default:
		return 0, memory.ValidationError{Field: "value", Reason: "must be a number"}
	}

	if f != f || f < 0 || f > 1 {
		return 0, memory.ValidationError{Field: "value", Reason: "must be between 0 and 1"}
	}
	return f, nil
}

func stringValue(v any, field string) (string, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", memory.ValidationError{Field: "value", Reason: field + " must be a non-empty string"}
	}
	return strings.TrimSpace(s), nil
}
