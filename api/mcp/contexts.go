package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/reminisce/pkg/eventstream"
	"github.com/papercomputeco/reminisce/pkg/reminisce"
)

var (
	createContextToolName    = "create_context"
	createContextDescription = "Start a query context to group the tool calls that answer one user request."

	addStepToolName    = "add_step"
	addStepDescription = "Record a tool call and its result in a query context."

	isCompoundToolName    = "is_compound"
	isCompoundDescription = "Report whether a query context has become a compound chain. Results of compound chains depend on intermediate steps and are not served by fingerprint."

	completeContextToolName    = "complete_context"
	completeContextDescription = "Mark a query context finished. Completed contexts accept no more steps."

	entityChangedToolName    = "entity_changed"
	entityChangedDescription = "Report that an entity changed so memories depending on it are expired or lose confidence."
)

// CreateContextInput has no arguments.
type CreateContextInput struct{}

// AddStepInput represents the input arguments for the add_step tool.
type AddStepInput struct {
	ContextID string         `json:"contextId" jsonschema:"the query context"`
	ToolName  string         `json:"toolName" jsonschema:"the tool that was called"`
	Params    map[string]any `json:"params,omitempty" jsonschema:"the tool parameters"`
	Result    any            `json:"result,omitempty" jsonschema:"the tool result"`
}

// ContextInput names one query context.
type ContextInput struct {
	ContextID string `json:"contextId" jsonschema:"the query context"`
}

// EntityChangedInput represents the input arguments for the entity_changed tool.
type EntityChangedInput struct {
	EntityType string         `json:"entityType" jsonschema:"type of the changed entity, e.g. item"`
	EntityID   string         `json:"entityId,omitempty" jsonschema:"id of the changed entity"`
	EventType  string         `json:"eventType" jsonschema:"what happened, e.g. updated or deleted"`
	Timestamp  string         `json:"timestamp,omitempty" jsonschema:"RFC 3339 time of the change (default: now)"`
	Details    map[string]any `json:"details,omitempty"`
}

func (s *Server) handleCreateContext(_ context.Context, _ *mcp.CallToolRequest, _ CreateContextInput) (*mcp.CallToolResult, any, error) {
	return toolResult(s.config.Logger, createContextToolName, s.config.Service.CreateContext())
}

func (s *Server) handleAddStep(_ context.Context, _ *mcp.CallToolRequest, input AddStepInput) (*mcp.CallToolResult, any, error) {
	res := s.config.Service.AddStep(reminisce.AddStepRequest{
		ContextID: input.ContextID,
		ToolName:  input.ToolName,
		Params:    input.Params,
		Result:    input.Result,
	})
	return toolResult(s.config.Logger, addStepToolName, res)
}

func (s *Server) handleIsCompound(_ context.Context, _ *mcp.CallToolRequest, input ContextInput) (*mcp.CallToolResult, any, error) {
	return toolResult(s.config.Logger, isCompoundToolName, s.config.Service.IsCompound(input.ContextID))
}

func (s *Server) handleCompleteContext(_ context.Context, _ *mcp.CallToolRequest, input ContextInput) (*mcp.CallToolResult, any, error) {
	return toolResult(s.config.Logger, completeContextToolName, s.config.Service.CompleteContext(input.ContextID))
}

func (s *Server) handleEntityChanged(ctx context.Context, _ *mcp.CallToolRequest, input EntityChangedInput) (*mcp.CallToolResult, any, error) {
	event := &eventstream.EntityChangeEvent{
		EntityType: input.EntityType,
		EntityID:   input.EntityID,
		EventType:  input.EventType,
		Details:    input.Details,
	}
	if input.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, input.Timestamp)
		if err != nil {
			return errorResult("timestamp must be RFC 3339: " + err.Error()), nil, nil
		}
		event.Timestamp = ts
	}

	return toolResult(s.config.Logger, entityChangedToolName, s.config.Service.EmitEntityChange(ctx, event))
}
