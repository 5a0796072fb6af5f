package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/reminisce"
)

var (
	recallToolName    = "recall"
	recallDescription = "Recall cached tool results before running an expensive tool. Match by fingerprint, by pattern (type, intent, keywords) or by involved entities. An empty list is a miss; run the tool and call learn with its result."

	learnToolName    = "learn"
	learnDescription = "Store a tool result so later equivalent requests can be answered from memory. Attach the entities the result depends on so it is invalidated when they change."

	manageToolName    = "manage"
	manageDescription = "Change one memory: update_importance, update_confidence (value 0..1, set validate to mark it verified), change_tier, add_tag, remove_tag, archive or unarchive."

	forgetToolName    = "forget"
	forgetDescription = "Delete a memory that is known to be wrong."

	statsToolName    = "stats"
	statsDescription = "Report memory statistics: totals per tier and confidence bucket, hit rate and savings. Set detailed for top and recent memories and a 7 day usage trend."
)

// RecallInput represents the input arguments for the recall tool.
type RecallInput struct {
	Fingerprint   string             `json:"fingerprint,omitempty" jsonschema:"exact tool-call fingerprint to look up"`
	Pattern       *memory.Pattern    `json:"pattern,omitempty" jsonschema:"query pattern to match"`
	Entities      []memory.EntityRef `json:"entities,omitempty" jsonschema:"entities the memory must reference"`
	ContextID     string             `json:"contextId,omitempty" jsonschema:"query context the lookup belongs to"`
	MinConfidence *float64           `json:"minConfidence,omitempty" jsonschema:"minimum confidence (default: 0.7)"`
	Limit         int                `json:"limit,omitempty" jsonschema:"maximum number of memories (default: 10)"`
}

// LearnInput represents the input arguments for the learn tool.
type LearnInput struct {
	Pattern         memory.Pattern        `json:"pattern" jsonschema:"the pattern this result answers"`
	Result          any                   `json:"result" jsonschema:"the tool result to remember"`
	Summary         string                `json:"summary,omitempty"`
	Entities        []memory.EntityRef    `json:"entities,omitempty" jsonschema:"entities the result depends on"`
	Relationships   []memory.Relationship `json:"relationships,omitempty"`
	Importance      *float64              `json:"importance,omitempty" jsonschema:"importance between 0 and 1 (default: 0.5)"`
	Confidence      *float64              `json:"confidence,omitempty" jsonschema:"confidence between 0 and 1 (default: 0.8)"`
	Tier            string                `json:"tier,omitempty" jsonschema:"short, medium, long or archived (default: short)"`
	Tags            []string              `json:"tags,omitempty"`
	RelatedMemories []string              `json:"relatedMemories,omitempty" jsonschema:"ids of related memories"`
	SourceTool      string                `json:"sourceTool,omitempty" jsonschema:"the tool that produced the result"`
	SessionID       string                `json:"sessionId,omitempty"`
	UserInput       string                `json:"userInput,omitempty"`
}

// ManageInput represents the input arguments for the manage tool.
type ManageInput struct {
	MemoryID string `json:"memoryId" jsonschema:"the memory to change"`
	Action   string `json:"action" jsonschema:"update_importance, update_confidence, change_tier, add_tag, remove_tag, archive or unarchive"`
	Value    any    `json:"value,omitempty" jsonschema:"number for score actions, string for tier and tag actions"`
	Validate bool   `json:"validate,omitempty" jsonschema:"mark the memory verified on update_confidence"`
}

// ForgetInput represents the input arguments for the forget tool.
type ForgetInput struct {
	MemoryID string `json:"memoryId" jsonschema:"the memory to delete"`
}

// StatsInput represents the input arguments for the stats tool.
type StatsInput struct {
	Detailed bool `json:"detailed,omitempty" jsonschema:"include top and recent memories and the usage trend"`
}

func (s *Server) handleRecall(ctx context.Context, _ *mcp.CallToolRequest, input RecallInput) (*mcp.CallToolResult, any, error) {
	res := s.config.Service.Recall(ctx, reminisce.RecallRequest{
		Fingerprint:   input.Fingerprint,
		Pattern:       input.Pattern,
		Entities:      input.Entities,
		ContextID:     input.ContextID,
		MinConfidence: input.MinConfidence,
		Limit:         input.Limit,
	})
	return toolResult(s.config.Logger, recallToolName, res)
}

func (s *Server) handleLearn(ctx context.Context, _ *mcp.CallToolRequest, input LearnInput) (*mcp.CallToolResult, any, error) {
	if input.Result == nil {
		return errorResult("result is required"), nil, nil
	}
	raw, err := json.Marshal(input.Result)
	if err != nil {
		return errorResult(fmt.Sprintf("result is not serializable: %v", err)), nil, nil
	}

	res := s.config.Service.Learn(ctx, reminisce.LearnRequest{
		Pattern:       input.Pattern,
		Result:        raw,
		Summary:       input.Summary,
		Entities:      input.Entities,
		Relationships: input.Relationships,
		Context: memory.Context{
			SessionID:  input.SessionID,
			SourceTool: input.SourceTool,
			UserInput:  input.UserInput,
		},
		Importance:      input.Importance,
		Confidence:      input.Confidence,
		Tier:            memory.Tier(input.Tier),
		Tags:            input.Tags,
		RelatedMemories: input.RelatedMemories,
	})
	return toolResult(s.config.Logger, learnToolName, res)
}

func (s *Server) handleManage(ctx context.Context, _ *mcp.CallToolRequest, input ManageInput) (*mcp.CallToolResult, any, error) {
	res := s.config.Service.Manage(ctx, reminisce.ManageRequest{
		MemoryID: input.MemoryID,
		Action:   reminisce.ManageAction(input.Action),
		Value:    input.Value,
		Validate: input.Validate,
	})
	return toolResult(s.config.Logger, manageToolName, res)
}

func (s *Server) handleForget(ctx context.Context, _ *mcp.CallToolRequest, input ForgetInput) (*mcp.CallToolResult, any, error) {
	return toolResult(s.config.Logger, forgetToolName, s.config.Service.Forget(ctx, input.MemoryID))
}

func (s *Server) handleStats(ctx context.Context, _ *mcp.CallToolRequest, input StatsInput) (*mcp.CallToolResult, any, error) {
	res := s.config.Service.GetStats(ctx, reminisce.StatsRequest{Detailed: input.Detailed})
	return toolResult(s.config.Logger, statsToolName, res)
}
