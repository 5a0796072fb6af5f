package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/reminisce"
)

// errorResult reports a failed tool call to the model.
func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// toolResult renders a service result as JSON text. Failures become tool
// errors carrying the failure kind so the model can decide whether to fall
// back to running the underlying tool.
func toolResult[T any](logger *zap.Logger, tool string, res reminisce.Result[T]) (*mcp.CallToolResult, any, error) {
	if !res.Success {
		msg := "unknown failure"
		if res.Error != nil {
			msg = res.Error.Error()
		}
		logger.Debug("MCP tool failed",
			zap.String("tool", tool),
			zap.String("error", msg),
		)
		return errorResult(msg), nil, nil
	}

	jsonBytes, err := json.Marshal(res.Data)
	if err != nil {
		logger.Error("failed to marshal tool output", zap.String("tool", tool), zap.Error(err))
		return errorResult(fmt.Sprintf("Failed to serialize results: %v", err)), nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, nil, nil
}
