// Package mcp provides an MCP (Model Context Protocol) server exposing the
// memory layer as agent tools.
package mcp

import (
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/reminisce"
	"github.com/papercomputeco/reminisce/pkg/utils"
)

type Config struct {
	// Service answers every tool call
	Service *reminisce.Service

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured zap logger
	Logger *zap.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the memory tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "reminisce",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		if c.Service == nil {
			return nil, errors.New("service is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}
		s.addTools(mcpServer)
	}

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

func (s *Server) addTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{Name: recallToolName, Description: recallDescription}, s.handleRecall)
	mcp.AddTool(server, &mcp.Tool{Name: learnToolName, Description: learnDescription}, s.handleLearn)
	mcp.AddTool(server, &mcp.Tool{Name: manageToolName, Description: manageDescription}, s.handleManage)
	mcp.AddTool(server, &mcp.Tool{Name: forgetToolName, Description: forgetDescription}, s.handleForget)
	mcp.AddTool(server, &mcp.Tool{Name: statsToolName, Description: statsDescription}, s.handleStats)

	mcp.AddTool(server, &mcp.Tool{Name: createContextToolName, Description: createContextDescription}, s.handleCreateContext)
	mcp.AddTool(server, &mcp.Tool{Name: addStepToolName, Description: addStepDescription}, s.handleAddStep)
	mcp.AddTool(server, &mcp.Tool{Name: isCompoundToolName, Description: isCompoundDescription}, s.handleIsCompound)
	mcp.AddTool(server, &mcp.Tool{Name: completeContextToolName, Description: completeContextDescription}, s.handleCompleteContext)

	mcp.AddTool(server, &mcp.Tool{Name: entityChangedToolName, Description: entityChangedDescription}, s.handleEntityChanged)
}

// Server returns the underlying MCP server.
func (s *Server) Server() *mcp.Server {
	return s.mcpServer
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
