package api

import (
	"errors"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/reminisce"
)

// Server is the API server for the memory layer.
type Server struct {
	config  Config
	service *reminisce.Service
	logger  *zap.Logger
	app     *fiber.App
}

// NewServer creates a new API server.
// The service is injected so the MCP server and the event consumer can share
// the same stack.
func NewServer(config Config, service *reminisce.Service, logger *zap.Logger) (*Server, error) {
	if service == nil {
		return nil, errors.New("service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:  config,
		service: service,
		logger:  logger,
		app:     app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Post("/recall", s.handleRecall)
	v1.Post("/learn", s.handleLearn)
	v1.Post("/manage", s.handleManage)
	v1.Post("/events", s.handleEvent)
	v1.Get("/stats", s.handleStats)

	v1.Get("/memories/:id", s.handleGetMemory)
	v1.Delete("/memories/:id", s.handleForget)
	v1.Get("/memories/:id/related", s.handleRelated)

	v1.Post("/toolcalls/lookup", s.handleLookupToolCall)
	v1.Post("/toolcalls/remember", s.handleRememberToolCall)

	v1.Post("/contexts", s.handleCreateContext)
	v1.Get("/contexts", s.handleListContexts)
	v1.Get("/contexts/:id", s.handleGetContext)
	v1.Post("/contexts/:id/steps", s.handleAddStep)
	v1.Get("/contexts/:id/compound", s.handleIsCompound)
	v1.Post("/contexts/:id/complete", s.handleCompleteContext)

	if config.MetricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(config.MetricsHandler))
	}
	if config.MCPHandler != nil {
		app.All("/mcp", adaptor.HTTPHandler(config.MCPHandler))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
