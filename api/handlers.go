package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/eventstream"
	"github.com/papercomputeco/reminisce/pkg/reminisce"
)

// statusFor maps a failure kind to an HTTP status.
func statusFor(kind reminisce.ErrorKind) int {
	switch kind {
	case reminisce.KindNotFound:
		return fiber.StatusNotFound
	case reminisce.KindValidation:
		return fiber.StatusBadRequest
	case reminisce.KindTransient:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// respond writes a service result with the status its outcome implies.
func respond[T any](c *fiber.Ctx, res reminisce.Result[T]) error {
	if !res.Success && res.Error != nil {
		return c.Status(statusFor(res.Error.Kind)).JSON(res)
	}
	return c.JSON(res)
}

// badRequest reports a request that could not be decoded.
func (s *Server) badRequest(c *fiber.Ctx, err error) error {
	s.logger.Debug("rejecting malformed request",
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return c.Status(fiber.StatusBadRequest).JSON(reminisce.Result[any]{
		Error: &reminisce.Error{Kind: reminisce.KindValidation, Message: "invalid request body: " + err.Error()},
	})
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

func (s *Server) handleRecall(c *fiber.Ctx) error {
	var req reminisce.RecallRequest
	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, err)
	}
	return respond(c, s.service.Recall(c.UserContext(), req))
}

func (s *Server) handleLearn(c *fiber.Ctx) error {
	var req reminisce.LearnRequest
	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, err)
	}

	res := s.service.Learn(c.UserContext(), req)
	if res.Success {
		c.Status(fiber.StatusCreated)
	}
	return respond(c, res)
}

func (s *Server) handleManage(c *fiber.Ctx) error {
	var req reminisce.ManageRequest
	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, err)
	}
	return respond(c, s.service.Manage(c.UserContext(), req))
}

// handleEvent applies one entity change event.
func (s *Server) handleEvent(c *fiber.Ctx) error {
	var event eventstream.EntityChangeEvent
	if err := c.BodyParser(&event); err != nil {
		return s.badRequest(c, err)
	}
	return respond(c, s.service.EmitEntityChange(c.UserContext(), &event))
}

// handleStats returns store statistics.
// Query parameters:
//   - detailed (optional): include top and recent memories and the usage trend
func (s *Server) handleStats(c *fiber.Ctx) error {
	return respond(c, s.service.GetStats(c.UserContext(), reminisce.StatsRequest{
		Detailed: c.QueryBool("detailed"),
	}))
}

func (s *Server) handleGetMemory(c *fiber.Ctx) error {
	return respond(c, s.service.Get(c.UserContext(), c.Params("id")))
}

func (s *Server) handleForget(c *fiber.Ctx) error {
	return respond(c, s.service.Forget(c.UserContext(), c.Params("id")))
}

// handleRelated walks related memories.
// Query parameters:
//   - depth (optional, default 1): number of hops to follow
func (s *Server) handleRelated(c *fiber.Ctx) error {
	depth := 1
	if raw := c.Query("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return s.badRequest(c, err)
		}
		depth = parsed
	}
	return respond(c, s.service.Related(c.UserContext(), c.Params("id"), depth))
}

func (s *Server) handleLookupToolCall(c *fiber.Ctx) error {
	var call reminisce.ToolCall
	if err := c.BodyParser(&call); err != nil {
		return s.badRequest(c, err)
	}
	return respond(c, s.service.LookupToolCall(c.UserContext(), call))
}

func (s *Server) handleRememberToolCall(c *fiber.Ctx) error {
	var outcome reminisce.ToolOutcome
	if err := c.BodyParser(&outcome); err != nil {
		return s.badRequest(c, err)
	}
	return respond(c, s.service.RememberToolCall(c.UserContext(), outcome))
}

func (s *Server) handleCreateContext(c *fiber.Ctx) error {
	c.Status(fiber.StatusCreated)
	return respond(c, s.service.CreateContext())
}

func (s *Server) handleListContexts(c *fiber.Ctx) error {
	return respond(c, s.service.ListContexts())
}

func (s *Server) handleGetContext(c *fiber.Ctx) error {
	return respond(c, s.service.GetContext(c.Params("id")))
}

func (s *Server) handleAddStep(c *fiber.Ctx) error {
	var req reminisce.AddStepRequest
	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, err)
	}
	req.ContextID = c.Params("id")
	return respond(c, s.service.AddStep(req))
}

func (s *Server) handleIsCompound(c *fiber.Ctx) error {
	return respond(c, s.service.IsCompound(c.Params("id")))
}

func (s *Server) handleCompleteContext(c *fiber.Ctx) error {
	return respond(c, s.service.CompleteContext(c.Params("id")))
}
