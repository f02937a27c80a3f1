package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/middleware"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/service"
	ws "github.com/makeasinger/studio/internal/websocket"
	"github.com/makeasinger/studio/pkg/response"
)

// StoryJobs is the job API the story handler serves.
type StoryJobs interface {
	StartStory(ctx context.Context, userID string, req *model.StoryStartRequest) (*model.StoryStartResponse, error)
	GetStatus(ctx context.Context, jobID string) (*model.StoryStatusResponse, error)
	GetResult(ctx context.Context, jobID string) (*model.StoryResult, error)
	CancelStory(ctx context.Context, jobID string) (*model.StoryCancelResponse, error)
}

type StoryHandler struct {
	service   StoryJobs
	validator *validator.Validate
}

func NewStoryHandler(svc StoryJobs, v *validator.Validate) *StoryHandler {
	return &StoryHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/stories
func (h *StoryHandler) Start(c *fiber.Ctx) error {
	var req model.StoryStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.StartStory(c.UserContext(), middleware.GetUserID(c), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMusicSourceMissing),
			errors.Is(err, service.ErrMusicSourceAmbiguous),
			errors.Is(err, service.ErrNotAudio):
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/stories/:jobId/status
func (h *StoryHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.UserContext(), jobID)
	if err != nil {
		return h.jobError(c, err)
	}

	return response.OK(c, result)
}

// Result handles GET /api/stories/:jobId/result
func (h *StoryHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.UserContext(), jobID)
	if err != nil {
		return h.jobError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/stories/:jobId/cancel
func (h *StoryHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.CancelStory(c.UserContext(), jobID)
	if err != nil {
		return h.jobError(c, err)
	}

	return response.OK(c, result)
}

func (h *StoryHandler) jobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrJobNotCompleted):
		return response.NotReady(c, "Job not completed yet")
	case errors.Is(err, service.ErrJobAlreadyFinished):
		return response.Conflict(c, "Job already finished")
	}
	return response.ServiceError(c, err.Error())
}

// RequireUpgrade rejects plain HTTP requests on WebSocket routes.
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Watch handles GET /ws/stories/:jobId
func Watch(hub *ws.Hub) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	})
}
