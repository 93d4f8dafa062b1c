package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/storycanvas/api/internal/middleware"
	"github.com/storycanvas/api/internal/model"
	"github.com/storycanvas/api/internal/service"
	"github.com/storycanvas/api/pkg/response"
)

type PipelineHandler struct {
	service   *service.PipelineService
	validator *validator.Validate
}

func NewPipelineHandler(svc *service.PipelineService, v *validator.Validate) *PipelineHandler {
	return &PipelineHandler{
		service:   svc,
		validator: v,
	}
}

// Run handles POST /api/pipeline/run. The run is accepted and executed in
// the background; a project with a run in flight gets a conflict.
func (h *PipelineHandler) Run(c *fiber.Ctx) error {
	var req model.PipelineRunRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	userID := middleware.GetUserID(c)
	result, err := h.service.RunPipeline(c.Context(), userID, &req)
	if err != nil {
		if errors.Is(err, service.ErrRunInProgress) {
			return response.Conflict(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// GetBoard handles GET /api/pipeline/:projectId
func (h *PipelineHandler) GetBoard(c *fiber.Ctx) error {
	projectID := c.Params("projectId")

	snapshot, err := h.service.Snapshot(projectID)
	if err != nil {
		return response.NotFound(c, "Project not found")
	}

	return response.OK(c, snapshot)
}

// GetLog handles GET /api/pipeline/:projectId/log
func (h *PipelineHandler) GetLog(c *fiber.Ctx) error {
	projectID := c.Params("projectId")

	lines, err := h.service.LogLines(projectID)
	if err != nil {
		return response.NotFound(c, "Project not found")
	}

	return response.OK(c, fiber.Map{"lines": lines})
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
