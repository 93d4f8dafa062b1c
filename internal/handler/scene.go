package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/storycanvas/api/internal/model"
	"github.com/storycanvas/api/internal/service"
	"github.com/storycanvas/api/pkg/response"
)

type SceneHandler struct {
	service   *service.PipelineService
	validator *validator.Validate
}

func NewSceneHandler(svc *service.PipelineService, v *validator.Validate) *SceneHandler {
	return &SceneHandler{
		service:   svc,
		validator: v,
	}
}

// Select handles POST /api/scenes/:projectId/select
func (h *SceneHandler) Select(c *fiber.Ctx) error {
	return h.mutateSelection(c, h.service.SelectScenes)
}

// Deselect handles POST /api/scenes/:projectId/deselect
func (h *SceneHandler) Deselect(c *fiber.Ctx) error {
	return h.mutateSelection(c, h.service.DeselectScenes)
}

func (h *SceneHandler) mutateSelection(c *fiber.Ctx, op func(string, []string) error) error {
	projectID := c.Params("projectId")

	var req model.SceneSelectRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := op(projectID, req.SceneIDs); err != nil {
		return response.NotFound(c, "Project not found")
	}

	return response.NoContent(c)
}

// SelectAll handles POST /api/scenes/:projectId/select-all
func (h *SceneHandler) SelectAll(c *fiber.Ctx) error {
	projectID := c.Params("projectId")

	if err := h.service.SelectAllScenes(projectID); err != nil {
		return response.NotFound(c, "Project not found")
	}

	return response.NoContent(c)
}

// UpdatePrompt handles PATCH /api/scenes/:projectId/:sceneId/prompt
func (h *SceneHandler) UpdatePrompt(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	sceneID := c.Params("sceneId")

	var req model.ScenePromptRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.service.UpdateScenePrompt(projectID, sceneID, req.Prompt); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return response.NotFound(c, "Scene not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}
