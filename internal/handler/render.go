package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/storycanvas/api/internal/service"
	"github.com/storycanvas/api/pkg/response"
)

type RenderHandler struct {
	service *service.RenderService
}

func NewRenderHandler(svc *service.RenderService) *RenderHandler {
	return &RenderHandler{service: svc}
}

// Images handles POST /api/render/:projectId/images
func (h *RenderHandler) Images(c *fiber.Ctx) error {
	projectID := c.Params("projectId")

	result, err := h.service.GenerateImages(c.Context(), projectID)
	if err != nil {
		return batchError(c, err)
	}

	return response.Accepted(c, result)
}

// Videos handles POST /api/render/:projectId/videos
func (h *RenderHandler) Videos(c *fiber.Ctx) error {
	projectID := c.Params("projectId")

	result, err := h.service.GenerateVideos(c.Context(), projectID)
	if err != nil {
		return batchError(c, err)
	}

	return response.Accepted(c, result)
}

func batchError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return response.NotFound(c, "Project not found")
	case errors.Is(err, service.ErrBatchInProgress):
		return response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrEmptySelection):
		return response.ValidationError(c, err.Error(), nil)
	default:
		return response.ServiceError(c, err.Error())
	}
}
