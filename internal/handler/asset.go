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

type AssetHandler struct {
	service   *service.PipelineService
	validator *validator.Validate
}

func NewAssetHandler(svc *service.PipelineService, v *validator.Validate) *AssetHandler {
	return &AssetHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/assets/:projectId
func (h *AssetHandler) Create(c *fiber.Ctx) error {
	projectID := c.Params("projectId")

	var req model.AssetCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	userID := middleware.GetUserID(c)
	asset, err := h.service.CreateAsset(c.Context(), projectID, userID, &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, asset)
}

// Update handles PATCH /api/assets/:projectId/:assetId
func (h *AssetHandler) Update(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	assetID := c.Params("assetId")

	var req model.AssetUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.service.UpdateAsset(projectID, assetID, &req); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return response.NotFound(c, "Asset not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}

// Delete handles DELETE /api/assets/:projectId/:assetId
func (h *AssetHandler) Delete(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	assetID := c.Params("assetId")

	if err := h.service.DeleteAsset(c.Context(), projectID, assetID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return response.NotFound(c, "Asset not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}

// Regenerate handles POST /api/assets/:projectId/:assetId/regenerate
func (h *AssetHandler) Regenerate(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	assetID := c.Params("assetId")

	userID := middleware.GetUserID(c)
	if err := h.service.RegenerateAsset(c.Context(), projectID, userID, assetID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return response.NotFound(c, "Asset not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, fiber.Map{"assetId": assetID, "status": model.AssetStatusProcessing})
}
