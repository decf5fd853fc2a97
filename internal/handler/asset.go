package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/comfyforge/comfy-mcp/internal/registry"
	"github.com/comfyforge/comfy-mcp/pkg/response"
)

type AssetHandler struct {
	registry registry.Registry
}

func NewAssetHandler(reg registry.Registry) *AssetHandler {
	return &AssetHandler{registry: reg}
}

// List handles GET /api/assets
func (h *AssetHandler) List(c *fiber.Ctx) error {
	records, err := h.registry.List(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{
		"assets": records,
		"count":  len(records),
	})
}

// Get handles GET /api/assets/:assetId
func (h *AssetHandler) Get(c *fiber.Ctx) error {
	assetID := c.Params("assetId")
	if assetID == "" {
		return response.ValidationError(c, "Asset ID is required", nil)
	}

	rec, err := h.registry.Get(c.Context(), assetID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return response.NotFound(c, "Asset not found or expired")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, rec)
}
