package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/comfyforge/comfy-mcp/internal/client"
	"github.com/comfyforge/comfy-mcp/internal/publish"
	"github.com/comfyforge/comfy-mcp/pkg/response"
)

type HealthHandler struct {
	comfy     *client.ComfyClient
	redis     *redis.Client
	publisher *publish.Manager
	version   string
}

func NewHealthHandler(comfy *client.ComfyClient, redisClient *redis.Client, publisher *publish.Manager, version string) *HealthHandler {
	return &HealthHandler{
		comfy:     comfy,
		redis:     redisClient,
		publisher: publisher,
		version:   version,
	}
}

// Root handles GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"service":   "comfy-mcp",
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Health handles GET /health with a per-dependency readiness map.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	services := fiber.Map{
		"comfyui": fiber.Map{
			"url":    h.comfy.BaseURL(),
			"models": len(h.comfy.AvailableModels()),
		},
	}

	if h.redis != nil {
		if err := h.redis.Ping(c.Context()).Err(); err != nil {
			services["redis"] = fiber.Map{"status": "down", "error": err.Error()}
		} else {
			services["redis"] = fiber.Map{"status": "up"}
		}
	} else {
		services["redis"] = fiber.Map{"status": "disabled"}
	}

	if h.publisher != nil {
		ready, info := h.publisher.EnsureReady()
		publishStatus := fiber.Map{"ready": ready}
		if !ready && info != nil {
			publishStatus["code"] = info.Code
		}
		services["publish"] = publishStatus
	} else {
		services["publish"] = fiber.Map{"ready": false, "code": "NO_PROJECT_ROOT"}
	}

	return response.OK(c, fiber.Map{
		"status":   "healthy",
		"services": services,
	})
}
