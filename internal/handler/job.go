package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/comfyforge/comfy-mcp/internal/service"
	"github.com/comfyforge/comfy-mcp/pkg/response"
)

type JobHandler struct {
	jobs *service.JobService
}

// NewJobHandler creates the job status handler. jobs may be nil when Redis
// is unavailable; every route then reports the feature as disabled.
func NewJobHandler(jobs *service.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}
	if h.jobs == nil {
		return response.ServiceError(c, "Background jobs are unavailable: Redis is not configured")
	}

	job, err := h.jobs.GetJob(c.Context(), jobID)
	if err != nil {
		if strings.Contains(err.Error(), "job not found") {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, job)
}
