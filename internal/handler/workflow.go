package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/comfyforge/comfy-mcp/internal/service"
	"github.com/comfyforge/comfy-mcp/pkg/response"
)

type WorkflowHandler struct {
	service   *service.WorkflowService
	validator *validator.Validate
}

func NewWorkflowHandler(svc *service.WorkflowService, v *validator.Validate) *WorkflowHandler {
	return &WorkflowHandler{
		service:   svc,
		validator: v,
	}
}

type runWorkflowRequest struct {
	Overrides           map[string]interface{} `json:"overrides"`
	ReturnInlinePreview bool                   `json:"return_inline_preview"`
	PollAttempts        int                    `json:"poll_attempts" validate:"omitempty,min=1,max=600"`
}

// List handles GET /api/workflows
func (h *WorkflowHandler) List(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"workflows": h.service.Store().Catalog(),
	})
}

// Run handles POST /api/workflows/:workflowId/run
func (h *WorkflowHandler) Run(c *fiber.Ctx) error {
	workflowID := c.Params("workflowId")
	if workflowID == "" {
		return response.ValidationError(c, "Workflow ID is required", nil)
	}

	var req runWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.RunWorkflow(c.Context(), workflowID, req.Overrides, service.RunOptions{
		InlinePreview: req.ReturnInlinePreview,
		PollAttempts:  req.PollAttempts,
	})
	if err != nil {
		return response.EngineError(c, err.Error())
	}
	if result.Status == "running" {
		return response.Accepted(c, result)
	}
	return response.OK(c, result)
}

// formatValidationErrors formats validator errors for response
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
