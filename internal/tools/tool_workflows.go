package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comfyforge/comfy-mcp/internal/service"
)

func (s *Server) registerWorkflowTools() {
	// Tool: list_workflows
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_workflows",
		Description: "List available ComfyUI workflow templates with their editable inputs and defaults.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListWorkflows)

	// Tool: run_workflow
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "run_workflow",
		Description: "Execute a workflow template by id. Overrides are applied to the template's parameter bindings before submission. Returns the generated asset, or a job id when generation outlives the poll window.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workflow_id": map[string]interface{}{
					"type":        "string",
					"description": "Template id (from list_workflows)",
				},
				"overrides": map[string]interface{}{
					"type":        "object",
					"description": "Parameter values to substitute into the template (e.g. prompt, width, seed)",
				},
				"return_inline_preview": map[string]interface{}{
					"type":        "boolean",
					"description": "Attach a small base64 preview of image results (default: false)",
					"default":     false,
				},
			},
			Required: []string{"workflow_id"},
		},
	}, s.handleRunWorkflow)

	// Tool: get_job
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_job",
		Description: "Look up a background generation job by id. Returns its status and, once completed, the generated asset.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"job_id": map[string]interface{}{
					"type":        "string",
					"description": "Job id returned by run_workflow",
				},
			},
			Required: []string{"job_id"},
		},
	}, s.handleGetJob)
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	catalog := s.workflows.Store().Catalog()
	return jsonResponse(map[string]interface{}{
		"workflows": catalog,
		"count":     len(catalog),
	}), nil
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := request.RequireString("workflow_id")
	if err != nil {
		return errorResponse("Missing or invalid 'workflow_id' argument"), nil
	}

	var overrides map[string]interface{}
	if args := request.GetArguments(); args != nil {
		if raw, ok := args["overrides"].(map[string]interface{}); ok {
			overrides = raw
		}
	}
	opts := service.RunOptions{
		InlinePreview: request.GetBool("return_inline_preview", false),
	}

	result, err := s.workflows.RunWorkflow(ctx, workflowID, overrides, opts)
	if err != nil {
		return errorResponse(fmt.Sprintf("Workflow execution failed: %v", err)), nil
	}
	return jsonResponse(result), nil
}

func (s *Server) handleGetJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return errorResponse("Missing or invalid 'job_id' argument"), nil
	}
	if s.jobs == nil {
		return errorResponse("Background jobs are unavailable: Redis is not configured"), nil
	}
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return errorResponse(fmt.Sprintf("Job lookup failed: %v", err)), nil
	}
	return jsonResponse(job), nil
}
