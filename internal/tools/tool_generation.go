package tools

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comfyforge/comfy-mcp/internal/model"
	"github.com/comfyforge/comfy-mcp/internal/service"
	"github.com/comfyforge/comfy-mcp/internal/workflow"
)

// registerGenerationTools turns every parameterized template into its own
// tool, so agents see "generate_image" instead of a generic runner.
func (s *Server) registerGenerationTools() {
	for _, def := range s.workflows.Store().Definitions() {
		properties := make(map[string]interface{}, len(def.Parameters)+1)
		var required []string
		for _, p := range def.Parameters {
			properties[p.Name] = map[string]interface{}{
				"type":        jsonSchemaType(p.Type),
				"description": p.Description,
			}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		properties["return_inline_preview"] = map[string]interface{}{
			"type":        "boolean",
			"description": "Attach a small base64 preview of image results (default: false)",
			"default":     false,
		}

		tool := mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: properties,
				Required:   required,
			},
		}
		s.mcpServer.AddTool(tool, s.generationHandler(def))
		log.Printf("[MCP] registered generation tool %q for workflow %s", def.Name, def.WorkflowID)
	}
}

func (s *Server) generationHandler(def workflow.Definition) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		params := make(map[string]interface{}, len(args))
		for k, v := range args {
			if k == "return_inline_preview" {
				continue
			}
			params[k] = v
		}
		opts := service.RunOptions{
			InlinePreview: request.GetBool("return_inline_preview", false),
		}

		result, err := s.workflows.RunDefinition(ctx, def, params, opts)
		if err != nil {
			return errorResponse(fmt.Sprintf("Workflow execution failed: %v", err)), nil
		}
		return jsonResponse(result), nil
	}
}

func jsonSchemaType(t model.ParamType) string {
	switch t {
	case model.ParamTypeInt:
		return "integer"
	case model.ParamTypeFloat:
		return "number"
	case model.ParamTypeBool:
		return "boolean"
	default:
		return "string"
	}
}
