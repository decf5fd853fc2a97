package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerConfigTools() {
	// Tool: list_models
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_models",
		Description: "List checkpoint models available on the ComfyUI instance.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"refresh": map[string]interface{}{
					"type":        "boolean",
					"description": "Re-query ComfyUI instead of using the cached list (default: false)",
					"default":     false,
				},
			},
		},
	}, s.handleListModels)

	// Tool: get_defaults
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_defaults",
		Description: "Show the effective generation defaults per namespace (image, audio, video), after merging runtime, config file, environment, and built-in values.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleGetDefaults)

	// Tool: set_defaults
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "set_defaults",
		Description: "Override generation defaults for a namespace. Model names are validated against the ComfyUI checkpoint list. Set persist=true to write them to the config file.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"namespace": map[string]interface{}{
					"type":        "string",
					"description": "'image', 'audio', or 'video'",
				},
				"values": map[string]interface{}{
					"type":        "object",
					"description": "Default values to set (e.g. {\"steps\": 30, \"model\": \"...\"})",
				},
				"persist": map[string]interface{}{
					"type":        "boolean",
					"description": "Also write the values to the config file (default: false)",
					"default":     false,
				},
			},
			Required: []string{"namespace", "values"},
		},
	}, s.handleSetDefaults)
}

func (s *Server) handleListModels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	comfy := s.workflows.Client()
	var models []string
	if request.GetBool("refresh", false) {
		models = comfy.RefreshModels(ctx)
	} else {
		models = comfy.AvailableModels()
	}
	return jsonResponse(map[string]interface{}{
		"models": models,
		"count":  len(models),
	}), nil
}

func (s *Server) handleGetDefaults(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResponse(s.workflows.Defaults().All()), nil
}

func (s *Server) handleSetDefaults(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	namespace, err := request.RequireString("namespace")
	if err != nil {
		return errorResponse("Missing or invalid 'namespace' argument"), nil
	}
	args := request.GetArguments()
	values, ok := args["values"].(map[string]interface{})
	if !ok || len(values) == 0 {
		return errorResponse("Missing or invalid 'values' argument"), nil
	}

	defaults := s.workflows.Defaults()
	if err := defaults.Set(namespace, values, true); err != nil {
		return errorResponse(fmt.Sprintf("Failed to set defaults: %v", err)), nil
	}
	persisted := false
	if request.GetBool("persist", false) {
		if err := defaults.Persist(namespace, values); err != nil {
			return errorResponse(fmt.Sprintf("Defaults applied but not persisted: %v", err)), nil
		}
		persisted = true
	}
	return jsonResponse(map[string]interface{}{
		"namespace": namespace,
		"applied":   values,
		"persisted": persisted,
		"effective": defaults.All()[namespace],
	}), nil
}
