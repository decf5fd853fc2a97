package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comfyforge/comfy-mcp/internal/publish"
	"github.com/comfyforge/comfy-mcp/internal/registry"
)

var validate = validator.New()

type publishArgs struct {
	AssetID        string `json:"asset_id" validate:"required"`
	TargetFilename string `json:"target_filename"`
	Overwrite      bool   `json:"overwrite"`
	WebOptimize    bool   `json:"web_optimize"`
	MaxBytes       int64  `json:"max_bytes" validate:"omitempty,min=1024"`
}

func (s *Server) registerPublishTools() {
	// Tool: publish_asset
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "publish_asset",
		Description: "Copy a generated asset from the ComfyUI output directory into the web project's static asset directory, optionally recompressing it for web delivery.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"asset_id": map[string]interface{}{
					"type":        "string",
					"description": "Registered asset id to publish",
				},
				"target_filename": map[string]interface{}{
					"type":        "string",
					"description": "Destination filename (lowercase, webp/png/jpg/jpeg). Auto-generated when omitted.",
				},
				"overwrite": map[string]interface{}{
					"type":        "boolean",
					"description": "Replace an existing file at the target path (default: false)",
					"default":     false,
				},
				"web_optimize": map[string]interface{}{
					"type":        "boolean",
					"description": "Recompress the image to WebP under the size budget (default: true)",
					"default":     true,
				},
				"max_bytes": map[string]interface{}{
					"type":        "number",
					"description": "Size budget for web optimization in bytes (default: 614400)",
				},
			},
			Required: []string{"asset_id"},
		},
	}, s.handlePublishAsset)

	// Tool: get_publish_info
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_publish_info",
		Description: "Show the detected project root, publish directory, and ComfyUI output directory, with the paths that were tried during detection.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handlePublishInfo)

	// Tool: set_comfyui_output_root
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "set_comfyui_output_root",
		Description: "Set the ComfyUI output directory explicitly when auto-detection fails. The path is validated and persisted.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the ComfyUI output directory",
				},
			},
			Required: []string{"path"},
		},
	}, s.handleSetOutputRoot)
}

func (s *Server) handlePublishAsset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.publisher == nil {
		return errorResponse("Publishing is unavailable: no web project root was detected"), nil
	}

	args := publishArgs{WebOptimize: true}
	raw, err := json.Marshal(request.GetArguments())
	if err != nil {
		return errorResponse("Invalid arguments format"), nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResponse(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}
	if err := validate.Struct(args); err != nil {
		return errorResponse(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}

	if ready, info := s.publisher.EnsureReady(); !ready {
		return jsonResponse(info), nil
	}

	rec, err := s.workflows.Registry().Get(ctx, args.AssetID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return errorResponse(fmt.Sprintf("Asset not found or expired: %s", args.AssetID)), nil
		}
		return errorResponse(fmt.Sprintf("Asset lookup failed: %v", err)), nil
	}

	sourcePath, err := s.publisher.ResolveSourcePath(rec.Subfolder, rec.Filename)
	if err != nil {
		return errorResponse(fmt.Sprintf("Source rejected: %v", err)), nil
	}

	targetFilename := args.TargetFilename
	if targetFilename == "" {
		format := strings.TrimPrefix(filepath.Ext(rec.Filename), ".")
		if args.WebOptimize {
			format = "webp"
		}
		targetFilename = publish.AutoFilename(args.AssetID, format)
	}
	if !publish.ValidTargetFilename(targetFilename) {
		return errorResponse(fmt.Sprintf("Invalid target filename %q: use lowercase letters, digits, dot, dash, underscore, and a webp/png/jpg/jpeg extension", targetFilename)), nil
	}
	targetPath, err := s.publisher.ResolveTargetPath(targetFilename)
	if err != nil {
		return errorResponse(fmt.Sprintf("Target rejected: %v", err)), nil
	}

	result, err := s.publisher.CopyAsset(sourcePath, targetPath, publish.CopyOptions{
		Overwrite:      args.Overwrite,
		WebOptimize:    args.WebOptimize,
		MaxBytes:       args.MaxBytes,
		AssetID:        args.AssetID,
		TargetFilename: targetFilename,
	})
	if err != nil {
		return errorResponse(fmt.Sprintf("Publish failed: %v", err)), nil
	}

	manifestKey := strings.TrimSuffix(targetFilename, filepath.Ext(targetFilename))
	if publish.ValidManifestKey(manifestKey) {
		if err := s.publisher.UpdateManifest(manifestKey, targetFilename); err != nil {
			return errorResponse(fmt.Sprintf("Published but manifest update failed: %v", err)), nil
		}
	}
	return jsonResponse(result), nil
}

func (s *Server) handlePublishInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.publisher == nil {
		return errorResponse("Publishing is unavailable: no web project root was detected"), nil
	}
	return jsonResponse(s.publisher.Info()), nil
}

func (s *Server) handleSetOutputRoot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.publisher == nil {
		return errorResponse("Publishing is unavailable: no web project root was detected"), nil
	}
	path, err := request.RequireString("path")
	if err != nil {
		return errorResponse("Missing or invalid 'path' argument"), nil
	}
	if err := s.publisher.SetOutputRoot(path); err != nil {
		return errorResponse(fmt.Sprintf("Failed to set output root: %v", err)), nil
	}
	return jsonResponse(s.publisher.Info()), nil
}
