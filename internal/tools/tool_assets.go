package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	_ "golang.org/x/image/webp"

	"github.com/comfyforge/comfy-mcp/internal/imaging"
	"github.com/comfyforge/comfy-mcp/internal/registry"
)

func (s *Server) registerAssetTools() {
	// Tool: view_image
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "view_image",
		Description: "View a generated image inline. mode=thumb returns a downscaled preview that fits the chat payload budget; mode=metadata returns dimensions and size without image data.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"asset_id": map[string]interface{}{
					"type":        "string",
					"description": "Registered asset id (from run_workflow or list_assets)",
				},
				"source": map[string]interface{}{
					"type":        "string",
					"description": "Direct image URL or local file path, used when no asset_id is given",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "'thumb' (default) or 'metadata'",
					"default":     "thumb",
				},
				"max_dim": map[string]interface{}{
					"type":        "number",
					"description": "Longest-edge cap for the thumbnail in pixels",
				},
			},
		},
	}, s.handleViewImage)

	// Tool: list_assets
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_assets",
		Description: "List registered generated assets, newest first.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListAssets)
}

func (s *Server) handleViewImage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source := request.GetString("source", "")
	if assetID := request.GetString("asset_id", ""); assetID != "" {
		rec, err := s.workflows.Registry().Get(ctx, assetID)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return errorResponse(fmt.Sprintf("Asset not found or expired: %s", assetID)), nil
			}
			return errorResponse(fmt.Sprintf("Asset lookup failed: %v", err)), nil
		}
		source = rec.AssetURL
	}
	if source == "" {
		return errorResponse("Provide either 'asset_id' or 'source'"), nil
	}

	if request.GetString("mode", "thumb") == "metadata" {
		return s.imageMetadata(ctx, source)
	}

	opts := imaging.PreviewOptions{
		MaxDim:      s.cfg.Preview.MaxDim,
		MaxB64Chars: s.cfg.Preview.MaxB64Chars,
		Quality:     s.cfg.Preview.StartQuality,
	}
	if maxDim := request.GetInt("max_dim", 0); maxDim > 0 {
		opts.MaxDim = maxDim
	}
	key := imaging.CacheKey(source, opts.MaxDim, opts.Quality)
	preview, err := s.workflows.Encoder().EncodeSource(ctx, source, opts, key)
	if err != nil {
		var budgetErr *imaging.BudgetError
		if errors.As(err, &budgetErr) {
			return textResponse(fmt.Sprintf(
				"Image preview exceeds the inline payload budget even at minimum quality (%d chars > %d). View it directly instead: %s",
				budgetErr.AchievedChars, budgetErr.BudgetChars, source)), nil
		}
		return errorResponse(fmt.Sprintf("Preview encoding failed: %v", err)), nil
	}
	caption := fmt.Sprintf("%dx%d webp preview, quality %d", preview.Width, preview.Height, preview.Quality)
	return mcp.NewToolResultImage(caption, preview.B64, preview.MimeType), nil
}

func (s *Server) imageMetadata(ctx context.Context, source string) (*mcp.CallToolResult, error) {
	data, err := s.readImageSource(ctx, source)
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to read image: %v", err)), nil
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to decode image: %v", err)), nil
	}
	return jsonResponse(map[string]interface{}{
		"source":     source,
		"format":     format,
		"width":      cfg.Width,
		"height":     cfg.Height,
		"bytes_size": len(data),
	}), nil
}

func (s *Server) readImageSource(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return s.workflows.Client().FetchBytes(ctx, source)
	}
	return os.ReadFile(source)
}

func (s *Server) handleListAssets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.workflows.Registry().List(ctx)
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to list assets: %v", err)), nil
	}
	return jsonResponse(map[string]interface{}{
		"assets": records,
		"count":  len(records),
	}), nil
}
