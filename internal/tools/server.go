// Package tools exposes the workflow engine, asset registry, and publish
// pipeline as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comfyforge/comfy-mcp/internal/config"
	"github.com/comfyforge/comfy-mcp/internal/publish"
	"github.com/comfyforge/comfy-mcp/internal/service"
)

// Server wraps the MCP server and routes tool calls into the services.
type Server struct {
	mcpServer *server.MCPServer
	workflows *service.WorkflowService
	publisher *publish.Manager
	jobs      *service.JobService
	cfg       *config.Config
	name      string
	version   string
}

// ServerConfig wires the tool server. Jobs may be nil when Redis is
// unavailable; publish may be nil when no project root was found.
type ServerConfig struct {
	Name      string
	Version   string
	Workflows *service.WorkflowService
	Publisher *publish.Manager
	Jobs      *service.JobService
	Config    *config.Config
}

// NewServer builds the MCP server and registers every tool.
func NewServer(sc ServerConfig) *Server {
	if sc.Name == "" {
		sc.Name = "comfy-mcp"
	}
	if sc.Version == "" {
		sc.Version = "dev"
	}

	s := &Server{
		mcpServer: server.NewMCPServer(sc.Name, sc.Version),
		workflows: sc.Workflows,
		publisher: sc.Publisher,
		jobs:      sc.Jobs,
		cfg:       sc.Config,
		name:      sc.Name,
		version:   sc.Version,
	}

	s.registerWorkflowTools()
	s.registerGenerationTools()
	s.registerAssetTools()
	s.registerConfigTools()
	s.registerPublishTools()

	return s
}

// ServeStdio runs the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	log.Printf("[MCP] serving %s %s over stdio", s.name, s.version)
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// ServeHTTP runs the streamable HTTP transport on addr.
func (s *Server) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.mcpServer,
		server.WithStateLess(true),
		server.WithEndpointPath("/mcp"),
	)
	log.Printf("[MCP] serving %s %s at http://%s/mcp", s.name, s.version, addr)
	if err := httpServer.Start(addr); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// Shutdown is a no-op for stdio; the HTTP transport stops with the process.
func (s *Server) Shutdown(ctx context.Context) error {
	return nil
}

func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

func textResponse(text string) *mcp.CallToolResult {
	return mcp.NewToolResultText(text)
}

// jsonResponse marshals v and returns it as a text content block.
func jsonResponse(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}
