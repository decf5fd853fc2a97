package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/comfyforge/comfy-mcp/internal/config"
	"github.com/comfyforge/comfy-mcp/internal/model"
)

// Engine defines the operations the workflow layer needs from a generation
// backend.
type Engine interface {
	Submit(ctx context.Context, graph model.Graph) (string, error)
	Poll(ctx context.Context, promptID string, maxAttempts int) (*PollOutcome, error)
	ViewURL(asset model.OutputAsset) string
	FetchBytes(ctx context.Context, rawURL string) ([]byte, error)
	AvailableModels() []string
}

// ComfyClient talks to a ComfyUI instance over its HTTP API.
type ComfyClient struct {
	httpClient   *http.Client
	baseURL      string
	pollInterval time.Duration

	// modelsMu guards models; the list is read from the health handler,
	// the MCP tools and defaults validation concurrently.
	modelsMu sync.Mutex
	models   []string
}

// SubmissionError is returned when the engine rejects a workflow at queue
// time, before any execution happens.
type SubmissionError struct {
	StatusCode int
	Body       string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("failed to queue workflow: %d - %s", e.StatusCode, e.Body)
}

// NewComfyClient creates a client for the configured ComfyUI instance. The
// model list is fetched lazily on first use so a down engine does not block
// startup.
func NewComfyClient(cfg *config.ComfyConfig) *ComfyClient {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	interval := time.Duration(cfg.PollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	return &ComfyClient{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pollInterval: interval,
	}
}

// BaseURL returns the engine address the client was configured with.
func (c *ComfyClient) BaseURL() string {
	return c.baseURL
}

// Submit queues an API-format workflow and returns the engine's prompt id.
func (c *ComfyClient) Submit(ctx context.Context, graph model.Graph) (string, error) {
	log.Printf("[ComfyUI] Submitting workflow (%d nodes)", len(graph))

	body, err := json.Marshal(map[string]interface{}{"prompt": graph})
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("invalid response from ComfyUI: %w", err)
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("response missing prompt_id: %s", string(respBody))
	}

	log.Printf("[ComfyUI] Queued workflow with prompt_id: %s", result.PromptID)
	return result.PromptID, nil
}

// Interrupt asks the engine to stop the currently executing workflow.
func (c *ComfyClient) Interrupt(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interrupt", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send interrupt: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("interrupt failed (status %d): %s", resp.StatusCode, string(body))
	}
	log.Printf("[ComfyUI] Interrupted current execution")
	return nil
}

// AvailableModels returns the cached checkpoint list, fetching it on first
// call. An unreachable engine yields an empty list, never an error.
func (c *ComfyClient) AvailableModels() []string {
	c.modelsMu.Lock()
	defer c.modelsMu.Unlock()
	if c.models == nil {
		c.models = c.fetchModels(context.Background())
	}
	return c.models
}

// RefreshModels re-fetches the checkpoint list from the engine.
func (c *ComfyClient) RefreshModels(ctx context.Context) []string {
	models := c.fetchModels(ctx)
	c.modelsMu.Lock()
	defer c.modelsMu.Unlock()
	c.models = models
	return c.models
}

// fetchModels reads /object_info/CheckpointLoaderSimple. The response nests
// the checkpoint enum at input.required.ckpt_name[0]; every level is checked
// because custom nodes are known to mangle this structure.
func (c *ComfyClient) fetchModels(ctx context.Context) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/object_info/CheckpointLoaderSimple", nil)
	if err != nil {
		return []string{}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[ComfyUI] Error fetching models: %v", err)
		return []string{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("[ComfyUI] Failed to fetch model list (status %d); using default handling", resp.StatusCode)
		return []string{}
	}

	var data map[string]struct {
		Input struct {
			Required map[string]json.RawMessage `json:"required"`
		} `json:"input"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		log.Printf("[ComfyUI] Unexpected object_info response: %v", err)
		return []string{}
	}

	info, ok := data["CheckpointLoaderSimple"]
	if !ok {
		log.Printf("[ComfyUI] Unexpected CheckpointLoaderSimple structure")
		return []string{}
	}
	raw, ok := info.Input.Required["ckpt_name"]
	if !ok {
		log.Printf("[ComfyUI] No checkpoint models found in API response")
		return []string{}
	}

	// ckpt_name is usually [[...names], {...}] but some builds flatten it
	// to a plain string list.
	var nested []json.RawMessage
	if err := json.Unmarshal(raw, &nested); err != nil || len(nested) == 0 {
		log.Printf("[ComfyUI] No checkpoint models found in API response")
		return []string{}
	}
	var models []string
	if err := json.Unmarshal(nested[0], &models); err != nil {
		if err := json.Unmarshal(raw, &models); err != nil {
			log.Printf("[ComfyUI] Unexpected ckpt_name structure")
			return []string{}
		}
	}
	log.Printf("[ComfyUI] Available models: %v", models)
	return models
}

// ViewURL builds the /view URL for an extracted asset. The subfolder
// parameter is omitted entirely when empty, and both path components are
// percent-encoded while keeping "/" intact so nested subfolders survive.
func (c *ComfyClient) ViewURL(asset model.OutputAsset) string {
	kind := asset.Kind
	if kind == "" {
		kind = "output"
	}
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/view?filename=")
	b.WriteString(escapeQueryPath(asset.Filename))
	if asset.Subfolder != "" {
		b.WriteString("&subfolder=")
		b.WriteString(escapeQueryPath(asset.Subfolder))
	}
	b.WriteString("&type=")
	b.WriteString(escapeQueryPath(kind))
	return b.String()
}

// escapeQueryPath percent-encodes a query value segment by segment so that
// "/" separators are preserved. PathEscape leaves sub-delims like "&" alone
// inside a segment, which would break query parsing, so those get a second
// pass.
func escapeQueryPath(v string) string {
	parts := strings.Split(v, "/")
	for i, p := range parts {
		seg := url.PathEscape(p)
		seg = strings.ReplaceAll(seg, "&", "%26")
		seg = strings.ReplaceAll(seg, "+", "%2B")
		parts[i] = seg
	}
	return strings.Join(parts, "/")
}

// FetchBytes downloads an asset URL and returns its raw bytes.
func (c *ComfyClient) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("asset fetch failed (status %d): %s", resp.StatusCode, rawURL)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset body: %w", err)
	}
	return data, nil
}

// AssetHead holds best-effort metadata from a HEAD request.
type AssetHead struct {
	MimeType  string
	BytesSize int64
}

// HeadAsset fetches size and content type for an asset URL. Failures are
// swallowed; callers treat the zero value as "unknown".
func (c *ComfyClient) HeadAsset(ctx context.Context, rawURL string) AssetHead {
	var meta AssetHead
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return meta
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return meta
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return meta
	}
	meta.BytesSize = resp.ContentLength
	if meta.BytesSize < 0 {
		meta.BytesSize = 0
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		meta.MimeType = strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	}
	return meta
}

// sleep waits for the poll interval or until the context is cancelled.
func (c *ComfyClient) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
