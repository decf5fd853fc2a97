package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/comfyforge/comfy-mcp/internal/client"
	"github.com/comfyforge/comfy-mcp/internal/config"
	"github.com/comfyforge/comfy-mcp/internal/model"
	"github.com/comfyforge/comfy-mcp/internal/registry"
)

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode body %q: %v", data, err)
	}
	return out
}

func TestAssetRoutes(t *testing.T) {
	reg := registry.NewMemoryRegistry(time.Hour)
	rec := &model.AssetRecord{
		AssetURL: "http://127.0.0.1:8188/view?filename=a.png&type=output",
		Filename: "a.png",
		MimeType: "image/png",
	}
	if err := reg.Register(context.Background(), rec); err != nil {
		t.Fatalf("register: %v", err)
	}

	h := NewAssetHandler(reg)
	app := fiber.New()
	app.Get("/api/assets", h.List)
	app.Get("/api/assets/:assetId", h.Get)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/assets", nil))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["count"] != float64(1) {
		t.Errorf("count = %v", body["count"])
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/assets/"+rec.AssetID, nil))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	if body["filename"] != "a.png" {
		t.Errorf("filename = %v", body["filename"])
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/assets/missing", nil))
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	errDetail, _ := body["error"].(map[string]interface{})
	if errDetail["code"] != "NOT_FOUND" {
		t.Errorf("error code = %v", errDetail["code"])
	}
}

func TestJobRouteWithoutRedis(t *testing.T) {
	h := NewJobHandler(nil)
	app := fiber.New()
	app.Get("/api/jobs/:jobId", h.Status)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/jobs/abc", nil))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	errDetail, _ := body["error"].(map[string]interface{})
	if errDetail["code"] != "SERVICE_ERROR" {
		t.Errorf("error code = %v", errDetail["code"])
	}
}

func TestHealthRoutes(t *testing.T) {
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer engine.Close()

	comfy := client.NewComfyClient(&config.ComfyConfig{BaseURL: engine.URL})
	h := NewHealthHandler(comfy, nil, nil, "test")
	app := fiber.New()
	app.Get("/", h.Root)
	app.Get("/health", h.Health)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	body := decodeBody(t, resp)
	if body["service"] != "comfy-mcp" || body["version"] != "test" {
		t.Errorf("root body = %v", body)
	}
	if _, err := time.Parse(time.RFC3339, body["timestamp"].(string)); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
	services, _ := body["services"].(map[string]interface{})
	redisInfo, _ := services["redis"].(map[string]interface{})
	if redisInfo["status"] != "disabled" {
		t.Errorf("redis = %v", redisInfo)
	}
	publishInfo, _ := services["publish"].(map[string]interface{})
	if publishInfo["ready"] != false || publishInfo["code"] != "NO_PROJECT_ROOT" {
		t.Errorf("publish = %v", publishInfo)
	}
}
