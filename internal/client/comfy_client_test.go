package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/comfyforge/comfy-mcp/internal/config"
	"github.com/comfyforge/comfy-mcp/internal/model"
)

func testComfyConfig(baseURL string, pollMS int) *config.ComfyConfig {
	return &config.ComfyConfig{
		BaseURL:        baseURL,
		PollIntervalMS: pollMS,
		RequestTimeout: 5,
	}
}

func newTestClient(baseURL string) *ComfyClient {
	return NewComfyClient(testComfyConfig(baseURL, 1))
}

func TestSubmit(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/prompt" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"prompt_id": "abc-123"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	graph := model.Graph{"1": {ClassType: "KSampler", Inputs: map[string]interface{}{"seed": 42}}}

	promptID, err := c.Submit(context.Background(), graph)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if promptID != "abc-123" {
		t.Errorf("expected prompt id 'abc-123', got %q", promptID)
	}
	if _, ok := gotBody["prompt"]; !ok {
		t.Error("expected request body to wrap the graph in a 'prompt' key")
	}
}

func TestSubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid prompt"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Submit(context.Background(), model.Graph{})
	if err == nil {
		t.Fatal("expected error for rejected submission")
	}
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %T: %v", err, err)
	}
	if subErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", subErr.StatusCode)
	}
}

func TestSubmitMissingPromptID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"number": 5}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.Submit(context.Background(), model.Graph{}); err == nil {
		t.Fatal("expected error when response lacks prompt_id")
	}
}

func TestViewURL(t *testing.T) {
	c := newTestClient("http://127.0.0.1:8188")

	tests := []struct {
		name  string
		asset model.OutputAsset
		want  string
	}{
		{
			name:  "plain",
			asset: model.OutputAsset{Filename: "img.png", Subfolder: "", Kind: "output"},
			want:  "http://127.0.0.1:8188/view?filename=img.png&type=output",
		},
		{
			name:  "space in filename",
			asset: model.OutputAsset{Filename: "my image.png", Kind: "output"},
			want:  "http://127.0.0.1:8188/view?filename=my%20image.png&type=output",
		},
		{
			name:  "subfolder keeps slashes",
			asset: model.OutputAsset{Filename: "a.png", Subfolder: "x/y", Kind: "output"},
			want:  "http://127.0.0.1:8188/view?filename=a.png&subfolder=x/y&type=output",
		},
		{
			name:  "ampersand escaped",
			asset: model.OutputAsset{Filename: "a&b.png", Kind: "temp"},
			want:  "http://127.0.0.1:8188/view?filename=a%26b.png&type=temp",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.ViewURL(tt.asset); got != tt.want {
				t.Errorf("ViewURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAvailableModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/object_info") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"CheckpointLoaderSimple": {
				"input": {
					"required": {
						"ckpt_name": [["model_a.safetensors", "model_b.ckpt"]]
					}
				}
			}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	models := c.AvailableModels()
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %v", models)
	}
	if models[0] != "model_a.safetensors" {
		t.Errorf("unexpected first model %q", models[0])
	}
}

func TestAvailableModelsConcurrentAccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"CheckpointLoaderSimple": {
				"input": {
					"required": {
						"ckpt_name": [["model_a.safetensors"]]
					}
				}
			}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				c.RefreshModels(context.Background())
				return
			}
			if models := c.AvailableModels(); len(models) != 1 {
				t.Errorf("expected 1 model, got %v", models)
			}
		}(i)
	}
	wg.Wait()

	if models := c.AvailableModels(); len(models) != 1 || models[0] != "model_a.safetensors" {
		t.Errorf("unexpected model list after concurrent access: %v", models)
	}
}

func TestAvailableModelsEngineDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if models := c.AvailableModels(); len(models) != 0 {
		t.Errorf("expected empty model list, got %v", models)
	}
}
