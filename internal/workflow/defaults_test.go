package workflow

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestDefaults(t *testing.T, fileContent string, lister ModelLister) *Defaults {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if fileContent != "" {
		if err := os.WriteFile(path, []byte(fileContent), 0o644); err != nil {
			t.Fatalf("failed to write config fixture: %v", err)
		}
	}
	return NewDefaults(path, lister)
}

func TestDefaultsHardcodedLayer(t *testing.T) {
	d := newTestDefaults(t, "", nil)

	if got := d.Get("image", "steps"); got != 20 {
		t.Errorf("image steps = %v, want 20", got)
	}
	if got := d.Get("audio", "seconds"); got != 60 {
		t.Errorf("audio seconds = %v, want 60", got)
	}
	if got := d.Get("video", "fps"); got != 16 {
		t.Errorf("video fps = %v, want 16", got)
	}
	if got := d.Get("image", "nonexistent"); got != nil {
		t.Errorf("unknown key should resolve to nil, got %v", got)
	}
}

func TestDefaultsEnvBeatsHardcoded(t *testing.T) {
	t.Setenv("COMFY_MCP_DEFAULT_IMAGE_MODEL", "env-model.safetensors")
	d := newTestDefaults(t, "", nil)

	if got := d.Get("image", "model"); got != "env-model.safetensors" {
		t.Errorf("env model not used, got %v", got)
	}
	// Other namespaces stay untouched.
	if got := d.Get("audio", "model"); got != "ace_step_v1_3.5b.safetensors" {
		t.Errorf("audio model changed unexpectedly: %v", got)
	}
}

func TestDefaultsFileBeatsEnv(t *testing.T) {
	t.Setenv("COMFY_MCP_DEFAULT_IMAGE_MODEL", "env-model.safetensors")
	d := newTestDefaults(t, `{"defaults": {"image": {"model": "file-model.ckpt", "steps": 33}}}`, nil)

	if got := d.Get("image", "model"); got != "file-model.ckpt" {
		t.Errorf("file model should beat env, got %v", got)
	}
	if got := d.Get("image", "steps"); got != float64(33) {
		t.Errorf("file steps not used, got %v", got)
	}
}

func TestDefaultsRuntimeBeatsFile(t *testing.T) {
	d := newTestDefaults(t, `{"defaults": {"image": {"steps": 33}}}`, nil)

	if err := d.Set("image", map[string]interface{}{"steps": 44}, false); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := d.Get("image", "steps"); got != 44 {
		t.Errorf("runtime steps should win, got %v", got)
	}
}

func TestDefaultsSetInvalidNamespace(t *testing.T) {
	d := newTestDefaults(t, "", nil)
	if err := d.Set("music", map[string]interface{}{"steps": 1}, false); err == nil {
		t.Fatal("expected error for invalid namespace")
	}
}

func TestDefaultsModelValidation(t *testing.T) {
	lister := func() []string { return []string{"real-model.safetensors"} }
	d := newTestDefaults(t, "", lister)

	err := d.Set("image", map[string]interface{}{"model": "fake.ckpt"}, true)
	if err == nil {
		t.Fatal("expected rejection of unknown model")
	}
	if err := d.Set("image", map[string]interface{}{"model": "real-model.safetensors"}, true); err != nil {
		t.Fatalf("known model rejected: %v", err)
	}

	// An empty engine list disables validation instead of blocking.
	d2 := newTestDefaults(t, "", func() []string { return nil })
	if err := d2.Set("image", map[string]interface{}{"model": "anything.ckpt"}, true); err != nil {
		t.Fatalf("validation should be skipped with no model list: %v", err)
	}
}

func TestDefaultsPersist(t *testing.T) {
	d := newTestDefaults(t, "", nil)

	if err := d.Persist("audio", map[string]interface{}{"seconds": 90}); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	// A fresh resolver over the same file sees the persisted value.
	fresh := NewDefaults(d.configPath, nil)
	if got := fresh.Get("audio", "seconds"); got != float64(90) {
		t.Errorf("persisted value not reloaded, got %v", got)
	}
	// Unrelated keys still resolve through the lower layers.
	if got := fresh.Get("audio", "steps"); got != 50 {
		t.Errorf("audio steps = %v, want 50", got)
	}
}

func TestDefaultsAllMergesLayers(t *testing.T) {
	d := newTestDefaults(t, `{"defaults": {"image": {"steps": 33}}}`, nil)
	if err := d.Set("image", map[string]interface{}{"cfg": 4.5}, false); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	all := d.All()
	img := all["image"]
	if img["steps"] != float64(33) {
		t.Errorf("file layer missing from merge: %v", img["steps"])
	}
	if img["cfg"] != 4.5 {
		t.Errorf("runtime layer missing from merge: %v", img["cfg"])
	}
	if img["sampler_name"] != "euler" {
		t.Errorf("hardcoded layer missing from merge: %v", img["sampler_name"])
	}
	if len(all) != 3 {
		t.Errorf("expected 3 namespaces, got %d", len(all))
	}
}
