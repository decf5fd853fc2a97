package workflow

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

var namespaces = []string{"image", "audio", "video"}

// hardcodedDefaults is the bottom of the precedence chain.
var hardcodedDefaults = map[string]map[string]interface{}{
	"image": {
		"width":           512,
		"height":          512,
		"steps":           20,
		"cfg":             8.0,
		"sampler_name":    "euler",
		"scheduler":       "normal",
		"denoise":         1.0,
		"model":           "v1-5-pruned-emaonly.ckpt",
		"negative_prompt": "text, watermark",
	},
	"audio": {
		"steps":           50,
		"cfg":             5.0,
		"sampler_name":    "euler",
		"scheduler":       "simple",
		"denoise":         1.0,
		"seconds":         60,
		"lyrics_strength": 0.99,
		"model":           "ace_step_v1_3.5b.safetensors",
	},
	"video": {
		"width":           1280,
		"height":          720,
		"steps":           20,
		"cfg":             8.0,
		"sampler_name":    "euler",
		"scheduler":       "normal",
		"denoise":         1.0,
		"model":           "wan2.2_vae.safetensors",
		"negative_prompt": "text, watermark",
		"duration":        5,
		"fps":             16,
	},
}

// ModelLister supplies the checkpoint names used to validate a "model"
// default before accepting it.
type ModelLister func() []string

// Defaults resolves parameter defaults with precedence
// runtime > config file > environment > hardcoded. Per-call values beat all
// of these, but that happens at the call site.
type Defaults struct {
	mu         sync.RWMutex
	runtime    map[string]map[string]interface{}
	fileVals   map[string]map[string]interface{}
	configPath string
	listModels ModelLister
}

// NewDefaults creates the resolver. configPath may be empty to use
// ~/.config/comfy-mcp/config.json.
func NewDefaults(configPath string, listModels ModelLister) *Defaults {
	if configPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configPath = filepath.Join(home, ".config", "comfy-mcp", "config.json")
		}
	}
	d := &Defaults{
		runtime:    emptyNamespaces(),
		configPath: configPath,
		listModels: listModels,
	}
	d.fileVals = d.loadConfigFile()
	return d
}

func emptyNamespaces() map[string]map[string]interface{} {
	out := map[string]map[string]interface{}{}
	for _, ns := range namespaces {
		out[ns] = map[string]interface{}{}
	}
	return out
}

func (d *Defaults) loadConfigFile() map[string]map[string]interface{} {
	vals := emptyNamespaces()
	if d.configPath == "" {
		return vals
	}
	data, err := os.ReadFile(d.configPath)
	if err != nil {
		return vals
	}
	var cfg struct {
		Defaults map[string]map[string]interface{} `json:"defaults"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("[Defaults] Failed to parse config file %s: %v", d.configPath, err)
		return vals
	}
	for _, ns := range namespaces {
		if m, ok := cfg.Defaults[ns]; ok {
			vals[ns] = m
		}
	}
	return vals
}

// envDefaults reads the per-namespace model overrides from the environment.
func envDefaults() map[string]map[string]interface{} {
	vals := emptyNamespaces()
	for ns, envKey := range map[string]string{
		"image": "COMFY_MCP_DEFAULT_IMAGE_MODEL",
		"audio": "COMFY_MCP_DEFAULT_AUDIO_MODEL",
		"video": "COMFY_MCP_DEFAULT_VIDEO_MODEL",
	} {
		if v := os.Getenv(envKey); v != "" {
			vals[ns]["model"] = v
		}
	}
	return vals
}

// Get resolves one default, or nil when no layer defines it.
func (d *Defaults) Get(namespace, key string) interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if v, ok := d.runtime[namespace][key]; ok {
		return v
	}
	if v, ok := d.fileVals[namespace][key]; ok {
		return v
	}
	if v, ok := envDefaults()[namespace][key]; ok {
		return v
	}
	if v, ok := hardcodedDefaults[namespace][key]; ok {
		return v
	}
	return nil
}

// All merges every layer into the effective defaults per namespace.
func (d *Defaults) All() map[string]map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	env := envDefaults()
	out := map[string]map[string]interface{}{}
	for _, ns := range namespaces {
		merged := map[string]interface{}{}
		for k, v := range hardcodedDefaults[ns] {
			merged[k] = v
		}
		for k, v := range env[ns] {
			merged[k] = v
		}
		for k, v := range d.fileVals[ns] {
			merged[k] = v
		}
		for k, v := range d.runtime[ns] {
			merged[k] = v
		}
		out[ns] = merged
	}
	return out
}

// Set updates runtime defaults for a namespace. When a "model" value is
// included and the engine's checkpoint list is known, unknown models are
// rejected before anything changes.
func (d *Defaults) Set(namespace string, values map[string]interface{}, validateModels bool) error {
	if !validNamespace(namespace) {
		return fmt.Errorf("invalid namespace: %q (must be image, audio or video)", namespace)
	}
	if validateModels {
		if err := d.checkModel(values); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range values {
		d.runtime[namespace][k] = v
	}
	return nil
}

// Persist writes defaults into the config file so they survive restarts,
// then reloads the file layer.
func (d *Defaults) Persist(namespace string, values map[string]interface{}) error {
	if !validNamespace(namespace) {
		return fmt.Errorf("invalid namespace: %q (must be image, audio or video)", namespace)
	}
	if d.configPath == "" {
		return fmt.Errorf("no config path available")
	}
	if err := os.MkdirAll(filepath.Dir(d.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := map[string]interface{}{}
	if data, err := os.ReadFile(d.configPath); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}
	defaults, _ := cfg["defaults"].(map[string]interface{})
	if defaults == nil {
		defaults = map[string]interface{}{}
	}
	nsVals, _ := defaults[namespace].(map[string]interface{})
	if nsVals == nil {
		nsVals = map[string]interface{}{}
	}
	for k, v := range values {
		nsVals[k] = v
	}
	defaults[namespace] = nsVals
	cfg["defaults"] = defaults

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(d.configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	d.mu.Lock()
	d.fileVals = d.loadConfigFile()
	d.mu.Unlock()
	return nil
}

func (d *Defaults) checkModel(values map[string]interface{}) error {
	model, ok := values["model"]
	if !ok || d.listModels == nil {
		return nil
	}
	available := d.listModels()
	if len(available) == 0 {
		return nil
	}
	name := fmt.Sprintf("%v", model)
	for _, m := range available {
		if m == name {
			return nil
		}
	}
	sample := available
	if len(sample) > 5 {
		sample = sample[:5]
	}
	return fmt.Errorf("model %q not found; available models include %v", name, sample)
}

func validNamespace(ns string) bool {
	for _, n := range namespaces {
		if n == ns {
			return true
		}
	}
	return false
}
