package workflow

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/comfyforge/comfy-mcp/internal/model"
)

// Output key preferences by workflow kind, used when extracting the result
// asset from a finished run.
var (
	DefaultOutputKeys = []string{"images", "image", "gifs", "gif"}
	AudioOutputKeys   = []string{"audio", "audios", "sound", "files"}
	VideoOutputKeys   = []string{"videos", "video", "mp4", "mov", "webm"}
)

// Metadata is the optional <id>.meta.json sidecar next to a template.
type Metadata struct {
	Name             string                   `json:"name,omitempty"`
	Description      string                   `json:"description,omitempty"`
	Defaults         map[string]interface{}   `json:"defaults,omitempty"`
	OverrideMappings map[string][]bindingPair `json:"override_mappings,omitempty"`
	Constraints      map[string]Constraint    `json:"constraints,omitempty"`
	UpdatedAt        string                   `json:"updated_at,omitempty"`
	Hash             string                   `json:"hash,omitempty"`
}

// bindingPair is the sidecar's wire form of a binding: ["3", "seed"].
type bindingPair [2]string

// Constraint limits what an override may set a parameter to.
type Constraint struct {
	Enum []interface{} `json:"enum,omitempty"`
	Min  *float64      `json:"min,omitempty"`
	Max  *float64      `json:"max,omitempty"`
}

// CatalogEntry is the list_workflows view of one template.
type CatalogEntry struct {
	ID              string                  `json:"id"`
	Name            string                  `json:"name"`
	Description     string                  `json:"description"`
	AvailableInputs map[string]CatalogInput `json:"available_inputs"`
	Defaults        map[string]interface{}  `json:"defaults,omitempty"`
	UpdatedAt       string                  `json:"updated_at,omitempty"`
	Hash            string                  `json:"hash,omitempty"`
}

type CatalogInput struct {
	Type        model.ParamType `json:"type"`
	Required    bool            `json:"required"`
	Description string          `json:"description,omitempty"`
}

// Definition pairs a tool definition with its parsed template and output
// preferences.
type Definition struct {
	model.ToolDefinition
	OutputKeys []string
}

// Store loads workflow templates from a directory of API-format JSON files.
// Templates are cached as raw bytes and re-decoded per load, which doubles
// as the deep copy callers rely on before mutating a graph.
type Store struct {
	dir string

	mu    sync.Mutex
	cache map[string][]byte
}

func NewStore(dir string) *Store {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &Store{dir: abs, cache: map[string][]byte{}}
}

func (s *Store) Dir() string {
	return s.dir
}

// safePath resolves a workflow id to its template path. Separators and dot
// runs are stripped before joining, then the result is checked to still be
// under the workflow directory.
func (s *Store) safePath(workflowID string) (string, error) {
	cleaned := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(workflowID)
	var b strings.Builder
	for _, r := range cleaned {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	safeID := b.String()
	if safeID == "" {
		return "", fmt.Errorf("invalid workflow id: %q", workflowID)
	}

	path := filepath.Join(s.dir, safeID+".json")
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("workflow id escapes workflow directory: %q", workflowID)
	}
	return path, nil
}

// Load reads a template by id, returning a fresh graph each call.
func (s *Store) Load(workflowID string) (model.Graph, error) {
	path, err := s.safePath(workflowID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	raw, cached := s.cache[path]
	s.mu.Unlock()

	if !cached {
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("workflow %q not found: %w", workflowID, err)
		}
		s.mu.Lock()
		s.cache[path] = raw
		s.mu.Unlock()
	}

	var graph model.Graph
	if err := json.Unmarshal(raw, &graph); err != nil {
		return nil, fmt.Errorf("workflow %q is not valid JSON: %w", workflowID, err)
	}
	return graph, nil
}

// LoadMetadata reads the sidecar for a template; a missing sidecar gives an
// empty Metadata, not an error.
func (s *Store) LoadMetadata(workflowID string) Metadata {
	path, err := s.safePath(workflowID)
	if err != nil {
		return Metadata{}
	}
	metaPath := strings.TrimSuffix(path, ".json") + ".meta.json"
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return Metadata{}
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		log.Printf("[Workflows] Failed to parse metadata for %s: %v", workflowID, err)
		return Metadata{}
	}
	return meta
}

// Catalog lists every template with its inputs and sidecar metadata.
func (s *Store) Catalog() []CatalogEntry {
	entries := []CatalogEntry{}
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return entries
	}
	sort.Strings(paths)

	for _, path := range paths {
		if strings.HasSuffix(path, ".meta.json") {
			continue
		}
		id := strings.TrimSuffix(filepath.Base(path), ".json")
		graph, err := s.Load(id)
		if err != nil {
			log.Printf("[Workflows] Skipping %s: %v", filepath.Base(path), err)
			continue
		}
		meta := s.LoadMetadata(id)

		inputs := map[string]CatalogInput{}
		for _, p := range ExtractParameters(graph) {
			inputs[p.Name] = CatalogInput{Type: p.Type, Required: p.Required, Description: p.Description}
		}

		name := meta.Name
		if name == "" {
			name = titleFromID(id)
		}
		desc := meta.Description
		if desc == "" {
			desc = fmt.Sprintf("Execute the '%s' workflow.", id)
		}
		entries = append(entries, CatalogEntry{
			ID:              id,
			Name:            name,
			Description:     desc,
			AvailableInputs: inputs,
			Defaults:        meta.Defaults,
			UpdatedAt:       meta.UpdatedAt,
			Hash:            meta.Hash,
		})
	}
	return entries
}

// Definitions builds tool definitions for every template that declares at
// least one placeholder. Templates without placeholders stay reachable via
// run_workflow but do not become standalone tools. Tool names collide when
// two file stems normalize identically; later ones get a numeric suffix.
func (s *Store) Definitions() []Definition {
	var defs []Definition
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return defs
	}
	sort.Strings(paths)

	seen := map[string]bool{}
	for _, path := range paths {
		if strings.HasSuffix(path, ".meta.json") {
			continue
		}
		id := strings.TrimSuffix(filepath.Base(path), ".json")
		graph, err := s.Load(id)
		if err != nil {
			log.Printf("[Workflows] Skipping %s: %v", filepath.Base(path), err)
			continue
		}
		params := ExtractParameters(graph)
		if len(params) == 0 {
			log.Printf("[Workflows] %s has no %s placeholders; skipping auto-tool registration", filepath.Base(path), PlaceholderPrefix)
			continue
		}

		name := dedupeName(NormalizeName(id), seen)
		defs = append(defs, Definition{
			ToolDefinition: model.ToolDefinition{
				WorkflowID:  id,
				Name:        name,
				Description: deriveDescription(id),
				Parameters:  params,
			},
			OutputKeys: GuessOutputKeys(graph),
		})
		log.Printf("[Workflows] Prepared workflow tool '%s' from %s with %d params", name, filepath.Base(path), len(params))
	}
	return defs
}

func dedupeName(base string, seen map[string]bool) string {
	if base == "" {
		base = "workflow_tool"
	}
	if !seen[base] {
		seen[base] = true
		return base
	}
	for suffix := 2; ; suffix++ {
		candidate := fmt.Sprintf("%s_%d", base, suffix)
		if !seen[candidate] {
			seen[candidate] = true
			return candidate
		}
	}
}

func deriveDescription(id string) string {
	readable := strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(id))
	if readable == "" {
		readable = id
	}
	return fmt.Sprintf("Execute the '%s' ComfyUI workflow.", readable)
}

func titleFromID(id string) string {
	words := strings.Fields(strings.ReplaceAll(id, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Namespace returns the defaults namespace for a workflow id.
func Namespace(workflowID string) string {
	switch workflowID {
	case "generate_song":
		return "audio"
	case "generate_video":
		return "video"
	default:
		return "image"
	}
}

// GuessOutputKeys picks the preferred output keys from node class types.
func GuessOutputKeys(graph model.Graph) []string {
	ids := make([]string, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		node := graph[id]
		if node == nil {
			continue
		}
		ct := strings.ToLower(node.ClassType)
		if strings.Contains(ct, "audio") {
			return AudioOutputKeys
		}
		if strings.Contains(ct, "video") || strings.Contains(ct, "savevideo") || strings.Contains(ct, "videocombine") {
			return VideoOutputKeys
		}
	}
	return DefaultOutputKeys
}

// Render fills a definition's template with provided parameters. Required
// parameters must be present; a missing seed is generated; other missing
// optional parameters fall back to namespace defaults or stay as their
// template value.
func (s *Store) Render(def Definition, provided map[string]interface{}, defaults *Defaults) (model.Graph, error) {
	graph, err := s.Load(def.WorkflowID)
	if err != nil {
		return nil, err
	}
	namespace := Namespace(def.WorkflowID)

	for _, param := range def.Parameters {
		raw, has := provided[param.Name]
		if !has || raw == nil {
			if param.Required {
				return nil, fmt.Errorf("missing required parameter '%s'", param.Name)
			}
			if param.Name == "seed" && param.Type == model.ParamTypeInt {
				raw = RandomSeed()
			} else if defaults != nil {
				raw = defaults.Get(namespace, param.Name)
			}
			if raw == nil {
				continue
			}
		}
		value, err := CoerceValue(raw, param.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter '%s': %w", param.Name, err)
		}
		applyBindings(graph, param.Bindings, value)
	}
	return graph, nil
}

// ApplyOverrides mutates a loaded graph with user overrides, honoring the
// sidecar's declared mappings and constraints. Without a sidecar the
// extracted placeholder bindings serve as the mapping. Unknown override
// names are logged and skipped rather than failing the run.
func (s *Store) ApplyOverrides(graph model.Graph, workflowID string, overrides map[string]interface{}, defaults *Defaults) error {
	meta := s.LoadMetadata(workflowID)
	params := ExtractParameters(graph)

	paramsByName := map[string]model.Parameter{}
	for _, p := range params {
		paramsByName[p.Name] = p
	}

	mappings := map[string][]model.Binding{}
	for name, pairs := range meta.OverrideMappings {
		for _, pair := range pairs {
			mappings[name] = append(mappings[name], model.Binding{NodeID: pair[0], Input: pair[1]})
		}
	}
	if len(mappings) == 0 {
		for _, p := range params {
			mappings[p.Name] = p.Bindings
		}
	}

	for name, value := range overrides {
		bindings, ok := mappings[name]
		if !ok {
			log.Printf("[Workflows] Override '%s' not in declared mappings for %s, skipping", name, workflowID)
			continue
		}
		if c, has := meta.Constraints[name]; has {
			if err := c.Check(name, value); err != nil {
				return err
			}
		}
		if p, has := paramsByName[name]; has {
			coerced, err := CoerceValue(value, p.Type)
			if err != nil {
				return fmt.Errorf("override '%s': %w", name, err)
			}
			value = coerced
		}
		applyBindings(graph, bindings, value)
	}

	// Fill unset optional parameters from namespace defaults.
	if defaults != nil {
		namespace := Namespace(workflowID)
		for _, p := range params {
			if p.Required {
				continue
			}
			if _, has := overrides[p.Name]; has {
				continue
			}
			if v := defaults.Get(namespace, p.Name); v != nil {
				applyBindings(graph, p.Bindings, v)
			}
		}
	}
	return nil
}

func applyBindings(graph model.Graph, bindings []model.Binding, value interface{}) {
	for _, b := range bindings {
		node, ok := graph[b.NodeID]
		if !ok || node.Inputs == nil {
			continue
		}
		node.Inputs[b.Input] = value
	}
}

// Check validates a value against the constraint.
func (c Constraint) Check(name string, value interface{}) error {
	if len(c.Enum) > 0 {
		found := false
		for _, allowed := range c.Enum {
			if fmt.Sprintf("%v", allowed) == fmt.Sprintf("%v", value) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("value '%v' for '%s' not in allowed enum: %v", value, name, c.Enum)
		}
	}
	if c.Min != nil || c.Max != nil {
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("value '%v' for '%s' is not numeric", value, name)
		}
		if c.Min != nil && f < *c.Min {
			return fmt.Errorf("value '%v' for '%s' below minimum: %v", value, name, *c.Min)
		}
		if c.Max != nil && f > *c.Max {
			return fmt.Errorf("value '%v' for '%s' above maximum: %v", value, name, *c.Max)
		}
	}
	return nil
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
