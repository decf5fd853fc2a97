package workflow

import (
	"encoding/json"
	"testing"

	"github.com/comfyforge/comfy-mcp/internal/model"
)

func mustGraph(t *testing.T, raw string) model.Graph {
	t.Helper()
	var graph model.Graph
	if err := json.Unmarshal([]byte(raw), &graph); err != nil {
		t.Fatalf("bad graph fixture: %v", err)
	}
	return graph
}

func TestParsePlaceholder(t *testing.T) {
	tests := []struct {
		value    interface{}
		wantName string
		wantType model.ParamType
		wantOK   bool
	}{
		{"PARAM_prompt", "prompt", model.ParamTypeString, true},
		{"PARAM_INT_steps", "steps", model.ParamTypeInt, true},
		{"PARAM_FLOAT_cfg", "cfg", model.ParamTypeFloat, true},
		{"PARAM_BOOL_tiled", "tiled", model.ParamTypeBool, true},
		{"PARAM_STR_model", "model", model.ParamTypeString, true},
		{"PARAM_TEXT_lyrics", "lyrics", model.ParamTypeString, true},
		// Unknown hint prefixes stay part of the name.
		{"PARAM_MEGA_thing", "mega_thing", model.ParamTypeString, true},
		{"plain value", "", "", false},
		{42, "", "", false},
	}
	for _, tt := range tests {
		name, typ, ok := ParsePlaceholder(tt.value)
		if ok != tt.wantOK {
			t.Errorf("ParsePlaceholder(%v) ok = %v, want %v", tt.value, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if name != tt.wantName || typ != tt.wantType {
			t.Errorf("ParsePlaceholder(%v) = (%q, %v), want (%q, %v)", tt.value, name, typ, tt.wantName, tt.wantType)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Steps", "steps"},
		{"negative prompt", "negative_prompt"},
		{"__weird__", "weird"},
		{"!!!", "param"},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractParameters(t *testing.T) {
	graph := mustGraph(t, `{
		"3": {"class_type": "KSampler", "inputs": {"seed": "PARAM_INT_seed", "steps": "PARAM_INT_steps"}},
		"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "PARAM_prompt"}}
	}`)

	params := ExtractParameters(graph)
	if len(params) != 3 {
		t.Fatalf("expected 3 parameters, got %d: %+v", len(params), params)
	}

	byName := map[string]model.Parameter{}
	for _, p := range params {
		byName[p.Name] = p
	}
	if p := byName["prompt"]; !p.Required {
		t.Error("prompt should be required")
	}
	if p := byName["seed"]; p.Required {
		t.Error("seed should be optional")
	}
	if p := byName["steps"]; p.Type != model.ParamTypeInt {
		t.Errorf("steps type = %v, want int", p.Type)
	}
}

func TestExtractParametersMultiBinding(t *testing.T) {
	graph := mustGraph(t, `{
		"1": {"class_type": "EmptyLatentImage", "inputs": {"width": "PARAM_INT_size", "height": "PARAM_INT_size"}},
		"2": {"class_type": "Other", "inputs": {"dim": "PARAM_INT_size"}}
	}`)

	params := ExtractParameters(graph)
	if len(params) != 1 {
		t.Fatalf("same placeholder must fold into one parameter, got %d", len(params))
	}
	if len(params[0].Bindings) != 3 {
		t.Errorf("expected 3 bindings, got %d", len(params[0].Bindings))
	}
}

func TestExtractParametersStableOrder(t *testing.T) {
	raw := `{
		"9": {"class_type": "A", "inputs": {"z": "PARAM_zeta", "a": "PARAM_alpha"}},
		"2": {"class_type": "B", "inputs": {"m": "PARAM_mid"}}
	}`
	first := ExtractParameters(mustGraph(t, raw))
	second := ExtractParameters(mustGraph(t, raw))
	if len(first) != len(second) {
		t.Fatal("parameter counts differ")
	}
	for i := range first {
		if first[i].Name != second[i].Name {
			t.Fatalf("parameter order unstable: %v vs %v", first, second)
		}
	}
	// Sorted node ids, then sorted input names: node 2 before node 9,
	// input a before z.
	want := []string{"mid", "alpha", "zeta"}
	for i, name := range want {
		if first[i].Name != name {
			t.Errorf("position %d: got %q, want %q", i, first[i].Name, name)
		}
	}
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		value   interface{}
		typ     model.ParamType
		want    interface{}
		wantErr bool
	}{
		{float64(20), model.ParamTypeInt, 20, false},
		{"30", model.ParamTypeInt, 30, false},
		{"abc", model.ParamTypeInt, nil, true},
		{float64(7.5), model.ParamTypeFloat, 7.5, false},
		{"0.5", model.ParamTypeFloat, 0.5, false},
		{"a castle", model.ParamTypeString, "a castle", false},
		{float64(512), model.ParamTypeString, "512", false},
		{"true", model.ParamTypeBool, true, false},
		{"no", model.ParamTypeBool, false, false},
		{float64(1), model.ParamTypeBool, true, false},
	}
	for _, tt := range tests {
		got, err := CoerceValue(tt.value, tt.typ)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CoerceValue(%v, %v) expected error", tt.value, tt.typ)
			}
			continue
		}
		if err != nil {
			t.Errorf("CoerceValue(%v, %v) failed: %v", tt.value, tt.typ, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CoerceValue(%v, %v) = %v, want %v", tt.value, tt.typ, got, tt.want)
		}
	}
}

func TestRandomSeedRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		seed := RandomSeed()
		if seed < 0 || seed >= 1<<32 {
			t.Fatalf("seed %d out of range", seed)
		}
	}
}
