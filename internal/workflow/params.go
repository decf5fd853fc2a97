package workflow

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/comfyforge/comfy-mcp/internal/model"
)

// PlaceholderPrefix marks template input values that become tool parameters.
// "PARAM_INT_steps" binds an int parameter named steps; without a type hint
// the parameter is a string.
const PlaceholderPrefix = "PARAM_"

var placeholderTypeHints = map[string]model.ParamType{
	"STR":    model.ParamTypeString,
	"STRING": model.ParamTypeString,
	"TEXT":   model.ParamTypeString,
	"INT":    model.ParamTypeInt,
	"FLOAT":  model.ParamTypeFloat,
	"BOOL":   model.ParamTypeBool,
}

var placeholderDescriptions = map[string]string{
	"prompt":          "Main text prompt used inside the workflow.",
	"seed":            "Random seed for image generation. If not provided, a random seed will be generated.",
	"width":           "Image width in pixels. Default: 512.",
	"height":          "Image height in pixels. Default: 512.",
	"model":           "Checkpoint model name (e.g., 'v1-5-pruned-emaonly.ckpt', 'sd_xl_base_1.0.safetensors'). Default: 'v1-5-pruned-emaonly.ckpt'.",
	"steps":           "Number of sampling steps. Higher = better quality but slower. Default: 20.",
	"cfg":             "Classifier-free guidance scale. Higher = more adherence to prompt. Default: 8.0.",
	"sampler_name":    "Sampling method (e.g., 'euler', 'dpmpp_2m', 'ddim'). Default: 'euler'.",
	"scheduler":       "Scheduler type (e.g., 'normal', 'karras', 'exponential'). Default: 'normal'.",
	"denoise":         "Denoising strength (0.0-1.0). Default: 1.0.",
	"negative_prompt": "Negative prompt to avoid certain elements. Default: 'text, watermark'.",
	"tags":            "Comma-separated descriptive tags for the audio model.",
	"lyrics":          "Full lyric text that should drive the audio generation.",
	"seconds":         "Audio duration in seconds. Default: 60 (1 minute).",
	"lyrics_strength": "How strongly lyrics influence audio generation (0.0-1.0). Default: 0.99.",
	"duration":        "Video duration in seconds. Default: 5.",
	"fps":             "Frames per second for video output. Default: 16.",
}

// optionalParams are knobs every workflow has sensible defaults for; only
// the creative inputs (prompt, tags, lyrics) stay required.
var optionalParams = map[string]bool{
	"seed": true, "width": true, "height": true, "model": true,
	"steps": true, "cfg": true, "sampler_name": true, "scheduler": true,
	"denoise": true, "negative_prompt": true,
	"seconds": true, "lyrics_strength": true,
	"duration": true, "fps": true,
}

// ParsePlaceholder inspects one input value. It returns the parameter name
// and type, or ok=false when the value is not a placeholder.
func ParsePlaceholder(value interface{}) (name string, typ model.ParamType, ok bool) {
	s, isStr := value.(string)
	if !isStr || !strings.HasPrefix(s, PlaceholderPrefix) {
		return "", "", false
	}
	token := s[len(PlaceholderPrefix):]
	typ = model.ParamTypeString
	if idx := strings.Index(token, "_"); idx >= 0 {
		if hint, found := placeholderTypeHints[strings.ToUpper(token[:idx])]; found {
			typ = hint
			token = token[idx+1:]
		}
	}
	return NormalizeName(token), typ, true
}

// NormalizeName lowercases and replaces non-alphanumerics with underscores.
// An empty result becomes "param" so a broken placeholder still registers.
func NormalizeName(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "param"
	}
	return name
}

// ExtractParameters scans a graph for placeholder inputs. A placeholder
// appearing under several inputs folds into one parameter with multiple
// bindings. Nodes are walked in sorted id order so the parameter list is
// stable across runs.
func ExtractParameters(graph model.Graph) []model.Parameter {
	nodeIDs := make([]string, 0, len(graph))
	for id := range graph {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	var order []string
	params := map[string]*model.Parameter{}
	for _, nodeID := range nodeIDs {
		node := graph[nodeID]
		if node == nil || node.Inputs == nil {
			continue
		}
		inputNames := make([]string, 0, len(node.Inputs))
		for name := range node.Inputs {
			inputNames = append(inputNames, name)
		}
		sort.Strings(inputNames)
		for _, inputName := range inputNames {
			name, typ, ok := ParsePlaceholder(node.Inputs[inputName])
			if !ok {
				continue
			}
			p, exists := params[name]
			if !exists {
				desc := placeholderDescriptions[name]
				if desc == "" {
					desc = fmt.Sprintf("Value for '%s'.", name)
				}
				p = &model.Parameter{
					Name:        name,
					Type:        typ,
					Description: desc,
					Required:    !optionalParams[name],
				}
				params[name] = p
				order = append(order, name)
			}
			p.Bindings = append(p.Bindings, model.Binding{NodeID: nodeID, Input: inputName})
		}
	}

	out := make([]model.Parameter, 0, len(order))
	for _, name := range order {
		out = append(out, *params[name])
	}
	return out
}

// CoerceValue converts a raw value (typically from JSON, so numbers arrive
// as float64) to the parameter's declared type.
func CoerceValue(value interface{}, typ model.ParamType) (interface{}, error) {
	switch typ {
	case model.ParamTypeString:
		switch v := value.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		default:
			return fmt.Sprintf("%v", v), nil
		}
	case model.ParamTypeInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to int", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("cannot convert %v to int", value)
		}
	case model.ParamTypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to float", v)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot convert %v to float", value)
		}
	case model.ParamTypeBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "yes", "y":
				return true, nil
			default:
				return false, nil
			}
		case float64:
			return v != 0, nil
		default:
			return nil, fmt.Errorf("cannot convert %v to bool", value)
		}
	default:
		return value, nil
	}
}

// RandomSeed draws a seed in the engine's accepted range.
func RandomSeed() int {
	return int(rand.Int63n(1 << 32))
}
