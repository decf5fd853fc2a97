package client

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/comfyforge/comfy-mcp/internal/model"
)

// DefaultPreferredKeys is the search order when a workflow gives no hint
// about which output field carries the result.
var DefaultPreferredKeys = []string{"images", "image", "gifs", "gif", "audio", "audios", "files"}

// NoMatchingOutputError reports an extraction miss, carrying the keys each
// node actually produced so the caller can see what was there.
type NoMatchingOutputError struct {
	PreferredKeys []string
	NodeKeys      map[string][]string
}

func (e *NoMatchingOutputError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "no outputs matched preferred keys %v; available:", e.PreferredKeys)
	ids := make([]string, 0, len(e.NodeKeys))
	for id := range e.NodeKeys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&sb, " node %s=%v", id, e.NodeKeys[id])
	}
	return sb.String()
}

// ExtractFirstAsset finds the first usable file reference in the outputs:
// nodes in engine order, preferred keys in the given order within each node,
// first element of the winning array. Entries without a filename are
// skipped. preferredKeys may be nil to use the default order.
func ExtractFirstAsset(outputs NodeOutputs, preferredKeys []string) (model.OutputAsset, error) {
	if len(preferredKeys) == 0 {
		preferredKeys = DefaultPreferredKeys
	}

	for _, node := range outputs {
		if node.Fields == nil {
			continue
		}
		for _, key := range preferredKeys {
			raw, ok := node.Fields[key]
			if !ok {
				continue
			}
			var assets []model.OutputAsset
			if err := json.Unmarshal(raw, &assets); err != nil || len(assets) == 0 {
				continue
			}
			// Only the first element counts; a first element without a
			// filename disqualifies the key, not just the entry.
			if assets[0].Filename == "" {
				continue
			}
			return assets[0], nil
		}
	}

	nodeKeys := make(map[string][]string, len(outputs))
	for _, node := range outputs {
		keys := make([]string, 0, len(node.Fields))
		for k := range node.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		nodeKeys[node.ID] = keys
	}
	return model.OutputAsset{}, &NoMatchingOutputError{PreferredKeys: preferredKeys, NodeKeys: nodeKeys}
}
