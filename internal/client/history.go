package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// NodeOutput is one node's output block, with field arrays kept raw until
// extraction decides which key to read.
type NodeOutput struct {
	ID     string
	Fields map[string]json.RawMessage
}

// NodeOutputs preserves the engine's node iteration order. History entries
// are JSON objects keyed by node id, and extraction ties break on the order
// the engine serialized them in, so a plain map will not do.
type NodeOutputs []NodeOutput

func (n *NodeOutputs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("outputs is not an object")
	}
	out := NodeOutputs{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("outputs has non-string node id")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		node := NodeOutput{ID: id}
		// Non-object node outputs are kept with nil fields so extraction
		// can skip them without losing ordering.
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err == nil {
			node.Fields = fields
		}
		out = append(out, node)
	}
	*n = out
	return nil
}

func (n NodeOutputs) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, node := range n {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(node.ID)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		fields, err := json.Marshal(node.Fields)
		if err != nil {
			return nil, err
		}
		b.Write(fields)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// Empty reports whether no node produced any output fields.
func (n NodeOutputs) Empty() bool {
	return len(n) == 0
}

// historyEntry is one prompt's record in the engine history. Status and
// Error stay raw because the engine has shipped several shapes for both.
type historyEntry struct {
	Outputs NodeOutputs     `json:"outputs"`
	Status  json.RawMessage `json:"status"`
	Error   json.RawMessage `json:"error"`
}

type statusKind int

const (
	statusUnknown statusKind = iota
	statusSuccess
	statusError
)

// statusInfo is the classifier verdict for one history status blob.
type statusInfo struct {
	kind        statusKind
	diagnostics string
}

// classifyStatus reads whatever status shape the engine produced. Newer
// builds send an object with status_str/completed/messages; older ones send
// a bare list of [type, data] pairs. Anything unrecognized is reported
// verbatim so the raw blob ends up in logs instead of being dropped.
func classifyStatus(raw json.RawMessage) statusInfo {
	if len(raw) == 0 || string(raw) == "null" {
		return statusInfo{kind: statusUnknown}
	}

	var structured struct {
		StatusStr string              `json:"status_str"`
		Completed *bool               `json:"completed"`
		Messages  [][]json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil && (structured.StatusStr != "" || structured.Completed != nil || structured.Messages != nil) {
		diag := summarizeMessages(structured.Messages)
		if structured.StatusStr == "error" || (structured.Completed != nil && !*structured.Completed) {
			if diag == "" {
				diag = string(raw)
			}
			return statusInfo{kind: statusError, diagnostics: diag}
		}
		if structured.StatusStr == "success" || (structured.Completed != nil && *structured.Completed) {
			return statusInfo{kind: statusSuccess}
		}
		for _, msg := range structured.Messages {
			if messageType(msg) == "execution_success" {
				return statusInfo{kind: statusSuccess}
			}
		}
		return statusInfo{kind: statusUnknown, diagnostics: diag}
	}

	// Legacy shape: a list of [type, data] entries.
	var legacy [][]json.RawMessage
	if err := json.Unmarshal(raw, &legacy); err == nil {
		for _, entry := range legacy {
			switch messageType(entry) {
			case "execution_error":
				return statusInfo{kind: statusError, diagnostics: summarizeMessages(legacy)}
			}
		}
		for _, entry := range legacy {
			if messageType(entry) == "execution_success" {
				return statusInfo{kind: statusSuccess}
			}
		}
		return statusInfo{kind: statusUnknown}
	}

	return statusInfo{kind: statusUnknown, diagnostics: string(raw)}
}

func messageType(entry []json.RawMessage) string {
	if len(entry) == 0 {
		return ""
	}
	var t string
	if err := json.Unmarshal(entry[0], &t); err != nil {
		return ""
	}
	return t
}

// summarizeMessages builds a one-paragraph diagnostic from execution_error
// payloads: failing node, exception type and message, plus the tail of the
// traceback when present.
func summarizeMessages(messages [][]json.RawMessage) string {
	var parts []string
	for _, msg := range messages {
		if messageType(msg) != "execution_error" || len(msg) < 2 {
			continue
		}
		var payload struct {
			NodeID           string   `json:"node_id"`
			NodeType         string   `json:"node_type"`
			ExceptionType    string   `json:"exception_type"`
			ExceptionMessage string   `json:"exception_message"`
			Traceback        []string `json:"traceback"`
		}
		if err := json.Unmarshal(msg[1], &payload); err != nil {
			parts = append(parts, string(msg[1]))
			continue
		}
		s := fmt.Sprintf("node %s (%s): %s: %s", payload.NodeID, payload.NodeType, payload.ExceptionType, payload.ExceptionMessage)
		if len(payload.Traceback) > 0 {
			s += " | " + strings.TrimSpace(payload.Traceback[len(payload.Traceback)-1])
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}
