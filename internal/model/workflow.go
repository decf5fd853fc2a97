package model

// Node is a single node in an API-format workflow graph.
type Node struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
	Meta      map[string]interface{} `json:"_meta,omitempty"`
}

// Graph is an API-format workflow: node id -> node.
type Graph map[string]*Node

// ParamType classifies a template placeholder.
type ParamType string

const (
	ParamTypeString ParamType = "string"
	ParamTypeInt    ParamType = "int"
	ParamTypeFloat  ParamType = "float"
	ParamTypeBool   ParamType = "bool"
)

// Binding points at one graph input a parameter writes into.
type Binding struct {
	NodeID string `json:"node_id"`
	Input  string `json:"input"`
}

// Parameter is one placeholder-derived workflow parameter. A parameter may
// bind to several inputs when the same placeholder token appears more than
// once in the graph.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Bindings    []Binding `json:"bindings"`
}

// ToolDefinition describes one workflow template as an invocable tool.
type ToolDefinition struct {
	WorkflowID  string      `json:"workflow_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  []Parameter `json:"parameters"`
}
