package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage is the minimal envelope used for client ping/pong
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage reports one poll attempt for a running workflow.
// Attempt counts within the current poll round; MaxAttempts is that
// round's budget, so clients can render attempt/budget without knowing
// server config.
type WSProgressMessage struct {
	Type        string    `json:"type"`
	PromptID    string    `json:"promptId"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"maxAttempts,omitempty"`
	Status      JobStatus `json:"status"`
	CurrentStep string    `json:"currentStep,omitempty"`
}

// WSCompleteMessage carries the final run result, including the registered
// asset locator
type WSCompleteMessage struct {
	Type     string     `json:"type"`
	PromptID string     `json:"promptId"`
	Result   *RunResult `json:"result"`
}

// WSErrorMessage reports a terminal failure for the watched prompt
type WSErrorMessage struct {
	Type     string  `json:"type"`
	PromptID string  `json:"promptId"`
	Error    WSError `json:"error"`
}

// WSError carries a machine-readable code plus the engine diagnostics
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
