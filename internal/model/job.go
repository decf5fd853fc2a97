package model

import "time"

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
)

// Job tracks one workflow execution on the generation engine. The engine's
// prompt id doubles as the job id so callers can re-poll with the value
// returned from the initial run.
type Job struct {
	PromptID      string     `json:"prompt_id"`
	WorkflowID    string     `json:"workflow_id"`
	Status        JobStatus  `json:"status"`
	PreferredKeys []string   `json:"preferred_keys,omitempty"`
	Attempts      int        `json:"attempts"`
	Error         string     `json:"error,omitempty"`
	Asset         *RunResult `json:"asset,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusTimedOut
}

// RunResult is the response shape shared by every generation entry point.
// Status is "completed", "running" or "failed"; the asset fields are only
// populated on completion.
type RunResult struct {
	Status            string `json:"status"`
	JobID             string `json:"job_id,omitempty"`
	WorkflowID        string `json:"workflow_id,omitempty"`
	AssetID           string `json:"asset_id,omitempty"`
	AssetURL          string `json:"asset_url,omitempty"`
	Filename          string `json:"filename,omitempty"`
	MimeType          string `json:"mime_type,omitempty"`
	BytesSize         int64  `json:"bytes_size,omitempty"`
	InlinePreviewB64  string `json:"inline_preview_b64,omitempty"`
	InlinePreviewMime string `json:"inline_preview_mime,omitempty"`
	Error             string `json:"error,omitempty"`
	Message           string `json:"message,omitempty"`
}
