package model

import (
	"path"
	"strings"
	"time"
)

// OutputAsset is one file reference extracted from a workflow's node outputs.
type OutputAsset struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Kind      string `json:"type,omitempty"`
}

// MimeType infers the content type from the filename extension. Unknown
// extensions fall back to octet-stream rather than guessing.
func (a OutputAsset) MimeType() string {
	switch strings.ToLower(path.Ext(a.Filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}

// AssetRecord is the registry's view of a generated asset. Records expire
// after the configured TTL; expired records behave as if never registered.
type AssetRecord struct {
	AssetID    string    `json:"asset_id"`
	AssetURL   string    `json:"asset_url"`
	Filename   string    `json:"filename"`
	Subfolder  string    `json:"subfolder,omitempty"`
	FolderType string    `json:"folder_type,omitempty"`
	MimeType   string    `json:"mime_type,omitempty"`
	BytesSize  int64     `json:"bytes_size,omitempty"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	PromptID   string    `json:"prompt_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (r *AssetRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
