package registry

import (
	"context"
	"errors"

	"github.com/comfyforge/comfy-mcp/internal/model"
)

// ErrNotFound is returned for unknown or expired assets. Expired records
// are indistinguishable from never-registered ones on purpose.
var ErrNotFound = errors.New("asset not found")

// Registry stores generated-asset records for later lookup by id or URL.
// Implementations assign the asset id and expiry on Register.
type Registry interface {
	Register(ctx context.Context, rec *model.AssetRecord) error
	Get(ctx context.Context, assetID string) (*model.AssetRecord, error)
	GetByURL(ctx context.Context, assetURL string) (*model.AssetRecord, error)
	List(ctx context.Context) ([]*model.AssetRecord, error)
	CleanupExpired(ctx context.Context) (int, error)
}
