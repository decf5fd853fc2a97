package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/comfyforge/comfy-mcp/internal/model"
)

// RedisRegistry stores asset records as JSON values with a TTL, so expiry
// is enforced by Redis itself and CleanupExpired has nothing to do.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl}
}

func assetKey(assetID string) string {
	return "asset:" + assetID
}

// urlKey hashes the asset URL so arbitrary query strings make safe keys.
func urlKey(assetURL string) string {
	sum := sha256.Sum256([]byte(assetURL))
	return "asset:url:" + hex.EncodeToString(sum[:16])
}

func (r *RedisRegistry) Register(ctx context.Context, rec *model.AssetRecord) error {
	now := time.Now()

	// Reuse the id when the same URL was registered and has not expired.
	if id, err := r.client.Get(ctx, urlKey(rec.AssetURL)).Result(); err == nil {
		if existing, err := r.Get(ctx, id); err == nil {
			rec.AssetID = existing.AssetID
			rec.CreatedAt = existing.CreatedAt
		}
	}
	if rec.AssetID == "" {
		rec.AssetID = uuid.New().String()
		rec.CreatedAt = now
	}
	rec.ExpiresAt = now.Add(r.ttl)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal asset record: %w", err)
	}
	if err := r.client.Set(ctx, assetKey(rec.AssetID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store asset record: %w", err)
	}
	if err := r.client.Set(ctx, urlKey(rec.AssetURL), rec.AssetID, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store asset url index: %w", err)
	}
	if err := r.client.SAdd(ctx, "assets:index", rec.AssetID).Err(); err != nil {
		return fmt.Errorf("failed to index asset: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, assetID string) (*model.AssetRecord, error) {
	data, err := r.client.Get(ctx, assetKey(assetID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset record: %w", err)
	}
	var rec model.AssetRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset record: %w", err)
	}
	return &rec, nil
}

func (r *RedisRegistry) GetByURL(ctx context.Context, assetURL string) (*model.AssetRecord, error) {
	id, err := r.client.Get(ctx, urlKey(assetURL)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asset url: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *RedisRegistry) List(ctx context.Context) ([]*model.AssetRecord, error) {
	ids, err := r.client.SMembers(ctx, "assets:index").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	out := make([]*model.AssetRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := r.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// CleanupExpired prunes index members whose records have expired out of
// Redis.
func (r *RedisRegistry) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := r.client.SMembers(ctx, "assets:index").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list assets: %w", err)
	}
	removed := 0
	for _, id := range ids {
		exists, err := r.client.Exists(ctx, assetKey(id)).Result()
		if err != nil {
			return removed, err
		}
		if exists == 0 {
			if err := r.client.SRem(ctx, "assets:index", id).Err(); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
