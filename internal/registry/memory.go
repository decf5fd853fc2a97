package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comfyforge/comfy-mcp/internal/model"
)

// MemoryRegistry keeps asset records in process memory. It is the default
// backend when Redis is not configured; records do not survive restarts.
type MemoryRegistry struct {
	mu      sync.RWMutex
	ttl     time.Duration
	records map[string]*model.AssetRecord
	byURL   map[string]string // asset URL -> asset id
	now     func() time.Time
}

// NewMemoryRegistry creates an in-memory registry with the given record TTL.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		ttl:     ttl,
		records: make(map[string]*model.AssetRecord),
		byURL:   make(map[string]string),
		now:     time.Now,
	}
}

// Register stores a record, assigning id, creation time and expiry.
// Re-registering the same asset URL reuses the existing id so repeated runs
// of a cached workflow do not multiply records.
func (r *MemoryRegistry) Register(ctx context.Context, rec *model.AssetRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existingID, ok := r.byURL[rec.AssetURL]; ok {
		if existing, ok := r.records[existingID]; ok && !existing.Expired(now) {
			rec.AssetID = existing.AssetID
			rec.CreatedAt = existing.CreatedAt
			rec.ExpiresAt = now.Add(r.ttl)
			r.records[existingID] = rec
			return nil
		}
	}

	rec.AssetID = uuid.New().String()
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(r.ttl)
	r.records[rec.AssetID] = rec
	r.byURL[rec.AssetURL] = rec.AssetID
	return nil
}

func (r *MemoryRegistry) Get(ctx context.Context, assetID string) (*model.AssetRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[assetID]
	if !ok || rec.Expired(r.now()) {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRegistry) GetByURL(ctx context.Context, assetURL string) (*model.AssetRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byURL[assetURL]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := r.records[id]
	if !ok || rec.Expired(r.now()) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns live records sorted newest first.
func (r *MemoryRegistry) List(ctx context.Context) ([]*model.AssetRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	out := make([]*model.AssetRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Expired(now) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CleanupExpired drops expired records and returns how many went away.
func (r *MemoryRegistry) CleanupExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := 0
	for id, rec := range r.records {
		if rec.Expired(now) {
			delete(r.records, id)
			if r.byURL[rec.AssetURL] == id {
				delete(r.byURL, rec.AssetURL)
			}
			removed++
		}
	}
	return removed, nil
}
