package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/comfyforge/comfy-mcp/internal/model"
)

func TestMemoryRegisterAssignsIdentity(t *testing.T) {
	r := NewMemoryRegistry(time.Hour)
	rec := &model.AssetRecord{AssetURL: "http://host/view?filename=a.png", Filename: "a.png"}

	if err := r.Register(context.Background(), rec); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if rec.AssetID == "" {
		t.Error("expected an asset id to be assigned")
	}
	if rec.ExpiresAt.Before(rec.CreatedAt) {
		t.Error("expiry must be after creation")
	}

	got, err := r.Get(context.Background(), rec.AssetID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Filename != "a.png" {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestMemoryRegisterDedupesByURL(t *testing.T) {
	r := NewMemoryRegistry(time.Hour)
	url := "http://host/view?filename=same.png"

	first := &model.AssetRecord{AssetURL: url, Filename: "same.png"}
	if err := r.Register(context.Background(), first); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	second := &model.AssetRecord{AssetURL: url, Filename: "same.png"}
	if err := r.Register(context.Background(), second); err != nil {
		t.Fatalf("second Register failed: %v", err)
	}

	if second.AssetID != first.AssetID {
		t.Errorf("same URL should reuse the id: %s vs %s", first.AssetID, second.AssetID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("re-registration should keep the original creation time")
	}

	list, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected a single record, got %d", len(list))
	}
}

func TestMemoryExpiry(t *testing.T) {
	r := NewMemoryRegistry(time.Hour)
	current := time.Now()
	r.now = func() time.Time { return current }

	rec := &model.AssetRecord{AssetURL: "http://host/view?filename=old.png"}
	if err := r.Register(context.Background(), rec); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	current = current.Add(2 * time.Hour)

	if _, err := r.Get(context.Background(), rec.AssetID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired record should be ErrNotFound, got %v", err)
	}
	if _, err := r.GetByURL(context.Background(), rec.AssetURL); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired record should be ErrNotFound by URL, got %v", err)
	}

	removed, err := r.CleanupExpired(context.Background())
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removal, got %d", removed)
	}
}

func TestMemoryListNewestFirst(t *testing.T) {
	r := NewMemoryRegistry(time.Hour)
	current := time.Now()
	r.now = func() time.Time { return current }

	for i, name := range []string{"a.png", "b.png", "c.png"} {
		current = current.Add(time.Duration(i+1) * time.Minute)
		rec := &model.AssetRecord{AssetURL: "http://host/" + name, Filename: name}
		if err := r.Register(context.Background(), rec); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	list, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}
	if list[0].Filename != "c.png" || list[2].Filename != "a.png" {
		t.Errorf("list not newest first: %s, %s, %s", list[0].Filename, list[1].Filename, list[2].Filename)
	}
}

func TestMemoryGetUnknown(t *testing.T) {
	r := NewMemoryRegistry(time.Hour)
	if _, err := r.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
