package imaging

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

// FetchFunc downloads a URL and returns its raw bytes.
type FetchFunc func(ctx context.Context, rawURL string) ([]byte, error)

// Encoder bundles the preview ladder with the cache and a fetch function so
// callers can hand over raw bytes, an engine URL, or a local file path.
type Encoder struct {
	cache *Cache
	fetch FetchFunc
}

// NewEncoder creates an Encoder. fetch may be nil if URL sources are never
// used.
func NewEncoder(cache *Cache, fetch FetchFunc) *Encoder {
	return &Encoder{cache: cache, fetch: fetch}
}

// EncodeBytes runs the preview ladder over raw image bytes, consulting the
// cache under cacheKey when non-empty.
func (e *Encoder) EncodeBytes(src []byte, opts PreviewOptions, cacheKey string) (*EncodedPreview, error) {
	if cacheKey != "" {
		if p, ok := e.cache.Get(cacheKey); ok {
			log.Printf("[Imaging] Preview cache hit: %s", cacheKey)
			return p, nil
		}
	}
	p, err := EncodePreview(src, opts)
	if err != nil {
		return nil, err
	}
	if cacheKey != "" {
		e.cache.Put(cacheKey, p)
	}
	return p, nil
}

// EncodeSource resolves a string source (http(s) URL or file path) and
// encodes it.
func (e *Encoder) EncodeSource(ctx context.Context, source string, opts PreviewOptions, cacheKey string) (*EncodedPreview, error) {
	if cacheKey != "" {
		if p, ok := e.cache.Get(cacheKey); ok {
			log.Printf("[Imaging] Preview cache hit: %s", cacheKey)
			return p, nil
		}
	}
	src, err := e.resolve(ctx, source)
	if err != nil {
		return nil, err
	}
	return e.EncodeBytes(src, opts, cacheKey)
}

func (e *Encoder) resolve(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		if e.fetch == nil {
			return nil, fmt.Errorf("no fetcher configured for URL sources")
		}
		return e.fetch(ctx, source)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read image source: %w", err)
	}
	return data, nil
}
