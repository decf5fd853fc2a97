package imaging

import (
	"fmt"
	"sync"
	"testing"
)

func testPreview(tag string) *EncodedPreview {
	return &EncodedPreview{B64: tag, MimeType: "image/webp"}
}

func TestCacheKey(t *testing.T) {
	key := CacheKey("http://host/view?filename=a.png", 512, 70)
	want := "http://host/view?filename=a.png:512:webp:70"
	if key != want {
		t.Errorf("CacheKey = %q, want %q", key, want)
	}
}

func TestCacheGetMiss(t *testing.T) {
	c := NewCache(10)
	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss on empty cache")
	}
}

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	c := NewCache(100)
	for i := 0; i < 101; i++ {
		c.Put(fmt.Sprintf("key-%d", i), testPreview("p"))
	}
	if c.Len() != 100 {
		t.Fatalf("expected exactly 100 entries after 101 inserts, got %d", c.Len())
	}
	if _, ok := c.Get("key-0"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("key-1"); !ok {
		t.Error("second entry should survive a single eviction")
	}
	if _, ok := c.Get("key-100"); !ok {
		t.Error("newest entry should be present")
	}
}

func TestCacheReinsertKeepsPosition(t *testing.T) {
	c := NewCache(2)
	c.Put("a", testPreview("a1"))
	c.Put("b", testPreview("b"))

	// Updating "a" must not refresh its eviction slot.
	c.Put("a", testPreview("a2"))
	if got, _ := c.Get("a"); got.B64 != "a2" {
		t.Errorf("expected updated value, got %q", got.B64)
	}

	c.Put("c", testPreview("c"))
	if _, ok := c.Get("a"); ok {
		t.Error("'a' should be evicted first despite the update")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("'b' should survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("'c' should be present")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache(50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("g%d-k%d", g, i%60)
				c.Put(key, testPreview(key))
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 50 {
		t.Errorf("cache exceeded capacity under concurrency: %d", c.Len())
	}
}
