// Package cache provides caching for window responses and rendered previews.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	WindowCacheSizeMB int
	WindowTTL         time.Duration
	PreviewCacheSize  int
}

// Manager manages window and preview caches. Keys include the model
// generation, so a slice reset invalidates by construction rather than by
// explicit purge.
type Manager struct {
	windowCache  *bigcache.BigCache
	previewCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	windowCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.WindowTTL,
		CleanWindow:        cfg.WindowTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       256 * 1024, // 256KB per serialized window
		HardMaxCacheSize:   cfg.WindowCacheSizeMB,
		Verbose:            false,
	}

	windowCache, err := bigcache.New(context.Background(), windowCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create window cache: %w", err)
	}

	previewCache, err := lru.New[string, []byte](cfg.PreviewCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create preview cache: %w", err)
	}

	return &Manager{
		windowCache:  windowCache,
		previewCache: previewCache,
	}, nil
}

// GetWindow retrieves a serialized window response from cache.
func (m *Manager) GetWindow(key string) ([]byte, bool) {
	data, err := m.windowCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetWindow stores a serialized window response in cache.
func (m *Manager) SetWindow(key string, data []byte) error {
	return m.windowCache.Set(key, data)
}

// GetPreview retrieves a rendered preview from cache.
func (m *Manager) GetPreview(key string) ([]byte, bool) {
	return m.previewCache.Get(key)
}

// SetPreview stores a rendered preview in cache.
func (m *Manager) SetPreview(key string, data []byte) {
	m.previewCache.Add(key, data)
}

// WindowKey generates a cache key for a window response.
func WindowKey(dataset string, generation uint64, row0, col0, rows, cols int) string {
	return fmt.Sprintf("win:%s:g%d:%d,%d+%dx%d", dataset, generation, row0, col0, rows, cols)
}

// PreviewKey generates a cache key for a rendered preview.
func PreviewKey(dataset string, generation uint64, row0, col0, rows, cols int, colormap string) string {
	return fmt.Sprintf("prev:%s:g%d:%d,%d+%dx%d:%s", dataset, generation, row0, col0, rows, cols, colormap)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"window_cache_len":  m.windowCache.Len(),
		"window_cache_cap":  m.windowCache.Capacity(),
		"preview_cache_len": m.previewCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.windowCache.Close()
}
