package cache

import (
	"testing"
	"time"
)

func TestWindowKey(t *testing.T) {
	t.Run("generationChangesKey", func(t *testing.T) {
		k1 := WindowKey("ds", 0, 0, 0, 10, 10)
		k2 := WindowKey("ds", 1, 0, 0, 10, 10)
		if k1 == k2 {
			t.Fatalf("keys for different generations collide: %q", k1)
		}
	})

	t.Run("stable", func(t *testing.T) {
		k1 := WindowKey("ds", 3, 5, 7, 10, 20)
		k2 := WindowKey("ds", 3, 5, 7, 10, 20)
		if k1 != k2 {
			t.Fatalf("expected stable key, got %q vs %q", k1, k2)
		}
	})
}

func TestManagerRoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		WindowCacheSizeMB: 16,
		WindowTTL:         1 * time.Minute,
		PreviewCacheSize:  10,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	key := WindowKey("ds", 0, 0, 0, 5, 5)
	if _, ok := m.GetWindow(key); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	if err := m.SetWindow(key, []byte("payload")); err != nil {
		t.Fatalf("SetWindow: %v", err)
	}
	got, ok := m.GetWindow(key)
	if !ok || string(got) != "payload" {
		t.Fatalf("GetWindow = %q, %v", got, ok)
	}

	pkey := PreviewKey("ds", 0, 0, 0, 5, 5, "viridis")
	m.SetPreview(pkey, []byte{1, 2, 3})
	if data, ok := m.GetPreview(pkey); !ok || len(data) != 3 {
		t.Fatalf("GetPreview = %v, %v", data, ok)
	}
}
