package probe

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/retrovue/air/internal/decoder"
	"github.com/retrovue/air/internal/rational"
)

func TestCacheStoreAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe-cache.sqlite")
	cache, err := OpenCache(path, time.Hour)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	g := decoder.Geometry{
		Width: 1920, Height: 1080, DurationMs: 600_000,
		HasAudio: true, VideoFPS: rational.New(30000, 1001),
	}
	if err := cache.Store("asset://movie-1", g); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok := cache.Lookup("asset://movie-1")
	if !ok {
		t.Fatalf("expected a fresh cache hit")
	}
	if got != g {
		t.Fatalf("Lookup = %+v, want %+v", got, g)
	}

	if _, ok := cache.Lookup("asset://missing"); ok {
		t.Fatalf("expected a miss for an unstored asset")
	}
}

func TestCacheExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe-cache.sqlite")
	cache, err := OpenCache(path, 0) // ttl 0: every entry is immediately stale
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	g := decoder.Geometry{Width: 640, Height: 480, DurationMs: 1000, VideoFPS: rational.New(30, 1)}
	if err := cache.Store("asset://clip", g); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if _, ok := cache.Lookup("asset://clip"); ok {
		t.Fatalf("expected a zero-ttl entry to already be stale")
	}
}

func TestCacheOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe-cache.sqlite")
	cache, err := OpenCache(path, time.Hour)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	first := decoder.Geometry{Width: 640, Height: 480, DurationMs: 1000, VideoFPS: rational.New(30, 1)}
	second := decoder.Geometry{Width: 1920, Height: 1080, DurationMs: 2000, HasAudio: true, VideoFPS: rational.New(60, 1)}

	if err := cache.Store("asset://clip", first); err != nil {
		t.Fatalf("Store first: %v", err)
	}
	if err := cache.Store("asset://clip", second); err != nil {
		t.Fatalf("Store second: %v", err)
	}

	got, ok := cache.Lookup("asset://clip")
	if !ok {
		t.Fatalf("expected a hit after overwrite")
	}
	if got != second {
		t.Fatalf("Lookup = %+v, want overwritten %+v", got, second)
	}
}
