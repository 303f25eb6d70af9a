package icons

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

// 1x1 transparent PNG.
var pngBytes = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4, 0x89, 0x00, 0x00, 0x00,
	0x0D, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9C, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4E, 0x44, 0xAE, 0x42, 0x60, 0x82,
}

func TestProxy_FetchCachesToDiskAndMemory(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Referer") == "" {
			t.Error("CDN fetch must carry a Referer")
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	dir := t.TempDir()
	p := NewProxy(dir, func(int64) string { return srv.URL + "/icon.png" })

	data, ct, err := p.Get(context.Background(), 100310)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ct != "image/png" || len(data) != len(pngBytes) {
		t.Fatalf("got %d bytes of %q", len(data), ct)
	}
	if _, err := os.Stat(filepath.Join(dir, "100310.img")); err != nil {
		t.Fatalf("icon not persisted: %v", err)
	}

	// Second call is served from memory.
	if _, _, err := p.Get(context.Background(), 100310); err != nil {
		t.Fatalf("cached Get: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("CDN hits = %d, want 1", hits.Load())
	}

	// A fresh proxy over the same dir never touches the CDN.
	p2 := NewProxy(dir, func(int64) string { return srv.URL + "/icon.png" })
	if _, _, err := p2.Get(context.Background(), 100310); err != nil {
		t.Fatalf("disk Get: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("CDN hits after disk read = %d, want 1", hits.Load())
	}
}

func TestProxy_ConcurrentRequestsShareOneFetch(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	p := NewProxy(t.TempDir(), func(int64) string { return srv.URL + "/icon.png" })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := p.Get(context.Background(), 220041); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()
	if hits.Load() != 1 {
		t.Fatalf("CDN hits = %d, want 1 for 8 concurrent requests", hits.Load())
	}
}

func TestProxy_NegativeCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := NewProxy(t.TempDir(), func(int64) string { return srv.URL + "/missing.png" })
	if _, _, err := p.Get(context.Background(), 1); err == nil {
		t.Fatal("expected an error for a 404 icon")
	}
	if _, _, err := p.Get(context.Background(), 1); err != ErrNoIcon {
		t.Fatalf("second miss = %v, want ErrNoIcon without a CDN hit", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("CDN hits = %d, want 1", hits.Load())
	}
}

func TestProxy_UnknownItem(t *testing.T) {
	p := NewProxy(t.TempDir(), func(int64) string { return "" })
	if _, _, err := p.Get(context.Background(), 42); err != ErrNoIcon {
		t.Fatalf("err = %v, want ErrNoIcon", err)
	}
}
