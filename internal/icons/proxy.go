// Package icons serves item icons to the local UI without leaking the
// browser's origin to the game CDN. Fetched bytes are cached on disk so a
// cold start does not re-download the whole icon set.
package icons

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ti-tracker/internal/logger"
)

// minGap spaces CDN requests out; the icon set is small and static, so
// there is no reason to look like a scraper.
const minGap = 150 * time.Millisecond

const maxIconBytes = 2 << 20

var ErrNoIcon = errors.New("icons: no icon for item")

// Proxy resolves an item id to icon bytes: memory, then disk, then CDN.
type Proxy struct {
	dir     string
	lookup  func(configBaseID int64) string // id -> CDN URL, "" when unknown
	http    *http.Client
	group   singleflight.Group
	mu      sync.Mutex
	mem     map[int64]cachedIcon
	failed  map[int64]struct{} // negative cache, cleared on restart
	lastReq time.Time
}

type cachedIcon struct {
	data        []byte
	contentType string
}

func NewProxy(dir string, lookup func(int64) string) *Proxy {
	return &Proxy{
		dir:    dir,
		lookup: lookup,
		http:   &http.Client{Timeout: 15 * time.Second},
		mem:    make(map[int64]cachedIcon),
		failed: make(map[int64]struct{}),
	}
}

// Get returns the icon bytes and content type for an item. Concurrent
// requests for the same id share one CDN fetch.
func (p *Proxy) Get(ctx context.Context, configBaseID int64) ([]byte, string, error) {
	p.mu.Lock()
	if ic, ok := p.mem[configBaseID]; ok {
		p.mu.Unlock()
		return ic.data, ic.contentType, nil
	}
	if _, bad := p.failed[configBaseID]; bad {
		p.mu.Unlock()
		return nil, "", ErrNoIcon
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(fmt.Sprint(configBaseID), func() (interface{}, error) {
		return p.load(ctx, configBaseID)
	})
	if err != nil {
		return nil, "", err
	}
	ic := v.(cachedIcon)
	return ic.data, ic.contentType, nil
}

func (p *Proxy) load(ctx context.Context, configBaseID int64) (cachedIcon, error) {
	if ic, err := p.readDisk(configBaseID); err == nil {
		p.remember(configBaseID, ic)
		return ic, nil
	}

	url := p.lookup(configBaseID)
	if url == "" {
		p.markFailed(configBaseID)
		return cachedIcon{}, ErrNoIcon
	}

	ic, err := p.fetch(ctx, configBaseID, url)
	if err != nil {
		// Context cancellation is the caller's problem, not the icon's.
		if ctx.Err() == nil {
			p.markFailed(configBaseID)
			logger.Warn("Icons", "fetch %d failed: %v", configBaseID, err)
		}
		return cachedIcon{}, err
	}
	p.writeDisk(configBaseID, ic)
	p.remember(configBaseID, ic)
	return ic, nil
}

func (p *Proxy) fetch(ctx context.Context, configBaseID int64, url string) (cachedIcon, error) {
	p.waitGap()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return cachedIcon{}, err
	}
	// The CDN 403s anything that does not look like the game's own site.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	req.Header.Set("Referer", "https://torchlight.xd.com/")
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/*;q=0.8")

	resp, err := p.http.Do(req)
	if err != nil {
		return cachedIcon{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cachedIcon{}, fmt.Errorf("icons: CDN returned %d for item %d", resp.StatusCode, configBaseID)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIconBytes))
	if err != nil {
		return cachedIcon{}, err
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "image/") {
		ct = http.DetectContentType(data)
	}
	return cachedIcon{data: data, contentType: ct}, nil
}

// waitGap enforces the minimum spacing between CDN hits.
func (p *Proxy) waitGap() {
	p.mu.Lock()
	wait := minGap - time.Since(p.lastReq)
	p.lastReq = time.Now().Add(wait)
	p.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
}

func (p *Proxy) remember(id int64, ic cachedIcon) {
	p.mu.Lock()
	p.mem[id] = ic
	p.mu.Unlock()
}

func (p *Proxy) markFailed(id int64) {
	p.mu.Lock()
	p.failed[id] = struct{}{}
	p.mu.Unlock()
}

func (p *Proxy) diskPath(id int64) string {
	return filepath.Join(p.dir, fmt.Sprintf("%d.img", id))
}

func (p *Proxy) readDisk(id int64) (cachedIcon, error) {
	data, err := os.ReadFile(p.diskPath(id))
	if err != nil {
		return cachedIcon{}, err
	}
	return cachedIcon{data: data, contentType: http.DetectContentType(data)}, nil
}

func (p *Proxy) writeDisk(id int64, ic cachedIcon) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return
	}
	tmp := p.diskPath(id) + ".tmp"
	if err := os.WriteFile(tmp, ic.data, 0o644); err != nil {
		return
	}
	os.Rename(tmp, p.diskPath(id))
}
