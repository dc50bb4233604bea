package preload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Prefetcher is the default handle factory. It pulls the leading bytes of a
// source into memory, which warms any caches between us and the origin and
// gives the player an instant first read.
type Prefetcher struct {
	Client  *http.Client
	Bearer  string
	Bytes   int64
	Timeout time.Duration
}

const defaultPrefetchBytes = 64 << 10

func (pf *Prefetcher) client() *http.Client {
	if pf.Client != nil {
		return pf.Client
	}
	return http.DefaultClient
}

func (pf *Prefetcher) limit() int64 {
	if pf.Bytes > 0 {
		return pf.Bytes
	}
	return defaultPrefetchBytes
}

func (pf *Prefetcher) Fetch(ctx context.Context, raw string) (Handle, error) {
	if pf.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pf.Timeout)
		defer cancel()
	}
	if strings.HasPrefix(raw, "/") {
		return pf.fetchFile(raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("preload %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
		return pf.fetchHTTP(ctx, raw)
	case "file":
		return pf.fetchFile(u.Path)
	default:
		return nil, fmt.Errorf("preload %q: unsupported scheme", raw)
	}
}

func (pf *Prefetcher) fetchHTTP(ctx context.Context, raw string) (Handle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", pf.limit()-1))
	if pf.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+pf.Bearer)
	}
	resp, err := pf.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.CopyN(io.Discard, resp.Body, 512)
		return nil, fmt.Errorf("preload %q: status %d", raw, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, pf.limit()))
	if err != nil {
		return nil, err
	}
	return newWarmHandle(raw, data), nil
}

func (pf *Prefetcher) fetchFile(path string) (Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, pf.limit()))
	if err != nil {
		return nil, err
	}
	return newWarmHandle(path, data), nil
}

type warmHandle struct {
	url  string
	data []byte
	once sync.Once
}

func newWarmHandle(url string, data []byte) *warmHandle {
	return &warmHandle{url: url, data: data}
}

func (h *warmHandle) URL() string { return h.url }

func (h *warmHandle) Size() int { return len(h.data) }

func (h *warmHandle) Release() {
	h.once.Do(func() { h.data = nil })
}
