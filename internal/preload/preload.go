// Package preload keeps a small pool of warmed media handles so that starting
// playback of a row the user is hovering over does not pay the first-byte
// cost. The pool is bounded; when full, the handle that has been in the pool
// longest is released, regardless of how recently it was looked at.
package preload

import (
	"context"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Handle is a warmed media source. Release must be safe to call more than
// once; the pool calls it exactly once per eviction.
type Handle interface {
	URL() string
	Release()
}

// Factory builds a handle for a source URL. It is called outside the pool
// lock and may block on the network.
type Factory func(ctx context.Context, url string) (Handle, error)

type Pool struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, Handle]
	factory Factory
	log     *slog.Logger
}

func NewPool(limit int, factory Factory, log *slog.Logger) (*Pool, error) {
	if limit <= 0 {
		limit = 4
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{factory: factory, log: log}
	cache, err := lru.NewWithEvict[string, Handle](limit, func(url string, h Handle) {
		p.log.Debug("preload released", "url", url)
		h.Release()
	})
	if err != nil {
		return nil, err
	}
	p.cache = cache
	return p, nil
}

// Ensure warms url if it is not already pooled. A pooled url is left exactly
// as it is: no handle is rebuilt and its eviction position does not move, so
// the pool always evicts in insertion order.
func (p *Pool) Ensure(ctx context.Context, url string) error {
	if url == "" {
		return nil
	}
	p.mu.Lock()
	if p.cache.Contains(url) {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	h, err := p.factory(ctx, url)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache.Contains(url) {
		// Another caller warmed it while we were fetching.
		h.Release()
		return nil
	}
	p.cache.Add(url, h)
	p.log.Debug("preload warmed", "url", url, "pooled", p.cache.Len())
	return nil
}

func (p *Pool) Contains(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Contains(url)
}

// Drop releases and removes a single handle, if pooled.
func (p *Pool) Drop(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(url)
}

// Clear releases every pooled handle.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}
