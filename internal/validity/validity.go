// Package validity pre-screens albums for playability by probing a small
// sample of their tracks. Full per-track validation of every album on a
// results page is too slow; two tracks are enough to tell a dead album from
// a live one, revalidated only after the cached verdict ages out.
package validity

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phonotek/phonotek/internal/catalogue"
	"github.com/phonotek/phonotek/internal/probe"
	"github.com/phonotek/phonotek/internal/resolve"
)

type Status int

const (
	Unknown Status = iota
	Pending
	Valid
	Invalid
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// IdentityKey is the durable grouping key for "the same album". Catalogue
// numbers survive re-imports with inconsistent title metadata, so they win
// when present; otherwise the normalized title and artist pair stands in.
func IdentityKey(catalogueNumber, title, artist string) string {
	if n := normalize(catalogueNumber); n != "" {
		return "cat:" + n
	}
	return "ta:" + normalize(title) + "|" + normalize(artist)
}

// KeyForRecord derives the identity key from a track's album fields.
func KeyForRecord(rec catalogue.TrackRecord) string {
	return IdentityKey(rec.CatalogueNumber, rec.AlbumTitle, rec.AlbumArtist)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

type ctxProber interface {
	Probe(ctx context.Context, rawURL string) probe.Outcome
}

type entry struct {
	status     Status
	observedAt time.Time
	running    bool
	done       chan struct{}
}

type Aggregator struct {
	resolver resolve.Resolver
	prober   ctxProber
	ttl      time.Duration
	sample   int
	log      *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type Options struct {
	// TTL bounds how long a terminal verdict is trusted. Default 10 minutes.
	TTL time.Duration
	// Sample caps how many distinct track URLs are probed per album.
	// Default 2.
	Sample int
	Logger *slog.Logger
}

func New(resolver resolve.Resolver, prober ctxProber, opts Options) *Aggregator {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.Sample <= 0 {
		opts.Sample = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Aggregator{
		resolver: resolver,
		prober:   prober,
		ttl:      opts.TTL,
		sample:   opts.Sample,
		log:      opts.Logger,
		entries:  map[string]*entry{},
	}
}

// EnsureValidated starts a validation run for the album the records belong
// to, unless one is already running or a fresh verdict exists. It returns
// the album's identity key immediately; the run itself is asynchronous.
func (a *Aggregator) EnsureValidated(ctx context.Context, recs []catalogue.TrackRecord) string {
	if len(recs) == 0 {
		return ""
	}
	key := KeyForRecord(recs[0])

	a.mu.Lock()
	e, ok := a.entries[key]
	if !ok {
		e = &entry{status: Pending}
		a.entries[key] = e
	}
	if e.running {
		a.mu.Unlock()
		return key
	}
	if e.status == Valid || e.status == Invalid {
		if time.Since(e.observedAt) < a.ttl {
			a.mu.Unlock()
			return key
		}
		// Stale verdict: keep it visible while revalidating.
	}
	e.running = true
	e.done = make(chan struct{})
	done := e.done
	a.mu.Unlock()

	// The run outlives the caller; a canceled listing must not turn into a
	// cached Invalid verdict.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		status := a.validate(runCtx, key, recs)
		a.mu.Lock()
		e.status = status
		e.observedAt = time.Now()
		e.running = false
		a.mu.Unlock()
	}()
	return key
}

func (a *Aggregator) validate(ctx context.Context, key string, recs []catalogue.TrackRecord) Status {
	urls := make([]string, 0, a.sample)
	seen := map[string]bool{}
	for _, rec := range recs {
		if len(urls) >= a.sample {
			break
		}
		src, ok := a.resolver.Resolve(rec.AudioField)
		if !ok {
			// An album is only as good as its most broken sampled track.
			a.log.Debug("album invalid, unresolvable track", "key", key, "record", rec.RecordID)
			return Invalid
		}
		if seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		urls = append(urls, src.URL)
	}
	if len(urls) == 0 {
		return Invalid
	}

	var anyOK atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range urls {
		u := u
		g.Go(func() error {
			if a.prober.Probe(gctx, u).OK {
				anyOK.Store(true)
			}
			return nil
		})
	}
	g.Wait()

	if anyOK.Load() {
		return Valid
	}
	a.log.Debug("album invalid, no sampled probe succeeded", "key", key, "sampled", len(urls))
	return Invalid
}

// CurrentState answers without touching the network. A stale verdict is
// still reported as-is; callers that need certainty trigger EnsureValidated
// and check again later.
func (a *Aggregator) CurrentState(key string) Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[key]
	if !ok {
		return Unknown
	}
	return e.status
}

// Wait blocks until the in-flight run for key finishes, if any. It returns
// immediately when no run is active.
func (a *Aggregator) Wait(key string) {
	a.mu.Lock()
	e, ok := a.entries[key]
	var done chan struct{}
	if ok && e.running {
		done = e.done
	}
	a.mu.Unlock()
	if done != nil {
		<-done
	}
}
