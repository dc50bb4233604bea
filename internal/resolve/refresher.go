package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/phonotek/phonotek/internal/catalogue"
)

// ErrNotFound means the backend has no container for the record. Callers
// must treat it as terminal and disable playback for the track; retrying
// will not conjure the container up.
var ErrNotFound = errors.New("resolve: container not found")

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

type refreshKey struct {
	recordID string
	field    string
}

type refreshEntry struct {
	src PlayableSource
	at  time.Time
}

// Refresher re-mints authorized container URLs when stored ones go stale.
// It keeps its own TTL cache, separate from the probe cache, because a URL
// can stay syntactically resolvable while its authorization expires.
type Refresher struct {
	minter catalogue.ContainerMinter
	ttl    time.Duration
	log    *slog.Logger

	mu    sync.Mutex
	cache map[refreshKey]refreshEntry
}

func NewRefresher(minter catalogue.ContainerMinter, ttl time.Duration, log *slog.Logger) *Refresher {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{
		minter: minter,
		ttl:    ttl,
		log:    log,
		cache:  make(map[refreshKey]refreshEntry),
	}
}

// Refresh returns a fresh authorized source for the record. Either field or
// candidates selects which stored reference the backend should mint from.
// force bypasses and invalidates the cached entry before asking the backend.
func (r *Refresher) Refresh(ctx context.Context, recordID, field string, candidates []string, force bool) (PlayableSource, error) {
	key := refreshKey{recordID: recordID, field: field}
	if field == "" {
		key.field = strings.Join(candidates, ",")
	}

	r.mu.Lock()
	if force {
		delete(r.cache, key)
	} else if e, ok := r.cache[key]; ok && time.Since(e.at) < r.ttl {
		r.mu.Unlock()
		return e.src, nil
	}
	r.mu.Unlock()

	url, mintedField, err := r.minter.MintContainerURL(ctx, recordID, field, candidates)
	if err != nil {
		if catalogue.IsNotFound(err) {
			return PlayableSource{}, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
		}
		return PlayableSource{}, fmt.Errorf("mint container url: %w", err)
	}

	src := PlayableSource{URL: url, Field: mintedField}
	r.mu.Lock()
	r.cache[key] = refreshEntry{src: src, at: time.Now()}
	r.mu.Unlock()
	r.log.Debug("container url refreshed", "record", recordID, "field", mintedField, "forced", force)
	return src, nil
}

// Invalidate drops a cached entry without contacting the backend.
func (r *Refresher) Invalidate(recordID, field string) {
	r.mu.Lock()
	delete(r.cache, refreshKey{recordID: recordID, field: field})
	r.mu.Unlock()
}
