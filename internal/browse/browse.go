// Package browse holds the transient listing state behind the search and
// explore surfaces: the last submitted query and the listing it produced.
// Replacing a listing discards the previous rows wholesale; probe and
// validity caches live elsewhere and survive the swap.
package browse

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/phonotek/phonotek/internal/catalogue"
	"github.com/phonotek/phonotek/internal/listing"
	"github.com/phonotek/phonotek/internal/resolve"
)

const defaultPageSize = 100

// Options configures a Browser. Source is required.
type Options struct {
	Source   catalogue.Source
	Resolver resolve.Resolver
	PageSize int
	Logger   *slog.Logger
}

// Browser navigates one catalogue source and tracks the current listing.
type Browser struct {
	source   catalogue.Source
	resolver resolve.Resolver
	pageSize int
	log      *slog.Logger

	mu      sync.Mutex
	lastQ   string
	cursor  string
	current listing.Listing
}

func New(opts Options) *Browser {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Browser{
		source:   opts.Source,
		resolver: opts.Resolver,
		pageSize: opts.PageSize,
		log:      opts.Logger,
	}
}

// Search replaces the current listing with results for q. A blank query
// clears the stored query and all listing state, then falls back to a
// random-songs draw; the clear happens before the draw and survives its
// failure.
func (b *Browser) Search(ctx context.Context, q string) (listing.Listing, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		b.mu.Lock()
		b.lastQ = ""
		b.cursor = ""
		b.current = nil
		b.mu.Unlock()
		recs, err := b.source.RandomSongs(ctx, b.pageSize)
		if err != nil {
			return nil, err
		}
		l := listing.NewResults("random", recs, b.resolver)
		b.mu.Lock()
		b.current = l
		b.mu.Unlock()
		return l, nil
	}

	page, err := b.source.Search(ctx, q, catalogue.ListReq{PageSize: b.pageSize})
	if err != nil {
		return nil, err
	}
	l := listing.NewResults("search:"+q, page.Items, b.resolver)
	b.mu.Lock()
	b.lastQ = q
	b.cursor = page.NextCursor
	b.current = l
	b.mu.Unlock()
	b.log.Debug("search", slog.String("q", q), slog.Int("hits", len(page.Items)))
	return l, nil
}

// More extends the current search listing with the next page and reports
// how many rows were added. It is a no-op when nothing further can be
// fetched or the listing was replaced since the last call.
func (b *Browser) More(ctx context.Context) (int, error) {
	b.mu.Lock()
	q, cursor := b.lastQ, b.cursor
	cur, ok := b.current.(*listing.Results)
	b.mu.Unlock()
	if q == "" || cursor == "" || !ok {
		return 0, nil
	}

	page, err := b.source.Search(ctx, q, catalogue.ListReq{Cursor: cursor, PageSize: b.pageSize})
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != listing.Listing(cur) || b.lastQ != q {
		// Listing replaced while the page was in flight; drop it.
		return 0, nil
	}
	cur.SetRecords(append(cur.Records(), page.Items...))
	b.cursor = page.NextCursor
	return len(page.Items), nil
}

// OpenAlbum replaces the current listing with the album's tracklist.
func (b *Browser) OpenAlbum(ctx context.Context, albumID string) (listing.Listing, error) {
	recs, err := b.source.AlbumTracks(ctx, albumID)
	if err != nil {
		return nil, err
	}
	l := listing.NewTracklist(albumID, recs, b.resolver)
	b.mu.Lock()
	b.cursor = ""
	b.current = l
	b.mu.Unlock()
	return l, nil
}

// OpenPlaylist replaces the current listing with the playlist's rows.
func (b *Browser) OpenPlaylist(ctx context.Context, playlistID string, kind catalogue.PlaylistKind) (listing.Listing, error) {
	recs, err := b.source.PlaylistTracks(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	l := listing.NewPlaylist(playlistID, kind, recs, b.resolver)
	b.mu.Lock()
	b.cursor = ""
	b.current = l
	b.mu.Unlock()
	return l, nil
}

// Current returns the listing in view, or nil when none is loaded.
func (b *Browser) Current() listing.Listing {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// LastQuery returns the last non-empty query submitted to Search.
func (b *Browser) LastQuery() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastQ
}

// Clear drops all listing state, as on logout.
func (b *Browser) Clear() {
	b.mu.Lock()
	b.lastQ = ""
	b.cursor = ""
	b.current = nil
	b.mu.Unlock()
}
