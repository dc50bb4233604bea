// Package player owns "what is currently playing". Every track view routes
// play requests through the one Controller, which binds a single playback
// slot, drives the media engine, validates sources optimistically while they
// play, and advances to the next playable row when a track runs out.
package player

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/phonotek/phonotek/internal/listing"
	"github.com/phonotek/phonotek/internal/media"
	"github.com/phonotek/phonotek/internal/preload"
	"github.com/phonotek/phonotek/internal/probe"
	"github.com/phonotek/phonotek/internal/resolve"
	"github.com/phonotek/phonotek/internal/telemetry"
)

type State int

const (
	Idle State = iota
	Loading
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

var (
	ErrUnplayable  = errors.New("player: source not playable")
	ErrUnavailable = errors.New("player: source unavailable")
	ErrNoTrack     = errors.New("player: no track bound")
)

// NowPlayingInfo is a read-mostly projection of the playback slot plus the
// display metadata views need for their "currently playing" decorations.
// At most one row is ever active in it.
type NowPlayingInfo struct {
	Active    bool
	State     State
	RecordID  string
	Title     string
	Artist    string
	Album     string
	Artwork   string
	ListingID string
	URL       string
	Playing   bool
	Position  float64
	Duration  float64
}

// slot is the process-wide playback binding. It is rebound, never
// duplicated; the url is non-empty exactly while a row is bound.
type slot struct {
	row     listing.Handle
	url     string
	playing bool
}

type Options struct {
	Engine    media.Engine
	Prober    *probe.Prober
	Resolver  resolve.Resolver
	Refresher *resolve.Refresher
	Preloader *preload.Pool
	Reporter  *telemetry.Reporter
	Logger    *slog.Logger
	// LoadHeaders are applied to every engine fetch, typically the archive
	// authorization header.
	LoadHeaders map[string]string
	// RefreshCandidates are the backend fields tried when a stale URL is
	// re-minted.
	RefreshCandidates []string
}

type Controller struct {
	engine     media.Engine
	prober     *probe.Prober
	resolver   resolve.Resolver
	refresher  *resolve.Refresher
	preloader  *preload.Pool
	reporter   *telemetry.Reporter
	log        *slog.Logger
	headers    map[string]string
	candidates []string

	mu         sync.Mutex
	state      State
	gen        uint64
	slot       slot
	cur        listing.Handle
	curListing listing.Listing
	position   float64
	duration   float64
	unplayable map[string]bool
	subs       []chan NowPlayingInfo
}

func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.RefreshCandidates) == 0 {
		opts.RefreshCandidates = []string{"audioUrl"}
	}
	return &Controller{
		engine:     opts.Engine,
		prober:     opts.Prober,
		resolver:   opts.Resolver,
		refresher:  opts.Refresher,
		preloader:  opts.Preloader,
		reporter:   opts.Reporter,
		log:        opts.Logger,
		headers:    opts.LoadHeaders,
		candidates: opts.RefreshCandidates,
		unplayable: map[string]bool{},
	}
}

// Start brings up the engine and begins consuming its events.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.engine.Start(ctx); err != nil {
		return err
	}
	go c.pump(ctx)
	return nil
}

func (c *Controller) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.engine.Events():
			if !ok {
				return
			}
			c.handle(evt)
		}
	}
}

// Subscribe returns a channel of slot projections. Updates that arrive
// faster than the subscriber drains are dropped.
func (c *Controller) Subscribe() <-chan NowPlayingInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan NowPlayingInfo, 16)
	c.subs = append(c.subs, ch)
	return ch
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NowPlaying snapshots the current slot.
func (c *Controller) NowPlaying() NowPlayingInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Decorated reports the single row currently marked active, if any.
func (c *Controller) Decorated() (listing.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return listing.Handle{}, false
	}
	return c.slot.row, true
}

// Unplayable reports whether a record was marked dead by validation or a
// terminal refresh failure. Views disable the row's control.
func (c *Controller) Unplayable(recordID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unplayable[recordID]
}

func (c *Controller) snapshotLocked() NowPlayingInfo {
	if c.state == Idle {
		return NowPlayingInfo{}
	}
	rec := c.slot.row.Meta
	return NowPlayingInfo{
		Active:    true,
		State:     c.state,
		RecordID:  rec.RecordID,
		Title:     rec.Name,
		Artist:    rec.ArtistName,
		Album:     rec.AlbumTitle,
		Artwork:   rec.ArtworkField,
		ListingID: c.slot.row.ListingID,
		URL:       c.slot.url,
		Playing:   c.slot.playing,
		Position:  c.position,
		Duration:  c.duration,
	}
}

func (c *Controller) notifyLocked() {
	info := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- info:
		default:
		}
	}
}

func (c *Controller) meta() telemetry.Meta {
	return telemetry.Meta{RecordID: c.cur.Meta.RecordID, ISRC: c.cur.Meta.ISRC}
}

func (c *Controller) report(evt telemetry.EventType, position float64) {
	if c.reporter == nil {
		return
	}
	c.reporter.Report(evt, c.meta(), position, c.duration)
}

// Request is the single entry point for a user activating a row. The same
// row toggles pause and resume; a different row rebinds the slot.
func (c *Controller) Request(l listing.Listing, h listing.Handle) error {
	if h.SourceURL == "" {
		return ErrUnplayable
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if h.SourceURL == c.slot.url && c.state != Idle {
		switch c.state {
		case Playing:
			c.pauseLocked()
			return nil
		case Paused:
			return c.resumeLocked()
		default: // Loading: the click raced the load, nothing to do
			return nil
		}
	}
	return c.startLocked(l, h)
}

func (c *Controller) pauseLocked() {
	_ = c.engine.SetPaused(true)
	c.state = Paused
	c.slot.playing = false
	c.report(telemetry.EventPause, c.position)
	c.notifyLocked()
}

func (c *Controller) resumeLocked() error {
	if c.freshNegativeLocked(c.slot.url) {
		c.unplayable[c.slot.row.Meta.RecordID] = true
		return ErrUnavailable
	}
	_ = c.engine.SetPaused(false)
	c.state = Playing
	c.slot.playing = true
	c.report(telemetry.EventPlay, c.position)
	c.notifyLocked()
	return nil
}

func (c *Controller) freshNegativeLocked(url string) bool {
	if c.prober == nil {
		return false
	}
	out, ok := c.prober.Cache().Get(url)
	return ok && c.prober.Cache().Fresh(out) && !out.OK
}

// startLocked rebinds the slot. The old row's decoration disappears in the
// same step that binds the new one, so no two rows are ever active at once.
func (c *Controller) startLocked(l listing.Listing, h listing.Handle) error {
	if c.freshNegativeLocked(h.SourceURL) {
		c.unplayable[h.Meta.RecordID] = true
		return ErrUnavailable
	}
	c.gen++
	g := c.gen
	c.curListing = l
	c.cur = h
	c.slot = slot{row: h, url: h.SourceURL}
	c.state = Loading
	c.position = 0
	c.duration = float64(h.Meta.DurationMs) / 1000
	c.notifyLocked()

	if err := c.engine.Load(h.SourceURL, c.headers); err != nil {
		c.log.Warn("engine load failed", "url", h.SourceURL, "err", err)
		c.clearLocked()
		return err
	}
	if c.prober != nil {
		go c.validate(g, h)
	}
	return nil
}

// validate runs the optimistic probe that races playback. Completions are
// applied only if the request that launched them is still the current one.
func (c *Controller) validate(g uint64, h listing.Handle) {
	out := c.prober.Probe(context.Background(), h.SourceURL)
	if out.OK {
		return
	}
	if out.AuthStale() && c.refresher != nil {
		c.refreshAndRetry(g, h)
		return
	}
	c.failPlayback(g, h)
}

func (c *Controller) failPlayback(g uint64, h listing.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != g {
		return
	}
	c.unplayable[h.Meta.RecordID] = true
	if c.state == Playing || c.state == Loading {
		c.log.Info("source failed validation during playback, pausing", "record", h.Meta.RecordID, "url", h.SourceURL)
		_ = c.engine.SetPaused(true)
		c.state = Paused
		c.slot.playing = false
		c.notifyLocked()
	}
}

// refreshAndRetry handles an authorization-stale source: one forced re-mint
// of the container URL, one reload. Not a generic retry loop.
func (c *Controller) refreshAndRetry(g uint64, h listing.Handle) {
	src, err := c.refresher.Refresh(context.Background(), h.Meta.RecordID, "", c.candidates, true)
	if err != nil {
		if resolve.IsNotFound(err) {
			c.log.Warn("container gone, disabling track", "record", h.Meta.RecordID)
		}
		c.failPlayback(g, h)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != g {
		return
	}
	c.log.Info("re-minted stale source", "record", h.Meta.RecordID, "field", src.Field)
	c.slot.url = src.URL
	c.cur.SourceURL = src.URL
	c.state = Loading
	c.slot.playing = false
	if err := c.engine.Load(src.URL, c.headers); err != nil {
		c.clearLocked()
		return
	}
	c.notifyLocked()
}

// Seek moves playback by a relative number of seconds and reports the seek
// distance as the telemetry delta.
func (c *Controller) Seek(delta float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Playing && c.state != Paused {
		return ErrNoTrack
	}
	if err := c.engine.Seek(delta); err != nil {
		return err
	}
	pos := c.position + delta
	if pos < 0 {
		pos = 0
	}
	if c.duration > 0 && pos > c.duration {
		pos = c.duration
	}
	c.position = pos
	if c.reporter != nil {
		c.reporter.ReportDelta(telemetry.EventSeek, c.meta(), pos, c.duration, math.Abs(delta))
	}
	return nil
}

// ExternalStop clears the slot for logout, deletion of the active playlist,
// or an explicit stop. Safe to call when nothing is bound.
func (c *Controller) ExternalStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return
	}
	if c.slot.playing {
		_ = c.engine.SetPaused(true)
	}
	_ = c.engine.Unload()
	c.clearLocked()
}

func (c *Controller) clearLocked() {
	c.gen++
	c.state = Idle
	c.slot = slot{}
	c.cur = listing.Handle{}
	c.curListing = nil
	c.position = 0
	c.duration = 0
	c.notifyLocked()
}

func (c *Controller) handle(evt media.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case evt.Err != nil:
		c.onErrorLocked(evt.Err)
	case evt.Loaded:
		c.onLoadedLocked()
	case evt.Ended:
		c.onEndedLocked()
	}
	if evt.TimePos != nil {
		c.position = *evt.TimePos
		if c.state == Playing {
			c.report(telemetry.EventProgress, c.position)
		}
	}
	if evt.Duration != nil && *evt.Duration > 0 {
		c.duration = *evt.Duration
	}
	if evt.Paused != nil {
		c.onPausedPropertyLocked(*evt.Paused)
	}
}

func (c *Controller) onLoadedLocked() {
	if c.state != Loading {
		return
	}
	c.state = Playing
	c.slot.playing = true
	c.report(telemetry.EventPlay, c.position)
	c.notifyLocked()

	if c.preloader != nil && c.curListing != nil {
		if next, ok := c.curListing.FindNext(c.cur); ok {
			go func(url string) {
				if err := c.preloader.Ensure(context.Background(), url); err != nil {
					c.log.Debug("preload failed", "url", url, "err", err)
				}
			}(next.SourceURL)
		}
	}
}

// onEndedLocked advances to the next playable row: first the rendered view,
// then the view again from a re-located anchor, then the raw record array.
func (c *Controller) onEndedLocked() {
	if c.state == Idle {
		return
	}
	c.report(telemetry.EventEnd, c.position)

	l := c.curListing
	h := c.cur
	if l == nil {
		c.clearLocked()
		return
	}
	next, ok := l.FindNext(h)
	if !ok {
		if fresh, found := l.Locate(h.Meta.RecordID); found {
			next, ok = l.FindNext(fresh)
		}
	}
	if !ok {
		next, ok = c.scanRaw(l, h)
	}
	if !ok {
		c.log.Debug("no next playable row, stopping", "listing", l.ID())
		c.clearLocked()
		return
	}
	if err := c.startLocked(l, next); err != nil {
		c.clearLocked()
	}
}

// scanRaw walks the listing's backing array directly, for when the rendered
// view lost the anchor entirely.
func (c *Controller) scanRaw(l listing.Listing, h listing.Handle) (listing.Handle, bool) {
	recs := l.Records()
	at := -1
	for i, rec := range recs {
		if rec.RecordID == h.Meta.RecordID {
			at = i
			break
		}
	}
	for i := at + 1; i < len(recs); i++ {
		if src, ok := c.resolver.Resolve(recs[i].AudioField); ok {
			return listing.Handle{Meta: recs[i], SourceURL: src.URL, ListingID: l.ID(), Position: i}, true
		}
	}
	return listing.Handle{}, false
}

func (c *Controller) onErrorLocked(err error) {
	if c.state == Idle {
		return
	}
	c.log.Warn("engine error", "url", c.slot.url, "err", err)
	c.report(telemetry.EventError, c.position)
	_ = c.engine.Unload()
	c.clearLocked()
}

// onPausedPropertyLocked syncs state when the engine pauses or resumes on
// its own, outside a Request.
func (c *Controller) onPausedPropertyLocked(paused bool) {
	switch {
	case paused && c.state == Playing:
		c.state = Paused
		c.slot.playing = false
		c.report(telemetry.EventPause, c.position)
		c.notifyLocked()
	case !paused && c.state == Paused:
		c.state = Playing
		c.slot.playing = true
		c.report(telemetry.EventPlay, c.position)
		c.notifyLocked()
	}
}
