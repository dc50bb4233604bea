// Package listing presents ordered track rows to the playback controller.
// Album tracklists and the three playlist kinds all satisfy the same narrow
// contract, so the controller can advance across any of them without knowing
// which kind produced the current row.
package listing

import (
	"sort"

	"github.com/phonotek/phonotek/internal/catalogue"
	"github.com/phonotek/phonotek/internal/resolve"
)

// Handle identifies one playable row: the record it shows, the resolved
// source URL (empty when the record is unplayable), the listing that owns
// it, and the row's position at the time the handle was minted. Positions
// go stale when the listing re-renders; navigation re-anchors by record
// identity when that happens.
type Handle struct {
	Meta      catalogue.TrackRecord
	SourceURL string
	ListingID string
	Position  int
}

// Listing is the navigation contract playback needs from any track view.
type Listing interface {
	ID() string
	// First returns the first row whose source resolves.
	First() (Handle, bool)
	// FindNext returns the nearest row after the given one whose source
	// resolves. It reports false when the anchor no longer matches the
	// rendered rows; callers re-anchor with Locate and retry.
	FindNext(after Handle) (Handle, bool)
	// Locate returns the current row for a record, resolvable or not.
	Locate(recordID string) (Handle, bool)
	// Records exposes the backing array for callers that need to scan
	// past the rendered view.
	Records() []catalogue.TrackRecord
}

type rows struct {
	id       string
	records  []catalogue.TrackRecord
	resolver resolve.Resolver
}

func (r *rows) ID() string { return r.id }

func (r *rows) Records() []catalogue.TrackRecord {
	out := make([]catalogue.TrackRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *rows) handleAt(pos int) Handle {
	rec := r.records[pos]
	h := Handle{Meta: rec, ListingID: r.id, Position: pos}
	if src, ok := r.resolver.Resolve(rec.AudioField); ok {
		h.SourceURL = src.URL
	}
	return h
}

func (r *rows) anchored(after Handle) bool {
	if after.Position < 0 || after.Position >= len(r.records) {
		return false
	}
	return r.records[after.Position].RecordID == after.Meta.RecordID
}

func (r *rows) FindNext(after Handle) (Handle, bool) {
	if !r.anchored(after) {
		return Handle{}, false
	}
	for i := after.Position + 1; i < len(r.records); i++ {
		if h := r.handleAt(i); h.SourceURL != "" {
			return h, true
		}
	}
	return Handle{}, false
}

func (r *rows) Locate(recordID string) (Handle, bool) {
	for i, rec := range r.records {
		if rec.RecordID == recordID {
			return r.handleAt(i), true
		}
	}
	return Handle{}, false
}

// First returns the first resolvable row.
func (r *rows) First() (Handle, bool) {
	for i := range r.records {
		if h := r.handleAt(i); h.SourceURL != "" {
			return h, true
		}
	}
	return Handle{}, false
}

// Tracklist is an album's rows, ordered by sequence with unsequenced
// records last.
type Tracklist struct {
	rows
}

func NewTracklist(id string, recs []catalogue.TrackRecord, resolver resolve.Resolver) *Tracklist {
	t := &Tracklist{rows: rows{id: id, resolver: resolver}}
	t.SetRecords(recs)
	return t
}

// SetRecords replaces the rendered rows, re-sorting by sequence. Handles
// minted before the call keep their old positions and will fail to anchor.
func (t *Tracklist) SetRecords(recs []catalogue.TrackRecord) {
	out := make([]catalogue.TrackRecord, len(recs))
	copy(out, recs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].Name < out[j].Name
	})
	t.records = out
}

// Results holds search hits or a random-songs draw in backend order.
type Results struct {
	rows
}

func NewResults(id string, recs []catalogue.TrackRecord, resolver resolve.Resolver) *Results {
	r := &Results{rows: rows{id: id, resolver: resolver}}
	r.SetRecords(recs)
	return r
}

func (r *Results) SetRecords(recs []catalogue.TrackRecord) {
	out := make([]catalogue.TrackRecord, len(recs))
	copy(out, recs)
	r.records = out
}

// Playlist rows keep the order the backend supplied.
type Playlist struct {
	rows
	kind catalogue.PlaylistKind
}

func NewPlaylist(id string, kind catalogue.PlaylistKind, recs []catalogue.TrackRecord, resolver resolve.Resolver) *Playlist {
	p := &Playlist{rows: rows{id: id, resolver: resolver}, kind: kind}
	p.SetRecords(recs)
	return p
}

func (p *Playlist) Kind() catalogue.PlaylistKind { return p.kind }

func (p *Playlist) SetRecords(recs []catalogue.TrackRecord) {
	out := make([]catalogue.TrackRecord, len(recs))
	copy(out, recs)
	p.records = out
}
