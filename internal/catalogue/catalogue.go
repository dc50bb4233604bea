package catalogue

import (
	"context"
	"math"
)

type PlaylistKind string

const (
	KindPersonal PlaylistKind = "personal"
	KindPublic   PlaylistKind = "public"
	KindShared   PlaylistKind = "shared"
)

type ListReq struct {
	Cursor   string
	PageSize int
	Sort     string
}

type Page[T any] struct {
	Items      []T
	NextCursor string
	TotalHint  int
}

// TrackRecord is one catalogue entry as supplied by the backend. It is
// immutable once built; the listing that produced it owns it and discards
// it when the listing is replaced.
type TrackRecord struct {
	RecordID        string
	Name            string
	ArtistName      string
	AlbumTitle      string
	AlbumArtist     string
	CatalogueNumber string
	Producer        string
	Composers       []string
	Genre           string
	Language        string
	ISRC            string
	DurationMs      int

	AudioField   string
	ArtworkField string

	Sequence float64
	AudioOK  bool
}

// NoSequence is the ordering key for records without one; they sort last.
var NoSequence = math.Inf(1)

type Album struct {
	ID              string
	Title           string
	ArtistName      string
	CatalogueNumber string
	Year            int
	TrackCount      int
	ArtworkRef      string
}

type Playlist struct {
	ID         string
	Name       string
	Kind       PlaylistKind
	OwnerName  string
	TrackCount int
}

type Source interface {
	ID() string
	Name() string
	Health(ctx context.Context) (bool, string)

	Search(ctx context.Context, q string, req ListReq) (Page[TrackRecord], error)
	RandomSongs(ctx context.Context, n int) ([]TrackRecord, error)

	GetAlbum(ctx context.Context, id string) (Album, error)
	AlbumTracks(ctx context.Context, albumID string) ([]TrackRecord, error)

	Playlists(ctx context.Context, kind PlaylistKind, req ListReq) (Page[Playlist], error)
	PlaylistTracks(ctx context.Context, id string) ([]TrackRecord, error)
}

// ContainerMinter asks the backend for a fresh, authorized container URL for
// a record. Either field or candidates is supplied, not both.
type ContainerMinter interface {
	MintContainerURL(ctx context.Context, recordID, field string, candidates []string) (url, mintedField string, err error)
}
