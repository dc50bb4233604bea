package archive

import "github.com/phonotek/phonotek/internal/catalogue"

type trackJSON struct {
	RecordID        string   `json:"recordId"`
	Name            string   `json:"name"`
	Artist          string   `json:"artist"`
	AlbumTitle      string   `json:"albumTitle"`
	AlbumArtist     string   `json:"albumArtist"`
	CatalogueNumber string   `json:"catalogueNumber"`
	Producer        string   `json:"producer"`
	Composers       []string `json:"composers"`
	Genre           string   `json:"genre"`
	Language        string   `json:"language"`
	ISRC            string   `json:"isrc"`
	DurationMs      int      `json:"durationMs"`
	AudioURL        string   `json:"audioUrl"`
	ArtworkURL      string   `json:"artworkUrl"`
	Sequence        *float64 `json:"sequence"`
	AudioOK         bool     `json:"audioOk"`
}

func (t trackJSON) toRecord() catalogue.TrackRecord {
	seq := catalogue.NoSequence
	if t.Sequence != nil {
		seq = *t.Sequence
	}
	return catalogue.TrackRecord{
		RecordID:        t.RecordID,
		Name:            t.Name,
		ArtistName:      t.Artist,
		AlbumTitle:      t.AlbumTitle,
		AlbumArtist:     t.AlbumArtist,
		CatalogueNumber: t.CatalogueNumber,
		Producer:        t.Producer,
		Composers:       t.Composers,
		Genre:           t.Genre,
		Language:        t.Language,
		ISRC:            t.ISRC,
		DurationMs:      t.DurationMs,
		AudioField:      t.AudioURL,
		ArtworkField:    t.ArtworkURL,
		Sequence:        seq,
		AudioOK:         t.AudioOK,
	}
}

type albumJSON struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	CatalogueNumber string `json:"catalogueNumber"`
	Year            int    `json:"year"`
	TrackCount      int    `json:"trackCount"`
	ArtworkURL      string `json:"artworkUrl"`
}

func (a albumJSON) toAlbum() catalogue.Album {
	return catalogue.Album{
		ID:              a.ID,
		Title:           a.Title,
		ArtistName:      a.Artist,
		CatalogueNumber: a.CatalogueNumber,
		Year:            a.Year,
		TrackCount:      a.TrackCount,
		ArtworkRef:      a.ArtworkURL,
	}
}

type playlistJSON struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Owner      string `json:"owner"`
	TrackCount int    `json:"trackCount"`
}

func (p playlistJSON) toPlaylist() catalogue.Playlist {
	return catalogue.Playlist{
		ID:         p.ID,
		Name:       p.Name,
		Kind:       catalogue.PlaylistKind(p.Kind),
		OwnerName:  p.Owner,
		TrackCount: p.TrackCount,
	}
}

func mapRecords(items []trackJSON) []catalogue.TrackRecord {
	out := make([]catalogue.TrackRecord, 0, len(items))
	for _, t := range items {
		out = append(out, t.toRecord())
	}
	return out
}

func mapPage(page catalogue.Page[trackJSON]) catalogue.Page[catalogue.TrackRecord] {
	return catalogue.Page[catalogue.TrackRecord]{
		Items:      mapRecords(page.Items),
		NextCursor: page.NextCursor,
		TotalHint:  page.TotalHint,
	}
}
