package localdir

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
	"github.com/phonotek/phonotek/internal/catalogue"
	"github.com/phonotek/phonotek/internal/logging"
	_ "modernc.org/sqlite"
)

var allowedExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".aac":  true,
	".ogg":  true,
	".wav":  true,
}

type Config struct {
	Roots       []string
	IndexDB     string
	ScanOnStart bool
	PageSize    int
}

// Source serves catalogue records from a local mirror of the archive. Audio
// fields are absolute file paths, so resolution and probing work without the
// backend. Playlists are not a local concept.
type Source struct {
	cfg Config
	db  *sql.DB
}

func New(ctx context.Context, cfg Config) (*Source, error) {
	if len(cfg.Roots) == 0 {
		return nil, catalogue.ErrInvalidConfig
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.IndexDB == "" {
		stateDir, err := logging.StateDir()
		if err != nil {
			stateDir = os.TempDir()
		}
		if err := os.MkdirAll(stateDir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		cfg.IndexDB = filepath.Join(stateDir, "localdir.sqlite")
	}
	for i, r := range cfg.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, err
		}
		cfg.Roots[i] = abs
	}

	s := &Source{cfg: cfg}
	db, err := sql.Open("sqlite", cfg.IndexDB)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	s.db = db
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	shouldScan := cfg.ScanOnStart
	if !shouldScan {
		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil || count == 0 {
			shouldScan = true
		}
	}
	if shouldScan {
		if err := s.Scan(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Source) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Source) ID() string   { return "localdir" }
func (s *Source) Name() string { return "Local Mirror" }

func (s *Source) Health(ctx context.Context) (bool, string) {
	if s.db == nil {
		return false, "index not initialized"
	}
	var records, albums int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&records); err != nil {
		return false, err.Error()
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM albums").Scan(&albums); err != nil {
		return false, err.Error()
	}
	return true, fmt.Sprintf("%d tracks, %d albums", records, albums)
}

func (s *Source) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS albums (id TEXT PRIMARY KEY, title TEXT NOT NULL, artist TEXT NOT NULL, year INTEGER);`,
		`CREATE TABLE IF NOT EXISTS records (id TEXT PRIMARY KEY, album_id TEXT NOT NULL, name TEXT NOT NULL, artist TEXT NOT NULL, album_title TEXT NOT NULL, album_artist TEXT NOT NULL, composer TEXT, genre TEXT, duration_ms INTEGER, sequence INTEGER, file_path TEXT NOT NULL UNIQUE, file_size INTEGER, file_mtime INTEGER, FOREIGN KEY(album_id) REFERENCES albums(id));`,
		`CREATE INDEX IF NOT EXISTS idx_records_album ON records(album_id, sequence);`,
		`CREATE INDEX IF NOT EXISTS idx_records_name ON records(name);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

func hash(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Scan rebuilds the index from the configured roots. Files that fail to
// parse still get indexed with names derived from the path, so a broken tag
// never hides a track.
func (s *Source) Scan(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{`DELETE FROM records`, `DELETE FROM albums`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
	}
	insertAlbum, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO albums(id,title,artist,year) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	insertRecord, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO records(id,album_id,name,artist,album_title,album_artist,composer,genre,duration_ms,sequence,file_path,file_size,file_mtime) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}

	for _, root := range s.cfg.Roots {
		filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if !allowedExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			f, err := os.Open(path)
			if err != nil {
				return nil
			}
			defer f.Close()

			var name, artist, albumTitle, albumArtist, composer, genre string
			var seq, year int
			if meta, err := tag.ReadFrom(f); err == nil {
				name = meta.Title()
				artist = meta.Artist()
				albumTitle = meta.Album()
				albumArtist = meta.AlbumArtist()
				composer = meta.Composer()
				genre = meta.Genre()
				year = meta.Year()
				seq, _ = meta.Track()
			}
			if artist == "" {
				artist = "Unknown Artist"
			}
			if albumArtist == "" {
				albumArtist = artist
			}
			if albumTitle == "" {
				albumTitle = filepath.Base(filepath.Dir(path))
				if albumTitle == "." || albumTitle == "/" {
					albumTitle = "Unknown Album"
				}
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			albumID := hash(strings.ToLower(albumArtist), strings.ToLower(albumTitle))
			recordID := hash(path)
			_, _ = insertAlbum.ExecContext(ctx, albumID, albumTitle, albumArtist, year)
			_, _ = insertRecord.ExecContext(ctx, recordID, albumID, name, artist, albumTitle, albumArtist, composer, genre, 0, seq, path, info.Size(), info.ModTime().Unix())
			return nil
		})
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scan: %w", err)
	}
	return nil
}

const recordColumns = `id,name,artist,album_title,album_artist,composer,genre,duration_ms,sequence,file_path`

func scanRecord(rows interface{ Scan(...any) error }) (catalogue.TrackRecord, error) {
	var rec catalogue.TrackRecord
	var composer string
	var seq int
	if err := rows.Scan(&rec.RecordID, &rec.Name, &rec.ArtistName, &rec.AlbumTitle, &rec.AlbumArtist, &composer, &rec.Genre, &rec.DurationMs, &seq, &rec.AudioField); err != nil {
		return catalogue.TrackRecord{}, err
	}
	if composer != "" {
		rec.Composers = []string{composer}
	}
	rec.Sequence = catalogue.NoSequence
	if seq > 0 {
		rec.Sequence = float64(seq)
	}
	// Local files count as audio-tested: they were readable at scan time.
	rec.AudioOK = true
	return rec, nil
}

func (s *Source) Search(ctx context.Context, q string, req catalogue.ListReq) (catalogue.Page[catalogue.TrackRecord], error) {
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = s.cfg.PageSize
	}
	offset := parseCursor(req.Cursor)
	pattern := "%" + strings.ToLower(q) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records WHERE lower(name) LIKE ? OR lower(artist) LIKE ? OR lower(album_title) LIKE ? ORDER BY artist, album_title, sequence LIMIT ? OFFSET ?`, pattern, pattern, pattern, pageSize+1, offset)
	if err != nil {
		return catalogue.Page[catalogue.TrackRecord]{}, err
	}
	defer rows.Close()
	var items []catalogue.TrackRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return catalogue.Page[catalogue.TrackRecord]{}, err
		}
		items = append(items, rec)
	}
	next := ""
	if len(items) > pageSize {
		next = strconv.Itoa(offset + pageSize)
		items = items[:pageSize]
	}
	return catalogue.Page[catalogue.TrackRecord]{Items: items, NextCursor: next, TotalHint: -1}, nil
}

func (s *Source) RandomSongs(ctx context.Context, n int) ([]catalogue.TrackRecord, error) {
	if n <= 0 {
		n = s.cfg.PageSize
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records ORDER BY RANDOM() LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []catalogue.TrackRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, nil
}

func (s *Source) GetAlbum(ctx context.Context, id string) (catalogue.Album, error) {
	var a catalogue.Album
	var trackCount int
	err := s.db.QueryRowContext(ctx, `SELECT a.id, a.title, a.artist, a.year, COUNT(r.id) FROM albums a LEFT JOIN records r ON r.album_id = a.id WHERE a.id=? GROUP BY a.id`, id).
		Scan(&a.ID, &a.Title, &a.ArtistName, &a.Year, &trackCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return catalogue.Album{}, catalogue.ErrNotFound
		}
		return catalogue.Album{}, err
	}
	a.TrackCount = trackCount
	return a, nil
}

func (s *Source) AlbumTracks(ctx context.Context, albumID string) ([]catalogue.TrackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records WHERE album_id=? ORDER BY sequence, name`, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []catalogue.TrackRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	if len(items) == 0 {
		return nil, catalogue.ErrNotFound
	}
	return items, nil
}

func (s *Source) Playlists(ctx context.Context, kind catalogue.PlaylistKind, req catalogue.ListReq) (catalogue.Page[catalogue.Playlist], error) {
	return catalogue.Page[catalogue.Playlist]{}, catalogue.ErrNotSupported
}

func (s *Source) PlaylistTracks(ctx context.Context, id string) ([]catalogue.TrackRecord, error) {
	return nil, catalogue.ErrNotSupported
}

func parseCursor(cur string) int {
	if cur == "" {
		return 0
	}
	off, _ := strconv.Atoi(cur)
	return off
}
