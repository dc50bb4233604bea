package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phonotek/phonotek/internal/catalogue"
)

func TestResolveClassification(t *testing.T) {
	r := Resolver{ProxyBase: "https://archive.example.com"}

	tests := []struct {
		name    string
		raw     string
		wantURL string
		wantOK  bool
	}{
		{"empty", "", "", false},
		{"whitespace", "   \t", "", false},
		{"absolute path", "/media/a/track.mp3", "/media/a/track.mp3", true},
		{"http wrapped", "http://cdn.example.com/t.mp3", "https://archive.example.com/api/container?u=http%3A%2F%2Fcdn.example.com%2Ft.mp3", true},
		{"https wrapped", "https://cdn.example.com/t.mp3", "https://archive.example.com/api/container?u=https%3A%2F%2Fcdn.example.com%2Ft.mp3", true},
		{"bare mp3", "song.mp3", "song.mp3", true},
		{"bare flac upper", "SONG.FLAC", "SONG.FLAC", true},
		{"bare wrong ext", "song.txt", "", false},
		{"no extension", "song", "", false},
		{"relative with dir", "dir/song.mp3", "", false},
		{"other scheme", "ftp://x/y.mp3", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, ok := r.Resolve(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if src.URL != tt.wantURL {
				t.Fatalf("Resolve(%q) url = %q, want %q", tt.raw, src.URL, tt.wantURL)
			}
			// Same input, same classification.
			again, ok2 := r.Resolve(tt.raw)
			if ok2 != ok || again.URL != src.URL {
				t.Fatalf("Resolve(%q) is not stable", tt.raw)
			}
		})
	}
}

type fakeMinter struct {
	calls    int
	url      string
	field    string
	err      error
	lastArgs struct {
		recordID   string
		field      string
		candidates []string
	}
}

func (m *fakeMinter) MintContainerURL(ctx context.Context, recordID, field string, candidates []string) (string, string, error) {
	m.calls++
	m.lastArgs.recordID = recordID
	m.lastArgs.field = field
	m.lastArgs.candidates = candidates
	if m.err != nil {
		return "", "", m.err
	}
	return m.url, m.field, nil
}

func TestRefreshCachesByRecordAndField(t *testing.T) {
	m := &fakeMinter{url: "https://archive.example.com/c/1", field: "audioUrl"}
	r := NewRefresher(m, time.Minute, nil)

	src, err := r.Refresh(context.Background(), "rec1", "audioUrl", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if src.URL != "https://archive.example.com/c/1" || src.Field != "audioUrl" {
		t.Fatalf("unexpected source %+v", src)
	}
	if _, err := r.Refresh(context.Background(), "rec1", "audioUrl", nil, false); err != nil {
		t.Fatal(err)
	}
	if m.calls != 1 {
		t.Fatalf("expected one mint, got %d", m.calls)
	}

	// A different field is a different cache entry.
	if _, err := r.Refresh(context.Background(), "rec1", "altUrl", nil, false); err != nil {
		t.Fatal(err)
	}
	if m.calls != 2 {
		t.Fatalf("expected second mint for new field, got %d", m.calls)
	}
}

func TestRefreshForceBypassesCache(t *testing.T) {
	m := &fakeMinter{url: "https://archive.example.com/c/1", field: "audioUrl"}
	r := NewRefresher(m, time.Minute, nil)

	if _, err := r.Refresh(context.Background(), "rec1", "audioUrl", nil, false); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Refresh(context.Background(), "rec1", "audioUrl", nil, true); err != nil {
		t.Fatal(err)
	}
	if m.calls != 2 {
		t.Fatalf("expected forced refresh to mint again, got %d calls", m.calls)
	}
	// The forced result reseeds the cache.
	if _, err := r.Refresh(context.Background(), "rec1", "audioUrl", nil, false); err != nil {
		t.Fatal(err)
	}
	if m.calls != 2 {
		t.Fatalf("expected reseeded cache hit, got %d calls", m.calls)
	}
}

func TestRefreshExpiry(t *testing.T) {
	m := &fakeMinter{url: "https://archive.example.com/c/1", field: "audioUrl"}
	r := NewRefresher(m, 30*time.Millisecond, nil)

	if _, err := r.Refresh(context.Background(), "rec1", "audioUrl", nil, false); err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := r.Refresh(context.Background(), "rec1", "audioUrl", nil, false); err != nil {
		t.Fatal(err)
	}
	if m.calls != 2 {
		t.Fatalf("expected expired entry to re-mint, got %d calls", m.calls)
	}
}

func TestRefreshNotFoundIsTerminal(t *testing.T) {
	m := &fakeMinter{err: catalogue.ErrNotFound}
	r := NewRefresher(m, time.Minute, nil)

	_, err := r.Refresh(context.Background(), "rec404", "audioUrl", nil, false)
	if !IsNotFound(err) {
		t.Fatalf("expected not-found sentinel, got %v", err)
	}
}

func TestRefreshPassesCandidates(t *testing.T) {
	m := &fakeMinter{url: "https://archive.example.com/c/2", field: "fallbackUrl"}
	r := NewRefresher(m, time.Minute, nil)

	src, err := r.Refresh(context.Background(), "rec2", "", []string{"audioUrl", "fallbackUrl"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if src.Field != "fallbackUrl" {
		t.Fatalf("expected minted field, got %q", src.Field)
	}
	if len(m.lastArgs.candidates) != 2 || m.lastArgs.field != "" {
		t.Fatalf("unexpected mint args %+v", m.lastArgs)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("unexpected not-found")
	}
}
