package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type capture struct {
	events   chan payload
	sessions chan string
	status   atomic.Int32
	hits     atomic.Int32
}

func newCapture(t *testing.T) (*capture, *httptest.Server) {
	t.Helper()
	c := &capture{
		events:   make(chan payload, 32),
		sessions: make(chan string, 32),
	}
	c.status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.hits.Add(1)
		if r.URL.Path != "/api/stream-events" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode body: %v", err)
		}
		c.events <- p
		c.sessions <- r.Header.Get("X-Session-ID")
		status := int(c.status.Load())
		w.WriteHeader(status)
		if status == http.StatusOK {
			fmt.Fprint(w, `{"ok":true}`)
		}
	}))
	t.Cleanup(srv.Close)
	return c, srv
}

func (c *capture) next(t *testing.T) payload {
	t.Helper()
	select {
	case p := <-c.events:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no telemetry event arrived")
		return payload{}
	}
}

func TestDeltaIsMaxOfAdvanceAndElapsed(t *testing.T) {
	c, srv := newCapture(t)
	r := NewReporter(Options{BaseURL: srv.URL})
	defer r.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	r.now = func() time.Time { return clock }
	meta := Meta{RecordID: "rec-1", ISRC: "USX9P2400001"}

	r.Report(EventPlay, meta, 10, 300)
	play := c.next(t)
	if play.DeltaSec != 0 {
		t.Fatalf("play delta = %v, want 0", play.DeltaSec)
	}
	if play.PositionSec != 10 || play.DurationSec != 300 || play.TrackISRC != "USX9P2400001" {
		t.Fatalf("play payload = %+v", play)
	}

	clock = base.Add(5 * time.Second)
	r.Report(EventPause, meta, 16, 300)
	pause := c.next(t)
	if pause.DeltaSec != 6 {
		t.Fatalf("pause delta = %v, want 6 (max of 16-10 and 5)", pause.DeltaSec)
	}

	// Wall clock wins when the position barely moved.
	clock = clock.Add(20 * time.Second)
	r.Report(EventProgress, meta, 17, 300)
	prog := c.next(t)
	if prog.DeltaSec != 20 {
		t.Fatalf("progress delta = %v, want 20", prog.DeltaSec)
	}
}

func TestExplicitDeltaOverride(t *testing.T) {
	c, srv := newCapture(t)
	r := NewReporter(Options{BaseURL: srv.URL})
	defer r.Close()
	meta := Meta{RecordID: "rec-1"}

	r.Report(EventPlay, meta, 10, 300)
	c.next(t)
	r.ReportDelta(EventSeek, meta, 45, 300, 3)
	seek := c.next(t)
	if seek.DeltaSec != 3 {
		t.Fatalf("seek delta = %v, want explicit 3", seek.DeltaSec)
	}
	if seek.PositionSec != 45 {
		t.Fatalf("seek position = %v", seek.PositionSec)
	}
}

func TestEndCountsPositionDistanceOnly(t *testing.T) {
	c, srv := newCapture(t)
	r := NewReporter(Options{BaseURL: srv.URL})
	defer r.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	r.now = func() time.Time { return clock }
	meta := Meta{RecordID: "rec-1"}

	r.Report(EventPlay, meta, 10, 300)
	c.next(t)
	// A long wall-clock gap (paused player) must not inflate the end delta.
	clock = base.Add(60 * time.Second)
	r.Report(EventEnd, meta, 16, 300)
	end := c.next(t)
	if end.DeltaSec != 6 {
		t.Fatalf("end delta = %v, want 6", end.DeltaSec)
	}
}

func TestProgressThrottled(t *testing.T) {
	c, srv := newCapture(t)
	r := NewReporter(Options{BaseURL: srv.URL, ProgressInterval: 50 * time.Millisecond})
	defer r.Close()
	meta := Meta{RecordID: "rec-1"}

	r.Report(EventProgress, meta, 1, 300)
	r.Report(EventProgress, meta, 2, 300)
	r.Report(EventProgress, meta, 3, 300)
	time.Sleep(60 * time.Millisecond)
	r.Report(EventProgress, meta, 4, 300)
	r.Close()

	var got []float64
	for len(c.events) > 0 {
		got = append(got, (<-c.events).PositionSec)
	}
	if len(got) != 2 {
		t.Fatalf("delivered %d progress events, want 2 (throttled), positions %v", len(got), got)
	}
	if got[0] != 1 || got[1] != 4 {
		t.Fatalf("positions = %v", got)
	}
}

func TestEventsArriveInTransitionOrder(t *testing.T) {
	c, srv := newCapture(t)
	r := NewReporter(Options{BaseURL: srv.URL})
	meta := Meta{RecordID: "rec-1"}

	r.Report(EventPlay, meta, 0, 300)
	r.Report(EventPause, meta, 5, 300)
	r.ReportDelta(EventSeek, meta, 60, 300, 55)
	r.Report(EventEnd, meta, 300, 300)
	r.Close()

	want := []string{"PLAY", "PAUSE", "SEEK", "END"}
	for i, w := range want {
		p := c.next(t)
		if p.EventType != w {
			t.Fatalf("event %d = %s, want %s", i, p.EventType, w)
		}
	}
}

func TestFailuresAreSoftAndNeverRetried(t *testing.T) {
	c, srv := newCapture(t)
	c.status.Store(http.StatusInternalServerError)
	r := NewReporter(Options{BaseURL: srv.URL})
	meta := Meta{RecordID: "rec-1"}

	r.Report(EventPlay, meta, 0, 300)
	c.next(t)
	// Reporter keeps working after a failure.
	c.status.Store(http.StatusOK)
	r.Report(EventPause, meta, 5, 300)
	c.next(t)
	r.Close()

	if got := c.hits.Load(); got != 2 {
		t.Fatalf("server hit %d times, want 2 (no retries)", got)
	}
}

func TestSessionHeaderAttached(t *testing.T) {
	c, srv := newCapture(t)
	r := NewReporter(Options{BaseURL: srv.URL})
	defer r.Close()

	r.Report(EventPlay, Meta{RecordID: "rec-1"}, 0, 300)
	c.next(t)
	select {
	case sid := <-c.sessions:
		if sid == "" || sid != r.Session().ID() {
			t.Fatalf("session header = %q, reporter session = %q", sid, r.Session().ID())
		}
	default:
		t.Fatal("no session header captured")
	}
}

func TestDisabledReporterStaysSilent(t *testing.T) {
	c, srv := newCapture(t)
	r := NewReporter(Options{BaseURL: srv.URL, Disabled: true})
	r.Report(EventPlay, Meta{RecordID: "rec-1"}, 0, 300)
	r.Close()
	if got := c.hits.Load(); got != 0 {
		t.Fatalf("disabled reporter hit the server %d times", got)
	}
}
