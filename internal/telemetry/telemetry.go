// Package telemetry reports playback lifecycle events to the archive
// backend. Delivery is best effort: failures are logged and forgotten,
// never retried, because losing an analytics event is cheaper than ever
// making playback wait on one.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type EventType string

const (
	EventPlay     EventType = "PLAY"
	EventPause    EventType = "PAUSE"
	EventSeek     EventType = "SEEK"
	EventProgress EventType = "PROGRESS"
	EventEnd      EventType = "END"
	EventError    EventType = "ERROR"
)

// Meta carries the track identity attached to every event.
type Meta struct {
	RecordID string
	ISRC     string
}

type payload struct {
	EventType     string  `json:"eventType"`
	TrackRecordID string  `json:"trackRecordId"`
	TrackISRC     string  `json:"trackISRC"`
	PositionSec   float64 `json:"positionSec"`
	DurationSec   float64 `json:"durationSec"`
	DeltaSec      float64 `json:"deltaSec"`
}

type response struct {
	OK             bool    `json:"ok"`
	RecordID       string  `json:"recordId"`
	TotalPlayedSec float64 `json:"totalPlayedSec"`
}

type Options struct {
	BaseURL string
	Bearer  string
	Client  *http.Client
	Session *Session
	// ProgressInterval throttles PROGRESS events. Default 30s.
	ProgressInterval time.Duration
	// QueueSize bounds the delivery queue; overflow drops the newest
	// event. Default 50.
	QueueSize int
	Logger    *slog.Logger
	Disabled  bool
}

// Reporter computes deltas synchronously at report time and delivers events
// from a single worker, so events reach the backend in transition order.
type Reporter struct {
	baseURL  string
	bearer   string
	client   *http.Client
	session  *Session
	limiter  *rate.Limiter
	log      *slog.Logger
	disabled bool

	mu      sync.Mutex
	lastAt  time.Time
	lastPos float64
	hasLast bool
	closed  bool

	now func() time.Time

	queue chan payload
	done  chan struct{}
}

func NewReporter(opts Options) *Reporter {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Session == nil {
		opts.Session = EphemeralSession()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 30 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 50
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Reporter{
		baseURL:  opts.BaseURL,
		bearer:   opts.Bearer,
		client:   opts.Client,
		session:  opts.Session,
		limiter:  rate.NewLimiter(rate.Every(opts.ProgressInterval), 1),
		log:      opts.Logger,
		disabled: opts.Disabled || opts.BaseURL == "",
		now:      time.Now,
		queue:    make(chan payload, opts.QueueSize),
		done:     make(chan struct{}),
	}
	go r.worker()
	return r
}

func (r *Reporter) Session() *Session { return r.session }

// Report emits an event, computing the delta as the larger of position
// advance and wall-clock elapsed since the last emitted event. PLAY starts
// a new measurement epoch with a zero delta; END counts only the distance
// from the last reported position to the final one.
func (r *Reporter) Report(evt EventType, meta Meta, position, duration float64) {
	if r.disabled {
		return
	}
	if evt == EventProgress && !r.limiter.Allow() {
		return
	}

	r.mu.Lock()
	var delta float64
	switch {
	case evt == EventPlay || !r.hasLast:
		delta = 0
	case evt == EventEnd:
		delta = math.Max(position-r.lastPos, 0)
	default:
		advance := math.Max(position-r.lastPos, 0)
		elapsed := r.now().Sub(r.lastAt).Seconds()
		delta = math.Max(advance, elapsed)
	}
	r.lastAt = r.now()
	r.lastPos = position
	r.hasLast = true
	r.mu.Unlock()

	r.enqueue(evt, meta, position, duration, delta)
}

// ReportDelta emits an event with an explicit delta, bypassing the position
// math. Used for SEEK, where the delta is the seek distance.
func (r *Reporter) ReportDelta(evt EventType, meta Meta, position, duration, delta float64) {
	if r.disabled {
		return
	}
	r.mu.Lock()
	r.lastAt = r.now()
	r.lastPos = position
	r.hasLast = true
	r.mu.Unlock()

	r.enqueue(evt, meta, position, duration, delta)
}

func (r *Reporter) enqueue(evt EventType, meta Meta, position, duration, delta float64) {
	p := payload{
		EventType:     string(evt),
		TrackRecordID: meta.RecordID,
		TrackISRC:     meta.ISRC,
		PositionSec:   position,
		DurationSec:   duration,
		DeltaSec:      delta,
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	select {
	case r.queue <- p:
	default:
		r.log.Debug("telemetry queue full, dropping event", "event", evt, "record", meta.RecordID)
	}
	r.mu.Unlock()
}

// Close drains queued events and stops the worker.
func (r *Reporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *Reporter) worker() {
	defer close(r.done)
	for p := range r.queue {
		r.send(p)
	}
}

func (r *Reporter) send(p payload) {
	body, err := json.Marshal(p)
	if err != nil {
		r.log.Warn("telemetry marshal failed", "err", err)
		return
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, r.baseURL+"/api/stream-events", bytes.NewReader(body))
	if err != nil {
		r.log.Warn("telemetry request failed", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", r.session.ID())
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug("telemetry delivery failed", "event", p.EventType, "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.CopyN(io.Discard, resp.Body, 512)
		r.log.Debug("telemetry rejected", "event", p.EventType, "status", resp.StatusCode)
		return
	}
	var out response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&out); err == nil && !out.OK {
		r.log.Debug("telemetry soft-failed", "event", p.EventType, "record", p.TrackRecordID)
	}
}
