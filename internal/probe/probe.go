package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Options configures a Prober. Zero values select the defaults below.
type Options struct {
	// Client issues the partial-content requests. Supply a client with a
	// cookie jar when the archive authenticates by cookie.
	Client *http.Client
	// Bearer is attached as an Authorization header when non-empty.
	Bearer string
	// Base resolves server-relative audio paths that do not exist on disk.
	Base string
	// Timeout is the hard deadline for a single attempt (default 12s).
	Timeout time.Duration
	// Retries is the number of extra attempts after a timeout
	// (default 2, negative disables).
	Retries int
	// Backoff is the linear delay step between attempts (default 600ms).
	Backoff time.Duration
	// SniffBytes is how much of the body is fetched and inspected
	// (default 4096).
	SniffBytes int
	Scheduler  *Scheduler
	Cache      *Cache
	Logger     *slog.Logger
}

// Prober classifies URLs as audio or not by fetching a short prefix and
// inspecting byte signatures. Every finished outcome lands in the cache.
type Prober struct {
	client     *http.Client
	bearer     string
	base       string
	timeout    time.Duration
	retries    int
	backoff    time.Duration
	sniffBytes int
	sched      *Scheduler
	cache      *Cache
	log        *slog.Logger
}

func New(opts Options) *Prober {
	p := &Prober{
		client:     opts.Client,
		bearer:     opts.Bearer,
		base:       strings.TrimRight(opts.Base, "/"),
		timeout:    opts.Timeout,
		retries:    opts.Retries,
		backoff:    opts.Backoff,
		sniffBytes: opts.SniffBytes,
		sched:      opts.Scheduler,
		cache:      opts.Cache,
		log:        opts.Logger,
	}
	if p.client == nil {
		p.client = &http.Client{}
	}
	if p.timeout <= 0 {
		p.timeout = 12 * time.Second
	}
	if p.retries == 0 {
		p.retries = 2
	}
	if p.retries < 0 {
		// negative disables retries outright
		p.retries = 0
	}
	if p.backoff <= 0 {
		p.backoff = 600 * time.Millisecond
	}
	if p.sniffBytes <= 0 {
		p.sniffBytes = 4096
	}
	if p.sched == nil {
		p.sched = NewScheduler(6)
	}
	if p.cache == nil {
		p.cache = NewCache(10 * time.Minute)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Cache exposes the outcome cache so callers can consult it without probing.
func (p *Prober) Cache() *Cache { return p.cache }

// Probe returns a fresh cached outcome when one exists, otherwise fetches
// and classifies the URL.
func (p *Prober) Probe(ctx context.Context, rawURL string) Outcome {
	if o, ok := p.cache.Get(rawURL); ok && p.cache.Fresh(o) {
		return o
	}
	return p.ProbeFresh(ctx, rawURL)
}

// ProbeFresh ignores any cached outcome and always goes to the source. The
// result is cached unless the caller abandoned the context.
func (p *Prober) ProbeFresh(ctx context.Context, rawURL string) Outcome {
	out := p.run(ctx, rawURL)
	if !errors.Is(ctx.Err(), context.Canceled) {
		p.cache.Put(rawURL, out)
	}
	return out
}

// run drives the bounded retry loop. Only timeouts retry; the delay grows
// linearly with the attempt count.
func (p *Prober) run(ctx context.Context, rawURL string) Outcome {
	var out Outcome
	for attempt := 0; ; attempt++ {
		out = p.attempt(ctx, rawURL)
		if !out.Retryable() || attempt >= p.retries {
			break
		}
		delay := time.Duration(attempt+1) * p.backoff
		p.log.Debug("probe timed out, retrying", "url", rawURL, "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return out
		case <-time.After(delay):
		}
	}
	return out
}

func (p *Prober) attempt(ctx context.Context, raw string) Outcome {
	if strings.HasPrefix(raw, "/") {
		if _, err := os.Stat(raw); err == nil {
			return p.attemptFile(raw)
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Outcome{Reason: ReasonInvalidLink, ObservedAt: time.Now()}
	}
	switch {
	case u.Scheme == "http" || u.Scheme == "https":
		return p.attemptHTTP(ctx, raw)
	case u.Scheme == "file":
		return p.attemptFile(u.Path)
	case u.Scheme == "" && strings.HasPrefix(raw, "/") && p.base != "":
		return p.attemptHTTP(ctx, p.base+raw)
	case u.Scheme == "" && strings.HasPrefix(raw, "/"):
		return Outcome{Reason: ReasonUnavailable, ObservedAt: time.Now()}
	default:
		return Outcome{Reason: ReasonInvalidLink, ObservedAt: time.Now()}
	}
}

func (p *Prober) attemptHTTP(ctx context.Context, rawURL string) Outcome {
	if err := p.sched.Acquire(ctx); err != nil {
		return Outcome{Reason: ReasonUnavailable, ObservedAt: time.Now()}
	}
	defer p.sched.Release()

	actx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Outcome{Reason: ReasonInvalidLink, ObservedAt: time.Now()}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", p.sniffBytes-1))
	if p.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+p.bearer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return p.classifyNetErr(actx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.CopyN(io.Discard, resp.Body, 512)
		return Outcome{Reason: ReasonHTTPError, StatusCode: resp.StatusCode, ObservedAt: time.Now()}
	}

	prefix, err := io.ReadAll(io.LimitReader(resp.Body, int64(p.sniffBytes)))
	if err != nil && len(prefix) == 0 {
		return p.classifyNetErr(actx, err)
	}
	return p.classifyBody(resp.Header.Get("Content-Type"), prefix, totalLength(resp, len(prefix)))
}

func (p *Prober) attemptFile(path string) Outcome {
	now := time.Now()
	f, err := os.Open(path)
	if err != nil {
		return Outcome{Reason: ReasonUnavailable, ObservedAt: now}
	}
	defer f.Close()

	buf := make([]byte, p.sniffBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Outcome{Reason: ReasonUnavailable, ObservedAt: now}
	}
	length := int64(n)
	if st, err := f.Stat(); err == nil {
		length = st.Size()
	}
	return p.classifyBody(mime.TypeByExtension(filepath.Ext(path)), buf[:n], length)
}

func (p *Prober) classifyNetErr(ctx context.Context, err error) Outcome {
	now := time.Now()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Outcome{Reason: ReasonTimeout, ObservedAt: now}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return Outcome{Reason: ReasonTimeout, ObservedAt: now}
	}
	return Outcome{Reason: ReasonUnavailable, ObservedAt: now}
}

// classifyBody applies the acceptance rules: empty bodies are rejected, a
// matching signature accepts regardless of declared type, a declared audio
// type carries an inconclusive prefix, and everything else is rejected.
func (p *Prober) classifyBody(ct string, prefix []byte, length int64) Outcome {
	now := time.Now()
	if len(prefix) == 0 {
		return Outcome{Reason: ReasonEmptyAudio, ContentType: ct, ObservedAt: now}
	}
	format, match := SniffAudio(prefix)
	switch {
	case match:
		return Outcome{OK: true, ContentType: ct, Format: format, Length: length, ObservedAt: now}
	case AudioLikeContentType(ct):
		return Outcome{OK: true, ContentType: ct, Length: length, ObservedAt: now}
	default:
		return Outcome{Reason: ReasonUnexpectedContent, ContentType: ct, Length: length, ObservedAt: now}
	}
}

// totalLength prefers the full size from Content-Range on partial responses,
// then the response Content-Length, then what was actually read.
func totalLength(resp *http.Response, read int) int64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if i := strings.LastIndexByte(cr, '/'); i >= 0 {
			if n, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
				return n
			}
		}
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	return int64(read)
}
