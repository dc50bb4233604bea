package preload

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type fakeHandle struct {
	url      string
	released atomic.Int32
}

func (h *fakeHandle) URL() string { return h.url }
func (h *fakeHandle) Release()    { h.released.Add(1) }

type fakeFactory struct {
	calls   atomic.Int32
	handles map[string]*fakeHandle
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{handles: map[string]*fakeHandle{}}
}

func (f *fakeFactory) build(ctx context.Context, url string) (Handle, error) {
	f.calls.Add(1)
	h := &fakeHandle{url: url}
	f.handles[url] = h
	return h, nil
}

func TestEnsureIsNoOpWhenPooled(t *testing.T) {
	f := newFakeFactory()
	pool, err := NewPool(4, f.build, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := pool.Ensure(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if err := pool.Ensure(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("factory called %d times, want 1", got)
	}
	if pool.Len() != 1 {
		t.Fatalf("pool len = %d, want 1", pool.Len())
	}
}

func TestEvictionFollowsInsertionOrder(t *testing.T) {
	f := newFakeFactory()
	pool, err := NewPool(4, f.build, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c", "d"} {
		if err := pool.Ensure(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	// Touching "a" again must not protect it from eviction.
	if err := pool.Ensure(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := pool.Ensure(ctx, "e"); err != nil {
		t.Fatal(err)
	}

	if pool.Contains("a") {
		t.Error("oldest entry still pooled after overflow")
	}
	if !pool.Contains("b") {
		t.Error("second-oldest entry was evicted instead of the oldest")
	}
	if got := f.handles["a"].released.Load(); got != 1 {
		t.Errorf("evicted handle released %d times, want 1", got)
	}
	if got := f.handles["b"].released.Load(); got != 0 {
		t.Errorf("kept handle released %d times", got)
	}
	if pool.Len() != 4 {
		t.Fatalf("pool len = %d, want 4", pool.Len())
	}
}

func TestDropAndClearRelease(t *testing.T) {
	f := newFakeFactory()
	pool, err := NewPool(4, f.build, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, u := range []string{"a", "b", "c"} {
		if err := pool.Ensure(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	pool.Drop("b")
	if got := f.handles["b"].released.Load(); got != 1 {
		t.Fatalf("dropped handle released %d times, want 1", got)
	}
	if pool.Len() != 2 {
		t.Fatalf("pool len = %d, want 2", pool.Len())
	}

	pool.Clear()
	if pool.Len() != 0 {
		t.Fatalf("pool len = %d after clear", pool.Len())
	}
	for _, u := range []string{"a", "c"} {
		if got := f.handles[u].released.Load(); got != 1 {
			t.Errorf("handle %q released %d times, want 1", u, got)
		}
	}
}

func TestPrefetcherRangedFetch(t *testing.T) {
	var gotRange, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	pf := &Prefetcher{Bearer: "token-123", Bytes: 64}
	h, err := pf.Fetch(context.Background(), srv.URL+"/a.mp3")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotRange != "bytes=0-63" {
		t.Errorf("range header = %q", gotRange)
	}
	if gotAuth != "Bearer token-123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	warm, ok := h.(*warmHandle)
	if !ok {
		t.Fatalf("handle type %T", h)
	}
	if warm.Size() != 64 {
		t.Errorf("prefetched %d bytes, want 64", warm.Size())
	}
	h.Release()
	h.Release()
	if warm.Size() != 0 {
		t.Errorf("release kept %d bytes", warm.Size())
	}
}

func TestPrefetcherErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	pf := &Prefetcher{}
	if _, err := pf.Fetch(context.Background(), srv.URL+"/a.mp3"); err == nil {
		t.Fatal("expected error for 403")
	}
	if _, err := pf.Fetch(context.Background(), "mailto:nobody"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
