package probe

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSchedulerCeiling(t *testing.T) {
	s := NewScheduler(6)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			if h := s.Held(); h > 6 {
				t.Errorf("held %d slots, ceiling is 6", h)
			}
			time.Sleep(2 * time.Millisecond)
			s.Release()
		}()
	}
	wg.Wait()

	if p := s.Peak(); p > 6 {
		t.Fatalf("peak %d exceeded ceiling", p)
	}
	if h := s.Held(); h != 0 {
		t.Fatalf("slots leaked: %d still held", h)
	}
}

func TestSchedulerAcquireHonoursContext(t *testing.T) {
	s := NewScheduler(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Acquire(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
	s.Release()
	if h := s.Held(); h != 0 {
		t.Fatalf("expected 0 held got %d", h)
	}
}
