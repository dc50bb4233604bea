package probe

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Scheduler bounds the number of probes allowed on the network at once.
// Waiters are served in arrival order; a queued probe has no deadline of its
// own, the per-attempt timeout only starts once a slot is held. The held and
// peak counters exist for diagnostics and tests.
type Scheduler struct {
	sem  *semaphore.Weighted
	held atomic.Int64
	peak atomic.Int64
}

func NewScheduler(ceiling int) *Scheduler {
	if ceiling < 1 {
		ceiling = 1
	}
	return &Scheduler{sem: semaphore.NewWeighted(int64(ceiling))}
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (s *Scheduler) Acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	h := s.held.Add(1)
	for {
		p := s.peak.Load()
		if h <= p || s.peak.CompareAndSwap(p, h) {
			break
		}
	}
	return nil
}

// Release frees a slot. Callers must pair every successful Acquire with
// exactly one Release on every exit path.
func (s *Scheduler) Release() {
	s.held.Add(-1)
	s.sem.Release(1)
}

// Held is the number of slots currently taken.
func (s *Scheduler) Held() int64 { return s.held.Load() }

// Peak is the high-water mark of simultaneously held slots.
func (s *Scheduler) Peak() int64 { return s.peak.Load() }
