package syncer

import (
	"sync"
	"time"

	"github.com/dvloznov/finance-sync/internal/remote"
)

// accumulator buffers live snapshots until the next flush. Snapshots keep
// their arrival order, so per-collection order survives coalescing.
type accumulator struct {
	mu      sync.Mutex
	pending []remote.Snapshot
	closed  bool

	// idle is non-zero when the store has no quiescence signal. Every add then
	// re-arms a timer that flushes once the stream has been quiet for idle.
	idle  time.Duration
	timer *time.Timer
	flush func()
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

// flushWhenIdle switches the accumulator to timer driven flushing.
func (a *accumulator) flushWhenIdle(idle time.Duration, flush func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.idle = idle
	a.flush = flush
}

func (a *accumulator) add(snap remote.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || (len(snap.Changes) == 0 && !snap.Complete) {
		return
	}
	a.pending = append(a.pending, snap)

	if a.idle <= 0 {
		return
	}
	if a.timer == nil {
		a.timer = time.AfterFunc(a.idle, a.flush)
		return
	}
	a.timer.Reset(a.idle)
}

// take returns the buffered snapshots and clears the buffer.
func (a *accumulator) take() []remote.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pending
	a.pending = nil
	return out
}

func (a *accumulator) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.pending = nil
	if a.timer != nil {
		a.timer.Stop()
	}
}
