package session

import (
	"context"
	"log"
	"sync"
	"time"
)

// AutoStopTimer counts session seconds on a local 1 Hz tick and triggers the
// stop path exactly once when the configured duration (plus a one-second
// grace buffer) elapses. The stopping/stopped guards make the trigger safe
// against a concurrent manual or emergency stop: whichever side wins, the
// other becomes a no-op.
type AutoStopTimer struct {
	mu        sync.Mutex
	elapsed   int
	threshold int
	stopping  bool
	stopped   bool
	onStop    func()
}

func NewAutoStopTimer(durationMinutes float64, onStop func()) *AutoStopTimer {
	return &AutoStopTimer{
		threshold: int(durationMinutes*60) + 1,
		onStop:    onStop,
	}
}

// Run ticks at 1 Hz until the context dies or the session is marked stopped.
func (t *AutoStopTimer) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.Tick() {
				return
			}
		}
	}
}

// Tick advances the session clock by one second and fires the stop callback
// if the threshold was just crossed. Multiple ticks landing in the same
// evaluation window still fire only once. Returns true once the timer has
// nothing left to do.
func (t *AutoStopTimer) Tick() bool {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return true
	}
	t.elapsed++
	fire := !t.stopping && t.elapsed >= t.threshold
	if fire {
		t.stopping = true
	}
	t.mu.Unlock()

	if fire {
		log.Printf("AutoStopTimer: duration reached after %ds, triggering stop", t.Elapsed())
		if t.onStop != nil {
			t.onStop()
		}
	}
	return false
}

// MarkStopping records that a stop is already in flight (manual or
// emergency) so the timer will not trigger a second one.
func (t *AutoStopTimer) MarkStopping() {
	t.mu.Lock()
	t.stopping = true
	t.mu.Unlock()
}

// MarkStopped freezes the clock for good.
func (t *AutoStopTimer) MarkStopped() {
	t.mu.Lock()
	t.stopping = true
	t.stopped = true
	t.mu.Unlock()
}

// Elapsed returns the counted session seconds.
func (t *AutoStopTimer) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}
