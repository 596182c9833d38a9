// Package debounce implements trailing-edge coalescing of bursty events.
//
// A Debouncer keeps at most one pending timer. Every Trigger cancels the
// pending timer and arms a new one, so only the last call in a burst runs,
// one delay after the burst goes quiet. Each armed timer carries a
// sequence number; a timer whose sequence is no longer current does
// nothing when it fires, which covers the window where Stop on the old
// timer loses the race with its callback.
package debounce

import (
	"sync"
	"time"
)

// Handle is a cancellable pending timer.
type Handle interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d. It matches time.AfterFunc
// so tests can substitute a manual clock.
type AfterFunc func(d time.Duration, f func()) Handle

// Real schedules with the runtime timer.
func Real(d time.Duration, f func()) Handle {
	return time.AfterFunc(d, f)
}

// Debouncer coalesces calls to Trigger.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	after   AfterFunc
	pending Handle
	seq     uint64
}

// New creates a Debouncer. A nil after uses Real.
func New(delay time.Duration, after AfterFunc) *Debouncer {
	if after == nil {
		after = Real
	}

	return &Debouncer{delay: delay, after: after}
}

// Delay returns the configured quiet window.
func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Trigger replaces any pending call with f.
func (d *Debouncer) Trigger(f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil {
		d.pending.Stop()
	}

	d.seq++
	seq := d.seq

	d.pending = d.after(d.delay, func() {
		d.mu.Lock()
		if seq != d.seq {
			d.mu.Unlock()
			return
		}

		d.pending = nil
		d.mu.Unlock()

		f()
	})
}

// Stop cancels the pending call, if any. It reports whether a call was
// pending.
func (d *Debouncer) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil {
		return false
	}

	d.pending.Stop()
	d.pending = nil
	d.seq++

	return true
}

// Pending reports whether a call is waiting for its timer.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.pending != nil
}
