package debounce

import (
	"sort"
	"sync"
	"time"
)

// FakeScheduler is a manual clock for tests. Timers fire only from
// Advance, on the calling goroutine, in deadline order.
type FakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	nextID int
	timers []*fakeTimer
}

type fakeTimer struct {
	s        *FakeScheduler
	id       int
	deadline time.Duration
	f        func()
	stopped  bool
	fired    bool
}

// NewFakeScheduler returns a scheduler whose clock starts at zero.
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{}
}

// AfterFunc registers f to run once the clock passes d from now.
func (s *FakeScheduler) AfterFunc(d time.Duration, f func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t := &fakeTimer{s: s, id: s.nextID, deadline: s.now + d, f: f}
	s.timers = append(s.timers, t)

	return t
}

// Stop cancels the timer. It reports whether the timer was still armed.
func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}

	t.stopped = true

	return true
}

// Advance moves the clock forward by d and runs every timer that comes
// due, including timers armed by callbacks that fall inside the window.
func (s *FakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		t := s.nextDue(target)

		if t == nil {
			s.now = target
			s.compact()
			s.mu.Unlock()

			return
		}

		s.now = t.deadline
		t.fired = true
		s.mu.Unlock()

		t.f()
	}
}

// Pending returns the number of armed timers.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0

	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}

	return n
}

// Now returns the elapsed fake time.
func (s *FakeScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.now
}

func (s *FakeScheduler) nextDue(target time.Duration) *fakeTimer {
	var due []*fakeTimer

	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.deadline <= target {
			due = append(due, t)
		}
	}

	if len(due) == 0 {
		return nil
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}

		return due[i].id < due[j].id
	})

	return due[0]
}

func (s *FakeScheduler) compact() {
	live := s.timers[:0]

	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}

	s.timers = live
}
