// Package clock abstracts wall-clock reads and one-shot timers so that the
// session and call state machines can be driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// TimeProvider abstracts time operations for deterministic testing.
// Implementations must be safe for concurrent use.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since the given time.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Scheduler runs callbacks after a delay on a context other than the caller's.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler schedules callbacks with time.AfterFunc.
type RealScheduler struct{}

// AfterFunc schedules f on its own goroutine after d.
func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualScheduler is a Scheduler whose timers only fire when Advance is
// called. It also acts as a TimeProvider so tests share one notion of "now".
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	nextID uint64
	timers map[uint64]*manualTimer
}

type manualTimer struct {
	s    *ManualScheduler
	id   uint64
	when time.Time
	f    func()
}

// NewManualScheduler returns a scheduler frozen at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{
		now:    start,
		timers: make(map[uint64]*manualTimer),
	}
}

// Now returns the scheduler's current time.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Since returns the duration between t and the scheduler's current time.
func (s *ManualScheduler) Since(t time.Time) time.Duration {
	return s.Now().Sub(t)
}

// AfterFunc registers f to run once the clock has been advanced past d.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &manualTimer{s: s, id: s.nextID, when: s.now.Add(d), f: f}
	s.timers[t.id] = t
	return t
}

// Pending returns the number of armed timers.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Advance moves the clock forward by d and synchronously runs every timer
// that became due, in deadline order. Callbacks run without the scheduler
// lock held so they may arm new timers.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	due := make([]*manualTimer, 0, len(s.timers))
	for id, t := range s.timers {
		if !t.when.After(s.now) {
			due = append(due, t)
			delete(s.timers, id)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].when.Equal(due[j].when) {
			return due[i].id < due[j].id
		}
		return due[i].when.Before(due[j].when)
	})
	for _, t := range due {
		t.f()
	}
}

// FireAll runs every pending timer regardless of its deadline.
func (s *ManualScheduler) FireAll() {
	s.mu.Lock()
	due := make([]*manualTimer, 0, len(s.timers))
	for id, t := range s.timers {
		due = append(due, t)
		delete(s.timers, id)
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].id < due[j].id })
	for _, t := range due {
		t.f()
	}
}

// Stop removes the timer if it has not fired yet.
func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.timers[t.id]; !ok {
		return false
	}
	delete(t.s.timers, t.id)
	return true
}
