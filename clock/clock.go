// Package clock abstracts the monotonic time base hardware timers
// provide, used by the index scheduler's re-arm and the read engine's
// sync-time computation. A real build uses the wall clock; tests
// substitute a Fake clock so timer re-arms and index resync math are
// deterministic instead of racing real time.
package clock

import (
	"sync"
	"time"
)

// Timer is the subset of time.Timer's API the engines need.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

// Source is the clock/timer factory used throughout core, index,
// rdata, wdata and step instead of calling time.Now/time.AfterFunc
// directly, so the whole core can run against a Fake clock in tests.
type Source interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the production Source, backed directly by the time
// package.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Fake is a deterministic Source for tests: Now() returns a value
// advanced only by explicit calls to Advance, and AfterFunc callbacks
// fire synchronously, in scheduled order, as Advance crosses their
// deadline.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	nextTag int
}

// NewFake returns a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

type fakeTimer struct {
	f        *Fake
	deadline time.Time
	cb       func()
	active   bool
	tag      int
}

func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	was := t.active
	t.active = false
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.f.mu.Lock()
	was := t.active
	t.deadline = t.f.now.Add(d)
	t.active = true
	t.f.mu.Unlock()
	return was
}

func (f *Fake) AfterFunc(d time.Duration, cb func()) Timer {
	f.mu.Lock()
	f.nextTag++
	t := &fakeTimer{f: f, deadline: f.now.Add(d), cb: cb, active: true, tag: f.nextTag}
	f.timers = append(f.timers, t)
	f.mu.Unlock()
	return t
}

// Advance moves the fake clock forward by d, firing due timers in
// deadline order. Now() observed from inside a callback reads that
// timer's own deadline, and a callback may schedule or reset timers;
// anything it arms within the advanced window fires in the same call,
// so re-arming chains (an engine re-scheduling itself) play out fully.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		var next *fakeTimer
		live := f.timers[:0]
		for _, t := range f.timers {
			if !t.active {
				continue
			}
			live = append(live, t)
			if !t.deadline.After(target) && (next == nil || t.deadline.Before(next.deadline) ||
				(t.deadline.Equal(next.deadline) && t.tag < next.tag)) {
				next = t
			}
		}
		f.timers = live
		if next == nil {
			break
		}
		if next.deadline.After(f.now) {
			f.now = next.deadline
		}
		next.active = false
		cb := next.cb
		f.mu.Unlock()
		cb()
		f.mu.Lock()
	}
	f.now = target
	f.mu.Unlock()
}
