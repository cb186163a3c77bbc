// Package index implements the virtual rotational-index pulse
// scheduler: a free-running software timer that alternates a 2 ms
// active-high pulse with a ~198 ms low phase, one pulse per 200 ms
// revolution, re-armed from the previous absolute edge time rather
// than "now" to avoid drift. While the read engine is Active it may
// pre-empt the free-running re-arm with a deadline computed from the
// emitted bitstream.
package index

import (
	"sync"
	"time"

	"github.com/fluxcore/floppycore/clock"
)

// Period is one disk revolution at the nominal 300 RPM.
const Period = 200 * time.Millisecond

// ActiveWidth is the asserted duration of the index pulse.
const ActiveWidth = 2 * time.Millisecond

// Scheduler drives pin_index. OnChange is called with the new
// asserted state every time the pulse edges; it is invoked with the
// scheduler's mutex held, so it must not call back into the
// scheduler.
type Scheduler struct {
	clk      clock.Source
	OnChange func(asserted bool)

	mu       sync.Mutex
	timer    clock.Timer
	active   bool
	prevTime time.Time
	resynced bool
}

// New creates a Scheduler. The caller must call Start to begin the
// free-running cadence.
func New(clk clock.Source, onChange func(asserted bool)) *Scheduler {
	return &Scheduler{clk: clk, OnChange: onChange}
}

// Start arms the first index-low->index-high transition
// Period-ActiveWidth from now and begins the free-running cadence.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prevTime = s.clk.Now()
	s.active = false
	s.timer = s.clk.AfterFunc(Period-ActiveWidth, s.fireLow)
}

// Stop halts the timer. On drive eject or stop the scheduler resumes
// its free-running default: callers restart via Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Active reports whether pin_index is currently asserted.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// PrevTime returns the monotonic tick at which the previous index
// edge asserted, used by the read engine to compute a sync-time
// deadline.
func (s *Scheduler) PrevTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prevTime
}

// fireLow transitions index-low -> index-high: assert the pulse and
// re-arm for ActiveWidth from the previous absolute edge time.
func (s *Scheduler) fireLow() {
	s.mu.Lock()
	s.active = true
	s.prevTime = s.prevTime.Add(Period - ActiveWidth)
	s.timer = s.clk.AfterFunc(ActiveWidth, s.fireHigh)
	cb := s.OnChange
	s.mu.Unlock()
	if cb != nil {
		cb(true)
	}
}

// fireHigh transitions index-high -> index-low: deassert the pulse
// and re-arm for the remainder of the revolution from the previous
// absolute edge time, unless a resync pre-empted the deadline.
func (s *Scheduler) fireHigh() {
	s.mu.Lock()
	s.active = false
	s.prevTime = s.prevTime.Add(ActiveWidth)
	s.resynced = false
	s.timer = s.clk.AfterFunc(Period-ActiveWidth, s.fireLow)
	cb := s.OnChange
	s.mu.Unlock()
	if cb != nil {
		cb(false)
	}
}

// Resync is called by the read engine with the time remaining until
// the image's internal index mark crosses the live flux stream. It
// re-arms the next low->high transition to occur exactly that far in
// the future, without disturbing the active-pulse width bookkeeping.
func (s *Scheduler) Resync(ticksRemaining time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.prevTime = s.clk.Now().Add(ticksRemaining - (Period - ActiveWidth))
	s.resynced = true
	s.timer = s.clk.AfterFunc(ticksRemaining, s.fireLow)
}
