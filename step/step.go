// Package step implements the head-stepping state machine: a
// two-tier fast-ISR / soft-IRQ / timer pipeline that accepts host
// step pulses, serializes them against a settle time, and tracks the
// current cylinder with a clamp at 84 on outward steps from above and
// a floor at 0.
package step

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxcore/floppycore/clock"
)

// State is the step engine's lifecycle.
type State int32

const (
	Idle State = iota
	Started
	Latched
	Settling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Started:
		return "started"
	case Latched:
		return "latched"
	case Settling:
		return "settling"
	default:
		return "unknown"
	}
}

// LatchDelay is the fixed "start + 2 ms" delay between a step pulse
// latching and the cylinder update + click.
const LatchDelay = 2 * time.Millisecond

// DefaultSettle is the typical head settle time after a step.
const DefaultSettle = 12 * time.Millisecond

// ClampCylinder is the cylinder an outward step snaps to before
// decrementing, when coming from a cylinder at or above it (the
// "fast step back from cyl 255" absorption rule).
const ClampCylinder = 84

// MaxCylinder is the highest cylinder number representable.
const MaxCylinder = 255

// Engine is the step + status state machine.
type Engine struct {
	clk clock.Source

	// OnClick fires the speaker click, at the Latched transition
	// rather than the initial pulse; the audible delay is part of
	// the drive's character.
	OnClick func()
	// OnTrack0 asserts/deasserts pin_trk0.
	OnTrack0 func(asserted bool)

	// SettleDuration is the configurable settle time; defaults to
	// DefaultSettle.
	SettleDuration time.Duration

	mu        sync.Mutex
	state     atomic.Int32
	cyl       int
	started   bool
	outward   bool
	startTime time.Time
	timer     clock.Timer
}

// New constructs an Engine at cylinder 0, Idle.
func New(clk clock.Source) *Engine {
	return &Engine{clk: clk, SettleDuration: DefaultSettle}
}

// State reports the current step state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Active reports whether a step is in flight (any non-Idle state);
// the read engine must not start while it is.
func (e *Engine) Active() bool {
	return e.State() != Idle
}

// Cylinder returns the current track number.
func (e *Engine) Cylinder() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cyl
}

// SettleRemaining reports how much settle time is left if currently
// Settling, else zero; used to extend the read engine's seek-ahead
// window.
func (e *Engine) SettleRemaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if State(e.state.Load()) != Settling {
		return 0
	}
	d := e.startTime.Add(e.SettleDuration).Sub(e.clk.Now())
	if d < 0 {
		return 0
	}
	return d
}

// OnStepPulse is the high-priority interrupt entry point: it records
// the pulse and latched direction, then posts the low-priority
// soft-IRQ work item.
func (e *Engine) OnStepPulse(outward bool) {
	e.mu.Lock()
	e.started = true
	e.startTime = e.clk.Now()
	e.outward = outward
	e.state.Store(int32(Started))
	e.mu.Unlock()

	e.softIRQ()
}

// softIRQ is the low-priority handler: it observes `started`, cancels
// any pending step timer, transitions to Latched, and re-arms the
// timer for start+LatchDelay.
func (e *Engine) softIRQ() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	if e.timer != nil {
		e.timer.Stop()
	}
	e.state.Store(int32(Latched))
	start := e.startTime
	e.mu.Unlock()

	d := start.Add(LatchDelay).Sub(e.clk.Now())
	if d < 0 {
		d = 0
	}
	e.mu.Lock()
	e.timer = e.clk.AfterFunc(d, e.onLatchTimer)
	e.mu.Unlock()
}

// onLatchTimer fires at start+LatchDelay: it clicks the speaker,
// clamps and applies the cylinder update, asserts track-0, and
// re-arms for start+SettleDuration.
func (e *Engine) onLatchTimer() {
	e.mu.Lock()
	if State(e.state.Load()) != Latched {
		e.mu.Unlock()
		return
	}
	cyl := e.cyl
	if e.outward {
		if cyl >= ClampCylinder {
			cyl = ClampCylinder
		}
		if cyl > 0 {
			cyl--
		}
	} else if cyl < MaxCylinder {
		cyl++
	}
	e.cyl = cyl
	e.state.Store(int32(Settling))
	start := e.startTime
	e.mu.Unlock()

	if e.OnClick != nil {
		e.OnClick()
	}
	if e.OnTrack0 != nil {
		e.OnTrack0(cyl == 0)
	}

	d := start.Add(e.SettleDuration).Sub(e.clk.Now())
	if d < 0 {
		d = 0
	}
	e.mu.Lock()
	e.timer = e.clk.AfterFunc(d, e.onSettleTimer)
	e.mu.Unlock()
}

// onSettleTimer fires at start+SettleDuration: CAS Settling->Idle. If
// a new step pulse arrived mid-settle, the high-priority ISR already
// moved the state to Started and this CAS loses, so the completion is
// silently dropped.
func (e *Engine) onSettleTimer() {
	e.state.CompareAndSwap(int32(Settling), int32(Idle))
}
