// Package rdata implements the read engine: it pulls flux samples
// from an Image and feeds them to the read-data pin with
// sub-microsecond-accurate bit-cell timing, synchronized to the
// virtual index mark. The hardware PWM timer + circular DMA pair is
// modeled as a clock.Source-driven chain of scheduled callbacks that
// emit samples by invoking OnPulse, the same way real hardware would
// toggle the read-data line; tests observe the callback sequence
// instead of an oscilloscope.
package rdata

import (
	"time"

	"github.com/fluxcore/floppycore/clock"
	"github.com/fluxcore/floppycore/image"
	"github.com/fluxcore/floppycore/index"
	"github.com/fluxcore/floppycore/ring"
	"github.com/fluxcore/floppycore/sysclock"
)

// SeekAheadWindow is the nominal lead time the foreground loop
// schedules a read start ahead of the next index edge.
const SeekAheadWindow = 10 * time.Millisecond

// HighSlack is the "more than this remains" threshold past which the
// foreground loop yields rather than preparing to start.
const HighSlack = 5 * time.Millisecond

// LowSlack is the "less than this remains" threshold below which the
// engine starts the timer/DMA immediately rather than scheduling a
// precise wakeup.
const LowSlack = time.Microsecond

// UnderrunRetry is how soon the engine retries after the DMA consumer
// outruns the producer.
const UnderrunRetry = 4 * time.Microsecond

// Engine is the RDATA state machine (package-level state lives in
// ring.ReadRing.State()).
type Engine struct {
	ring *ring.ReadRing
	clk  clock.Source
	img  image.Image
	idx  *index.Scheduler

	// OnPulse is invoked once per emitted flux transition with the
	// interval (in system ticks) since the previous one -- the
	// observable equivalent of a pin_rdata pulse.
	OnPulse func(intervalTicks uint16)
	// OnPinActive toggles the output pin between its PWM alternate
	// function (true) and idle pushed-pull level (false).
	OnPinActive func(active bool)
	// Log receives diagnostics for degraded-but-running conditions.
	Log func(format string, args ...any)

	// StepActive reports whether a step is in flight (latching or
	// settling); reads must not start while stepping.
	StepActive func() bool
	// WriteActive reports whether the write engine is non-Inactive.
	WriteActive func() bool
	// SettleRemaining reports any additional settle time left on the
	// current step, extending the seek-ahead window.
	SettleRemaining func() time.Duration
	// Track reports the cylinder/head to seek.
	Track func() (cyl, head int)

	timer          clock.Timer
	syncTime       time.Time
	startScheduled bool
	kickPending    bool
	lastTicks      uint32
	haveLastTicks  bool
}

// New constructs an Engine bound to ring r, image img, and index
// scheduler idx.
func New(clk clock.Source, r *ring.ReadRing, img image.Image, idx *index.Scheduler) *Engine {
	return &Engine{ring: r, clk: clk, img: img, idx: idx}
}

// State reports the ring's lifecycle state.
func (e *Engine) State() ring.State {
	return e.ring.State()
}

// RequestStop drives the engine to Stopping from any active state:
// an eject, seek, side switch, or the write engine taking over.
func (e *Engine) RequestStop() {
	switch e.ring.State() {
	case ring.Inactive:
		return
	case ring.Starting:
		e.ring.SetState(ring.Stopping)
	case ring.Active:
		e.ring.SetState(ring.Stopping)
	}
	if e.timer != nil {
		e.timer.Stop()
	}
}

// Handle runs one foreground-loop iteration and reports whether it
// would like to be re-entered soon.
func (e *Engine) Handle() (requeue bool) {
	switch e.ring.State() {
	case ring.Inactive:
		return e.handleInactive()
	case ring.Starting:
		return e.handleStarting()
	case ring.Active:
		return e.handleActive()
	case ring.Stopping:
		return e.handleStopping()
	default:
		return false
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.Log != nil {
		e.Log(format, args...)
	}
}

func (e *Engine) handleInactive() bool {
	if e.StepActive() || e.WriteActive() {
		return false // reads are not started while stepping or writing
	}

	lastIndex := e.idx.PrevTime()
	window := SeekAheadWindow
	if settle := e.SettleRemaining(); settle > window {
		window = settle
	}
	syncTime := lastIndex.Add(window)
	for syncTime.Sub(lastIndex) >= index.Period {
		syncTime = syncTime.Add(-index.Period)
	}

	cyl, head := e.Track()
	var pos uint32
	busy, err := e.img.SeekTrack(cyl, head, &pos)
	if err != nil {
		e.logf("rdata: seek %d.%d: %v", cyl, head, err)
		return true
	}
	if busy {
		return true // seek in progress, retry next invocation
	}

	// Re-check immediately before committing the transition.
	if e.StepActive() || e.WriteActive() {
		return false
	}

	e.syncTime = syncTime
	e.haveLastTicks = false
	e.ring.SetState(ring.Starting)
	return true
}

func (e *Engine) handleStarting() bool {
	if buffered, err := e.img.ReadTrack(); err == nil && buffered {
		e.fillProducer()
	} else if err != nil {
		e.logf("rdata: read_track: %v", err)
	}

	if e.ring.Len() < ring.Capacity/2 {
		return true
	}
	if e.startScheduled {
		return true
	}

	remaining := e.syncTime.Sub(e.clk.Now())
	switch {
	case remaining > HighSlack:
		return true // (a) yield, too early still
	case remaining < LowSlack:
		e.start() // (b) start immediately
	default:
		e.startScheduled = true
		e.timer = e.clk.AfterFunc(remaining, e.start) // (c) precise wakeup
	}
	return true
}

func (e *Engine) start() {
	e.startScheduled = false
	if !e.ring.CAS(ring.Starting, ring.Active) {
		return // a stop raced us
	}
	if e.OnPinActive != nil {
		e.OnPinActive(true)
	}
	e.scheduleNextPulse()
}

func (e *Engine) handleActive() bool {
	buffered, err := e.img.ReadTrack()
	if err != nil {
		e.logf("rdata: read_track: %v", err)
	}
	if buffered {
		e.fillProducer()
		if e.kickPending {
			e.kickPending = false
			e.fillProducer()
		}
	}

	cur := e.img.TicksSinceIndex()
	if e.haveLastTicks && cur < e.lastTicks {
		e.resyncIndex(cur)
	}
	e.lastTicks = cur
	e.haveLastTicks = true
	return true
}

// fillProducer is the DMA half/full-transfer replenishment step:
// compute the contiguous free space, ask the image for that many
// samples, and advance the producer index. A short fill sets
// kickPending so the next buffered read re-triggers replenishment.
func (e *Engine) fillProducer() {
	free := e.ring.Free()
	if free <= 0 {
		return
	}
	buf := make([]uint16, free)
	n, err := e.img.RDataFlux(buf)
	if err != nil {
		e.logf("rdata: rdata_flux: %v", err)
		return
	}
	if n > 0 {
		e.ring.Produce(buf[:n])
	}
	if n < free {
		e.kickPending = true
	}
}

// resyncIndex re-arms the index scheduler to the moment the image's
// internal index mark crosses the live flux stream: the queued
// emission backlog, minus how far past its index the image has
// already produced. The backlog snapshot retries internally if the
// consumer advances mid-sum.
func (e *Engine) resyncIndex(curTicksSinceIndex uint32) {
	queued := e.ring.QueuedTicks()
	if queued <= curTicksSinceIndex {
		return // the crossing already played out
	}
	remaining := queued - curTicksSinceIndex
	e.idx.Resync(time.Duration(sysclock.NanosFromTicks(remaining)))
}

func (e *Engine) scheduleNextPulse() {
	if e.ring.State() != ring.Active {
		return
	}
	sample, ok := e.ring.ConsumeOne()
	if !ok {
		e.logf("rdata: underrun")
		e.timer = e.clk.AfterFunc(UnderrunRetry, e.scheduleNextPulse)
		return
	}
	if e.OnPulse != nil {
		e.OnPulse(sample)
	}
	d := time.Duration(sysclock.NanosFromTicks(uint32(sample)))
	if d <= 0 {
		d = time.Nanosecond
	}
	e.timer = e.clk.AfterFunc(d, e.scheduleNextPulse)
}

func (e *Engine) handleStopping() bool {
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.OnPinActive != nil {
		e.OnPinActive(false)
	}
	e.ring.Reset() // advances Stopping -> Inactive and empties the ring
	return false
}
