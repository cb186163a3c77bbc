// Package wdata implements the write engine: it captures host
// write-data edges via a simulated input-capture timer and circular
// DMA, converts inter-edge intervals into an MFM bit stream by
// direct bitcell accounting, and hands completed 32-bit words to an
// Image for persistence. Unlike a capture from real media there is no
// clock recovery here: the host writes against the emulated drive's
// own clock, so bitcells are counted straight off the edge deltas.
package wdata

import (
	"time"

	"github.com/fluxcore/floppycore/clock"
	"github.com/fluxcore/floppycore/image"
	"github.com/fluxcore/floppycore/ring"
	"github.com/fluxcore/floppycore/sysclock"
)

// SettleDelay is a settle window inserted when write-gate first
// asserts, during which captured edges are dropped rather than
// processed. X-Copy asserts the gate early and the first edges are
// garbage; do not remove without testing against it.
const SettleDelay = 100 * time.Microsecond

// bitcellTicks is the nominal 2 us-equivalent bitcell width in
// system-clock ticks.
const bitcellTicks = 2 * sysclock.MHz

// missingBitcellThreshold is the "while curr > 3*SYSCLK_MHZ" cutoff
// past which the algorithm infers a missing (zero) bitcell.
const missingBitcellThreshold = 3 * sysclock.MHz

// Engine is the WDATA state machine.
type Engine struct {
	ring *ring.WriteRing
	clk  clock.Source
	img  image.Image

	// ReadState reports the read engine's current lifecycle state;
	// Starting->Active may not proceed until it reports Inactive.
	ReadState func() ring.State
	// RequestReadStop asks the read engine to drain to Inactive.
	RequestReadStop func()
	// Track reports the cylinder/head to re-seek before becoming Active.
	Track func() (cyl, head int)
	// IndexOffset reports the current rotational offset (system
	// ticks since the last index edge), stashed as the write-start
	// position so the codec can place the data on the track.
	IndexOffset func() uint32
	// Log receives diagnostics for degraded-but-running conditions.
	Log func(format string, args ...any)

	syncword uint32
	mfmWord  uint32
	bitPos   uint64

	settleUntil time.Time
	settling    bool
}

// New constructs an Engine bound to ring r and image img. The
// syncword is read from img.Handler() at construction time.
func New(clk clock.Source, r *ring.WriteRing, img image.Image) *Engine {
	return &Engine{ring: r, clk: clk, img: img, syncword: img.Handler().Syncword}
}

// State reports the ring's lifecycle state.
func (e *Engine) State() ring.State {
	return e.ring.State()
}

func (e *Engine) logf(format string, args ...any) {
	if e.Log != nil {
		e.Log(format, args...)
	}
}

// SetWriteGate is the host-facing write-gate edge entry point.
// Asserting it while Inactive begins a write; asserting it again
// before the previous write finished draining is an overrun, logged
// and dropped. Deasserting it while Starting or Active begins the
// Stopping drain.
func (e *Engine) SetWriteGate(asserted bool) {
	if asserted {
		if e.ring.State() != ring.Inactive {
			e.logf("wdata: missed write, engine busy")
			return
		}
		e.ring.Reset()
		e.ring.SetState(ring.Starting)
		e.bitPos = 0
		e.mfmWord = 0
		if e.IndexOffset != nil {
			e.img.SetWriteStart(e.IndexOffset())
		}
		e.settleUntil = e.clk.Now().Add(SettleDelay)
		e.settling = true
		return
	}

	switch e.ring.State() {
	case ring.Starting, ring.Active:
		e.ring.SetState(ring.Stopping)
		e.processNewSamples() // re-pend the DMA ISR once to flush
	}
}

// CaptureEdge is the simulated input-capture timer ISR: it is called
// once per falling edge on write-data with the free-running counter
// value at that instant. Edges during the settle window are dropped.
func (e *Engine) CaptureEdge(raw uint16) {
	if e.ring.State() == ring.Inactive {
		return
	}
	if e.settling {
		if e.clk.Now().Before(e.settleUntil) {
			return
		}
		e.settling = false
		e.ring.SetPrevSample(raw)
		return
	}
	e.ring.ProduceOne(raw)
	e.processNewSamples()
}

// processNewSamples walks newly captured samples and converts each
// inter-edge interval into MFM bits: one zero per whole bitcell the
// interval overshoots, then the one for the transition itself.
func (e *Engine) processNewSamples() {
	pending := e.ring.Pending()
	if len(pending) == 0 {
		return
	}
	for _, next := range pending {
		prev := e.ring.PrevSample()
		curr := uint32(next - prev) // 16-bit wrap is intentional
		e.ring.SetPrevSample(next)

		for curr > missingBitcellThreshold {
			e.emitBit(0)
			curr -= bitcellTicks
		}
		e.emitBit(1)

		if e.mfmWord == e.syncword {
			e.wordAlign()
		}
	}
	e.ring.Advance(len(pending))
}

func (e *Engine) emitBit(bit uint32) {
	e.mfmWord = (e.mfmWord << 1) | bit
	e.bitPos++
	if e.bitPos%32 == 0 {
		e.img.CommitWriteWord(e.mfmWord)
	}
}

// wordAlign rounds the bit position down to the next 32-bit boundary
// after a syncword match, so the bit immediately following the
// syncword starts a fresh word.
func (e *Engine) wordAlign() {
	e.bitPos = (e.bitPos / 32) * 32
}

// Handle runs one foreground-loop iteration and reports whether it
// would like to be re-entered soon.
func (e *Engine) Handle() (requeue bool) {
	switch e.ring.State() {
	case ring.Inactive:
		return false
	case ring.Starting:
		return e.handleStarting()
	case ring.Active:
		if err := e.img.WriteTrack(false); err != nil {
			e.logf("wdata: write_track: %v", err)
		}
		return true
	case ring.Stopping:
		return e.handleStopping()
	default:
		return false
	}
}

func (e *Engine) handleStarting() bool {
	if e.ReadState() != ring.Inactive {
		if e.RequestReadStop != nil {
			e.RequestReadStop()
		}
		return true
	}
	cyl, head := e.Track()
	if _, err := e.img.SeekTrack(cyl, head, nil); err != nil {
		e.logf("wdata: seek %d.%d: %v", cyl, head, err)
		return true
	}
	if !e.ring.CAS(ring.Starting, ring.Active) {
		return true // lost to a concurrent SetWriteGate(false)
	}
	return true
}

func (e *Engine) handleStopping() bool {
	e.processNewSamples()
	flush := len(e.ring.Pending()) == 0
	if flush {
		// A trailing partial word is committed shifted into place
		// so the codec sees a consistent prefix of the bitstream.
		if rem := e.bitPos % 32; rem != 0 {
			e.img.CommitWriteWord(e.mfmWord << (32 - rem))
			e.bitPos += 32 - rem
		}
	}
	if err := e.img.WriteTrack(flush); err != nil {
		e.logf("wdata: write_track(flush=%v): %v", flush, err)
	}
	if !flush {
		return true
	}
	e.ring.Reset()
	if err := e.img.Sync(); err != nil {
		e.logf("wdata: sync: %v", err)
	}
	return false
}
