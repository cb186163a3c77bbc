// Package core wires the flux rings, read/write engines, index
// scheduler, step engine, and status output mux into a single
// emulated drive.
//
// A deployment owns one FloppyCore per emulated drive header; all
// bulk work happens in Handle, which the owning event loop re-enters
// cooperatively and which never blocks.
package core

import (
	"context"
	"log"
	"sync"

	"github.com/fluxcore/floppycore/clock"
	"github.com/fluxcore/floppycore/config"
	"github.com/fluxcore/floppycore/gpio"
	"github.com/fluxcore/floppycore/image"
	"github.com/fluxcore/floppycore/index"
	"github.com/fluxcore/floppycore/rdata"
	"github.com/fluxcore/floppycore/ring"
	"github.com/fluxcore/floppycore/step"
	"github.com/fluxcore/floppycore/wdata"

	periphgpio "periph.io/x/periph/conn/gpio"
)

// PinSet names the physical pins backing the five status signals,
// wired through to gpio.NewOutputMux. A nil entry is legal.
type PinSet map[gpio.Signal]periphgpio.PinOut

// FloppyCore owns one drive's worth of state: the mounted image, the
// index scheduler, both flux rings and their engines, the step
// engine, and the status-pin shadow register.
type FloppyCore struct {
	clk   clock.Source
	drive config.Drive
	mux   *gpio.OutputMux
	idx   *index.Scheduler
	step  *step.Engine

	readRing  *ring.ReadRing
	writeRing *ring.WriteRing
	rd        *rdata.Engine
	wd        *wdata.Engine

	mu           sync.Mutex
	img          image.Image
	mounted      bool
	head         int
	selected     bool
	writeProtect bool

	// OnRData forwards each emitted read-data pulse interval to
	// whatever drives the physical or simulated cable.
	OnRData func(intervalTicks uint16)
	// Logger receives diagnostics for degraded-but-running
	// conditions (underrun, missed write). Defaults to log.Printf.
	Logger func(format string, args ...any)
}

// New constructs a FloppyCore for the given drive geometry, with pins
// backing the status signals. The drive starts empty: ready
// deasserted, disk-change and write-protect asserted, head over
// cylinder 0.
func New(clk clock.Source, drive config.Drive, pins PinSet) *FloppyCore {
	c := &FloppyCore{
		clk:       clk,
		drive:     drive,
		mux:       gpio.NewOutputMux(map[gpio.Signal]periphgpio.PinOut(pins)),
		readRing:  ring.NewReadRing(),
		writeRing: ring.NewWriteRing(),
		Logger:    log.Printf,
	}
	c.idx = index.New(clk, c.onIndexChange)
	c.step = step.New(clk)
	c.step.OnClick = c.onClick
	c.step.OnTrack0 = c.onTrack0
	c.idx.Start()

	c.writeProtect = true
	c.mux.Change(gpio.Index, activeLevel(false))
	c.mux.Change(gpio.Ready, activeLevel(false))
	c.mux.Change(gpio.DiskChange, activeLevel(true))
	c.mux.Change(gpio.WriteProtect, activeLevel(true))
	c.mux.Change(gpio.Track0, activeLevel(true))
	return c
}

// activeLevel maps an asserted/deasserted boolean to the open-drain
// convention of the Shugart interface: active signals pull the line
// low.
func activeLevel(active bool) periphgpio.Level {
	if active {
		return periphgpio.Low
	}
	return periphgpio.High
}

func (c *FloppyCore) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger(format, args...)
	}
}

func (c *FloppyCore) onIndexChange(active bool) {
	c.mux.Change(gpio.Index, activeLevel(active))
}

func (c *FloppyCore) onTrack0(asserted bool) {
	c.mux.Change(gpio.Track0, activeLevel(asserted))
}

func (c *FloppyCore) onClick() {
	c.logf("core: step click")
}

// track reports the head position the engines should seek: the step
// engine is the sole authority on the cylinder number.
func (c *FloppyCore) track() (cyl, head int) {
	c.mu.Lock()
	head = c.head
	c.mu.Unlock()
	return c.step.Cylinder(), head
}

// Mount loads img from slot and arms the read/write engines against
// it. The flux rings are fixed-size and reused across mounts; only
// the Image pointer and the two engine instances (which close over
// it) are replaced.
func (c *FloppyCore) Mount(img image.Image, slot image.Slot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mounted {
		return errAlreadyMounted
	}
	if err := img.Open(slot); err != nil {
		return err
	}

	c.readRing.Reset()
	c.writeRing.Reset()

	rd := rdata.New(c.clk, c.readRing, img, c.idx)
	wd := wdata.New(c.clk, c.writeRing, img)

	rd.StepActive = c.step.Active
	rd.WriteActive = func() bool { return wd.State() != ring.Inactive }
	rd.SettleRemaining = c.step.SettleRemaining
	rd.Track = c.track
	rd.OnPulse = func(v uint16) {
		if c.OnRData != nil {
			c.OnRData(v)
		}
	}
	rd.Log = c.logf

	wd.ReadState = rd.State
	wd.RequestReadStop = rd.RequestStop
	wd.Track = c.track
	wd.IndexOffset = img.TicksSinceIndex
	wd.Log = c.logf

	c.img = img
	c.rd = rd
	c.wd = wd
	c.mounted = true
	c.head = 0
	c.writeProtect = !img.WritesSupported()

	c.mux.Change(gpio.Ready, activeLevel(true))
	c.mux.Change(gpio.WriteProtect, activeLevel(c.writeProtect))
	c.mux.Change(gpio.DiskChange, activeLevel(true))
	return nil
}

// Eject stops both engines, flushes any pending write, and releases
// the mounted image.
func (c *FloppyCore) Eject() error {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return nil
	}
	rd, wd, img := c.rd, c.wd, c.img
	c.mu.Unlock()

	rd.RequestStop()
	wd.SetWriteGate(false)
	for rd.State() != ring.Inactive || wd.State() != ring.Inactive {
		rd.Handle()
		wd.Handle()
	}
	err := img.Sync()

	c.mu.Lock()
	c.mounted = false
	c.img = nil
	c.rd = nil
	c.wd = nil
	c.writeProtect = true
	c.mu.Unlock()

	c.mux.Change(gpio.Ready, activeLevel(false))
	c.mux.Change(gpio.WriteProtect, activeLevel(true))
	c.mux.Change(gpio.DiskChange, activeLevel(true))
	return err
}

// Handle runs one foreground-loop iteration of both engines. It
// reports whether it would like to be called again soon.
func (c *FloppyCore) Handle(ctx context.Context) (requeue bool) {
	select {
	case <-ctx.Done():
		return false
	default:
	}

	c.mu.Lock()
	mounted := c.mounted
	rd, wd := c.rd, c.wd
	c.mu.Unlock()
	if !mounted {
		return false
	}

	rReq := rd.Handle()
	wReq := wd.Handle()
	return rReq || wReq
}

// Cancel aborts any in-flight read or write immediately: both engines
// are forced onto their Stopping drain and will reach Inactive on the
// following Handle calls.
func (c *FloppyCore) Cancel() {
	c.mu.Lock()
	rd, wd := c.rd, c.wd
	c.mu.Unlock()
	if rd != nil {
		rd.RequestStop()
	}
	if wd != nil {
		wd.SetWriteGate(false)
	}
}

// Step issues one host step pulse in the given direction (outward
// when true). A stream being read from the old track drains first.
func (c *FloppyCore) Step(outward bool) {
	c.step.OnStepPulse(outward)
	c.mu.Lock()
	rd := c.rd
	c.mu.Unlock()
	if rd != nil {
		rd.RequestStop()
	}
}

// SetSide selects head 0 or 1. Changing sides mid-read drains the
// current stream; the new side's data starts on the next read cycle.
func (c *FloppyCore) SetSide(n int) {
	if n != 0 {
		n = 1
	}
	c.mu.Lock()
	changed := c.head != n
	c.head = n
	rd := c.rd
	c.mu.Unlock()
	if changed && rd != nil {
		rd.RequestStop()
	}
}

// SetSelect drives the drive-select line, gating whether the shadow
// status register is actually replayed onto the physical pins.
func (c *FloppyCore) SetSelect(sel bool) {
	c.mu.Lock()
	c.selected = sel
	c.mu.Unlock()
	c.mux.SetSelected(sel)
}

// SetWriteGate asserts or deasserts the write-gate line, driving the
// write engine between Inactive, Starting and Stopping.
func (c *FloppyCore) SetWriteGate(asserted bool) {
	c.mu.Lock()
	wd := c.wd
	c.mu.Unlock()
	if wd == nil {
		return
	}
	wd.SetWriteGate(asserted)
}

// CaptureEdge forwards one write-data timer-capture sample to the
// write engine.
func (c *FloppyCore) CaptureEdge(raw uint16) {
	c.mu.Lock()
	wd := c.wd
	c.mu.Unlock()
	if wd == nil {
		return
	}
	wd.CaptureEdge(raw)
}

// PinSnapshot is a read-only view of the five status outputs and the
// current position, for a host's status query.
type PinSnapshot struct {
	Index, Ready, DiskChange, WriteProtect, Track0 bool
	Cylinder, Head                                 int
	ReadState                                      ring.State
	WriteState                                     ring.State
}

// Snapshot reports the current pin levels and engine states.
func (c *FloppyCore) Snapshot() PinSnapshot {
	c.mu.Lock()
	head := c.head
	rd, wd := c.rd, c.wd
	c.mu.Unlock()

	s := PinSnapshot{Cylinder: c.step.Cylinder(), Head: head}
	s.Index = c.mux.Get(gpio.Index) == periphgpio.Low
	s.Ready = c.mux.Get(gpio.Ready) == periphgpio.Low
	s.DiskChange = c.mux.Get(gpio.DiskChange) == periphgpio.Low
	s.WriteProtect = c.mux.Get(gpio.WriteProtect) == periphgpio.Low
	s.Track0 = c.mux.Get(gpio.Track0) == periphgpio.Low
	if rd != nil {
		s.ReadState = rd.State()
	}
	if wd != nil {
		s.WriteState = wd.State()
	}
	return s
}

var errAlreadyMounted = coreError("core: image already mounted, eject first")

type coreError string

func (e coreError) Error() string { return string(e) }
