package hostlink

import (
	"sync"

	"github.com/fluxcore/floppycore/pll"
	"github.com/fluxcore/floppycore/sysclock"
)

// Sim is an in-process HostLink for tests and scripted scenarios: the
// host side of the cable is driven by method calls, and everything
// the drive asserts back is recorded for inspection.
type Sim struct {
	steps  chan StepEvent
	sels   chan bool
	sides  chan int
	gates  chan bool
	wdata  chan uint16

	mu       sync.Mutex
	index    bool
	track0   bool
	ready    bool
	dskchg   bool
	wrprot   bool
	captured []uint16
	indexLog []bool
}

// NewSim returns a Sim with enough channel buffering that a scripted
// scenario never blocks on the drive's event pump.
func NewSim() *Sim {
	return &Sim{
		steps: make(chan StepEvent, 64),
		sels:  make(chan bool, 16),
		sides: make(chan int, 16),
		gates: make(chan bool, 16),
		wdata: make(chan uint16, 4096),
	}
}

func (s *Sim) Steps() <-chan StepEvent { return s.steps }
func (s *Sim) Selects() <-chan bool { return s.sels }
func (s *Sim) Sides() <-chan int { return s.sides }
func (s *Sim) WriteGates() <-chan bool { return s.gates }
func (s *Sim) WriteData() <-chan uint16 { return s.wdata }

// Step injects one host step pulse.
func (s *Sim) Step(outward bool) {
	s.steps <- StepEvent{Outward: outward}
}

// Select drives the drive-select line.
func (s *Sim) Select(sel bool) {
	s.sels <- sel
}

// SetSide drives the side-select line.
func (s *Sim) SetSide(n int) {
	s.sides <- n
}

// WriteGate drives the write-gate line.
func (s *Sim) WriteGate(asserted bool) {
	s.gates <- asserted
}

// SendEdge injects one raw write-data capture sample.
func (s *Sim) SendEdge(raw uint16) {
	s.wdata <- raw
}

func (s *Sim) DriveIndex(active bool) {
	s.mu.Lock()
	s.index = active
	s.indexLog = append(s.indexLog, active)
	s.mu.Unlock()
}

func (s *Sim) DriveTrack0(active bool) {
	s.mu.Lock()
	s.track0 = active
	s.mu.Unlock()
}

func (s *Sim) DriveReady(active bool) {
	s.mu.Lock()
	s.ready = active
	s.mu.Unlock()
}

func (s *Sim) DriveDiskChange(active bool) {
	s.mu.Lock()
	s.dskchg = active
	s.mu.Unlock()
}

func (s *Sim) DriveWriteProtect(active bool) {
	s.mu.Lock()
	s.wrprot = active
	s.mu.Unlock()
}

func (s *Sim) DriveRData(intervalTicks uint16) {
	s.mu.Lock()
	s.captured = append(s.captured, intervalTicks)
	s.mu.Unlock()
}

// Status is the host's view of the five status lines.
type Status struct {
	Index, Track0, Ready, DiskChange, WriteProtect bool
}

// Status returns the current levels of the status lines.
func (s *Sim) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Index:        s.index,
		Track0:       s.track0,
		Ready:        s.ready,
		DiskChange:   s.dskchg,
		WriteProtect: s.wrprot,
	}
}

// Captured returns a copy of every read-data interval seen so far.
func (s *Sim) Captured() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint16, len(s.captured))
	copy(out, s.captured)
	return out
}

// ClearCaptured discards the capture buffer.
func (s *Sim) ClearCaptured() {
	s.mu.Lock()
	s.captured = s.captured[:0]
	s.mu.Unlock()
}

// IndexEdges returns the recorded sequence of index-line transitions.
func (s *Sim) IndexEdges() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.indexLog))
	copy(out, s.indexLog)
	return out
}

// DecodeCaptured runs clock recovery over the captured read-data
// intervals and returns the recovered raw MFM bitstream, packed
// MSB-first — directly comparable against the track data an image
// codec stores.
func (s *Sim) DecodeCaptured(bitRateKhz uint16) []byte {
	ticks := s.Captured()
	ivs := make([]uint64, len(ticks))
	for i, t := range ticks {
		ivs[i] = sysclock.NanosFromTicks(uint32(t))
	}
	return pll.DecodeBits(ivs, bitRateKhz)
}
