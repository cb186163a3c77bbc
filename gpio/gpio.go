// Package gpio implements the drive-status output multiplexer: every
// status pin is maintained in a shadow register and only replayed
// onto the physical port while the drive is selected, so that
// multi-drive cabling behaves correctly when drive-select toggles.
//
// Pins are typed with periph.io's gpio.PinOut/physic.Frequency
// vocabulary (the pack's google-periph dependency) instead of a
// home-grown pin abstraction.
package gpio

import (
	"sync"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// Signal names one of the five status outputs.
type Signal int

const (
	Index Signal = iota
	Ready
	DiskChange
	WriteProtect
	Track0
	numSignals
)

func (s Signal) String() string {
	switch s {
	case Index:
		return "index"
	case Ready:
		return "ready"
	case DiskChange:
		return "dskchg"
	case WriteProtect:
		return "wrprot"
	case Track0:
		return "trk0"
	default:
		return "unknown"
	}
}

// OutputMux is the status shadow register plus the drive-select
// gate. A plain sync.Mutex serves the narrow critical-section role a
// global interrupt disable plays on the metal.
type OutputMux struct {
	mu       sync.Mutex
	shadow   [numSignals]gpio.Level
	pins     [numSignals]gpio.PinOut
	selected bool
}

// NewOutputMux wires one physical pin per signal. A nil entry is
// legal (e.g. in tests) and silently no-ops on Out.
func NewOutputMux(pins map[Signal]gpio.PinOut) *OutputMux {
	m := &OutputMux{}
	for sig, p := range pins {
		m.pins[sig] = p
	}
	return m
}

// Change updates the shadow register for sig under the mutex and
// writes the physical pin only if the drive is currently selected.
func (m *OutputMux) Change(sig Signal, level gpio.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadow[sig] = level
	if m.selected {
		m.writeLocked(sig)
	}
}

// Get returns the shadow value for sig regardless of selection state.
func (m *OutputMux) Get(sig Signal) gpio.Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shadow[sig]
}

// SetSelected handles a drive-select edge: on assertion it replays
// the full shadow to the physical port; on deassertion the shadow is
// left untouched (only the selected drive's cable actually carries
// meaningful signal levels).
func (m *OutputMux) SetSelected(sel bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = sel
	if sel {
		for sig := Signal(0); sig < numSignals; sig++ {
			m.writeLocked(sig)
		}
	}
}

// Selected reports the last-set drive-select state.
func (m *OutputMux) Selected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

func (m *OutputMux) writeLocked(sig Signal) {
	p := m.pins[sig]
	if p == nil {
		return
	}
	_ = p.Out(m.shadow[sig])
}

// BitcellPeriod converts a data rate (e.g. 250 kbit/s for a DD track)
// into the physical duration of one flux bitcell, using
// physic.Frequency's Duration conversion rather than hand-rolled
// arithmetic. MFM clocks two bitcells per encoded bit, matching
// mfm.GenerateFluxTransitions' own rate doubling.
func BitcellPeriod(bitRateKbps uint16) time.Duration {
	freq := physic.Frequency(bitRateKbps) * 2 * physic.KiloHertz
	return freq.Duration()
}
