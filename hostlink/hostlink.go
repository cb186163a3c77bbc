// Package hostlink models the far end of the Shugart interface
// cable: the host computer that issues step pulses, selects the
// drive, gates writes, and listens to the status and read-data
// lines. The emulation core is driven through this interface both in
// tests (Sim) and against real bench fixtures (SerialBridge,
// USBBridge).
package hostlink

import (
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// StepEvent is one host step pulse with the direction latched from
// the step-direction line at the moment of the pulse.
type StepEvent struct {
	// Outward is true when the head moves toward cylinder 0.
	Outward bool
}

// HostLink is the cable. The channel methods carry host-initiated
// events toward the drive; the Drive* methods carry drive-initiated
// signal changes back toward the host.
type HostLink interface {
	// Steps delivers host step pulses.
	Steps() <-chan StepEvent
	// Selects delivers drive-select edges.
	Selects() <-chan bool
	// Sides delivers side-select changes (head 0 or 1).
	Sides() <-chan int
	// WriteGates delivers write-gate edges.
	WriteGates() <-chan bool
	// WriteData delivers raw input-capture timer samples, one per
	// falling edge on the write-data line.
	WriteData() <-chan uint16

	// DriveIndex reports an index-pulse edge to the host.
	DriveIndex(active bool)
	// DriveTrack0 reports the track-0 line level.
	DriveTrack0(active bool)
	// DriveReady reports the ready line level.
	DriveReady(active bool)
	// DriveDiskChange reports the disk-change line level.
	DriveDiskChange(active bool)
	// DriveWriteProtect reports the write-protect line level.
	DriveWriteProtect(active bool)
	// DriveRData reports one emitted read-data pulse, as the
	// interval in system ticks since the previous pulse.
	DriveRData(intervalTicks uint16)
}

// Pin adapts one of a HostLink's Drive* callbacks to periph.io's
// gpio.PinOut, so the core's output mux can drive the link the same
// way it would drive a physical port pin. The Shugart lines are
// active-low: gpio.Low means asserted.
type Pin struct {
	Sig string
	Set func(active bool)

	level gpio.Level
}

func (p *Pin) String() string { return p.Sig }
func (p *Pin) Name() string { return p.Sig }
func (p *Pin) Number() int { return -1 }
func (p *Pin) Function() string { return "Out/" + p.Sig }
func (p *Pin) Halt() error { return nil }

// Out forwards the pin level to the link callback, translating the
// active-low wire level back into an asserted/deasserted boolean.
func (p *Pin) Out(l gpio.Level) error {
	p.level = l
	if p.Set != nil {
		p.Set(l == gpio.Low)
	}
	return nil
}

func (p *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return nil
}
