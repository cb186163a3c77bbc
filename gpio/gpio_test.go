package gpio

import (
	"testing"

	periphgpio "periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"
)

func TestOutputMuxGatesOnSelect(t *testing.T) {
	pin := &gpiotest.Pin{N: "trk0", Num: 1}
	m := NewOutputMux(map[Signal]periphgpio.PinOut{Track0: pin})

	// Not selected: shadow updates but the physical pin is untouched.
	m.Change(Track0, periphgpio.High)
	if pin.L != periphgpio.Low {
		t.Fatalf("pin written while deselected: %v", pin.L)
	}
	if m.Get(Track0) != periphgpio.High {
		t.Fatalf("shadow not updated while deselected")
	}

	// Select replays the shadow.
	m.SetSelected(true)
	if pin.L != periphgpio.High {
		t.Fatalf("select did not replay shadow, pin = %v", pin.L)
	}

	// While selected, further changes propagate immediately.
	m.Change(Track0, periphgpio.Low)
	if pin.L != periphgpio.Low {
		t.Fatalf("change while selected did not propagate")
	}
}

func TestOutputMuxChangeIsIdempotent(t *testing.T) {
	pin := &gpiotest.Pin{N: "rdy", Num: 2}
	m := NewOutputMux(map[Signal]periphgpio.PinOut{Ready: pin})
	m.SetSelected(true)

	m.Change(Ready, periphgpio.High)
	first := pin.L
	m.Change(Ready, periphgpio.High)
	if pin.L != first || m.Get(Ready) != periphgpio.High {
		t.Fatalf("repeated identical Change mutated state")
	}
}

func TestOutputMuxNilPinNoop(t *testing.T) {
	m := NewOutputMux(nil)
	m.SetSelected(true)
	m.Change(Index, periphgpio.High) // must not panic
	if m.Get(Index) != periphgpio.High {
		t.Fatalf("shadow not updated for unwired signal")
	}
}

func TestBitcellPeriod(t *testing.T) {
	// 250 kbit/s DD -> 2us bitcell.
	d := BitcellPeriod(250)
	if d.Microseconds() != 2 {
		t.Fatalf("BitcellPeriod(250) = %v, want 2us", d)
	}
}
