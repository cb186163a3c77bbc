package index

import (
	"testing"
	"time"

	"github.com/fluxcore/floppycore/clock"
)

func TestSchedulerFreeRunningPulseWidth(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	var events []bool
	s := New(fc, func(asserted bool) { events = append(events, asserted) })
	s.Start()

	// One full revolution: expect one rising and one falling edge.
	fc.Advance(Period)
	if len(events) != 2 || !events[0] || events[1] {
		t.Fatalf("events = %v, want [true false]", events)
	}
}

func TestSchedulerFivePulsesPerSecond(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	highTicks := 0
	var lastRise time.Time
	var totalHigh time.Duration
	s := New(fc, func(asserted bool) {
		if asserted {
			highTicks++
			lastRise = fc.Now()
		} else {
			totalHigh += fc.Now().Sub(lastRise)
		}
	})
	s.Start()
	fc.Advance(time.Second)

	if highTicks != 5 {
		t.Fatalf("pulses in 1s = %d, want 5", highTicks)
	}
	want := 5 * ActiveWidth
	if totalHigh != want {
		t.Fatalf("total high duration = %v, want %v", totalHigh, want)
	}
}

func TestSchedulerResyncOverridesNextDeadline(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	var events []bool
	s := New(fc, func(asserted bool) { events = append(events, asserted) })
	s.Start()

	// Pre-empt the free-running deadline with a much shorter one.
	s.Resync(5 * time.Millisecond)
	fc.Advance(5 * time.Millisecond)
	if len(events) != 1 || !events[0] {
		t.Fatalf("resync did not fire early rising edge: %v", events)
	}
}
