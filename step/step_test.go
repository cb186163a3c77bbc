package step

import (
	"testing"
	"time"

	"github.com/fluxcore/floppycore/clock"
)

func newTestEngine() (*Engine, *clock.Fake) {
	fc := clock.NewFake(time.Unix(0, 0))
	return New(fc), fc
}

func TestStepInwardIncrementsAfterLatch(t *testing.T) {
	e, fc := newTestEngine()
	var clicks int
	e.OnClick = func() { clicks++ }
	var trk0 []bool
	e.OnTrack0 = func(asserted bool) { trk0 = append(trk0, asserted) }

	e.OnStepPulse(false) // inward
	if e.State() != Latched {
		t.Fatalf("state = %v, want Latched immediately after soft-IRQ", e.State())
	}

	fc.Advance(LatchDelay + time.Microsecond)
	if e.Cylinder() != 1 {
		t.Fatalf("cylinder = %d, want 1", e.Cylinder())
	}
	if e.State() != Settling {
		t.Fatalf("state = %v, want Settling", e.State())
	}
	if clicks != 1 {
		t.Fatalf("clicks = %d, want 1 (fires at Latched transition)", clicks)
	}
	if len(trk0) == 0 || trk0[len(trk0)-1] {
		t.Fatalf("trk0 = %v, want deasserted off cylinder 0", trk0)
	}

	fc.Advance(DefaultSettle + time.Microsecond)
	if e.State() != Idle {
		t.Fatalf("state = %v, want Idle after settle", e.State())
	}
}

func TestStepOutwardFloorsAtZero(t *testing.T) {
	e, fc := newTestEngine()
	var trk0 []bool
	e.OnTrack0 = func(asserted bool) { trk0 = append(trk0, asserted) }

	e.OnStepPulse(true) // outward from 0
	fc.Advance(LatchDelay + time.Microsecond)
	if e.Cylinder() != 0 {
		t.Fatalf("cylinder = %d, want 0 (floored)", e.Cylinder())
	}
	if len(trk0) == 0 || !trk0[len(trk0)-1] {
		t.Fatalf("trk0 = %v, want asserted at cylinder 0", trk0)
	}
	fc.Advance(DefaultSettle + time.Microsecond)
	if e.State() != Idle {
		t.Fatalf("state = %v, want Idle", e.State())
	}
}

func TestStepOutwardClampsFrom255(t *testing.T) {
	e, fc := newTestEngine()
	// Drive to a high cylinder first via repeated inward steps.
	for i := 0; i < 255; i++ {
		e.OnStepPulse(false)
		fc.Advance(LatchDelay + time.Microsecond)
		fc.Advance(DefaultSettle + time.Microsecond)
	}
	if e.Cylinder() != 255 {
		t.Fatalf("cylinder = %d, want 255 after 255 inward steps", e.Cylinder())
	}

	e.OnStepPulse(true) // outward: clamp 255->84, then decrement to 83
	fc.Advance(LatchDelay + time.Microsecond)
	if e.Cylinder() != 83 {
		t.Fatalf("cylinder = %d, want 83 (clamped to 84 then decremented)", e.Cylinder())
	}
}

func TestActiveDuringSettle(t *testing.T) {
	e, fc := newTestEngine()
	if e.Active() {
		t.Fatalf("Active() = true before any step")
	}
	e.OnStepPulse(false)
	if !e.Active() {
		t.Fatalf("Active() = false immediately after step pulse")
	}
	fc.Advance(LatchDelay + time.Microsecond)
	if !e.Active() {
		t.Fatalf("Active() = false while Settling")
	}
	if e.SettleRemaining() <= 0 {
		t.Fatalf("SettleRemaining() = %v, want > 0 while Settling", e.SettleRemaining())
	}
	fc.Advance(DefaultSettle + time.Microsecond)
	if e.Active() {
		t.Fatalf("Active() = true after settle elapsed")
	}
	if e.SettleRemaining() != 0 {
		t.Fatalf("SettleRemaining() = %v, want 0 once Idle", e.SettleRemaining())
	}
}

func TestStepDuringSettleDropsPendingCompletion(t *testing.T) {
	e, fc := newTestEngine()
	e.OnStepPulse(false)
	fc.Advance(LatchDelay + time.Microsecond) // now Settling, cyl=1

	// A second pulse arrives mid-settle; the stale settle timer must
	// not clobber the new Started/Latched state when it eventually
	// would have fired.
	e.OnStepPulse(false)
	if e.State() != Latched {
		t.Fatalf("state = %v, want Latched after second pulse mid-settle", e.State())
	}
	fc.Advance(LatchDelay + time.Microsecond)
	if e.Cylinder() != 2 {
		t.Fatalf("cylinder = %d, want 2 after second step", e.Cylinder())
	}
	fc.Advance(DefaultSettle + time.Microsecond)
	if e.State() != Idle {
		t.Fatalf("state = %v, want Idle", e.State())
	}
}
