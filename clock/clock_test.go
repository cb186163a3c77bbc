package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresDueTimers(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	var fired []string
	f.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "a") })
	f.AfterFunc(25*time.Millisecond, func() { fired = append(fired, "b") })

	f.Advance(5 * time.Millisecond)
	if len(fired) != 0 {
		t.Fatalf("fired too early: %v", fired)
	}
	f.Advance(10 * time.Millisecond)
	if len(fired) != 1 || fired[0] != "a" {
		t.Fatalf("fired = %v, want [a]", fired)
	}
	f.Advance(15 * time.Millisecond)
	if len(fired) != 2 || fired[1] != "b" {
		t.Fatalf("fired = %v, want [a b]", fired)
	}
}

func TestFakeTimerStopPreventsFire(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	fired := false
	timer := f.AfterFunc(10*time.Millisecond, func() { fired = true })
	timer.Stop()
	f.Advance(20 * time.Millisecond)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}

func TestFakeTimerReset(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	fired := false
	timer := f.AfterFunc(10*time.Millisecond, func() { fired = true })
	f.Advance(5 * time.Millisecond)
	timer.Reset(10 * time.Millisecond) // now + 10ms = 15ms absolute
	f.Advance(8 * time.Millisecond)    // at 13ms, not due yet
	if fired {
		t.Fatalf("fired before reset deadline")
	}
	f.Advance(5 * time.Millisecond) // at 18ms
	if !fired {
		t.Fatalf("did not fire after reset deadline")
	}
}
