package hostlink

import (
	"context"
	"time"

	"github.com/fluxcore/floppycore/core"
	"github.com/fluxcore/floppycore/gpio"
)

// PinSet builds the core's status-pin map on top of a HostLink, so
// the output mux drives the cable instead of a physical port.
func PinSet(l HostLink) core.PinSet {
	return core.PinSet{
		gpio.Index:        &Pin{Sig: "index", Set: l.DriveIndex},
		gpio.Track0:       &Pin{Sig: "trk0", Set: l.DriveTrack0},
		gpio.Ready:        &Pin{Sig: "ready", Set: l.DriveReady},
		gpio.DiskChange:   &Pin{Sig: "dskchg", Set: l.DriveDiskChange},
		gpio.WriteProtect: &Pin{Sig: "wrprot", Set: l.DriveWriteProtect},
	}
}

// handlePollInterval paces the foreground loop while the core reports
// nothing urgent pending and no host event has arrived.
const handlePollInterval = 2 * time.Millisecond

// dispatch applies one host event to the core. It returns false once
// ctx is cancelled.
func dispatch(ctx context.Context, c *core.FloppyCore, l HostLink, wait <-chan time.Time) bool {
	select {
	case <-ctx.Done():
		return false
	case ev := <-l.Steps():
		c.Step(ev.Outward)
	case sel := <-l.Selects():
		c.SetSelect(sel)
	case n := <-l.Sides():
		c.SetSide(n)
	case g := <-l.WriteGates():
		c.SetWriteGate(g)
	case raw := <-l.WriteData():
		c.CaptureEdge(raw)
	case <-wait:
	}
	return true
}

// Attach pumps host events from l into c and runs the core's
// foreground loop until ctx is cancelled. Read-data pulses flow back
// through l via the core's OnRData hook, which Attach installs.
func Attach(ctx context.Context, c *core.FloppyCore, l HostLink) {
	c.OnRData = l.DriveRData

	busyTick := make(chan time.Time)
	close(busyTick) // never block when the core wants re-entry

	for {
		requeue := c.Handle(ctx)

		var wait <-chan time.Time = busyTick
		if !requeue {
			wait = time.After(handlePollInterval)
		}
		if !dispatch(ctx, c, l, wait) {
			return
		}
	}
}
