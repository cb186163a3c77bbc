package hostlink

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/gousb"
)

// Some fixture revisions expose plain bulk endpoints instead of a
// CDC-ACM serial port; those are reached directly over USB.
const (
	usbFixtureVendorID  = 0x1209
	usbFixtureProductID = 0xfd1f
)

// USBBridge is a HostLink backed by a bulk-endpoint bench fixture.
// The wire protocol is the same event/command stream SerialBridge
// speaks, framed over bulk transfers.
type USBBridge struct {
	ctx      *gousb.Context
	dev      *gousb.Device
	intf     *gousb.Interface
	intfDone func()
	in       *gousb.InEndpoint
	out      *gousb.OutEndpoint

	steps chan StepEvent
	sels  chan bool
	sides chan int
	gates chan bool
	wdata chan uint16

	wmu     sync.Mutex
	readErr error
	done    chan struct{}
}

// FindUSBFixture opens the first bulk-endpoint fixture on the bus.
func FindUSBFixture() (*USBBridge, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(usbFixtureVendorID), gousb.ID(usbFixtureProductID))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("failed to open USB fixture: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("no USB fixture found (VID=0x%04X PID=0x%04X)",
			usbFixtureVendorID, usbFixtureProductID)
	}

	intf, intfDone, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to claim fixture interface: %w", err)
	}

	in, err := intf.InEndpoint(1)
	if err != nil {
		intfDone()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to open IN endpoint: %w", err)
	}
	out, err := intf.OutEndpoint(2)
	if err != nil {
		intfDone()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to open OUT endpoint: %w", err)
	}

	b := &USBBridge{
		ctx:      ctx,
		dev:      dev,
		intf:     intf,
		intfDone: intfDone,
		in:       in,
		out:      out,
		steps:    make(chan StepEvent, 64),
		sels:     make(chan bool, 16),
		sides:    make(chan int, 16),
		gates:    make(chan bool, 16),
		wdata:    make(chan uint16, 4096),
		done:     make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

func (b *USBBridge) Steps() <-chan StepEvent { return b.steps }
func (b *USBBridge) Selects() <-chan bool { return b.sels }
func (b *USBBridge) Sides() <-chan int { return b.sides }
func (b *USBBridge) WriteGates() <-chan bool { return b.gates }
func (b *USBBridge) WriteData() <-chan uint16 { return b.wdata }

// readLoop drains bulk IN transfers and parses the same event frames
// the serial fixture produces. Frames never split across transfers.
func (b *USBBridge) readLoop() {
	defer close(b.done)
	defer close(b.steps)
	defer close(b.sels)
	defer close(b.sides)
	defer close(b.gates)
	defer close(b.wdata)

	buf := make([]byte, b.in.Desc.MaxPacketSize)
	for {
		n, err := b.in.Read(buf)
		if err != nil {
			b.readErr = fmt.Errorf("fixture bulk read: %w", err)
			return
		}
		if err := b.parse(buf[:n]); err != nil {
			b.readErr = err
			return
		}
	}
}

func (b *USBBridge) parse(data []byte) error {
	for len(data) > 0 {
		op := data[0]
		switch op {
		case evtStep, evtSelect, evtSide, evtWriteGate:
			if len(data) < 2 {
				return fmt.Errorf("short fixture event 0x%02x", op)
			}
			v := data[1]
			switch op {
			case evtStep:
				b.steps <- StepEvent{Outward: v != 0}
			case evtSelect:
				b.sels <- v != 0
			case evtSide:
				b.sides <- int(v & 1)
			case evtWriteGate:
				b.gates <- v != 0
			}
			data = data[2:]
		case evtWriteData:
			if len(data) < 3 {
				return fmt.Errorf("short fixture event 0x%02x", op)
			}
			b.wdata <- binary.LittleEndian.Uint16(data[1:3])
			data = data[3:]
		default:
			return fmt.Errorf("unknown fixture event 0x%02x", op)
		}
	}
	return nil
}

func (b *USBBridge) send(frame []byte) {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	_, _ = b.out.Write(frame)
}

func (b *USBBridge) sendStatus(sig byte, active bool) {
	level := byte(0)
	if active {
		level = 1
	}
	b.send([]byte{cmdStatus, sig, level})
}

func (b *USBBridge) DriveIndex(active bool) { b.sendStatus(sigIndex, active) }
func (b *USBBridge) DriveTrack0(active bool) { b.sendStatus(sigTrack0, active) }
func (b *USBBridge) DriveReady(active bool) { b.sendStatus(sigReady, active) }
func (b *USBBridge) DriveDiskChange(active bool) { b.sendStatus(sigDiskChange, active) }
func (b *USBBridge) DriveWriteProtect(active bool) { b.sendStatus(sigWriteProtect, active) }

func (b *USBBridge) DriveRData(intervalTicks uint16) {
	var buf [3]byte
	buf[0] = cmdRData
	binary.LittleEndian.PutUint16(buf[1:], intervalTicks)
	b.send(buf[:])
}

// Err reports the error that ended the event pump, if it has ended.
func (b *USBBridge) Err() error {
	select {
	case <-b.done:
		return b.readErr
	default:
		return nil
	}
}

// Close releases the USB interface and device.
func (b *USBBridge) Close() error {
	if b.intfDone != nil {
		b.intfDone()
	}
	var err error
	if b.dev != nil {
		err = b.dev.Close()
	}
	if b.ctx != nil {
		if cerr := b.ctx.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
