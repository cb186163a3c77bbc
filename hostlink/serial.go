package hostlink

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// A bench fixture is a small MCU board wired to the Shugart connector
// of a host under test. It forwards the host's control-line activity
// over a serial link as an event stream and accepts status/read-data
// updates to replay onto the cable.
const (
	FixtureVendorID  = 0x1209 // Generic / open source hardware
	FixtureProductID = 0xfd1e
)

const fixtureBaudRate = 115200

// Event opcodes, fixture -> emulator.
const (
	evtStep      = 0x01 // payload: 1 byte, nonzero = outward
	evtSelect    = 0x02 // payload: 1 byte, nonzero = selected
	evtSide      = 0x03 // payload: 1 byte, 0 or 1
	evtWriteGate = 0x04 // payload: 1 byte, nonzero = asserted
	evtWriteData = 0x05 // payload: 2 bytes LE, raw capture sample
)

// Command opcodes, emulator -> fixture.
const (
	cmdStatus = 0x81 // payload: signal id, level
	cmdRData  = 0x82 // payload: 2 bytes LE, interval in ticks
)

// Status signal ids for cmdStatus.
const (
	sigIndex = iota
	sigTrack0
	sigReady
	sigDiskChange
	sigWriteProtect
)

// SerialBridge is a HostLink backed by a serial-attached bench
// fixture.
type SerialBridge struct {
	port         serial.Port
	serialNumber string

	steps chan StepEvent
	sels  chan bool
	sides chan int
	gates chan bool
	wdata chan uint16

	wmu     sync.Mutex
	readErr error
	done    chan struct{}
}

// FindFixture scans the serial ports for an attached bench fixture
// and opens a bridge on the first match.
func FindFixture() (*SerialBridge, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	for _, port := range ports {
		portVID, err := strconv.ParseUint(port.VID, 16, 16)
		if err != nil {
			continue
		}
		portPID, err := strconv.ParseUint(port.PID, 16, 16)
		if err != nil {
			continue
		}
		if uint16(portVID) == FixtureVendorID && uint16(portPID) == FixtureProductID {
			bridge, err := NewSerialBridge(port)
			if err != nil {
				continue // Try next port
			}
			return bridge, nil
		}
	}

	return nil, fmt.Errorf("no bench fixture found (VID=0x%04X PID=0x%04X)",
		FixtureVendorID, FixtureProductID)
}

// NewSerialBridge opens the fixture on the given port and starts the
// event pump.
func NewSerialBridge(portDetails *enumerator.PortDetails) (*SerialBridge, error) {
	mode := &serial.Mode{
		BaudRate: fixtureBaudRate,
	}
	port, err := serial.Open(portDetails.Name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portDetails.Name, err)
	}

	b := &SerialBridge{
		port:         port,
		serialNumber: portDetails.SerialNumber,
		steps:        make(chan StepEvent, 64),
		sels:         make(chan bool, 16),
		sides:        make(chan int, 16),
		gates:        make(chan bool, 16),
		wdata:        make(chan uint16, 4096),
		done:         make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

func (b *SerialBridge) Steps() <-chan StepEvent { return b.steps }
func (b *SerialBridge) Selects() <-chan bool { return b.sels }
func (b *SerialBridge) Sides() <-chan int { return b.sides }
func (b *SerialBridge) WriteGates() <-chan bool { return b.gates }
func (b *SerialBridge) WriteData() <-chan uint16 { return b.wdata }

// readLoop parses the fixture's event stream. A read error ends the
// loop and closes the event channels; a host unplugging the cable
// mid-stream surfaces here as an error, it is not retried.
func (b *SerialBridge) readLoop() {
	defer close(b.done)
	defer close(b.steps)
	defer close(b.sels)
	defer close(b.sides)
	defer close(b.gates)
	defer close(b.wdata)

	hdr := make([]byte, 1)
	payload := make([]byte, 2)
	for {
		if err := b.readFull(hdr); err != nil {
			b.readErr = err
			return
		}
		switch hdr[0] {
		case evtStep:
			if err := b.readFull(payload[:1]); err != nil {
				b.readErr = err
				return
			}
			b.steps <- StepEvent{Outward: payload[0] != 0}
		case evtSelect:
			if err := b.readFull(payload[:1]); err != nil {
				b.readErr = err
				return
			}
			b.sels <- payload[0] != 0
		case evtSide:
			if err := b.readFull(payload[:1]); err != nil {
				b.readErr = err
				return
			}
			b.sides <- int(payload[0] & 1)
		case evtWriteGate:
			if err := b.readFull(payload[:1]); err != nil {
				b.readErr = err
				return
			}
			b.gates <- payload[0] != 0
		case evtWriteData:
			if err := b.readFull(payload); err != nil {
				b.readErr = err
				return
			}
			b.wdata <- binary.LittleEndian.Uint16(payload)
		default:
			b.readErr = fmt.Errorf("unknown fixture event 0x%02x", hdr[0])
			return
		}
	}
}

func (b *SerialBridge) readFull(buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := b.port.Read(buf[off:])
		if err != nil {
			return fmt.Errorf("fixture read: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("fixture read: port closed")
		}
		off += n
	}
	return nil
}

func (b *SerialBridge) sendStatus(sig byte, active bool) {
	level := byte(0)
	if active {
		level = 1
	}
	b.wmu.Lock()
	defer b.wmu.Unlock()
	_, _ = b.port.Write([]byte{cmdStatus, sig, level})
}

func (b *SerialBridge) DriveIndex(active bool) { b.sendStatus(sigIndex, active) }
func (b *SerialBridge) DriveTrack0(active bool) { b.sendStatus(sigTrack0, active) }
func (b *SerialBridge) DriveReady(active bool) { b.sendStatus(sigReady, active) }
func (b *SerialBridge) DriveDiskChange(active bool) { b.sendStatus(sigDiskChange, active) }
func (b *SerialBridge) DriveWriteProtect(active bool) { b.sendStatus(sigWriteProtect, active) }

// DriveRData forwards one read-data interval; the fixture times the
// actual pulse out on its end of the cable.
func (b *SerialBridge) DriveRData(intervalTicks uint16) {
	var buf [3]byte
	buf[0] = cmdRData
	binary.LittleEndian.PutUint16(buf[1:], intervalTicks)
	b.wmu.Lock()
	defer b.wmu.Unlock()
	_, _ = b.port.Write(buf[:])
}

// Err reports the error that ended the event pump, if it has ended.
func (b *SerialBridge) Err() error {
	select {
	case <-b.done:
		return b.readErr
	default:
		return nil
	}
}

// Close shuts the serial port; the event pump ends with a read error
// shortly after.
func (b *SerialBridge) Close() error {
	if b.port != nil {
		return b.port.Close()
	}
	return nil
}
