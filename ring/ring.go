// Package ring implements the fixed-size flux sample buffers shared
// between a simulated DMA engine and CPU code. The two directions are
// distinct concrete types rather than a tagged union, since the
// direction is statically known at allocation: ReadRing is filled by
// the CPU and drained by the simulated DMA consumer, WriteRing is the
// mirror image.
package ring

import "sync/atomic"

// Capacity is the fixed power-of-two sample count of every ring.
const Capacity = 1024

const mask = Capacity - 1

// State is the four-phase lifecycle of a flux ring. It only ever
// advances Inactive -> Starting -> Active -> Stopping -> Inactive; no
// other transition is legal.
type State int32

const (
	Inactive State = iota
	Starting
	Active
	Stopping
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// base holds the fields common to both ring directions: the sample
// storage and the lifecycle state. State is accessed exclusively
// through atomic operations since it is the sole synchronization
// protocol between the simulated DMA goroutine and the owning engine.
type base struct {
	buf   [Capacity]uint16
	state atomic.Int32
}

// State returns the current lifecycle state.
func (b *base) State() State {
	return State(b.state.Load())
}

// SetState performs an unconditional transition. Each edge has a
// single permitted actor; callers are responsible for staying on
// their own edges.
func (b *base) SetState(s State) {
	b.state.Store(int32(s))
}

// CAS attempts the single atomic compare-and-swap used to resolve
// races on the Starting<->Active/Stopping boundary.
func (b *base) CAS(old, new State) bool {
	return b.state.CompareAndSwap(int32(old), int32(new))
}

// ReadRing is the read-engine ring: the foreground loop is producer,
// the simulated DMA consumer drains it into the PWM timer. prod is
// the producer index, advanced only by the engine's replenishment
// code; cons is derived from the simulated DMA's transfer count the
// same way real hardware exposes CNDTR.
type ReadRing struct {
	base
	prod uint32
	cons atomic.Uint32
}

// NewReadRing returns an empty ring in the Inactive state.
func NewReadRing() *ReadRing {
	return &ReadRing{}
}

// Reset empties the ring and returns it to Inactive, the tail end of
// the Stopping drain.
func (r *ReadRing) Reset() {
	r.prod = 0
	r.cons.Store(0)
	r.SetState(Inactive)
}

// Free returns how many contiguous slots can be produced without
// wrapping past the consumer: min(to-wrap, to-consumer-1).
func (r *ReadRing) Free() int {
	c := r.cons.Load()
	p := r.prod
	used := p - c
	if used >= Capacity {
		return 0
	}
	free := Capacity - 1 - int(used)
	toWrap := Capacity - int(p&mask)
	if free < toWrap {
		return free
	}
	return toWrap
}

// Produce appends samples at the producer index and advances it. The
// caller must have checked Free() first.
func (r *ReadRing) Produce(samples []uint16) {
	p := r.prod
	for _, s := range samples {
		r.buf[p&mask] = s
		p++
	}
	r.prod = p
}

// ConsumeOne is called by the simulated DMA consumer to pull the next
// sample and advance its position; it returns false if the ring is
// empty (an underrun — the caller logs and continues).
func (r *ReadRing) ConsumeOne() (uint16, bool) {
	c := r.cons.Load()
	p := r.prod
	if c == p {
		return 0, false
	}
	v := r.buf[c&mask]
	r.cons.Store(c + 1)
	return v, true
}

// Len reports the number of samples currently queued.
func (r *ReadRing) Len() int {
	return int(r.prod - r.cons.Load())
}

// QueuedTicks sums the tick values of every queued-but-unconsumed
// sample: the emission backlog between the consumer's position and
// the producer's. The consumer may advance mid-sum, so the snapshot
// is retried until its position reads the same on both sides.
func (r *ReadRing) QueuedTicks() uint32 {
	for {
		c := r.cons.Load()
		p := r.prod
		var sum uint32
		for i := c; i != p; i++ {
			sum += uint32(r.buf[i&mask])
		}
		if r.cons.Load() == c {
			return sum
		}
	}
}

// WriteRing is the write-engine ring: the simulated DMA input-capture
// side is producer, the foreground loop is consumer. prevSample holds the last raw captured-timer value, used to
// compute inter-edge deltas; kick records that the DMA ISR found the
// consumer had run dry and needs re-pending once more data arrives.
type WriteRing struct {
	base
	prod       atomic.Uint32
	cons       uint32
	prevSample uint16
	kick       atomic.Bool
}

// NewWriteRing returns an empty ring in the Inactive state.
func NewWriteRing() *WriteRing {
	return &WriteRing{}
}

// Reset empties the ring, clears the edge-delta scratch, and returns
// it to Inactive.
func (r *WriteRing) Reset() {
	r.prod.Store(0)
	r.cons = 0
	r.prevSample = 0
	r.kick.Store(false)
	r.SetState(Inactive)
}

// ProduceOne is the simulated input-capture DMA producer, called
// each time a falling edge is captured.
func (r *WriteRing) ProduceOne(sample uint16) {
	p := r.prod.Load()
	r.buf[p&mask] = sample
	r.prod.Store(p + 1)
}

// PrevSample returns the last raw sample value used for delta
// computation; SetPrevSample records the new one.
func (r *WriteRing) PrevSample() uint16 {
	return r.prevSample
}

// SetPrevSample updates the delta-computation scratch.
func (r *WriteRing) SetPrevSample(v uint16) {
	r.prevSample = v
}

// Pending returns the samples available for the consumer to drain,
// from the current consumer index to the live producer index.
func (r *WriteRing) Pending() []uint16 {
	p := r.prod.Load()
	c := r.cons
	if p == c {
		return nil
	}
	out := make([]uint16, 0, p-c)
	for i := c; i != p; i++ {
		out = append(out, r.buf[i&mask])
	}
	return out
}

// Advance moves the consumer index forward by n after the caller has
// consumed that many samples.
func (r *WriteRing) Advance(n int) {
	r.cons += uint32(n)
}

// SetKick records that the consumer ran dry mid-capture; the engine
// re-pends its interrupt once more data is buffered.
func (r *WriteRing) SetKick() {
	r.kick.Store(true)
}

// TakeKick clears and reports the kick flag.
func (r *WriteRing) TakeKick() bool {
	return r.kick.Swap(false)
}
