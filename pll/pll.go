// Package pll recovers an MFM bitstream from a stream of flux
// intervals using an SCP-style phase-locked loop. The emulated drive
// emits transitions at exact multiples of the bitcell period, but a
// capture taken through a real cable (or a deliberately jittered test
// feed) does not; the PLL tracks the observed clock and keeps the
// decode window centred on it.
package pll

const (
	// clockMaxAdjPct bounds the recovered clock period to within
	// this percentage of the ideal period.
	clockMaxAdjPct = 10
	// periodAdjPct is the fraction of the phase mismatch folded
	// into the clock period on each in-sync transition.
	periodAdjPct = 5
	// phaseAdjPct is the fraction of the phase mismatch absorbed
	// into the decode window on each transition.
	phaseAdjPct = 60
)

// Decoder turns captured flux intervals into raw MFM bits. One call
// to NextBit consumes enough interval time for one half-bitcell and
// reports whether a transition landed in that window.
type Decoder struct {
	periodIdeal  float64 // nominal half-bitcell period, ns
	period       float64 // tracked clock period, ns
	flux         float64 // interval time accumulated but not yet clocked, ns
	clockedZeros int     // consecutive windows with no transition

	intervals []uint64 // remaining inter-transition intervals, ns
}

// NewDecoder builds a Decoder over inter-transition intervals in
// nanoseconds, for a track recorded at the given data rate.
func NewDecoder(intervals []uint64, bitRateKhz uint16) *Decoder {
	p := 1e6 / float64(bitRateKhz) / 2
	return &Decoder{
		periodIdeal: p,
		period:      p,
		intervals:   intervals,
	}
}

// Done reports whether every interval has been consumed.
func (d *Decoder) Done() bool {
	return len(d.intervals) == 0 && d.flux < d.period/2
}

func (d *Decoder) nextInterval() uint64 {
	if len(d.intervals) == 0 {
		return 0
	}
	v := d.intervals[0]
	d.intervals = d.intervals[1:]
	return v
}

// NextBit clocks one raw MFM bit out of the interval stream: true
// when a flux transition fell inside the current window, false for a
// clocked zero.
func (d *Decoder) NextBit() bool {
	for d.flux < d.period/2 {
		iv := d.nextInterval()
		if iv == 0 {
			d.clockedZeros++
			return false
		}
		d.flux += float64(iv)
	}

	d.flux -= d.period

	if d.flux >= d.period/2 {
		d.clockedZeros++
		return false
	}

	// Transition inside the window. Track the observed clock: while
	// in sync, nudge the period by a fraction of the phase error;
	// after a run of zeros, pull it back toward the ideal instead.
	if d.clockedZeros <= 3 {
		d.period += d.flux * periodAdjPct / 100
	} else {
		d.period += (d.periodIdeal - d.period) * periodAdjPct / 100
	}

	pMin := d.periodIdeal * (100 - clockMaxAdjPct) / 100
	pMax := d.periodIdeal * (100 + clockMaxAdjPct) / 100
	if d.period < pMin {
		d.period = pMin
	}
	if d.period > pMax {
		d.period = pMax
	}

	d.flux = d.flux * (100 - phaseAdjPct) / 100

	d.clockedZeros = 0
	return true
}

// DecodeBits runs the decoder to exhaustion and packs the recovered
// raw MFM bits MSB-first into bytes, the same layout the image codecs
// store track data in. A trailing partial byte is zero-padded.
func DecodeBits(intervals []uint64, bitRateKhz uint16) []byte {
	d := NewDecoder(intervals, bitRateKhz)
	var out []byte
	var cur byte
	n := 0
	for !d.Done() {
		cur <<= 1
		if d.NextBit() {
			cur |= 1
		}
		n++
		if n == 8 {
			out = append(out, cur)
			cur, n = 0, 0
		}
	}
	if n > 0 {
		out = append(out, cur<<(8-n))
	}
	return out
}
