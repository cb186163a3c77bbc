package mfm

import "fmt"

// GenerateFluxTransitions converts an MFM bitstream into flux
// transition times, in nanoseconds from track start: every set
// half-bit becomes one transition at that half-bit's cell boundary.
func GenerateFluxTransitions(mfmBits []byte, bitRateKhz uint16) ([]uint64, error) {
	if len(mfmBits) == 0 {
		return nil, fmt.Errorf("empty MFM data")
	}

	// Half-bits run at twice the data rate.
	cellNs := uint64(1e9) / (uint64(bitRateKhz) * 1000 * 2)

	var transitions []uint64
	now := uint64(0)
	for _, b := range mfmBits {
		for i := 7; i >= 0; i-- {
			now += cellNs
			if b>>uint(i)&1 != 0 {
				transitions = append(transitions, now)
			}
		}
	}
	return transitions, nil
}

// CoverFullRotation pads a transition list out to one full disk
// revolution with gap-clock transitions every two half-bit cells, so
// the emitted stream never goes quiet before the index comes around.
func CoverFullRotation(transitions []uint64, bitRateKhz uint16, floppyRPM uint16) []uint64 {
	revolutionNs := uint64(60e9) / uint64(floppyRPM)
	gapNs := 2 * (uint64(1e9) / (uint64(bitRateKhz) * 1000 * 2))

	now := uint64(0)
	if len(transitions) > 0 {
		now = transitions[len(transitions)-1]
	}
	for now+gapNs <= revolutionNs {
		now += gapNs
		transitions = append(transitions, now)
	}
	return transitions
}
