// Package sysclock fixes the system-clock frequency the flux engines
// time against: flux samples are 16-bit counts of this clock. 72 MHz
// matches the STM32F1-class boards the emulated timer layout is
// modeled on.
package sysclock

// MHz is the assumed system-clock frequency, in megahertz.
const MHz = 72

// TicksFromNanos converts a duration in nanoseconds to system-clock
// ticks, rounding down.
func TicksFromNanos(ns uint64) uint32 {
	return uint32(ns * MHz / 1000)
}

// NanosFromTicks converts system-clock ticks back to nanoseconds.
func NanosFromTicks(ticks uint32) uint64 {
	return uint64(ticks) * 1000 / MHz
}
