package watchdog

import "time"

// Ticks counts clock ticks since boot.
type Ticks uint64

// TickRate is the number of ticks per second.
const TickRate = 1000

const tickPeriod = time.Second / TickRate

func ceilDiv(n, d uint64) uint64 { return (n + d - 1) / d }

// SecondsToTicks converts whole seconds to ticks.
func SecondsToTicks(s uint64) Ticks { return Ticks(s * TickRate) }

// MillisecondsToTicks converts milliseconds to ticks, rounding up.
func MillisecondsToTicks(ms uint64) Ticks { return Ticks(ceilDiv(ms*TickRate, 1000)) }

// MicrosecondsToTicks converts microseconds to ticks, rounding up.
func MicrosecondsToTicks(us uint64) Ticks { return Ticks(ceilDiv(us*TickRate, 1000_000)) }

// NanosecondsToTicks converts nanoseconds to ticks, rounding up.
func NanosecondsToTicks(ns uint64) Ticks { return Ticks(ceilDiv(ns, uint64(tickPeriod))) }

// DurationToTicks converts d to ticks, rounding up. Negative durations are 0.
func DurationToTicks(d time.Duration) Ticks {
	if d <= 0 {
		return 0
	}
	return NanosecondsToTicks(uint64(d))
}

// TicksToSeconds converts ticks to whole seconds, truncating.
func TicksToSeconds(t Ticks) uint64 { return uint64(t) / TickRate }

// TicksToMilliseconds converts ticks to milliseconds.
func TicksToMilliseconds(t Ticks) uint64 { return uint64(t) * 1000 / TickRate }

// TicksToMicroseconds converts ticks to microseconds.
func TicksToMicroseconds(t Ticks) uint64 { return uint64(t) * 1000_000 / TickRate }

// TicksToNanoseconds converts ticks to nanoseconds.
func TicksToNanoseconds(t Ticks) uint64 { return uint64(t) * uint64(tickPeriod) }

// TicksToDuration converts ticks to a time.Duration.
func TicksToDuration(t Ticks) time.Duration { return time.Duration(t) * tickPeriod }
