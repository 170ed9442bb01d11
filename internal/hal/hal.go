// Package hal is the capability boundary between the trigger engine and the
// host platform: edge-triggered inputs, periodic timers, discrete outputs,
// polled controls, and a monotonic clock. The engine only ever talks to
// these interfaces; drivers decide what a "timer" or an "output" physically
// is.
package hal

import (
	"time"

	"k8s.io/utils/clock"
)

// Inputs registers rising-edge handlers. Handlers run in driver context and
// must be short and non-blocking; anything slow belongs behind a queue.
type Inputs interface {
	// OnClockRise fires on each rising edge of the external clock input.
	OnClockRise(fn func())
	// OnTapRise fires on the manual tap button (same role as the clock input).
	OnTapRise(fn func())
	// OnModeRise fires on the mode-advance button.
	OnModeRise(fn func())
}

// TimerDriver owns a fixed set of periodic timer slots.
//
// Disarm is idempotent and synchronous: when it returns, the slot's callback
// can no longer fire, so a subsequent Arm of the same slot cannot race a
// stale tick.
type TimerDriver interface {
	Slots() int
	Arm(slot int, period time.Duration, fn func(slot int)) error
	Disarm(slot int)
}

// OutputBank drives the discrete trigger output lines.
type OutputBank interface {
	Lines() int
	Set(idx int, high bool)
	AllOff()
}

// Controls are the polled front-panel reads.
type Controls interface {
	// Choice maps the division control position onto one of options.
	Choice(options []int) int
	// Percent returns the burst-threshold control position in [0,1].
	Percent() float64
}

// Driver bundles the capabilities of one host platform.
type Driver interface {
	Inputs() Inputs
	Timers() TimerDriver
	Outputs() OutputBank
	Controls() Controls
	// Clock is the monotonic time source for timestamps, tickers, and
	// trigger-width holds. Injectable so tests can substitute a fake.
	Clock() clock.WithTicker
	// Led drives the board activity light.
	Led(on bool)
	Close() error
}
