// Package tempo derives the master tempo from discrete pulse arrivals.
package tempo

import (
	"time"
)

// historySize is one full measurement cycle: the tempo reacts every four
// pulses, not every pulse, using the span between the oldest and newest of
// the last four samples.
const historySize = 4

// Tracker measures the quarter-note period of an incoming pulse stream.
//
// The caller owns timestamp monotonicity: an out-of-order timestamp is not
// detected or corrected and degrades to a garbage period for one cycle,
// which self-heals after four consistent samples. That matches at-least-once
// best-effort edge delivery from the input driver.
//
// Tracker is not goroutine-safe; it is owned by the engine's control loop.
type Tracker struct {
	samples []time.Time
	quarter time.Duration
}

func NewTracker() *Tracker {
	return &Tracker{samples: make([]time.Time, 0, historySize)}
}

// Sample records one pulse arrival. It reports true when the history filled
// and a new quarter period was computed; the history is empty afterwards.
func (t *Tracker) Sample(ts time.Time) bool {
	if len(t.samples) >= historySize {
		// Ring semantics: history never holds more than one window.
		t.samples = t.samples[1:]
	}
	t.samples = append(t.samples, ts)
	if len(t.samples) < historySize {
		return false
	}
	t.quarter = t.samples[historySize-1].Sub(t.samples[0])
	t.samples = t.samples[:0]
	return true
}

// Quarter returns the last measured quarter-note period, 0 if never measured.
func (t *Tracker) Quarter() time.Duration {
	return t.quarter
}

// Known reports whether a tempo has been measured yet.
func (t *Tracker) Known() bool { return t.quarter > 0 }

// Pending reports how many samples are waiting for the window to fill.
func (t *Tracker) Pending() int { return len(t.samples) }

// BPM converts the quarter period to beats per minute, 0 when unset.
func (t *Tracker) BPM() float64 {
	if t.quarter <= 0 {
		return 0
	}
	return 60000.0 / float64(t.quarter.Milliseconds())
}
