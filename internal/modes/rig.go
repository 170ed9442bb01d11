package modes

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"bigben/internal/clockbank"
	"bigben/internal/hal"
	"bigben/internal/taskreg"
	"bigben/pkg/logx"
)

// Rig bundles what every built-in mode drives. The orchestrator owns the
// pieces; modes only operate them through their public surface.
type Rig struct {
	Bank  *clockbank.Bank
	Tasks *taskreg.Registry
	Outs  hal.OutputBank
	Ctrl  hal.Controls
	Clk   clock.Clock
	Log   logx.Logger

	// Period returns the division-adjusted period (quarter · 4 / division)
	// and whether a tempo has been measured at all.
	Period func() (time.Duration, bool)

	// Fire is the shared clock-bank callback. It only enqueues the fired
	// slot into the orchestrator's event loop; handlers never run in timer
	// context.
	Fire func(slot int)

	// Width is the fixed trigger width. Identical across modes and
	// independent of tempo so downstream equipment sees uniform pulses.
	Width time.Duration
}

// pulse raises the outputs immediately and hands the width hold to the task
// registry, so a caller on the engine loop returns without sleeping. At
// registry capacity the hold degrades to an immediate release instead of
// blocking the loop.
func (r *Rig) pulse(outputs ...int) {
	r.holdThenRelease(outputs, false)
}

// pulseAllOff is the variant that clears the whole bank after the hold, used
// where selected outputs are forced off together with everything else.
func (r *Rig) pulseAllOff(outputs ...int) {
	r.holdThenRelease(outputs, true)
}

func (r *Rig) holdThenRelease(outputs []int, allOff bool) {
	if len(outputs) == 0 {
		return
	}
	for _, o := range outputs {
		r.Outs.Set(o, true)
	}
	release := func() {
		if allOff {
			r.Outs.AllOff()
			return
		}
		for _, o := range outputs {
			r.Outs.Set(o, false)
		}
	}
	err := r.Tasks.Spawn(taskreg.Sequence{
		Name:    "pulse.hold",
		Output:  outputs[0],
		Repeats: 1,
		Step: func(ctx context.Context, _ int) bool {
			r.Tasks.SleepCtx(ctx, r.Width)
			// Forced low even when cancelled mid-hold: a mode switch must
			// not strand a line high.
			release()
			return true
		},
	})
	if err != nil {
		release()
	}
}

// pulseCtx is the in-task variant: it holds the caller's goroutine for the
// width, so it may only run inside a registry sequence, never on the engine
// loop.
func (r *Rig) pulseCtx(ctx context.Context, outputs ...int) {
	if len(outputs) == 0 {
		return
	}
	for _, o := range outputs {
		r.Outs.Set(o, true)
	}
	r.Tasks.SleepCtx(ctx, r.Width)
	for _, o := range outputs {
		r.Outs.Set(o, false)
	}
}
