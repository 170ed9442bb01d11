package modes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bigben/internal/taskreg"
	"bigben/pkg/logx"
)

// baseBurstRepeats spreads the base sequence over one period at period/16.
const baseBurstRepeats = 16

// BurstMode turns each beat into a cascade of rapid repeated pulses.
//
// On every clock fire the base output always bursts; each further output, in
// strict index order, joins only while the live control level clears its
// threshold (15 + 10·(i+1) for the i-th extra). Assignment is monotonic: the
// first output that fails its threshold ends the cascade, even if a later
// one would pass. All repeat logic runs as registry tasks, never in the
// engine loop.
type BurstMode struct {
	rig *Rig
}

func NewBurst(rig *Rig) *BurstMode {
	return &BurstMode{rig: rig}
}

func (m *BurstMode) Attach(e *Engine) {
	e.Register(Burst, m.trigger)
	e.RegisterInit(Burst, m.init)
	e.RegisterExit(Burst, m.exit)
}

func (m *BurstMode) init() {
	m.rig.Bank.StopAll()
	period, ok := m.rig.Period()
	if !ok {
		m.rig.Log.Info("burst: no tempo yet, bank idle")
		return
	}
	m.rig.Bank.ResetAll([]time.Duration{period}, m.rig.Fire)
	m.rig.Log.Debug("burst: armed", logx.Duration("period", period))
}

func (m *BurstMode) trigger(int) {
	period, ok := m.rig.Period()
	if !ok {
		return
	}
	m.spawnCascade(period)
}

func (m *BurstMode) spawnCascade(period time.Duration) {
	// Base output bursts unconditionally.
	m.spawn(taskreg.Sequence{
		Name:    "burst.base",
		Output:  0,
		Repeats: baseBurstRepeats,
		Delay:   m.stepDelay(period, baseBurstRepeats),
		Step:    m.toggleStep(0, 0),
	})

	level := m.rig.Ctrl.Percent() * 100
	for i := 0; i < m.rig.Outs.Lines()-1; i++ {
		threshold := float64(15 + 10*(i+1))
		if level < threshold {
			// Cascade stops at the first failing output; later outputs are
			// not considered even if their own threshold would pass.
			m.rig.Log.Trace("burst cascade stopped",
				logx.Int("failed_extra", i),
				logx.Float64("level", level),
				logx.Float64("threshold", threshold))
			break
		}
		ratio := 2 * (i + 2)
		m.spawn(taskreg.Sequence{
			Name:    fmt.Sprintf("burst.out%d", i+1),
			Output:  i + 1,
			Repeats: ratio,
			Delay:   m.stepDelay(period, ratio),
			Step:    m.toggleStep(i+1, threshold),
		})
	}
}

// stepDelay divides the period across the repeats, minus the width hold each
// step spends inside toggleStep. Every sequence drains before the next beat
// lands, so the base burst always finds a free registry slot.
func (m *BurstMode) stepDelay(period time.Duration, repeats int) time.Duration {
	d := period/time.Duration(repeats) - m.rig.Width
	if d < 0 {
		d = 0
	}
	return d
}

func (m *BurstMode) spawn(seq taskreg.Sequence) {
	if err := m.rig.Tasks.Spawn(seq); err != nil && !errors.Is(err, taskreg.ErrCapacity) {
		m.rig.Log.Warn("burst: spawn failed", logx.String("seq", seq.Name), logx.Err(err))
	}
}

// toggleStep pulses one output per iteration. A non-zero threshold re-checks
// the live control before each toggle so a knob turn cuts a burst short.
func (m *BurstMode) toggleStep(output int, threshold float64) func(context.Context, int) bool {
	return func(ctx context.Context, _ int) bool {
		if threshold > 0 && m.rig.Ctrl.Percent()*100 < threshold {
			return false
		}
		m.rig.pulseCtx(ctx, output)
		return true
	}
}

func (m *BurstMode) exit() {
	m.rig.Log.Debug("burst: exit")
	m.rig.Tasks.CancelAll()
	m.rig.Bank.StopAll()
}
