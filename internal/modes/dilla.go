package modes

import (
	"context"
	"math/rand"
	"time"

	"bigben/internal/taskreg"
	"bigben/pkg/logx"
)

// dillaSwingDiv sets how far off-beats drag: swing delay = period / 12.
const dillaSwingDiv = 12

// DillaMode is the wobble: every beat pulses a pseudo-random pair of
// outputs, and every second beat the pair lands late by a fixed swing
// fraction of the period. The late pulse runs as a registry task so the
// engine loop never waits out the swing.
type DillaMode struct {
	rig  *Rig
	rnd  *rand.Rand
	beat int
}

func NewDilla(rig *Rig, rnd *rand.Rand) *DillaMode {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	return &DillaMode{rig: rig, rnd: rnd}
}

func (m *DillaMode) Attach(e *Engine) {
	e.Register(Dilla, m.trigger)
	e.RegisterInit(Dilla, m.init)
	e.RegisterExit(Dilla, m.exit)
}

func (m *DillaMode) init() {
	period, ok := m.rig.Period()
	if !ok {
		m.rig.Log.Info("dilla: no tempo yet, bank idle")
		m.rig.Bank.StopAll()
		return
	}
	m.beat = 0
	m.rig.Bank.ResetAll([]time.Duration{period}, m.rig.Fire)
}

func (m *DillaMode) trigger(int) {
	lines := m.rig.Outs.Lines()
	if lines == 0 {
		return
	}
	a := m.rnd.Intn(lines)
	b := (a + lines/2) % lines
	m.beat++

	if m.beat%2 == 0 {
		m.rig.pulse(a, b)
		return
	}

	period, ok := m.rig.Period()
	if !ok {
		m.rig.pulse(a, b)
		return
	}
	swing := period / dillaSwingDiv
	err := m.rig.Tasks.Spawn(taskSequenceSwing(m.rig, swing, a, b))
	if err != nil {
		// Capacity is a soft limit; a dropped swing beat just lands on time.
		m.rig.Log.Debug("dilla: swing dropped, pulsing straight", logx.Err(err))
		m.rig.pulse(a, b)
	}
}

func taskSequenceSwing(rig *Rig, swing time.Duration, outputs ...int) taskreg.Sequence {
	return taskreg.Sequence{
		Name:    "dilla.swing",
		Output:  outputs[0],
		Repeats: 1,
		Step: func(ctx context.Context, _ int) bool {
			if !rig.Tasks.SleepCtx(ctx, swing) {
				return false
			}
			rig.pulseCtx(ctx, outputs...)
			return true
		},
	}
}

func (m *DillaMode) exit() {
	m.rig.Log.Debug("dilla: exit")
	m.rig.Tasks.CancelAll()
	m.rig.Bank.StopAll()
}
