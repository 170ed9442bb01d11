package modes

import (
	"time"

	"bigben/pkg/logx"
)

// divMultWrap bounds the shared fire counter.
const divMultWrap = 64

// divMultDivisors maps outputs to clock ratios: output 5 fires every base
// tick, output 0 every 32nd, so the bank spans /8 through ×4 of the beat.
var divMultDivisors = [...]int{32, 16, 8, 4, 2, 1}

// DivMultMode multiplexes one master sub-period timer across all outputs
// with a counter: each fire increments the counter, and output i pulses when
// the counter divides evenly by its ratio.
type DivMultMode struct {
	rig   *Rig
	count int
}

func NewDivMult(rig *Rig) *DivMultMode {
	return &DivMultMode{rig: rig}
}

func (m *DivMultMode) Attach(e *Engine) {
	e.Register(DivMult, m.trigger)
	e.RegisterInit(DivMult, m.init)
	e.RegisterExit(DivMult, m.exit)
}

func (m *DivMultMode) init() {
	period, ok := m.rig.Period()
	if !ok {
		m.rig.Log.Info("divmult: no tempo yet, bank idle")
		m.rig.Bank.StopAll()
		return
	}
	m.count = 0
	base := period / 8
	if base < time.Millisecond {
		base = time.Millisecond
	}
	m.rig.Bank.ResetAll([]time.Duration{base}, m.rig.Fire)
	m.rig.Log.Debug("divmult: armed", logx.Duration("base", base))
}

func (m *DivMultMode) trigger(int) {
	m.count++
	if m.count >= divMultWrap {
		m.count = 0
	}
	var on []int
	for i, div := range divMultDivisors {
		if i >= m.rig.Outs.Lines() {
			break
		}
		if m.count%div == 0 {
			on = append(on, i)
		}
	}
	m.rig.Log.Trace("divmult fire", logx.Int("count", m.count), logx.Ints("outputs", on))
	m.rig.pulse(on...)
}

func (m *DivMultMode) exit() {
	m.rig.Log.Debug("divmult: exit")
	m.rig.Bank.StopAll()
	m.rig.Tasks.CancelAll()
}
