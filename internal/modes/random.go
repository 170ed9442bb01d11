package modes

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// RandomMode fires a pseudo-random subset of outputs per clock, roughly
// aligned to the beat. Each output is decided independently by a per-index
// modulus test against the digits of a fresh random seed.
type RandomMode struct {
	rig *Rig
	rnd *rand.Rand
}

func NewRandom(rig *Rig, rnd *rand.Rand) *RandomMode {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	return &RandomMode{rig: rig, rnd: rnd}
}

func (m *RandomMode) Attach(e *Engine) {
	e.Register(Random, m.trigger)
	e.RegisterInit(Random, m.init)
	e.RegisterExit(Random, m.exit)
}

// init arms a single clock at the whole period.
func (m *RandomMode) init() {
	period, ok := m.rig.Period()
	if !ok {
		m.rig.Log.Info("random: no tempo yet, bank idle")
		m.rig.Bank.StopAll()
		return
	}
	m.rig.Bank.ResetAll([]time.Duration{period}, m.rig.Fire)
}

func (m *RandomMode) trigger(int) {
	digits := randomDigits(m.rnd, m.rig.Outs.Lines())
	var on []int
	for i := 0; i < m.rig.Outs.Lines(); i++ {
		comp := digits[i] % (i + 1)
		if comp == 0 || comp == i {
			on = append(on, i)
		}
	}
	// Selected outputs pulse together and are forced off together.
	m.rig.pulseAllOff(on...)
}

func (m *RandomMode) exit() {
	m.rig.Bank.StopAll()
	m.rig.Tasks.CancelAll()
}

// randomDigits returns n decimal digits drawn from the fractional part of
// random floats, the seed-digit trick the gate selection is built on.
func randomDigits(rnd *rand.Rand, n int) []int {
	var b strings.Builder
	for b.Len() < n {
		s := strconv.FormatFloat(rnd.Float64(), 'f', -1, 64)
		s = strings.TrimPrefix(s, "0.")
		b.WriteString(s)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = int(b.String()[i] - '0')
	}
	return out
}
