package hal

import (
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Sim is an in-memory Driver. It backs the default run mode when no hardware
// front end is configured, and it is the test substrate: tests can raise
// input edges, fire armed timer slots directly, and inspect every output
// transition.
type Sim struct {
	clk clock.WithTicker

	inputs   simInputs
	timers   simTimers
	outputs  simOutputs
	controls simControls

	ledMu      sync.Mutex
	ledOn      bool
	ledFlashes int
}

type SimOption func(*Sim)

// WithClock substitutes the time source (e.g. a fake clock in tests).
func WithClock(clk clock.WithTicker) SimOption {
	return func(s *Sim) { s.clk = clk }
}

func NewSim(lines int, opts ...SimOption) *Sim {
	if lines <= 0 {
		lines = 6
	}
	s := &Sim{clk: clock.RealClock{}}
	for _, o := range opts {
		o(s)
	}
	s.timers.slots = make([]*simSlot, lines)
	s.timers.clk = s.clk
	s.outputs.clk = s.clk
	s.outputs.levels = make([]bool, lines)
	s.controls.division = 1
	return s
}

func (s *Sim) Inputs() Inputs { return &s.inputs }
func (s *Sim) Timers() TimerDriver { return &s.timers }
func (s *Sim) Outputs() OutputBank { return &s.outputs }
func (s *Sim) Controls() Controls { return &s.controls }
func (s *Sim) Clock() clock.WithTicker { return s.clk }

func (s *Sim) Led(on bool) {
	s.ledMu.Lock()
	if on && !s.ledOn {
		s.ledFlashes++
	}
	s.ledOn = on
	s.ledMu.Unlock()
}

// LedFlashes reports how many times the activity light was raised.
func (s *Sim) LedFlashes() int {
	s.ledMu.Lock()
	defer s.ledMu.Unlock()
	return s.ledFlashes
}

func (s *Sim) Close() error {
	for i := range s.timers.slots {
		s.timers.Disarm(i)
	}
	return nil
}

// ---- inputs ----

type simInputs struct {
	mu    sync.Mutex
	clock func()
	tap   func()
	mode  func()
}

func (in *simInputs) OnClockRise(fn func()) { in.mu.Lock(); in.clock = fn; in.mu.Unlock() }
func (in *simInputs) OnTapRise(fn func())   { in.mu.Lock(); in.tap = fn; in.mu.Unlock() }
func (in *simInputs) OnModeRise(fn func())  { in.mu.Lock(); in.mode = fn; in.mu.Unlock() }

func (in *simInputs) fire(get func(*simInputs) func()) {
	in.mu.Lock()
	fn := get(in)
	in.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// PulseClock raises an edge on the external clock input.
func (s *Sim) PulseClock() { s.inputs.fire(func(in *simInputs) func() { return in.clock }) }

// PressTap raises an edge on the tap button.
func (s *Sim) PressTap() { s.inputs.fire(func(in *simInputs) func() { return in.tap }) }

// PressMode raises an edge on the mode button.
func (s *Sim) PressMode() { s.inputs.fire(func(in *simInputs) func() { return in.mode }) }

// ---- timers ----

type simSlot struct {
	period time.Duration
	fn     func(slot int)
	stop   chan struct{}
	done   chan struct{}
}

type simTimers struct {
	mu    sync.Mutex
	clk   clock.WithTicker
	slots []*simSlot
}

func (t *simTimers) Slots() int { return len(t.slots) }

func (t *simTimers) Arm(slot int, period time.Duration, fn func(slot int)) error {
	if slot < 0 || slot >= len(t.slots) {
		return fmt.Errorf("sim: timer slot %d out of range", slot)
	}
	if period <= 0 {
		return fmt.Errorf("sim: timer slot %d: period must be positive, got %v", slot, period)
	}
	if fn == nil {
		return fmt.Errorf("sim: timer slot %d: nil callback", slot)
	}
	t.Disarm(slot)

	sl := &simSlot{period: period, fn: fn, stop: make(chan struct{}), done: make(chan struct{})}
	t.mu.Lock()
	t.slots[slot] = sl
	t.mu.Unlock()

	go t.run(slot, sl)
	return nil
}

func (t *simTimers) run(slot int, sl *simSlot) {
	defer close(sl.done)
	ticker := t.clk.NewTicker(sl.period)
	defer ticker.Stop()
	for {
		select {
		case <-sl.stop:
			return
		case <-ticker.C():
			sl.fn(slot)
		}
	}
}

// Disarm stops a slot and waits for its goroutine to exit, so no stale tick
// can land after it returns. Disarming an idle slot is a no-op.
func (t *simTimers) Disarm(slot int) {
	if slot < 0 || slot >= len(t.slots) {
		return
	}
	t.mu.Lock()
	sl := t.slots[slot]
	t.slots[slot] = nil
	t.mu.Unlock()
	if sl == nil {
		return
	}
	close(sl.stop)
	<-sl.done
}

// Armed reports whether a slot currently has a timer, and its period.
func (s *Sim) Armed(slot int) (time.Duration, bool) {
	s.timers.mu.Lock()
	defer s.timers.mu.Unlock()
	if slot < 0 || slot >= len(s.timers.slots) || s.timers.slots[slot] == nil {
		return 0, false
	}
	return s.timers.slots[slot].period, true
}

// ArmedCount reports how many slots currently hold timers.
func (s *Sim) ArmedCount() int {
	s.timers.mu.Lock()
	defer s.timers.mu.Unlock()
	n := 0
	for _, sl := range s.timers.slots {
		if sl != nil {
			n++
		}
	}
	return n
}

// FireSlot synchronously invokes an armed slot's callback, bypassing the
// ticker. Deterministic substitute for waiting out a period in tests.
func (s *Sim) FireSlot(slot int) bool {
	s.timers.mu.Lock()
	sl := (*simSlot)(nil)
	if slot >= 0 && slot < len(s.timers.slots) {
		sl = s.timers.slots[slot]
	}
	s.timers.mu.Unlock()
	if sl == nil {
		return false
	}
	sl.fn(slot)
	return true
}

// ---- outputs ----

// Transition is one recorded output edge.
type Transition struct {
	Line int
	High bool
	At   time.Time
}

type simOutputs struct {
	mu     sync.Mutex
	clk    clock.PassiveClock
	levels []bool
	log    []Transition
}

func (o *simOutputs) Lines() int { return len(o.levels) }

func (o *simOutputs) Set(idx int, high bool) {
	if idx < 0 || idx >= len(o.levels) {
		return
	}
	o.mu.Lock()
	if o.levels[idx] != high {
		o.levels[idx] = high
		o.log = append(o.log, Transition{Line: idx, High: high, At: o.clk.Now()})
	}
	o.mu.Unlock()
}

func (o *simOutputs) AllOff() {
	o.mu.Lock()
	for i, lv := range o.levels {
		if lv {
			o.levels[i] = false
			o.log = append(o.log, Transition{Line: i, High: false, At: o.clk.Now()})
		}
	}
	o.mu.Unlock()
}

// Level reports the current state of one output line.
func (s *Sim) Level(idx int) bool {
	s.outputs.mu.Lock()
	defer s.outputs.mu.Unlock()
	if idx < 0 || idx >= len(s.outputs.levels) {
		return false
	}
	return s.outputs.levels[idx]
}

// Transitions returns a copy of all recorded output edges.
func (s *Sim) Transitions() []Transition {
	s.outputs.mu.Lock()
	defer s.outputs.mu.Unlock()
	out := make([]Transition, len(s.outputs.log))
	copy(out, s.outputs.log)
	return out
}

// RisesOn counts rising edges recorded for one line.
func (s *Sim) RisesOn(idx int) int {
	n := 0
	for _, tr := range s.Transitions() {
		if tr.Line == idx && tr.High {
			n++
		}
	}
	return n
}

// ---- controls ----

type simControls struct {
	mu       sync.Mutex
	division int
	percent  float64
}

func (c *simControls) Choice(options []int) int {
	if len(options) == 0 {
		return 0
	}
	c.mu.Lock()
	want := c.division
	c.mu.Unlock()
	for _, o := range options {
		if o == want {
			return o
		}
	}
	return options[0]
}

func (c *simControls) Percent() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.percent
}

// SetDivision positions the division control on a concrete choice.
func (s *Sim) SetDivision(v int) {
	s.controls.mu.Lock()
	s.controls.division = v
	s.controls.mu.Unlock()
}

// SetPercent positions the burst-threshold control, clamped to [0,1].
func (s *Sim) SetPercent(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	s.controls.mu.Lock()
	s.controls.percent = p
	s.controls.mu.Unlock()
}
