// Package engine wires the tempo tracker, clock bank, task registry, and
// mode state machine into the running trigger scheduler.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"bigben/internal/clockbank"
	"bigben/internal/hal"
	"bigben/internal/modes"
	"bigben/internal/taskreg"
	"bigben/internal/tempo"
	"bigben/pkg/logx"
)

// DefaultDivisions is the selectable clock-division set.
var DefaultDivisions = []int{1, 2, 3, 4, 5, 6, 7, 8, 16, 32}

const (
	// DefaultTriggerWidth is how long an output is held high per trigger.
	// Identical across modes and independent of tempo.
	DefaultTriggerWidth = 20 * time.Millisecond

	defaultPollInterval = 50 * time.Millisecond
	defaultQueueSize    = 64
)

type Config struct {
	Divisions         []int
	TriggerWidth      time.Duration
	PollInterval      time.Duration
	DisplayMultiplier float64
	TaskCapacity      int
	QueueSize         int
}

func (c Config) withDefaults() Config {
	if len(c.Divisions) == 0 {
		c.Divisions = DefaultDivisions
	}
	if c.TriggerWidth <= 0 {
		c.TriggerWidth = DefaultTriggerWidth
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.DisplayMultiplier <= 0 {
		c.DisplayMultiplier = 1
	}
	if c.TaskCapacity <= 0 {
		c.TaskCapacity = taskreg.DefaultCapacity
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

type eventKind int

const (
	evPulse eventKind = iota // clock/tap rising edge
	evMode                   // mode button rising edge
	evFire                   // clock-bank slot fired
)

type event struct {
	kind eventKind
	slot int
	at   time.Time
}

// Engine is the orchestrator. Driver callbacks only enqueue events; the Run
// loop is the single thread that touches the tracker, the mode machine, and
// the clock bank, so no mode-level locking is needed.
type Engine struct {
	cfg Config
	drv hal.Driver
	clk clock.WithTicker
	log logx.Logger

	tracker *tempo.Tracker
	bank    *clockbank.Bank
	tasks   *taskreg.Registry
	modes   *modes.Engine

	events chan event
	drops  atomic.Uint64
	fires  atomic.Uint64

	division  int
	startMode modes.ID

	mu      sync.Mutex
	display func(string)
	mult    float64
	snap    Snapshot
}

// Snapshot is a point-in-time view for the display, housekeeping, and tests.
type Snapshot struct {
	Mode     modes.ID
	Quarter  time.Duration
	BPM      float64
	Division int
	Fires    uint64
	Dropped  uint64
	Tasks    taskreg.Snapshot
}

func New(cfg Config, drv hal.Driver, log logx.Logger) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:      cfg,
		drv:      drv,
		clk:      drv.Clock(),
		log:      log,
		tracker:  tempo.NewTracker(),
		bank:     clockbank.New(drv.Timers(), log),
		tasks:    taskreg.New(cfg.TaskCapacity, drv.Clock(), log),
		modes:    modes.NewEngine(log),
		events:   make(chan event, cfg.QueueSize),
		division: cfg.Divisions[0],
		mult:     cfg.DisplayMultiplier,
	}
	e.registerModes()
	return e
}

func (e *Engine) registerModes() {
	rig := &modes.Rig{
		Bank:   e.bank,
		Tasks:  e.tasks,
		Outs:   e.drv.Outputs(),
		Ctrl:   e.drv.Controls(),
		Clk:    e.clk,
		Log:    e.log,
		Width:  e.cfg.TriggerWidth,
		Period: e.period,
		Fire:   e.enqueueFire,
	}
	modes.NewDivMult(rig).Attach(e.modes)
	modes.NewDilla(rig, rand.New(rand.NewSource(e.clk.Now().UnixNano()))).Attach(e.modes)
	modes.NewRandom(rig, rand.New(rand.NewSource(e.clk.Now().UnixNano()+1))).Attach(e.modes)
	modes.NewBurst(rig).Attach(e.modes)
}

// period derives the active output period from the measured quarter and the
// polled clock division.
func (e *Engine) period() (time.Duration, bool) {
	q := e.tracker.Quarter()
	if q <= 0 {
		return 0, false
	}
	return q * 4 / time.Duration(e.division), true
}

// SetStartMode selects the mode entered when Run starts (settings restore).
func (e *Engine) SetStartMode(id modes.ID) { e.startMode = id }

// SetDisplay installs the external display collaborator. It receives the
// read-only status line once per control poll.
func (e *Engine) SetDisplay(fn func(string)) {
	e.mu.Lock()
	e.display = fn
	e.mu.Unlock()
}

// SetDisplayMultiplier rescales the displayed BPM. Applied on config reload.
func (e *Engine) SetDisplayMultiplier(m float64) {
	if m <= 0 {
		m = 1
	}
	e.mu.Lock()
	e.mult = m
	e.mu.Unlock()
}

// Tasks exposes the registry for diagnostics.
func (e *Engine) Tasks() *taskreg.Registry { return e.tasks }

func (e *Engine) enqueueFire(slot int) {
	e.enqueue(event{kind: evFire, slot: slot})
}

func (e *Engine) enqueue(ev event) {
	select {
	case e.events <- ev:
	default:
		// The queue only backs up if the loop is wedged; dropping here keeps
		// driver callbacks non-blocking.
		e.drops.Add(1)
		e.log.Warn("event dropped, queue full", logx.Int("kind", int(ev.kind)))
	}
}

// Run binds the input handlers and processes events until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	onPulse := func() { e.enqueue(event{kind: evPulse, at: e.clk.Now()}) }
	e.drv.Inputs().OnClockRise(onPulse)
	e.drv.Inputs().OnTapRise(onPulse)
	e.drv.Inputs().OnModeRise(func() { e.enqueue(event{kind: evMode}) })

	e.division = e.drv.Controls().Choice(e.cfg.Divisions)
	if e.startMode != "" && e.modes.Has(e.startMode) {
		e.modes.ChangeMode(e.startMode)
	} else {
		if e.startMode != "" {
			e.log.Warn("unknown saved mode, keeping default", logx.String("mode", string(e.startMode)))
		}
		e.modes.Reinit()
	}
	e.publishSnapshot()
	e.log.Info("engine running",
		logx.String("mode", string(e.modes.Current())),
		logx.Int("division", e.division),
		logx.Duration("trigger_width", e.cfg.TriggerWidth))

	poll := e.clk.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()
	defer e.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.events:
			e.handle(ev)
		case <-poll.C():
			e.pollControls()
		}
	}
}

func (e *Engine) handle(ev event) {
	switch ev.kind {
	case evPulse:
		if e.tracker.Sample(ev.at) {
			e.log.Info("tempo measured",
				logx.Duration("quarter", e.tracker.Quarter()),
				logx.Float64("bpm", e.tracker.BPM()))
			e.modes.Reinit()
			e.publishSnapshot()
		}
	case evMode:
		e.modes.Next()
		e.log.Info(e.modes.String())
		e.publishSnapshot()
	case evFire:
		e.fires.Add(1)
		e.drv.Led(true)
		e.log.Trace("slot fired", logx.Int("slot", ev.slot), logx.String("mode", string(e.modes.Current())))
		e.modes.Dispatch(ev.slot)
		e.drv.Led(false)
	}
}

// pollControls is the per-cycle control read: division changes rebuild the
// current mode's timers, and the display gets a fresh status line.
func (e *Engine) pollControls() {
	div := e.drv.Controls().Choice(e.cfg.Divisions)
	if div != e.division && div > 0 {
		e.division = div
		e.log.Info("clock division changed", logx.Int("division", div))
		e.modes.Reinit()
	}
	e.publishSnapshot()

	e.mu.Lock()
	display := e.display
	e.mu.Unlock()
	if display != nil {
		display(e.StatusLine())
	}
}

func (e *Engine) publishSnapshot() {
	snap := Snapshot{
		Mode:     e.modes.Current(),
		Quarter:  e.tracker.Quarter(),
		BPM:      e.tracker.BPM(),
		Division: e.division,
		Fires:    e.fires.Load(),
		Dropped:  e.drops.Load(),
		Tasks:    e.tasks.Snapshot(),
	}
	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()
}

// Snapshot returns the last published engine state. Safe from any goroutine.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// StatusLine renders the read-only display string.
func (e *Engine) StatusLine() string {
	e.mu.Lock()
	snap := e.snap
	mult := e.mult
	e.mu.Unlock()

	title := fmt.Sprintf("BigBen : %s", snap.Mode)
	if snap.Quarter > 0 {
		return fmt.Sprintf("%s\n%.2f - %d", title, snap.BPM*mult, snap.Division)
	}
	return fmt.Sprintf("%s\nNo BPM - %d", title, snap.Division)
}

// shutdown tears the output side down so nothing fires or stays high after
// Run returns.
func (e *Engine) shutdown() {
	e.bank.StopAll()
	e.tasks.CancelAll()
	e.drv.Outputs().AllOff()
	e.drv.Led(false)
	e.log.Info("engine stopped",
		logx.Uint64("fires", e.fires.Load()),
		logx.Uint64("dropped", e.drops.Load()))
}
