// Package taskreg runs the bounded set of background burst sequences.
//
// The registry is the only place extended repeat logic may run: timer
// callbacks and the engine loop stay short, and anything that needs to toggle
// an output, wait, and toggle again lives here as a cancellable task.
package taskreg

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"bigben/pkg/logx"
)

// ErrCapacity reports a spawn past the registry bound. Soft failure: the
// sequence is dropped and counted, nothing else happens.
var ErrCapacity = errors.New("taskreg: at capacity")

// DefaultCapacity matches the number of trigger outputs.
const DefaultCapacity = 6

// Sequence is one background burst: a target output toggled Repeats times
// with a Delay between iterations. No delay follows the final iteration, so
// a bounded sequence releases its slot the moment its last step completes.
// Repeats < 0 keeps running until the registry is cancelled.
//
// Step performs one iteration and reports whether the sequence should
// continue; it must respect ctx at its yield points.
type Sequence struct {
	Name    string
	Output  int
	Repeats int
	Delay   time.Duration
	Step    func(ctx context.Context, iteration int) bool
}

type generation struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Registry is the bounded task set. Capacity is checked at spawn time; tasks
// remove themselves on completion in whatever order they finish.
type Registry struct {
	clk clock.Clock
	log logx.Logger

	mu       sync.Mutex
	capacity int
	gen      *generation
	active   map[uint64]string
	nextID   uint64

	spawned uint64
	dropped uint64
}

func New(capacity int, clk clock.Clock, log logx.Logger) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	r := &Registry{
		clk:      clk,
		log:      log,
		capacity: capacity,
		active:   map[uint64]string{},
	}
	r.gen = newGeneration()
	return r
}

func newGeneration() *generation {
	ctx, cancel := context.WithCancel(context.Background())
	return &generation{ctx: ctx, cancel: cancel}
}

// Spawn enqueues a sequence and starts running it. Past capacity it drops
// the sequence and returns ErrCapacity.
func (r *Registry) Spawn(seq Sequence) error {
	if seq.Step == nil {
		return errors.New("taskreg: sequence Step is nil")
	}

	r.mu.Lock()
	if len(r.active) >= r.capacity {
		r.dropped++
		dropped := r.dropped
		r.mu.Unlock()
		r.log.Warn("burst sequence dropped",
			logx.String("name", seq.Name),
			logx.Int("output", seq.Output),
			logx.Uint64("dropped_total", dropped))
		return ErrCapacity
	}
	r.nextID++
	id := r.nextID
	r.active[id] = seq.Name
	r.spawned++
	g := r.gen
	g.wg.Add(1)
	r.mu.Unlock()

	go r.run(g, id, seq)
	return nil
}

func (r *Registry) run(g *generation, id uint64, seq Sequence) {
	defer g.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.active, id)
		r.mu.Unlock()
	}()

	for i := 0; seq.Repeats < 0 || i < seq.Repeats; i++ {
		if g.ctx.Err() != nil {
			return
		}
		if !seq.Step(g.ctx, i) {
			return
		}
		if seq.Repeats >= 0 && i == seq.Repeats-1 {
			return
		}
		// Yield point between iterations.
		if seq.Delay > 0 && !sleepCtx(g.ctx, r.clk, seq.Delay) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	tm := clk.NewTimer(d)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tm.C():
		return true
	}
}

// SleepCtx is the cancellable sleep sequences use inside their steps, so a
// CancelAll never waits out a pulse hold.
func (r *Registry) SleepCtx(ctx context.Context, d time.Duration) bool {
	return sleepCtx(ctx, r.clk, d)
}

// Wait blocks until the currently running task set drains on its own.
func (r *Registry) Wait() {
	r.mu.Lock()
	g := r.gen
	r.mu.Unlock()
	g.wg.Wait()
}

// CancelAll force-terminates every outstanding sequence and returns only
// when none survive. Safe to call from a mode exit hook: when it returns,
// zero background activity remains and the registry accepts fresh spawns.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	g := r.gen
	r.gen = newGeneration()
	r.mu.Unlock()

	g.cancel()
	// Every task of the cancelled generation deregisters itself before its
	// WaitGroup slot releases, so the set is consistent when Wait returns.
	g.wg.Wait()

	r.log.Debug("burst sequences cancelled")
}

// Active reports how many sequences are currently running.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Active   int
	Capacity int
	Spawned  uint64
	Dropped  uint64
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Active:   len(r.active),
		Capacity: r.capacity,
		Spawned:  r.spawned,
		Dropped:  r.dropped,
	}
}
