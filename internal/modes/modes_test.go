package modes

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"bigben/internal/clockbank"
	"bigben/internal/hal"
	"bigben/internal/taskreg"
	"bigben/pkg/logx"
)

type testRig struct {
	sim   *hal.Sim
	rig   *Rig
	fires []int
	mu    sync.Mutex
}

// newTestRig wires a rig over the simulator with a fixed derived period.
// Fires are collected instead of looping through an orchestrator.
func newTestRig(t *testing.T, period time.Duration) *testRig {
	t.Helper()
	sim := hal.NewSim(6)
	t.Cleanup(func() { sim.Close() })

	tr := &testRig{sim: sim}
	reg := taskreg.New(taskreg.DefaultCapacity, sim.Clock(), logx.Nop())
	t.Cleanup(reg.CancelAll)

	tr.rig = &Rig{
		Bank:  clockbank.New(sim.Timers(), logx.Nop()),
		Tasks: reg,
		Outs:  sim.Outputs(),
		Ctrl:  sim.Controls(),
		Clk:   sim.Clock(),
		Log:   logx.Nop(),
		Width: time.Millisecond,
		Period: func() (time.Duration, bool) {
			return period, period > 0
		},
		Fire: func(slot int) {
			tr.mu.Lock()
			tr.fires = append(tr.fires, slot)
			tr.mu.Unlock()
		},
	}
	return tr
}

func TestDivMultNoTempoLeavesBankIdle(t *testing.T) {
	t.Parallel()
	tr := newTestRig(t, 0)
	m := NewDivMult(tr.rig)

	m.init()
	if got := tr.sim.ArmedCount(); got != 0 {
		t.Fatalf("armed %d slots with no tempo, want 0", got)
	}
}

func TestDivMultArmsBaseSubPeriod(t *testing.T) {
	t.Parallel()
	// quarter 1500ms at division 1 -> whole period 6000ms -> base 750ms.
	tr := newTestRig(t, 6*time.Second)
	m := NewDivMult(tr.rig)

	m.init()
	if got := tr.sim.ArmedCount(); got != 1 {
		t.Fatalf("armed %d slots, want 1", got)
	}
	if p, _ := tr.sim.Armed(0); p != 750*time.Millisecond {
		t.Fatalf("slot 0 period = %v, want 750ms", p)
	}
}

func TestDivMultCounterSelectsOutputsByRatio(t *testing.T) {
	t.Parallel()
	tr := newTestRig(t, 800*time.Millisecond)
	m := NewDivMult(tr.rig)
	m.init()

	// 32 fires: output 5 (ratio 1) pulses every time, output 4 (ratio 2)
	// every other, output 0 (ratio 32) exactly once, at count 32. Draining
	// the width hold between fires keeps every edge distinct.
	for i := 0; i < 32; i++ {
		m.trigger(0)
		tr.rig.Tasks.Wait()
	}
	if got := tr.sim.RisesOn(5); got != 32 {
		t.Fatalf("output 5 rose %d times, want 32", got)
	}
	if got := tr.sim.RisesOn(4); got != 16 {
		t.Fatalf("output 4 rose %d times, want 16", got)
	}
	if got := tr.sim.RisesOn(0); got != 1 {
		t.Fatalf("output 0 rose %d times, want 1", got)
	}
	if tr.sim.Level(5) || tr.sim.Level(0) {
		t.Fatal("outputs left high after trigger width")
	}
}

func TestDivMultCounterWraps(t *testing.T) {
	t.Parallel()
	tr := newTestRig(t, 800*time.Millisecond)
	m := NewDivMult(tr.rig)
	m.init()

	for i := 0; i < divMultWrap; i++ {
		m.trigger(0)
	}
	if m.count != 0 {
		t.Fatalf("counter = %d after %d fires, want wrap to 0", m.count, divMultWrap)
	}
}

func TestBurstCascadeHonorsThresholds(t *testing.T) {
	t.Parallel()
	tr := newTestRig(t, 80*time.Millisecond)
	tr.sim.SetPercent(0.5) // live level 50

	m := NewBurst(tr.rig)
	m.init()
	if got := tr.sim.ArmedCount(); got != 1 {
		t.Fatalf("armed %d slots, want 1", got)
	}

	m.trigger(0)
	// Base + extras with thresholds 25, 35, 45 (<= 50); 55 stops the cascade.
	if snap := tr.rig.Tasks.Snapshot(); snap.Spawned != 4 {
		t.Fatalf("spawned %d sequences, want 4 (base + 3 extras)", snap.Spawned)
	}

	tr.rig.Tasks.Wait()
	for _, idx := range []int{0, 1, 2, 3} {
		if tr.sim.RisesOn(idx) == 0 {
			t.Fatalf("output %d never pulsed", idx)
		}
	}
	for _, idx := range []int{4, 5} {
		if got := tr.sim.RisesOn(idx); got != 0 {
			t.Fatalf("output %d pulsed %d times past the cascade stop", idx, got)
		}
	}
}

func TestBurstCascadeStopIsMonotonic(t *testing.T) {
	t.Parallel()
	tr := newTestRig(t, 80*time.Millisecond)
	// Level 30: extra 0 (threshold 25) passes, extra 1 (35) fails; nothing
	// after it may spawn even though no later threshold would pass anyway.
	tr.sim.SetPercent(0.3)

	m := NewBurst(tr.rig)
	m.trigger(0)
	if snap := tr.rig.Tasks.Snapshot(); snap.Spawned != 2 {
		t.Fatalf("spawned %d sequences at level 30, want 2 (base + 1 extra)", snap.Spawned)
	}
}

func TestBurstRespawnsEveryBeatAtFullLevel(t *testing.T) {
	t.Parallel()
	const period = 400 * time.Millisecond
	tr := newTestRig(t, period)
	tr.sim.SetPercent(1) // every threshold passes: full 6-sequence cascade

	m := NewBurst(tr.rig)
	start := time.Now()
	m.trigger(0)
	if snap := tr.rig.Tasks.Snapshot(); snap.Spawned != 6 || snap.Dropped != 0 {
		t.Fatalf("first beat: spawned %d dropped %d, want 6/0", snap.Spawned, snap.Dropped)
	}

	// The cascade must drain inside its own beat, or the next beat finds the
	// registry full and the base burst goes silent.
	tr.rig.Tasks.Wait()
	if el := time.Since(start); el > period {
		t.Fatalf("cascade outlived its beat: drained after %v, period %v", el, period)
	}

	m.trigger(0)
	snap := tr.rig.Tasks.Snapshot()
	if snap.Dropped != 0 {
		t.Fatalf("second beat dropped %d sequences", snap.Dropped)
	}
	if snap.Spawned != 12 {
		t.Fatalf("spawned %d sequences over two beats, want 12", snap.Spawned)
	}
	tr.rig.Tasks.Wait()
	if got := tr.sim.RisesOn(0); got != 2*16 {
		t.Fatalf("base output rose %d times over two beats, want 32", got)
	}
}

func TestPulseHoldDoesNotBlockCaller(t *testing.T) {
	t.Parallel()
	tr := newTestRig(t, 100*time.Millisecond)
	tr.rig.Width = time.Hour

	start := time.Now()
	tr.rig.pulse(3)
	if el := time.Since(start); el > 100*time.Millisecond {
		t.Fatalf("pulse held the caller for %v", el)
	}
	if !tr.sim.Level(3) {
		t.Fatal("output 3 not raised")
	}

	tr.rig.Tasks.CancelAll()
	if tr.sim.Level(3) {
		t.Fatal("output 3 left high after cancellation")
	}
}

func TestBurstNoTempoArmsNothing(t *testing.T) {
	t.Parallel()
	tr := newTestRig(t, 0)
	m := NewBurst(tr.rig)
	m.init()
	if got := tr.sim.ArmedCount(); got != 0 {
		t.Fatalf("armed %d slots with no tempo, want 0", got)
	}
	m.trigger(0)
	if snap := tr.rig.Tasks.Snapshot(); snap.Spawned != 0 {
		t.Fatalf("spawned %d sequences with no tempo, want 0", snap.Spawned)
	}
}

func TestBurstExitCancelsEverything(t *testing.T) {
	t.Parallel()
	tr := newTestRig(t, 500*time.Millisecond)
	tr.sim.SetPercent(1)

	m := NewBurst(tr.rig)
	m.init()
	m.trigger(0)
	m.exit()

	if got := tr.rig.Tasks.Active(); got != 0 {
		t.Fatalf("%d sequences survived exit", got)
	}
	if got := tr.sim.ArmedCount(); got != 0 {
		t.Fatalf("%d slots survived exit", got)
	}
	for i := 0; i < 6; i++ {
		if tr.sim.Level(i) {
			t.Fatalf("output %d left high across mode exit", i)
		}
	}
}

func TestRandomFiresSubsetAndForcesAllOff(t *testing.T) {
	t.Parallel()
	tr := newTestRig(t, 400*time.Millisecond)
	m := NewRandom(tr.rig, rand.New(rand.NewSource(1)))
	m.init()

	if got := tr.sim.ArmedCount(); got != 1 {
		t.Fatalf("armed %d slots, want 1", got)
	}
	if p, _ := tr.sim.Armed(0); p != 400*time.Millisecond {
		t.Fatalf("slot 0 period = %v, want the whole period", p)
	}

	for i := 0; i < 8; i++ {
		m.trigger(0)
		tr.rig.Tasks.Wait()
	}
	// Output 0 passes its modulus test (anything % 1 == 0) on every fire.
	if got := tr.sim.RisesOn(0); got != 8 {
		t.Fatalf("output 0 rose %d times, want 8", got)
	}
	for i := 0; i < 6; i++ {
		if tr.sim.Level(i) {
			t.Fatalf("output %d left high after forced all-off", i)
		}
	}
}

func TestDillaSwingsEveryOtherBeat(t *testing.T) {
	t.Parallel()
	tr := newTestRig(t, 120*time.Millisecond)
	m := NewDilla(tr.rig, rand.New(rand.NewSource(7)))
	m.init()

	m.trigger(0) // off-beat: spawned as a swing task
	if got := tr.rig.Tasks.Snapshot().Spawned; got != 1 {
		t.Fatalf("spawned %d swing tasks after first beat, want 1", got)
	}
	m.trigger(0) // on-beat: pulses straight, only its width hold is a task
	if got := tr.rig.Tasks.Snapshot().Spawned; got != 2 {
		t.Fatalf("spawned %d tasks after second beat, want 2 (swing + hold)", got)
	}

	tr.rig.Tasks.Wait()
	total := 0
	for i := 0; i < 6; i++ {
		total += tr.sim.RisesOn(i)
	}
	if total != 4 {
		t.Fatalf("saw %d rises over two pair beats, want 4", total)
	}
	m.exit()
}
