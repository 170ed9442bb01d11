package modes

import (
	"testing"

	"bigben/pkg/logx"
)

func TestFirstRegisteredModeBecomesCurrent(t *testing.T) {
	t.Parallel()
	e := NewEngine(logx.Nop())
	e.Register(DivMult, nil)
	e.Register(Burst, nil)
	if e.Current() != DivMult {
		t.Fatalf("Current() = %q, want %q", e.Current(), DivMult)
	}
}

func TestRegisterInitAutoRegistersBareMode(t *testing.T) {
	t.Parallel()
	e := NewEngine(logx.Nop())
	e.RegisterInit(Dilla, func() {})
	if e.Current() != Dilla {
		t.Fatalf("Current() = %q, want auto-registered %q", e.Current(), Dilla)
	}
	if e.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", e.Len())
	}
	// Dispatch into a bare mode (nil trigger) is a silent no-op.
	e.Dispatch(0)
}

func TestNextWrapsThroughRegistrationOrder(t *testing.T) {
	t.Parallel()
	e := NewEngine(logx.Nop())
	order := []ID{DivMult, Dilla, Random, Burst}
	for _, id := range order {
		e.Register(id, nil)
	}

	var seen []ID
	for i := 0; i < len(order); i++ {
		e.Next()
		seen = append(seen, e.Current())
	}
	want := []ID{Dilla, Random, Burst, DivMult}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("step %d: current = %q, want %q", i, seen[i], want[i])
		}
	}
	if e.Current() != DivMult {
		t.Fatalf("after len(modes) steps current = %q, want the original %q", e.Current(), DivMult)
	}
}

func TestTransitionRunsExitThenInit(t *testing.T) {
	t.Parallel()
	e := NewEngine(logx.Nop())

	var calls []string
	e.Register(DivMult, nil)
	e.RegisterExit(DivMult, func() { calls = append(calls, "exit divmult") })
	e.RegisterInit(DivMult, func() { calls = append(calls, "init divmult") })
	e.Register(Burst, nil)
	e.RegisterInit(Burst, func() { calls = append(calls, "init burst") })
	e.RegisterExit(Burst, func() { calls = append(calls, "exit burst") })

	e.ChangeMode(Burst)
	e.ChangeMode(DivMult)

	want := []string{"exit divmult", "init burst", "exit burst", "init divmult"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d = %q, want %q (full: %v)", i, calls[i], want[i], calls)
		}
	}
}

func TestReinitRunsOnlyCurrentInit(t *testing.T) {
	t.Parallel()
	e := NewEngine(logx.Nop())

	inits, exits := 0, 0
	e.Register(Random, nil)
	e.RegisterInit(Random, func() { inits++ })
	e.RegisterExit(Random, func() { exits++ })

	e.Reinit()
	e.Reinit()
	if inits != 2 || exits != 0 {
		t.Fatalf("inits=%d exits=%d, want 2/0", inits, exits)
	}
}

func TestDispatchReachesCurrentHandlerWithIndex(t *testing.T) {
	t.Parallel()
	e := NewEngine(logx.Nop())

	got := -1
	e.Register(Random, func(idx int) { got = idx })
	e.Dispatch(4)
	if got != 4 {
		t.Fatalf("handler saw index %d, want 4", got)
	}
}

func TestChangeToUnregisteredModePanics(t *testing.T) {
	t.Parallel()
	e := NewEngine(logx.Nop())
	e.Register(DivMult, nil)
	defer func() {
		if recover() == nil {
			t.Fatal("ChangeMode to unregistered mode did not panic")
		}
	}()
	e.ChangeMode(Burst)
}
