// Package modes holds the rhythm-mode state machine and the built-in modes.
package modes

import (
	"fmt"

	"bigben/pkg/logx"
)

// ID names a mode. The set is closed: every mode the engine can hold is one
// of these constants, and construction-time registration is the only way in.
type ID string

const (
	DivMult ID = "divmult"
	Dilla   ID = "dilla"
	Random  ID = "random"
	Burst   ID = "burst"
)

// Engine is the named-mode state machine. Transitions run the outgoing
// mode's exit hook before the incoming mode's init hook; init hooks may
// assume the previous mode's timers and tasks are already torn down.
//
// Engine is owned by the orchestrator's control loop and is not
// goroutine-safe.
type Engine struct {
	log logx.Logger

	order    []ID
	triggers map[ID]func(output int)
	inits    map[ID]func()
	exits    map[ID]func()

	current    ID
	hasCurrent bool
}

func NewEngine(log logx.Logger) *Engine {
	return &Engine{
		log:      log,
		triggers: map[ID]func(int){},
		inits:    map[ID]func(){},
		exits:    map[ID]func(){},
	}
}

// Register adds a mode with an optional trigger handler. The first
// registered mode becomes current.
func (e *Engine) Register(id ID, trigger func(output int)) {
	if !e.registered(id) {
		e.order = append(e.order, id)
	}
	e.triggers[id] = trigger
	if !e.hasCurrent {
		e.current = id
		e.hasCurrent = true
	}
}

// RegisterInit attaches an init hook, auto-registering a bare mode if needed.
// Init hooks take no arguments and run on entry and on Reinit.
func (e *Engine) RegisterInit(id ID, fn func()) {
	if !e.registered(id) {
		e.Register(id, nil)
	}
	e.inits[id] = fn
}

// RegisterExit attaches an exit hook, auto-registering a bare mode if needed.
func (e *Engine) RegisterExit(id ID, fn func()) {
	if !e.registered(id) {
		e.Register(id, nil)
	}
	e.exits[id] = fn
}

func (e *Engine) registered(id ID) bool {
	_, ok := e.triggers[id]
	return ok
}

// Current returns the active mode id.
func (e *Engine) Current() ID { return e.current }

// Len reports how many modes are registered.
func (e *Engine) Len() int { return len(e.order) }

// Has reports whether id is registered.
func (e *Engine) Has(id ID) bool { return e.registered(id) }

// ChangeMode runs the exit/init protocol: current mode's exit hook, then
// current = id, then the new mode's init hook. Switching to an unregistered
// mode is a programming error.
func (e *Engine) ChangeMode(id ID) {
	if !e.registered(id) {
		panic(fmt.Sprintf("modes: change to unregistered mode %q", id))
	}
	if fn := e.exits[e.current]; fn != nil {
		fn()
	}
	e.current = id
	if fn := e.inits[e.current]; fn != nil {
		fn()
	}
	e.log.Info("mode changed", logx.String("mode", string(id)), logx.Int("modes", len(e.order)))
}

// Next advances to the mode after current in registration order, wrapping.
func (e *Engine) Next() {
	if len(e.order) == 0 {
		return
	}
	cur := 0
	for i, id := range e.order {
		if id == e.current {
			cur = i
			break
		}
	}
	e.ChangeMode(e.order[(cur+1)%len(e.order)])
}

// Reinit re-runs only the current mode's init hook. Used when tempo or the
// division changed but the mode itself did not.
func (e *Engine) Reinit() {
	if fn := e.inits[e.current]; fn != nil {
		fn()
	}
}

// Dispatch hands a fired output index to the current mode's trigger handler.
// A current mode that was never registered is unreachable by construction;
// a registered mode without a handler ignores the trigger.
func (e *Engine) Dispatch(output int) {
	fn, ok := e.triggers[e.current]
	if !ok {
		panic(fmt.Sprintf("modes: dispatch into unregistered mode %q", e.current))
	}
	if fn != nil {
		fn(output)
	}
}

func (e *Engine) String() string {
	return fmt.Sprintf("Current mode is %s. %d modes available.", e.current, len(e.order))
}
