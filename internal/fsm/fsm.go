// Package fsm implements the device transition state machine: a four-state
// machine (idle -> pending -> debounce -> idle) with a single outstanding
// timer and a FIFO queue of scheduled follow-up transitions, the way every
// device in this controller tracks "one change in flight" without a mutual
// exclusion lock around the increment math.
package fsm

import (
	"fmt"
	"sync"
	"time"
)

// Kind tags the four reachable states of a device's transition machine.
type Kind int

const (
	Idle Kind = iota
	IncreasePending
	DecreasePending
	Debounce
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "Idle"
	case IncreasePending:
		return "IncreasePending"
	case DecreasePending:
		return "DecreasePending"
	case Debounce:
		return "Debounce"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// State is the machine's current tagged value. ExpectedFutureConsumptionW is
// only meaningful when Kind is IncreasePending or DecreasePending.
type State struct {
	Kind                        Kind
	ExpectedFutureConsumptionW float64
}

// Step is one entry of an arbitrary scheduled sequence: the state to move
// into, and the delay (measured from the previous step taking effect) after
// which the move happens automatically.
type Step struct {
	State State
	Delay time.Duration
}

// InvalidTransitionError marks a transition the machine's edge set does not
// allow. Per this controller's error model it is a programmer bug: nothing
// in the core is meant to recover from it, so machine methods panic with it
// rather than returning it for a caller to inspect and ignore.
type InvalidTransitionError struct {
	From Kind
	To   Kind
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("fsm: invalid transition %s -> %s", e.From, e.To)
}

// Machine is a DeviceTransitionStateMachine. Zero value is not usable; use
// New.
type Machine struct {
	mu      sync.Mutex
	current State
	timer   *time.Timer
	queue   []Step
}

// New returns a machine initialised to Idle, as every device's machine is on
// construction and on stop().
func New() *Machine {
	return &Machine{current: State{Kind: Idle}}
}

// State returns the machine's current tagged state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func validEdge(from, to Kind) bool {
	switch from {
	case Idle:
		return to == IncreasePending || to == DecreasePending || to == Idle
	case IncreasePending, DecreasePending:
		return to == Debounce || to == Idle
	case Debounce:
		return to == Idle
	default:
		return false
	}
}

// clearLocked cancels any outstanding timer and empties the queue. Caller
// must hold m.mu.
func (m *Machine) clearLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.queue = nil
}

// TransitionToState performs a single manual transition. It clears any
// outstanding timer and queued automatic transitions first, so a manual
// transition out of a pending sequence can never be overridden by a
// previously queued automatic one.
func (m *Machine) TransitionToState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	if !validEdge(m.current.Kind, s.Kind) {
		panic(&InvalidTransitionError{From: m.current.Kind, To: s.Kind})
	}
	m.current = s
}

// Reset clears the timer and queue and forces the machine back to Idle,
// unconditionally -- the same cleanup TransitionToState performs, without
// the edge-validity check, since Idle is always reachable as a reset target.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	m.current = State{Kind: Idle}
}

// TransitionTo clears the timer and queue, forces the internal state to
// Idle, then walks the supplied sequence: the first step must be legal from
// Idle (enforced), each later step fires automatically once its
// predecessor's delay elapses, running on the machine's own timer.
func (m *Machine) TransitionTo(steps []Step) {
	m.mu.Lock()
	m.clearLocked()
	m.current = State{Kind: Idle}
	if len(steps) == 0 {
		m.mu.Unlock()
		return
	}
	if !validEdge(Idle, steps[0].State.Kind) {
		m.mu.Unlock()
		panic(&InvalidTransitionError{From: Idle, To: steps[0].State.Kind})
	}
	m.current = steps[0].State
	rest := steps[1:]
	m.armNextLocked(rest)
	m.mu.Unlock()
}

// armNextLocked schedules the next queued step, if any. Caller must hold
// m.mu; it releases and reacquires the lock only from within the timer
// callback, never synchronously.
func (m *Machine) armNextLocked(remaining []Step) {
	m.queue = remaining
	if len(remaining) == 0 {
		m.timer = nil
		return
	}
	next := remaining[0]
	head := &remaining[0]
	m.timer = time.AfterFunc(next.Delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// A manual TransitionToState/Reset/TransitionTo between arming and
		// firing replaces m.queue; if this timer's step is no longer at the
		// head of the queue it has been superseded and must not apply.
		if len(m.queue) == 0 || &m.queue[0] != head {
			return
		}
		if !validEdge(m.current.Kind, next.State.Kind) {
			panic(&InvalidTransitionError{From: m.current.Kind, To: next.State.Kind})
		}
		m.current = next.State
		m.armNextLocked(m.queue[1:])
	})
}

// TransitionToPending is shorthand for the common device pattern: enter
// kind{expectedFutureConsumptionW}, hold for pendingFor, auto-move to
// Debounce, hold for debounceFor, auto-move to Idle.
func (m *Machine) TransitionToPending(kind Kind, expectedFutureConsumptionW float64, pendingFor, debounceFor time.Duration) {
	m.TransitionTo([]Step{
		{State: State{Kind: kind, ExpectedFutureConsumptionW: expectedFutureConsumptionW}, Delay: 0},
		{State: State{Kind: Debounce}, Delay: pendingFor},
		{State: State{Kind: Idle}, Delay: debounceFor},
	})
}
