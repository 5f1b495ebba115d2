// Package conn implements the TDS connection and its auth/execution state
// machine.
package conn

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is one of the connection's lifecycle states, transitioned via
// atomic compare-and-swap so concurrent ExecuteBatch/SendAttention/Close
// callers never observe a torn transition.
type State int32

const (
	Disconnected State = iota
	Authenticating
	Idle
	Executing
	Cancelling
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Authenticating:
		return "AUTHENTICATING"
	case Idle:
		return "IDLE"
	case Executing:
		return "EXECUTING"
	case Cancelling:
		return "CANCELLING"
	default:
		return "UNKNOWN"
	}
}

// Transition records one state change for diagnostics/logging.
type Transition struct {
	From      State
	To        State
	Timestamp time.Time
	Error     error
	Duration  time.Duration
}

// ChangeHandler is invoked after a successful transition.
type ChangeHandler func(Transition)

// StateManager owns the atomic state word and the legal-transition table
// from the design Grounded on the teacher's client/state.go StateManager,
// generalized from its 4-state DISCONNECTED/CONNECTING/CONNECTED/
// DISCONNECTING lifecycle to the 5-state auth+execution lifecycle this
// protocol needs, and switched from a mutex-guarded field to atomic CAS per
// the design's explicit "all via atomic CAS" requirement.
type StateManager struct {
	word           int32
	lastTransition atomic.Value // time.Time
	mu             sync.Mutex   // guards handlers only
	handlers       []ChangeHandler
}

// NewStateManager creates a StateManager starting in Disconnected.
func NewStateManager() *StateManager {
	sm := &StateManager{}
	sm.lastTransition.Store(time.Now())
	return sm
}

// legalTransitions mirrors the table. "Any → Disconnected" is
// handled separately in isLegal since it applies regardless of from.
var legalTransitions = map[State][]State{
	Disconnected:   {Authenticating},
	Authenticating: {Disconnected, Idle},
	Idle:           {Executing, Disconnected},
	Executing:      {Idle, Cancelling, Disconnected},
	Cancelling:     {Idle, Disconnected},
}

func isLegal(from, to State) bool {
	if to == Disconnected {
		return true // "Any → Disconnected: on transport error or Close()"
	}
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CAS attempts an atomic transition from `from` to `to`. It fails without
// mutating state if the current state is not `from`, or if the transition is
// not in the legal-transition table.
func (sm *StateManager) CAS(from, to State, err error) bool {
	if !isLegal(from, to) {
		return false
	}
	if !atomic.CompareAndSwapInt32(&sm.word, int32(from), int32(to)) {
		return false
	}
	now := time.Now()
	prev, _ := sm.lastTransition.Load().(time.Time)
	sm.lastTransition.Store(now)

	t := Transition{From: from, To: to, Timestamp: now, Error: err}
	if !prev.IsZero() {
		t.Duration = now.Sub(prev)
	}
	sm.mu.Lock()
	handlers := make([]ChangeHandler, len(sm.handlers))
	copy(handlers, sm.handlers)
	sm.mu.Unlock()
	for _, h := range handlers {
		h(t)
	}
	return true
}

// ForceDisconnected unconditionally moves to Disconnected, used by transport
// error handling and Close() where the prior state is whatever it happens to
// be ("Any → Disconnected").
func (sm *StateManager) ForceDisconnected(err error) {
	for {
		cur := State(atomic.LoadInt32(&sm.word))
		if cur == Disconnected {
			return
		}
		if sm.CAS(cur, Disconnected, err) {
			return
		}
	}
}

// Get returns the current state.
func (sm *StateManager) Get() State {
	return State(atomic.LoadInt32(&sm.word))
}

// OnChange registers a handler invoked after every successful transition.
func (sm *StateManager) OnChange(h ChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, h)
}

// MustCAS attempts the transition and returns a descriptive error on failure,
// used at call sites where an illegal transition is a programming error
// rather than an expected race.
func (sm *StateManager) MustCAS(from, to State) error {
	if sm.CAS(from, to, nil) {
		return nil
	}
	return fmt.Errorf("conn: illegal or lost-race state transition %s -> %s (actual: %s)", from, to, sm.Get())
}
