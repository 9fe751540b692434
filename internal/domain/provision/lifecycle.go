// Package provision holds the per-descriptor install record, the descriptor
// and run lifecycles, and the provisioning error taxonomy.
package provision

import (
	"errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"
)

// State is a descriptor lifecycle state.
type State string

const (
	statePending    = "pending"
	stateFetching   = "fetching"
	stateVerifying  = "verifying"
	stateInstalling = "installing"
	stateInstalled  = "installed"
	stateFailed     = "failed"
)

// Descriptor lifecycle states.
const (
	StatePending    State = statePending
	StateFetching   State = stateFetching
	StateVerifying  State = stateVerifying
	StateInstalling State = stateInstalling
	StateInstalled  State = stateInstalled
	StateFailed     State = stateFailed
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateInstalled || s == StateFailed
}

// Lifecycle events.
const (
	EventFetch    = "FETCH"
	EventVerify   = "VERIFY"
	EventInstall  = "INSTALL"
	EventComplete = "COMPLETE"
	EventFail     = "FAIL"
)

// ErrInvalidTransition is returned when an event is not accepted in the
// current state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// TransitionFunc observes a lifecycle transition.
type TransitionFunc func(from, to State)

type lifecycleContext struct {
	Descriptor string
}

// Lifecycle drives one descriptor through
// pending → fetching → verifying → installing → installed, with failed
// reachable from every non-terminal state. Pending may jump straight to
// installing (nothing to fetch) or installed (already satisfied).
type Lifecycle struct {
	mu       sync.Mutex
	interp   *statekit.Interpreter[lifecycleContext]
	onChange TransitionFunc
}

// NewLifecycle builds a started lifecycle for the named descriptor.
func NewLifecycle(descriptor string, onChange TransitionFunc) (*Lifecycle, error) {
	machine, err := statekit.NewMachine[lifecycleContext]("descriptor").
		WithInitial(statePending).
		WithContext(lifecycleContext{Descriptor: descriptor}).
		State(statePending).
		On(EventFetch).Target(stateFetching).
		On(EventInstall).Target(stateInstalling).
		On(EventComplete).Target(stateInstalled).
		On(EventFail).Target(stateFailed).Done().
		State(stateFetching).
		On(EventVerify).Target(stateVerifying).
		On(EventFail).Target(stateFailed).Done().
		State(stateVerifying).
		On(EventInstall).Target(stateInstalling).
		On(EventFail).Target(stateFailed).Done().
		State(stateInstalling).
		On(EventComplete).Target(stateInstalled).
		On(EventFail).Target(stateFailed).Done().
		State(stateInstalled).Done().
		State(stateFailed).Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("building lifecycle for %s: %w", descriptor, err)
	}

	interp := statekit.NewInterpreter(machine)
	interp.Start()

	return &Lifecycle{interp: interp, onChange: onChange}, nil
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State(l.interp.State().Value)
}

// Fetch moves pending → fetching.
func (l *Lifecycle) Fetch() error { return l.fire(EventFetch, StateFetching) }

// Verify moves fetching → verifying.
func (l *Lifecycle) Verify() error { return l.fire(EventVerify, StateVerifying) }

// Install moves pending or verifying → installing.
func (l *Lifecycle) Install() error { return l.fire(EventInstall, StateInstalling) }

// Complete moves pending or installing → installed.
func (l *Lifecycle) Complete() error { return l.fire(EventComplete, StateInstalled) }

// Fail moves any non-terminal state to failed.
func (l *Lifecycle) Fail() error { return l.fire(EventFail, StateFailed) }

func (l *Lifecycle) fire(event string, want State) error {
	l.mu.Lock()
	from := State(l.interp.State().Value)
	l.interp.Send(statekit.Event{Type: statekit.EventType(event)})
	to := State(l.interp.State().Value)
	l.mu.Unlock()

	if to != want || from == to {
		return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, from)
	}
	if l.onChange != nil {
		l.onChange(from, to)
	}
	return nil
}

// Stop releases the interpreter.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interp.Stop()
}
