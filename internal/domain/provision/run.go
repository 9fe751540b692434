package provision

import (
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"
)

// RunState is a provisioning run state.
type RunState string

const (
	runPlanning  = "planning"
	runExecuting = "executing"
	runReporting = "reporting"
	runDone      = "done"
)

// Run states.
const (
	RunPlanning  RunState = runPlanning
	RunExecuting RunState = runExecuting
	RunReporting RunState = runReporting
	RunDone      RunState = runDone
)

// Run events.
const (
	EventExecute = "EXECUTE"
	EventReport  = "REPORT"
	EventFinish  = "FINISH"
	EventAbort   = "ABORT"
)

type runContext struct {
	RunID string
}

// RunLifecycle tracks planning → executing → reporting → done. A
// configuration failure aborts planning straight to done.
type RunLifecycle struct {
	mu     sync.Mutex
	interp *statekit.Interpreter[runContext]
}

// NewRunLifecycle builds a started run lifecycle.
func NewRunLifecycle(runID string) (*RunLifecycle, error) {
	machine, err := statekit.NewMachine[runContext]("provisioning-run").
		WithInitial(runPlanning).
		WithContext(runContext{RunID: runID}).
		State(runPlanning).
		On(EventExecute).Target(runExecuting).
		On(EventAbort).Target(runDone).Done().
		State(runExecuting).
		On(EventReport).Target(runReporting).Done().
		State(runReporting).
		On(EventFinish).Target(runDone).Done().
		State(runDone).Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("building run lifecycle: %w", err)
	}

	interp := statekit.NewInterpreter(machine)
	interp.Start()
	return &RunLifecycle{interp: interp}, nil
}

// State returns the current run state.
func (r *RunLifecycle) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunState(r.interp.State().Value)
}

// Advance sends event and returns the state it moved from and to.
func (r *RunLifecycle) Advance(event string) (RunState, RunState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := RunState(r.interp.State().Value)
	r.interp.Send(statekit.Event{Type: statekit.EventType(event)})
	to := RunState(r.interp.State().Value)
	if from == to {
		return from, to, fmt.Errorf("%w: %s on run %s", ErrInvalidTransition, event, from)
	}
	return from, to, nil
}

// Stop releases the interpreter.
func (r *RunLifecycle) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interp.Stop()
}
