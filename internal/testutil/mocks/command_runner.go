// Package mocks provides scripted doubles for the ports interfaces.
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// RunFunc computes the outcome of a command dynamically.
type RunFunc func(ctx context.Context, call ports.CommandCall) (ports.CommandResult, error)

// CommandRunner is a thread-safe test double for ports.CommandRunner.
// Command lines scripted with AddResult/AddError win over the fallback
// installed with OnRun. Unscripted commands fail.
type CommandRunner struct {
	mu       sync.Mutex
	scripted map[string]outcome
	fallback RunFunc
	calls    []ports.CommandCall
}

type outcome struct {
	result ports.CommandResult
	err    error
}

// NewCommandRunner creates a new CommandRunner mock.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{scripted: make(map[string]outcome)}
}

// AddResult scripts the result of one command line.
func (m *CommandRunner) AddResult(command string, args []string, result ports.CommandResult) {
	m.script(command, args, outcome{result: result})
}

// AddError scripts a command line whose execution fails with err.
func (m *CommandRunner) AddError(command string, args []string, err error) {
	m.script(command, args, outcome{err: err})
}

func (m *CommandRunner) script(command string, args []string, o outcome) {
	line := ports.CommandCall{Command: command, Args: args}.String()
	m.mu.Lock()
	m.scripted[line] = o
	m.mu.Unlock()
}

// OnRun installs a handler for commands that are not scripted.
func (m *CommandRunner) OnRun(fn RunFunc) {
	m.mu.Lock()
	m.fallback = fn
	m.mu.Unlock()
}

// Run records the call and replays its scripted outcome.
func (m *CommandRunner) Run(ctx context.Context, command string, args ...string) (ports.CommandResult, error) {
	call := ports.CommandCall{Command: command, Args: append([]string(nil), args...)}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	o, ok := m.scripted[call.String()]
	fallback := m.fallback
	m.mu.Unlock()

	if ok {
		return o.result, o.err
	}
	if fallback != nil {
		return fallback(ctx, call)
	}
	return ports.CommandResult{}, fmt.Errorf("unscripted command: %s", call)
}

// Calls returns all recorded command invocations.
func (m *CommandRunner) Calls() []ports.CommandCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.CommandCall(nil), m.calls...)
}

// CallLines returns the recorded invocations rendered as command lines.
func (m *CommandRunner) CallLines() []string {
	calls := m.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}

// Reset forgets every script, the fallback and the recorded calls.
func (m *CommandRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = make(map[string]outcome)
	m.fallback = nil
	m.calls = nil
}

var _ ports.CommandRunner = (*CommandRunner)(nil)
