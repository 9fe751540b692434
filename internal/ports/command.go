// Package ports defines interfaces for external dependencies.
package ports

import (
	"context"
	"strings"
)

// CommandResult represents the result of executing a subprocess.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success returns true if the command exited with code 0.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}

// Diagnostics returns the combined output of the command, trimmed, for
// inclusion in failure reports.
func (r CommandResult) Diagnostics() string {
	var parts []string
	if out := strings.TrimSpace(r.Stdout); out != "" {
		parts = append(parts, out)
	}
	if errOut := strings.TrimSpace(r.Stderr); errOut != "" {
		parts = append(parts, errOut)
	}
	return strings.Join(parts, "\n")
}

// CommandCall records a command invocation.
type CommandCall struct {
	Command string
	Args    []string
}

// String renders the call as a single command line.
func (c CommandCall) String() string {
	if len(c.Args) == 0 {
		return c.Command
	}
	return c.Command + " " + strings.Join(c.Args, " ")
}

// CommandRunner executes subprocesses. Implementations must honour ctx
// cancellation.
type CommandRunner interface {
	Run(ctx context.Context, command string, args ...string) (CommandResult, error)
}
