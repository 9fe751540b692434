// Package command provides command execution adapters.
package command

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// DefaultGracePeriod is how long a cancelled subprocess may keep running
// after it has been interrupted before it is killed.
const DefaultGracePeriod = 10 * time.Second

// RealRunner executes actual subprocesses.
type RealRunner struct {
	gracePeriod time.Duration
	env         []string
}

// RunnerOption configures a RealRunner.
type RunnerOption func(*RealRunner)

// WithGracePeriod sets the interrupt-to-kill delay applied on cancellation.
func WithGracePeriod(d time.Duration) RunnerOption {
	return func(r *RealRunner) {
		r.gracePeriod = d
	}
}

// WithEnv appends KEY=VALUE entries to the environment of every subprocess.
func WithEnv(env ...string) RunnerOption {
	return func(r *RealRunner) {
		r.env = append(r.env, env...)
	}
}

// NewRealRunner creates a new RealRunner.
func NewRealRunner(opts ...RunnerOption) *RealRunner {
	r := &RealRunner{gracePeriod: DefaultGracePeriod}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a command and returns the result. A non-zero exit is reported
// through the result, not the error. When ctx is cancelled the process is
// interrupted and, if it has not exited within the grace period, killed.
func (r *RealRunner) Run(ctx context.Context, command string, args ...string) (ports.CommandResult, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = r.gracePeriod
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := ports.CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}

	return result, nil
}

var _ ports.CommandRunner = (*RealRunner)(nil)
