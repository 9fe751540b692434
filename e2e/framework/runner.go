//go:build e2e

package framework

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
)

// Result represents the result of running a command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Success returns true if the command exited with code 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0 && r.Err == nil
}

// Contains checks if stdout contains the given substring.
func (r *Result) Contains(s string) bool {
	return strings.Contains(r.Stdout, s)
}

// StderrContains checks if stderr contains the given substring.
func (r *Result) StderrContains(s string) bool {
	return strings.Contains(r.Stderr, s)
}

// Runner executes provisioner commands in a test environment.
type Runner struct {
	t   *testing.T
	env *Environment
}

// NewRunner creates a new command runner.
func NewRunner(t *testing.T, env *Environment) *Runner {
	return &Runner{
		t:   t,
		env: env,
	}
}

// Process is a provisioner command running in the background.
type Process struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
}

// Interrupt sends SIGINT to the process.
func (p *Process) Interrupt() error {
	return p.cmd.Process.Signal(os.Interrupt)
}

// Wait waits for the process to exit.
func (p *Process) Wait() *Result {
	return result(p.cmd.Wait(), &p.stdout, &p.stderr)
}

func (r *Runner) command(args ...string) *exec.Cmd {
	cmd := exec.Command(r.env.BinaryPath(), args...)
	cmd.Dir = r.env.RootDir()
	cmd.Env = append(os.Environ(), "NO_COLOR=1")
	return cmd
}

// Run executes the provisioner command with the given arguments.
func (r *Runner) Run(args ...string) *Result {
	r.t.Helper()

	cmd := r.command(args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	return result(cmd.Run(), &stdout, &stderr)
}

// Start launches the command without waiting for it.
func (r *Runner) Start(args ...string) *Process {
	r.t.Helper()

	p := &Process{cmd: r.command(args...)}
	p.cmd.Stdout = &p.stdout
	p.cmd.Stderr = &p.stderr
	if err := p.cmd.Start(); err != nil {
		r.t.Fatalf("Failed to start %v: %v", args, err)
	}
	return p
}

func result(err error, stdout, stderr *bytes.Buffer) *Result {
	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Err:    err,
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		res.Err = nil // Exit code is not an error
	} else if err != nil {
		res.ExitCode = -1
	}
	return res
}

// Version runs the version command.
func (r *Runner) Version() *Result {
	return r.Run("version")
}

// Validate runs the validate command against the environment's plan.
func (r *Runner) Validate(args ...string) *Result {
	return r.Run(append([]string{"validate", "-p", r.env.PlanPath()}, args...)...)
}

// Apply runs the apply command against the environment's plan.
func (r *Runner) Apply(args ...string) *Result {
	return r.Run(append([]string{"apply", "-p", r.env.PlanPath()}, args...)...)
}

// StartApply launches apply in the background.
func (r *Runner) StartApply(args ...string) *Process {
	return r.Start(append([]string{"apply", "-p", r.env.PlanPath()}, args...)...)
}

// Env runs the env command against the environment's plan.
func (r *Runner) Env(args ...string) *Result {
	return r.Run(append([]string{"env", "-p", r.env.PlanPath()}, args...)...)
}
