package mocks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/felixgeelhaar/provisioner/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRunner_AddResult(t *testing.T) {
	runner := NewCommandRunner()
	runner.AddResult("apt-get", []string{"update"}, ports.CommandResult{Stdout: "Reading package lists..."})

	result, err := runner.Run(context.Background(), "apt-get", "update")
	require.NoError(t, err)
	assert.Equal(t, "Reading package lists...", result.Stdout)
}

func TestCommandRunner_AddError(t *testing.T) {
	runner := NewCommandRunner()
	boom := errors.New("exec: not found")
	runner.AddError("dpkg-query", []string{"-W", "cmake"}, boom)

	_, err := runner.Run(context.Background(), "dpkg-query", "-W", "cmake")
	assert.ErrorIs(t, err, boom)
}

func TestCommandRunner_NotFound(t *testing.T) {
	runner := NewCommandRunner()

	_, err := runner.Run(context.Background(), "unknown", "command")
	assert.Error(t, err)
}

func TestCommandRunner_OnRunFallback(t *testing.T) {
	runner := NewCommandRunner()
	runner.AddResult("apt-get", []string{"update"}, ports.CommandResult{ExitCode: 0})
	runner.OnRun(func(_ context.Context, call ports.CommandCall) (ports.CommandResult, error) {
		return ports.CommandResult{ExitCode: 3, Stderr: call.String()}, nil
	})

	registered, err := runner.Run(context.Background(), "apt-get", "update")
	require.NoError(t, err)
	assert.True(t, registered.Success())

	dynamic, err := runner.Run(context.Background(), "installer", "--update")
	require.NoError(t, err)
	assert.Equal(t, 3, dynamic.ExitCode)
	assert.Equal(t, "installer --update", dynamic.Stderr)
}

func TestCommandRunner_RecordsCallsConcurrently(t *testing.T) {
	runner := NewCommandRunner()
	runner.OnRun(func(context.Context, ports.CommandCall) (ports.CommandResult, error) {
		return ports.CommandResult{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = runner.Run(context.Background(), "true")
		}()
	}
	wg.Wait()

	assert.Len(t, runner.Calls(), 20)
	runner.Reset()
	assert.Empty(t, runner.CallLines())
}
