package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealRunner_Run_Success(t *testing.T) {
	runner := NewRealRunner()

	result, err := runner.Run(context.Background(), "echo", "hello")
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, "hello\n", result.Stdout)
}

func TestRealRunner_Run_NonZeroExitIsNotAnError(t *testing.T) {
	runner := NewRealRunner()

	result, err := runner.Run(context.Background(), "sh", "-c", "echo broken >&2; exit 100")
	require.NoError(t, err)
	assert.False(t, result.Success())
	assert.Equal(t, 100, result.ExitCode)
	assert.Equal(t, "broken\n", result.Stderr)
}

func TestRealRunner_Run_NotFound(t *testing.T) {
	runner := NewRealRunner()

	_, err := runner.Run(context.Background(), "nonexistent-command-12345")
	assert.Error(t, err)
}

func TestRealRunner_Run_Env(t *testing.T) {
	runner := NewRealRunner(WithEnv("DEBIAN_FRONTEND=noninteractive"))

	result, err := runner.Run(context.Background(), "sh", "-c", "printf %s \"$DEBIAN_FRONTEND\"")
	require.NoError(t, err)
	assert.Equal(t, "noninteractive", result.Stdout)
}

func TestRealRunner_Run_CancelledBeforeStart(t *testing.T) {
	runner := NewRealRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, "sleep", "10")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRealRunner_Run_KillsAfterGracePeriod(t *testing.T) {
	runner := NewRealRunner(WithGracePeriod(200 * time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	// The trap ignores the interrupt so only the kill stops the process.
	_, err := runner.Run(ctx, "sh", "-c", "trap '' INT; sleep 30")
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 5*time.Second)
}
