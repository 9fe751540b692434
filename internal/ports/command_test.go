package ports

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandResult_Success(t *testing.T) {
	t.Parallel()

	assert.True(t, CommandResult{ExitCode: 0}.Success())
	assert.False(t, CommandResult{ExitCode: 100, Stderr: "E: Unable to locate package"}.Success())
}

func TestCommandResult_Diagnostics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result CommandResult
		want   string
	}{
		{"empty", CommandResult{}, ""},
		{"stdout only", CommandResult{Stdout: "Reading package lists...\n"}, "Reading package lists..."},
		{"stderr only", CommandResult{Stderr: "  E: broken\n"}, "E: broken"},
		{"both", CommandResult{Stdout: "out\n", Stderr: "err\n"}, "out\nerr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.result.Diagnostics())
		})
	}
}

func TestCommandCall_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "apt-get update", CommandCall{Command: "apt-get", Args: []string{"update"}}.String())
	assert.Equal(t, "true", CommandCall{Command: "true"}.String())
}
