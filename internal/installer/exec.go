package installer

import (
	"context"

	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// command runs subprocesses, optionally through sudo, and turns failures
// into SubprocessErrors carrying the captured output.
type command struct {
	runner ports.CommandRunner
	sudo   bool
}

func (c command) call(name string, args ...string) ports.CommandCall {
	if c.sudo {
		return ports.CommandCall{Command: "sudo", Args: append([]string{name}, args...)}
	}
	return ports.CommandCall{Command: name, Args: args}
}

// run executes name with args and requires exit code 0.
func (c command) run(ctx context.Context, name string, args ...string) (ports.CommandResult, error) {
	call := c.call(name, args...)
	res, err := c.runner.Run(ctx, call.Command, call.Args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, provision.NewCancelledError(ctxErr)
		}
		return res, provision.NewSubprocessError(call.String(), res.ExitCode, res.Diagnostics(), err)
	}
	if !res.Success() {
		return res, provision.NewSubprocessError(call.String(), res.ExitCode, res.Diagnostics(), nil)
	}
	return res, nil
}

// query runs a read-only command. A non-zero exit is returned as a result,
// not an error.
func (c command) query(ctx context.Context, name string, args ...string) (ports.CommandResult, error) {
	res, err := c.runner.Run(ctx, name, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, provision.NewCancelledError(ctxErr)
		}
		return res, provision.NewSubprocessError(ports.CommandCall{Command: name, Args: args}.String(), res.ExitCode, res.Diagnostics(), err)
	}
	return res, nil
}

// aptEnv prefixes apt-get with a non-interactive frontend.
func aptEnv(args ...string) (string, []string) {
	return "env", append([]string{"DEBIAN_FRONTEND=noninteractive", "apt-get"}, args...)
}
