package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/provisioner/internal/app"
	"github.com/felixgeelhaar/provisioner/internal/domain/environment"
	"github.com/felixgeelhaar/provisioner/internal/domain/execution"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Install everything the plan declares",
	Long: `Apply validates the plan, installs every descriptor that is not already
present and prints the run report followed by the composed environment.

An interrupt stops new work, asks running installers to exit and removes
temporary artifacts. Descriptors that already finished stay installed.

Exit codes:
  0 - Every descriptor installed
  1 - Invalid plan
  2 - One or more descriptors failed

Examples:
  provisioner apply
  provisioner apply -p native.yaml --workers 1
  provisioner apply --env-file build/native.env --env-format dotenv`,
	RunE: runApply,
}

var (
	applyWorkers      int
	applyRetries      int
	applyTimeout      time.Duration
	applyFetchTimeout time.Duration
	applyGracePeriod  time.Duration
	applyCacheDir     string
	applyCompatEnv    bool
	applyEnvFile      string
	applyEnvFormat    string
)

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().IntVar(&applyWorkers, "workers", 0, "Concurrent descriptors per phase (overrides the plan)")
	applyCmd.Flags().IntVar(&applyRetries, "retries", 0, "Fetch retries after the first attempt (overrides the plan)")
	applyCmd.Flags().DurationVar(&applyTimeout, "timeout", 0, "Deadline for the whole run (overrides the plan)")
	applyCmd.Flags().DurationVar(&applyFetchTimeout, "fetch-timeout", 0, "Deadline for one download attempt (overrides the plan)")
	applyCmd.Flags().DurationVar(&applyGracePeriod, "grace-period", 0, "Delay between interrupting and killing an installer")
	applyCmd.Flags().StringVar(&applyCacheDir, "cache-dir", "", "Verified artifact cache directory")
	applyCmd.Flags().BoolVar(&applyCompatEnv, "compat-env", false, "Also emit CMAKE_PREFIX_PATH and LD_LIBRARY_PATH")
	applyCmd.Flags().StringVar(&applyEnvFile, "env-file", "", "Write the composed environment to this file")
	applyCmd.Flags().StringVar(&applyEnvFormat, "env-format", "shell", "Environment format (shell, dotenv)")
}

// applyOverrides returns the settings overrides for the flags the user set.
// Out-of-range values are a ConfigurationError, as they would be in the plan.
func applyOverrides(cmd *cobra.Command) ([]app.Override, error) {
	var (
		out      []app.Override
		problems []string
	)
	flags := cmd.Flags()
	if flags.Changed("workers") {
		if applyWorkers < 1 {
			problems = append(problems, fmt.Sprintf("--workers: must be at least 1, got %d", applyWorkers))
		}
		out = append(out, app.WithWorkers(applyWorkers))
	}
	if flags.Changed("retries") {
		if applyRetries < 0 {
			problems = append(problems, fmt.Sprintf("--retries: must not be negative, got %d", applyRetries))
		}
		out = append(out, app.WithRetries(applyRetries))
	}
	durations := []struct {
		name  string
		value time.Duration
		set   func(time.Duration) app.Override
	}{
		{"timeout", applyTimeout, app.WithTimeout},
		{"fetch-timeout", applyFetchTimeout, app.WithFetchTimeout},
		{"grace-period", applyGracePeriod, app.WithGracePeriod},
	}
	for _, d := range durations {
		if !flags.Changed(d.name) {
			continue
		}
		if d.value < 0 {
			problems = append(problems, fmt.Sprintf("--%s: must not be negative, got %s", d.name, d.value))
		}
		out = append(out, d.set(d.value))
	}
	if flags.Changed("cache-dir") {
		out = append(out, app.WithCacheDir(applyCacheDir))
	}
	if flags.Changed("compat-env") {
		out = append(out, app.WithCompatEnv(applyCompatEnv))
	}
	if len(problems) > 0 {
		return nil, provision.NewConfigurationError(problems)
	}
	return out, nil
}

func runApply(cmd *cobra.Command, _ []string) error {
	format, err := environment.ParseFormat(applyEnvFormat)
	if err != nil {
		printErrorTo(cmd.ErrOrStderr(), err)
		return &exitError{code: execution.ExitConfiguration}
	}

	ctx, cancel := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	overrides, err := applyOverrides(cmd)
	if err != nil {
		printErrorTo(cmd.ErrOrStderr(), err)
		return &exitError{code: execution.ExitConfiguration}
	}

	out := cmd.OutOrStdout()
	p := newProvisioner(out, cmd.ErrOrStderr())

	pl, err := p.Load(planFile, overrides...)
	if err != nil {
		printErrorTo(cmd.ErrOrStderr(), err)
		return &exitError{code: execution.ExitConfiguration}
	}

	report, err := p.Apply(ctx, pl)
	if err != nil {
		printErrorTo(cmd.ErrOrStderr(), err)
		return &exitError{code: execution.ExitConfiguration}
	}

	p.PrintReport(report)
	if report.Environment.Len() > 0 {
		_, _ = fmt.Fprintln(out)
		if err := p.PrintEnvironment(report.Environment, environment.FormatShell); err != nil {
			return err
		}
	}

	if applyEnvFile != "" {
		if err := p.WriteEnvFile(applyEnvFile, report.Environment, format); err != nil {
			printErrorTo(cmd.ErrOrStderr(), err)
			return &exitError{code: execution.ExitFailed}
		}
	}

	if code := report.ExitCode(); code != execution.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
