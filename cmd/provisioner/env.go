package main

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/provisioner/internal/app"
	"github.com/felixgeelhaar/provisioner/internal/domain/environment"
	"github.com/felixgeelhaar/provisioner/internal/domain/execution"
	"github.com/spf13/cobra"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print the environment of an installed plan",
	Long: `Env composes the search path variables of a plan from the install ledger
without downloading or installing anything.

Descriptors with no matching install on record are skipped and listed on
stderr. Use --strict to fail instead.

Examples:
  eval "$(provisioner env)"
  provisioner env --format dotenv --output build/native.env`,
	RunE: runEnv,
}

var (
	envFormat string
	envOutput string
	envCompat bool
	envStrict bool
)

func init() {
	rootCmd.AddCommand(envCmd)

	envCmd.Flags().StringVarP(&envFormat, "format", "f", "shell", "Output format (shell, dotenv)")
	envCmd.Flags().StringVarP(&envOutput, "output", "o", "", "Write to this file instead of stdout")
	envCmd.Flags().BoolVar(&envCompat, "compat-env", false, "Also emit CMAKE_PREFIX_PATH and LD_LIBRARY_PATH")
	envCmd.Flags().BoolVar(&envStrict, "strict", false, "Fail when a descriptor is not installed")

	_ = envCmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{
			"shell\texport statements",
			"dotenv\tKEY=value lines",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}

func runEnv(cmd *cobra.Command, _ []string) error {
	format, err := environment.ParseFormat(envFormat)
	if err != nil {
		printErrorTo(cmd.ErrOrStderr(), err)
		return &exitError{code: execution.ExitConfiguration}
	}

	p := newProvisioner(cmd.OutOrStdout(), cmd.ErrOrStderr())

	var overrides []app.Override
	if cmd.Flags().Changed("compat-env") {
		overrides = append(overrides, app.WithCompatEnv(envCompat))
	}
	pl, err := p.Load(planFile, overrides...)
	if err != nil {
		printErrorTo(cmd.ErrOrStderr(), err)
		return &exitError{code: execution.ExitConfiguration}
	}

	res, err := p.Environment(pl)
	if err != nil {
		printErrorTo(cmd.ErrOrStderr(), err)
		return &exitError{code: execution.ExitConfiguration}
	}

	if len(res.Missing) > 0 {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "not installed: %s\n", strings.Join(res.Missing, ", "))
	}

	if envOutput != "" {
		if err := p.WriteEnvFile(envOutput, res.Environment, format); err != nil {
			printErrorTo(cmd.ErrOrStderr(), err)
			return &exitError{code: execution.ExitFailed}
		}
	} else if err := p.PrintEnvironment(res.Environment, format); err != nil {
		return err
	}

	if envStrict && len(res.Missing) > 0 {
		return &exitError{code: execution.ExitFailed}
	}
	return nil
}
