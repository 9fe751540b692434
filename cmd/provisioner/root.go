package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/felixgeelhaar/provisioner/internal/adapters/logging"
	"github.com/felixgeelhaar/provisioner/internal/app"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/felixgeelhaar/provisioner/internal/ports"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	planFile string
	verbose  bool
	jsonLog  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "provisioner",
	Short: "Deterministic native dependency provisioning",
	Long: `Provisioner installs the native libraries and tools a build needs from a
declarative plan: system packages, repository bootstraps, prebuilt archives
and vendor installers.

Every run validates the plan, installs what is missing in a deterministic
order and reports the search paths the installed descriptors contribute.`,
	SilenceErrors: true, // We handle error formatting ourselves
	SilenceUsage:  true, // Don't show usage on error
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&planFile, "plan", "p", "provisioner.yaml", "plan file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "write transition records as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	_ = rootCmd.RegisterFlagCompletionFunc("plan", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"yaml", "yml", "toml"}, cobra.ShellCompDirectiveFilterFileExt
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(versionCmd)
}

// exitError carries a process exit code for a failure that was already
// reported to the user.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// newLogger builds the transition log sink. Records go to stderr so that
// stdout stays parseable.
func newLogger(w io.Writer) ports.Logger {
	level := ports.ParseLevel(logLevel)
	if verbose {
		level = ports.LevelDebug
	}
	return logging.NewConsoleLogger(
		logging.WithOutput(w),
		logging.WithLevel(level),
		logging.WithJSONFormat(jsonLog),
	)
}

// newProvisioner is replaced in tests.
var newProvisioner = func(out, logs io.Writer) *app.Provisioner {
	return app.New(out, app.WithLogger(newLogger(logs)))
}

// formatError returns a user-friendly error message.
// With verbose=false: shows the message, problems and suggestion.
// With verbose=true: also shows the underlying technical error.
func formatError(err error) string {
	var pe *provision.Error
	if !errors.As(err, &pe) {
		return err.Error()
	}

	msg := pe.Message
	if pe.Descriptor != "" {
		msg = pe.Descriptor + ": " + msg
	}
	for _, p := range pe.Problems {
		msg += "\n  - " + p
	}
	if pe.Suggestion != "" {
		msg += fmt.Sprintf("\n\nSuggestion: %s", pe.Suggestion)
	}
	if verbose && pe.Underlying != nil {
		msg += fmt.Sprintf("\n\nTechnical details: %v", pe.Underlying)
	}
	return msg
}

// printError prints an error message to stderr with proper formatting.
func printError(err error) {
	printErrorTo(os.Stderr, err)
}

// printErrorTo prints an error message to the given writer.
func printErrorTo(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %s\n", formatError(err))
}
