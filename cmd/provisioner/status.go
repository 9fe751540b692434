package main

import (
	"github.com/felixgeelhaar/provisioner/internal/domain/execution"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the install ledger records for the plan",
	Long: `Status compares every fetched descriptor of the plan with the install
ledger and reports it as installed, outdated or not installed. Ledger
entries for descriptors the plan no longer declares are listed too.

Nothing is downloaded or installed.

Exit codes:
  0 - Status printed
  1 - Invalid plan
  2 - --check was given and a descriptor is not installed as declared`,
	RunE: runStatus,
}

var statusCheck bool

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusCheck, "check", false, "Exit 2 unless every descriptor is installed as declared")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	p := newProvisioner(cmd.OutOrStdout(), cmd.ErrOrStderr())

	pl, err := p.Load(planFile)
	if err != nil {
		printErrorTo(cmd.ErrOrStderr(), err)
		return &exitError{code: execution.ExitConfiguration}
	}

	res, err := p.Status(pl)
	if err != nil {
		printErrorTo(cmd.ErrOrStderr(), err)
		return &exitError{code: execution.ExitConfiguration}
	}
	p.PrintStatus(res)

	if statusCheck && res.Outdated() {
		return &exitError{code: execution.ExitFailed}
	}
	return nil
}
