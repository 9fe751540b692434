package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/felixgeelhaar/provisioner/internal/domain/execution"
	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a plan without installing anything",
	Long: `Validate checks a plan for errors and prints the install order.

Nothing is downloaded and no subprocess is started.

Exit codes:
  0 - Valid plan
  1 - Invalid plan or the plan file could not be read

Examples:
  provisioner validate
  provisioner validate -p native.toml
  provisioner validate --json`,
	RunE: runValidate,
}

var validateJSON bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output results as JSON")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	p := newProvisioner(cmd.OutOrStdout(), cmd.ErrOrStderr())

	pl, err := p.Load(planFile)
	if err == nil {
		err = pl.Validate()
	}

	if validateJSON {
		outputValidationJSON(cmd.OutOrStdout(), pl, err)
	} else if err != nil {
		printErrorTo(cmd.ErrOrStderr(), err)
	} else if err := p.PrintValidation(pl); err != nil {
		return err
	}

	if err != nil {
		return &exitError{code: execution.ExitConfiguration}
	}
	return nil
}

type validationOutput struct {
	Valid    bool     `json:"valid"`
	Order    []string `json:"order,omitempty"`
	Problems []string `json:"problems,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func outputValidationJSON(w io.Writer, pl *plan.Plan, err error) {
	var out validationOutput

	var pe *provision.Error
	switch {
	case err == nil:
		out.Valid = true
		order, _ := pl.Order()
		for _, d := range order {
			out.Order = append(out.Order, d.Name)
		}
	case errors.As(err, &pe) && len(pe.Problems) > 0:
		out.Problems = pe.Problems
	default:
		out.Error = err.Error()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
