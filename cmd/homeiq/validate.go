package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wtthornton/HomeIQ-sub005/pkg/app"
	"github.com/wtthornton/HomeIQ-sub005/pkg/validate"
)

var validatePrintFixed bool

var validateCmd = &cobra.Command{
	Use:   "validate [automation.yaml|-]",
	Short: "Validate an automation through every pipeline stage",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validatePrintFixed, "print-fixed", false, "Print the auto-fixed YAML when structure fixes were applied")
}

func runValidate(cmd *cobra.Command, args []string) error {
	text, err := readInput(args[0])
	if err != nil {
		return err
	}
	a, err := app.New(v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	report, err := a.Pipeline().Validate(cmd.Context(), text)
	var syntaxErr *validate.SyntaxError
	var tmplErr *validate.TemplateEntityError
	if err != nil && !errors.As(err, &syntaxErr) && !errors.As(err, &tmplErr) {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else {
		renderReport(out, report)
		if validatePrintFixed && report.FixedYAMLUsed {
			fmt.Fprintln(out)
			fmt.Fprint(out, report.YAML)
		}
	}
	if !report.Valid {
		return fmt.Errorf("validation failed: %d error(s)", report.TotalErrors)
	}
	return nil
}
