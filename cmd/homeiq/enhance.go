package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wtthornton/HomeIQ-sub005/pkg/app"
)

var enhanceOut string

var enhanceCmd = &cobra.Command{
	Use:   "enhance [automation.yaml|-]",
	Short: "Validate an automation, then apply the best-practice enhancement chain",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnhance,
}

func init() {
	enhanceCmd.Flags().StringVar(&enhanceOut, "out", "", "Write the enhanced YAML to this path instead of stdout")
}

func runEnhance(cmd *cobra.Command, args []string) error {
	text, err := readInput(args[0])
	if err != nil {
		return err
	}
	a, err := app.New(v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	report, err := a.Pipeline().Validate(cmd.Context(), text)
	if err != nil || !report.Valid {
		renderReport(cmd.ErrOrStderr(), report)
		return fmt.Errorf("automation is not valid; fix it before enhancing")
	}

	res, err := a.Chain().EnhanceYAML(cmd.Context(), report.YAML)
	if err != nil {
		return fmt.Errorf("enhance: %w", err)
	}

	if jsonOutput() {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	renderEnhancement(cmd.ErrOrStderr(), res)
	if enhanceOut != "" {
		if err := os.WriteFile(enhanceOut, []byte(res.YAML), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", enhanceOut, err)
		}
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), res.YAML)
	return nil
}
