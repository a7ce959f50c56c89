package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
	"github.com/wtthornton/HomeIQ-sub005/pkg/diagram"
)

var diagramFormat string

var diagramCmd = &cobra.Command{
	Use:   "diagram [automation.yaml|-]",
	Short: "Draw an automation as a Mermaid flowchart or ASCII sketch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(args[0])
		if err != nil {
			return err
		}
		plan, err := automation.Parse(text)
		if err != nil {
			return err
		}
		out, err := diagram.Generate(plan, diagram.Format(diagramFormat))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	diagramCmd.Flags().StringVar(&diagramFormat, "format", string(diagram.FormatMermaid), "Diagram format: mermaid or ascii")
	rootCmd.AddCommand(diagramCmd)
}
