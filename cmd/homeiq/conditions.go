package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wtthornton/HomeIQ-sub005/pkg/app"
	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
)

type conditionOutcome struct {
	Path      string `json:"path"`
	Condition string `json:"condition"`
	Passed    bool   `json:"passed"`
}

var conditionsCmd = &cobra.Command{
	Use:   "conditions [automation.yaml|-]",
	Short: "Evaluate an automation's conditions against live Home Assistant state",
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
		a, err := app.New(v, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		ev, err := a.Conditions()
		if err != nil {
			return fmt.Errorf("conditions need home_assistant.url: %w", err)
		}

		outcomes := make([]conditionOutcome, len(plan.Conditions))
		passed := true
		for i := range plan.Conditions {
			c := &plan.Conditions[i]
			ok := ev.EvaluateOne(cmd.Context(), c, nil)
			outcomes[i] = conditionOutcome{
				Path:      fmt.Sprintf("condition[%d]", i),
				Condition: string(c.Condition),
				Passed:    ok,
			}
			passed = passed && ok
		}

		out := cmd.OutOrStdout()
		if jsonOutput() {
			data, err := json.MarshalIndent(map[string]any{"passed": passed, "conditions": outcomes}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		}
		for _, o := range outcomes {
			glyph := passedStyle.Render(glyphPassed)
			if !o.Passed {
				glyph = failedStyle.Render(glyphFailed)
			}
			fmt.Fprintf(out, "  %s %s %s\n", glyph, o.Path, dimStyle.Render(o.Condition))
		}
		if passed {
			fmt.Fprintln(out, passedStyle.Render("conditions hold"))
		} else {
			fmt.Fprintln(out, failedStyle.Render("conditions do not hold"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(conditionsCmd)
}
