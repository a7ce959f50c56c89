package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wtthornton/HomeIQ-sub005/pkg/app"
)

var deployID string

var deployCmd = &cobra.Command{
	Use:   "deploy [automation.yaml|-]",
	Short: "Validate and enhance an automation, then store it in Home Assistant",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeploy,
}

func init() {
	deployCmd.Flags().StringVar(&deployID, "id", "", "Automation id (default: the document's id, or a new UUID)")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	text, err := readInput(args[0])
	if err != nil {
		return err
	}
	a, err := app.New(v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if a.Hass == nil {
		return fmt.Errorf("deploy needs home_assistant.url")
	}

	report, err := a.Pipeline().Validate(cmd.Context(), text)
	if err != nil || !report.Valid {
		renderReport(cmd.ErrOrStderr(), report)
		return fmt.Errorf("refusing to deploy an invalid automation")
	}

	res, err := a.Chain().EnhanceYAML(cmd.Context(), report.YAML)
	if err != nil {
		return fmt.Errorf("enhance: %w", err)
	}
	plan := res.Plan
	id := deployID
	if id == "" {
		id = plan.ID
	}
	if id == "" {
		id = uuid.NewString()
		plan.ID = id
	}

	if err := a.Hass.Deploy(cmd.Context(), id, plan); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s deployed automation %s\n", passedStyle.Render(glyphPassed), id)
	return nil
}
