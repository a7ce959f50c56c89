package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wtthornton/HomeIQ-sub005/pkg/app"
)

var generateOut string

var generateCmd = &cobra.Command{
	Use:   "generate [request...]",
	Short: "Generate a validated automation from a natural-language request",
	Long: `Generate prompts the configured LLM, validates its answer and feeds the
errors back until the automation passes or the attempt budget is spent.
The result is enhanced before it is printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateOut, "out", "", "Write the automation YAML to this path instead of stdout")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	a, err := app.New(v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	g, err := a.Generator()
	if err != nil {
		return err
	}

	res, genErr := g.Generate(cmd.Context(), strings.Join(args, " "))
	if res != nil && res.Report != nil && genErr != nil {
		renderReport(cmd.ErrOrStderr(), res.Report)
	}
	if genErr != nil {
		return genErr
	}

	if jsonOutput() {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	fmt.Fprintln(cmd.ErrOrStderr(), dimStyle.Render(fmt.Sprintf("%s: %d attempt(s), request %s", res.Model, res.Attempts, res.RequestID)))
	if res.Enhancement != nil {
		renderEnhancement(cmd.ErrOrStderr(), res.Enhancement)
	}
	if generateOut != "" {
		if err := os.WriteFile(generateOut, []byte(res.YAML), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", generateOut, err)
		}
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), res.YAML)
	return nil
}
