package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wtthornton/HomeIQ-sub005/pkg/enhance"
	"github.com/wtthornton/HomeIQ-sub005/pkg/validate"
)

const (
	glyphPassed  = "✓"
	glyphFailed  = "✗"
	glyphSkipped = "○"
	glyphWarning = "⚠"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorDim    = lipgloss.Color("240")
	colorCyan   = lipgloss.Color("51")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	passedStyle  = lipgloss.NewStyle().Foreground(colorGreen)
	failedStyle  = lipgloss.NewStyle().Foreground(colorRed)
	warningStyle = lipgloss.NewStyle().Foreground(colorYellow)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
	summaryBox   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)
)

// renderReport prints one line per stage with its findings indented below.
func renderReport(w io.Writer, report *validate.Report) {
	fmt.Fprintln(w, titleStyle.Render("Validation"))
	for _, s := range report.Stages {
		switch {
		case s.Skipped:
			fmt.Fprintf(w, "  %s %s %s\n", dimStyle.Render(glyphSkipped), s.Name, dimStyle.Render("(skipped)"))
		case s.Valid:
			fmt.Fprintf(w, "  %s %s\n", passedStyle.Render(glyphPassed), s.Name)
		default:
			fmt.Fprintf(w, "  %s %s\n", failedStyle.Render(glyphFailed), s.Name)
		}
		for _, e := range s.Errors {
			fmt.Fprintf(w, "      %s\n", failedStyle.Render(e))
		}
		for _, warn := range s.Warnings {
			fmt.Fprintf(w, "      %s %s\n", warningStyle.Render(glyphWarning), warn)
		}
	}
	if report.SchemaError != "" {
		fmt.Fprintf(w, "  %s schema\n", failedStyle.Render(glyphFailed))
		for _, line := range strings.Split(report.SchemaError, "\n") {
			fmt.Fprintf(w, "      %s\n", failedStyle.Render(line))
		}
	}
	if report.Fatal != "" {
		fmt.Fprintf(w, "  %s %s\n", failedStyle.Render(glyphFailed), failedStyle.Render(report.Fatal))
	}

	status := passedStyle.Render("valid")
	if !report.Valid {
		status = failedStyle.Render("invalid")
	}
	lines := []string{
		fmt.Sprintf("%s  errors %d  warnings %d", status, report.TotalErrors, report.TotalWarnings),
	}
	if report.SafetyScore != nil {
		lines = append(lines, fmt.Sprintf("safety score %d/100", *report.SafetyScore))
	}
	if report.AutoFixed {
		lines = append(lines, dimStyle.Render("structure auto-fixed"))
	}
	fmt.Fprintln(w, summaryBox.Render(strings.Join(lines, "\n")))
}

// renderEnhancement lists applied, skipped and failed steps.
func renderEnhancement(w io.Writer, res *enhance.Result) {
	fmt.Fprintln(w, titleStyle.Render("Enhancement"))
	for _, name := range res.Applied {
		fmt.Fprintf(w, "  %s %s\n", passedStyle.Render(glyphPassed), name)
	}
	for _, name := range res.Skipped {
		fmt.Fprintf(w, "  %s %s %s\n", dimStyle.Render(glyphSkipped), name, dimStyle.Render("(skipped)"))
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  %s %s\n", failedStyle.Render(glyphFailed), f.Error())
	}
	if res.Reverted {
		fmt.Fprintln(w, warningStyle.Render("  enhanced document failed re-validation; original kept"))
	}
}
