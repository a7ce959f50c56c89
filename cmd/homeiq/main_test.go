package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtthornton/HomeIQ-sub005/pkg/enhance"
	"github.com/wtthornton/HomeIQ-sub005/pkg/validate"
)

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := "# comment\n\nHOMEIQ_TEST_A=plain\nexport HOMEIQ_TEST_B=\"quoted\"\nHOMEIQ_TEST_C=from-file\nnot a pair\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("HOMEIQ_TEST_C", "from-env")
	t.Setenv("HOMEIQ_TEST_A", "")
	os.Unsetenv("HOMEIQ_TEST_A")
	t.Setenv("HOMEIQ_TEST_B", "")
	os.Unsetenv("HOMEIQ_TEST_B")

	loadDotEnv(path)

	assert.Equal(t, "plain", os.Getenv("HOMEIQ_TEST_A"))
	assert.Equal(t, "quoted", os.Getenv("HOMEIQ_TEST_B"))
	assert.Equal(t, "from-env", os.Getenv("HOMEIQ_TEST_C"))
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	loadDotEnv(filepath.Join(t.TempDir(), "absent"))
}

func TestRenderReport(t *testing.T) {
	score := 75
	report := &validate.Report{
		Valid: false,
		Stages: []validate.StageResult{
			{Name: "syntax", Valid: true},
			{Name: "structure", Valid: false, Errors: []string{"action: missing required key"}},
			{Name: "entities", Valid: true, Skipped: true, Warnings: []string{"entity oracle unavailable"}},
		},
		SchemaError:   "colour: unknown field",
		TotalErrors:   2,
		TotalWarnings: 1,
		SafetyScore:   &score,
	}

	var buf bytes.Buffer
	renderReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "syntax")
	assert.Contains(t, out, "action: missing required key")
	assert.Contains(t, out, "(skipped)")
	assert.Contains(t, out, "entity oracle unavailable")
	assert.Contains(t, out, "colour: unknown field")
	assert.Contains(t, out, "invalid")
	assert.Contains(t, out, "safety score 75/100")
}

func TestRenderEnhancement(t *testing.T) {
	res := &enhance.Result{
		Applied:  []string{"initial_state", "mode"},
		Skipped:  []string{"target_optimization"},
		Failures: []*enhance.StepError{{Step: "tags", Err: assert.AnError}},
		Reverted: true,
	}
	var buf bytes.Buffer
	renderEnhancement(&buf, res)
	out := buf.String()

	assert.Contains(t, out, "initial_state")
	assert.Contains(t, out, "target_optimization")
	assert.Contains(t, out, "enhancement step tags")
	assert.Contains(t, out, "original kept")
}

func TestSchemaExportAndVersion(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"schema", "export"})
	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"))

	buf.Reset()
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "homeiq dev (build: unknown)\n", buf.String())
}

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trigger:\n  - platform: time\n    at: \"07:00:00\"\naction:\n  - service: light.turn_on\n    entity_id: light.kitchen\n"), 0o600))

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"validate", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "valid")

	bad := filepath.Join(t.TempDir(), "b.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("trigger:\n  - platform: time\n    at: \"07:00:00\"\n"), 0o600))
	out.Reset()
	rootCmd.SetArgs([]string{"validate", bad})
	require.Error(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "missing required key")
}
