package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtthornton/HomeIQ-sub005/pkg/enhance"
	"github.com/wtthornton/HomeIQ-sub005/pkg/generate"
	"github.com/wtthornton/HomeIQ-sub005/pkg/telemetry"
	"github.com/wtthornton/HomeIQ-sub005/pkg/validate"
)

const morning = `alias: Morning lights
trigger:
  - platform: time
    at: "07:00:00"
action:
  - service: light.turn_on
    entity_id: light.kitchen
`

type cannedLLM struct{ response string }

func (c cannedLLM) Complete(context.Context, string, string) (string, error) { return c.response, nil }
func (c cannedLLM) ModelName() string                                       { return "canned" }

func newTools(llm generate.LLMClient) *Tools {
	logger := telemetry.Discard()
	p := validate.New(validate.WithLogger(logger))
	c := enhance.New(enhance.WithLogger(logger))
	t := &Tools{Pipeline: p, Chain: c}
	if llm != nil {
		t.Generator = generate.New(llm, p, generate.WithEnhancer(c), generate.WithLogger(logger))
	}
	return t
}

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestHandleValidate(t *testing.T) {
	tools := newTools(nil)

	res, err := tools.HandleValidate(context.Background(), call(map[string]any{"yaml": morning}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var report validate.Report
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &report))
	assert.True(t, report.Valid)
	assert.Len(t, report.Stages, 5)
}

func TestHandleValidate_FromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trigger: [\n"), 0o600))

	res, err := newTools(nil).HandleValidate(context.Background(), call(map[string]any{"path": path}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), `"valid": false`)
}

func TestHandleValidate_MissingArguments(t *testing.T) {
	res, err := newTools(nil).HandleValidate(context.Background(), call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "yaml or path argument is required", text(t, res))
}

func TestHandleEnhance(t *testing.T) {
	res, err := newTools(nil).HandleEnhance(context.Background(), call(map[string]any{"yaml": morning}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.Contains(t, out["yaml"], "initial_state: true")
	assert.Contains(t, out["applied"], "initial_state")
}

func TestHandleEnhance_RejectsUnknownKeys(t *testing.T) {
	res, err := newTools(nil).HandleEnhance(context.Background(), call(map[string]any{"yaml": morning + "colour: blue\n"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleGenerate(t *testing.T) {
	llm := cannedLLM{response: generate.YAMLStartMarker + "\n" + morning + generate.YAMLEndMarker}
	tools := newTools(llm)

	res, err := tools.HandleGenerate(context.Background(), call(map[string]any{"request": "kitchen light at 7"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out generate.Result
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "canned", out.Model)
	assert.Contains(t, out.YAML, "ai-generated")

	res, err = tools.HandleGenerate(context.Background(), call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleSchema(t *testing.T) {
	res, err := HandleSchema(context.Background(), call(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "Home Assistant Automation")
}

func TestNewServer_RegistersGenerateOnlyWithGenerator(t *testing.T) {
	assert.NotNil(t, NewServer("test", newTools(nil)))
	assert.NotNil(t, NewServer("test", newTools(cannedLLM{})))
}
