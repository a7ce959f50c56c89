package generate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtthornton/HomeIQ-sub005/pkg/enhance"
	"github.com/wtthornton/HomeIQ-sub005/pkg/hass"
	"github.com/wtthornton/HomeIQ-sub005/pkg/telemetry"
	"github.com/wtthornton/HomeIQ-sub005/pkg/validate"
)

// mockLLMClient replays canned responses and records every prompt.
type mockLLMClient struct {
	responses    []string
	err          error
	systemPrompt string
	userPrompts  []string
}

func (m *mockLLMClient) Complete(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	m.systemPrompt = systemPrompt
	m.userPrompts = append(m.userPrompts, userPrompt)
	if m.err != nil {
		return "", m.err
	}
	i := len(m.userPrompts) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

func (m *mockLLMClient) ModelName() string { return "mock-model" }

type fakeStates struct {
	states []hass.State
	err    error
}

func (f *fakeStates) GetStates(context.Context) ([]hass.State, error) {
	return f.states, f.err
}

func wrap(yaml string) string {
	return "Here you go:\n" + YAMLStartMarker + "\n" + yaml + "\n" + YAMLEndMarker + "\n"
}

const validAutomation = `alias: Morning lights
trigger:
  - platform: time
    at: "07:00:00"
action:
  - service: light.turn_on
    entity_id: light.kitchen`

const missingAction = `alias: Morning lights
trigger:
  - platform: time
    at: "07:00:00"`

func newGenerator(client LLMClient, opts ...Option) *Generator {
	logger := telemetry.Discard()
	opts = append([]Option{WithLogger(logger)}, opts...)
	return New(client, validate.New(validate.WithLogger(logger)), opts...)
}

func TestGenerate_FirstAttemptValid(t *testing.T) {
	client := &mockLLMClient{responses: []string{wrap(validAutomation)}}
	g := newGenerator(client)

	res, err := g.Generate(context.Background(), "turn on the kitchen light at 7")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "mock-model", res.Model)
	assert.NotEmpty(t, res.RequestID)
	require.NotNil(t, res.Report)
	assert.True(t, res.Report.Valid)
	assert.Nil(t, res.Enhancement)
	assert.Contains(t, res.YAML, "light.kitchen")

	require.Len(t, client.userPrompts, 1)
	assert.Contains(t, client.userPrompts[0], "turn on the kitchen light at 7")
	assert.Contains(t, client.systemPrompt, `"additionalProperties": false`)
	assert.Contains(t, client.systemPrompt, YAMLStartMarker)
}

func TestGenerate_SelfCorrects(t *testing.T) {
	client := &mockLLMClient{responses: []string{wrap(missingAction), wrap(validAutomation)}}
	chain := enhance.New(enhance.WithLogger(telemetry.Discard()))
	g := newGenerator(client, WithEnhancer(chain))

	res, err := g.Generate(context.Background(), "kitchen light at 7")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempts)
	require.Len(t, client.userPrompts, 2)
	correction := client.userPrompts[1]
	assert.Contains(t, correction, "## Validation errors")
	assert.Contains(t, correction, "1. structure:")
	assert.Contains(t, correction, "missing required key")
	assert.Contains(t, correction, missingAction)

	require.NotNil(t, res.Enhancement)
	assert.Contains(t, res.YAML, "initial_state: true")
	assert.Contains(t, res.YAML, "ai-generated")
}

func TestGenerate_TemplateEntityIsHardFailure(t *testing.T) {
	bad := `trigger:
  - platform: time
    at: "07:00:00"
action:
  - service: light.turn_on
    entity_id: "{{ states('input_text.target') }}"`
	client := &mockLLMClient{responses: []string{wrap(bad), wrap(validAutomation)}}
	g := newGenerator(client)

	res, err := g.Generate(context.Background(), "dynamic light")
	require.Error(t, err)

	var tmplErr *validate.TemplateEntityError
	assert.True(t, errors.As(err, &tmplErr))
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, client.userPrompts, 1)
}

func TestGenerate_AttemptsExhausted(t *testing.T) {
	client := &mockLLMClient{responses: []string{wrap(missingAction)}}
	reg := prometheus.NewRegistry()
	g := newGenerator(client, WithMaxAttempts(2), WithMetrics(telemetry.NewMetrics(reg)))

	res, err := g.Generate(context.Background(), "kitchen light")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAttemptsExhausted))
	assert.Equal(t, 2, res.Attempts)
	require.NotNil(t, res.Report)
	assert.False(t, res.Report.Valid)

	n, err := testutil.GatherAndCount(reg, "homeiq_generation_attempts")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGenerate_NoYAMLIsCorrected(t *testing.T) {
	client := &mockLLMClient{responses: []string{"I cannot help with that.", wrap(validAutomation)}}
	g := newGenerator(client)

	res, err := g.Generate(context.Background(), "kitchen light")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Contains(t, client.userPrompts[1], ErrNoYAML.Error())
	assert.Contains(t, client.userPrompts[1], "I cannot help with that.")
}

func TestGenerate_LLMError(t *testing.T) {
	client := &mockLLMClient{err: errors.New("rate limited")}
	g := newGenerator(client)

	res, err := g.Generate(context.Background(), "kitchen light")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, 1, res.Attempts)
}

func TestGenerate_EmptyRequest(t *testing.T) {
	g := newGenerator(&mockLLMClient{responses: []string{wrap(validAutomation)}})
	_, err := g.Generate(context.Background(), "  ")
	require.Error(t, err)
}

func TestGenerate_Cancelled(t *testing.T) {
	client := &mockLLMClient{responses: []string{wrap(validAutomation)}}
	g := newGenerator(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Generate(ctx, "kitchen light")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.userPrompts)
}

func TestGenerate_EntityListInSystemPrompt(t *testing.T) {
	states := &fakeStates{states: []hass.State{
		{EntityID: "switch.porch", State: "off"},
		{EntityID: "light.kitchen", State: "on", Attributes: map[string]any{"friendly_name": "Kitchen Light"}},
	}}
	client := &mockLLMClient{responses: []string{wrap(validAutomation)}}
	g := newGenerator(client, WithStates(states))

	_, err := g.Generate(context.Background(), "kitchen light")
	require.NoError(t, err)

	prompt := client.systemPrompt
	assert.Contains(t, prompt, "## Available entities")
	assert.Contains(t, prompt, "- light.kitchen (Kitchen Light)")
	assert.Contains(t, prompt, "- switch.porch\n")
	assert.Less(t, strings.Index(prompt, "light.kitchen ("), strings.Index(prompt, "switch.porch"))
}

func TestGenerate_StatesUnavailable(t *testing.T) {
	client := &mockLLMClient{responses: []string{wrap(validAutomation)}}
	g := newGenerator(client, WithStates(&fakeStates{err: errors.New("connection refused")}))

	_, err := g.Generate(context.Background(), "kitchen light")
	require.NoError(t, err)
	assert.NotContains(t, client.systemPrompt, "## Available entities")
}
