package validate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtthornton/HomeIQ-sub005/pkg/hass"
	"github.com/wtthornton/HomeIQ-sub005/pkg/telemetry"
)

// fakeOracle knows a fixed entity set. Unknown ids get alternatives from
// the same set. omit lists ids left out of the answer.
type fakeOracle struct {
	known []string
	omit  map[string]bool
	err   error
	calls int
}

func (f *fakeOracle) ValidateEntities(_ context.Context, ids []string) (map[string]hass.EntityStatus, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]hass.EntityStatus{}
	for _, id := range ids {
		if f.omit[id] {
			continue
		}
		exists := false
		for _, k := range f.known {
			exists = exists || k == id
		}
		st := hass.EntityStatus{Exists: exists}
		if !exists {
			st.Alternatives = hass.SuggestAlternatives(id, f.known, 3)
		}
		out[id] = st
	}
	return out, nil
}

func readFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func stageNames(r *Report) []string {
	var names []string
	for _, s := range r.Stages {
		names = append(names, s.Name)
	}
	return names
}

func quietPipeline(opts ...Option) *Pipeline {
	return New(append([]Option{WithLogger(telemetry.Discard())}, opts...)...)
}

func TestValidate_MorningLights(t *testing.T) {
	oracle := &fakeOracle{known: []string{"light.kitchen"}}
	p := quietPipeline(WithOracle(oracle))

	report, err := p.Validate(context.Background(), readFixture(t, "morning_lights.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{StageSyntax, StageStructure, StageEntities, StageLogic, StageSafety}, stageNames(report))
	assert.True(t, report.Valid)
	assert.True(t, report.AllChecksPassed)
	assert.True(t, report.SchemaValid)
	assert.False(t, report.AutoFixed)
	assert.False(t, report.FixedYAMLUsed)
	assert.Zero(t, report.TotalErrors)
	assert.Zero(t, report.TotalWarnings)
	require.NotNil(t, report.SafetyScore)
	assert.Equal(t, 100, *report.SafetyScore)
	assert.Equal(t, 1, oracle.calls)
}

func TestValidate_TemplateInEntityID(t *testing.T) {
	oracle := &fakeOracle{}
	p := quietPipeline(WithOracle(oracle))
	doc := `
trigger:
  - platform: time
    at: "07:00:00"
action:
  - service: light.turn_on
    target:
      entity_id: "{{ my_light }}"
`
	report, err := p.Validate(context.Background(), doc)
	var te *TemplateEntityError
	require.True(t, errors.As(err, &te), "want *TemplateEntityError, got %v", err)
	assert.Equal(t, "action[0].target.entity_id", te.Path)
	assert.Empty(t, report.Stages)
	assert.False(t, report.Valid)
	assert.Equal(t, 1, report.TotalErrors)
	assert.Zero(t, oracle.calls)
}

func TestValidate_SyntaxError(t *testing.T) {
	p := quietPipeline()
	report, err := p.Validate(context.Background(), "trigger: [unclosed\naction: x")
	var se *SyntaxError
	require.True(t, errors.As(err, &se))
	require.Len(t, report.Stages, 1)
	assert.Equal(t, StageSyntax, report.Stages[0].Name)
	assert.False(t, report.Stages[0].Valid)
	assert.False(t, report.Valid)

	_, err = p.Validate(context.Background(), "   \n")
	assert.True(t, errors.As(err, &se))
}

func TestValidate_StructureShortCircuits(t *testing.T) {
	oracle := &fakeOracle{known: []string{"light.kitchen"}}
	p := quietPipeline(WithOracle(oracle))
	report, err := p.Validate(context.Background(), "alias: No actions\ntrigger:\n  - platform: time\n    at: '07:00'\n")
	require.NoError(t, err)
	assert.Equal(t, []string{StageSyntax, StageStructure}, stageNames(report))
	assert.False(t, report.Valid)
	assert.False(t, report.AllChecksPassed)
	assert.Zero(t, oracle.calls)
}

func TestValidate_AutoFixedDocumentFeedsLaterStages(t *testing.T) {
	oracle := &fakeOracle{known: []string{"binary_sensor.porch_motion", "light.porch"}}
	p := quietPipeline(WithOracle(oracle))

	report, err := p.Validate(context.Background(), readFixture(t, "new_style.yaml"))
	require.NoError(t, err)
	assert.True(t, report.Valid, report.Summary())
	assert.True(t, report.AutoFixed)
	assert.True(t, report.FixedYAMLUsed)
	assert.True(t, report.SchemaValid, report.SchemaError)
	assert.Contains(t, report.YAML, "platform: state")
	assert.Contains(t, report.YAML, "service: light.turn_off")
	assert.NotContains(t, report.YAML, "triggers:")
	assert.NotEmpty(t, report.Stage(StageStructure).Warnings)
}

func TestValidate_MissingEntity(t *testing.T) {
	oracle := &fakeOracle{known: []string{"light.kitchen_ceiling"}}
	p := quietPipeline(WithOracle(oracle))

	report, err := p.Validate(context.Background(), readFixture(t, "morning_lights.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{StageSyntax, StageStructure, StageEntities}, stageNames(report))
	assert.False(t, report.Valid)
	entities := report.Stage(StageEntities)
	require.Len(t, entities.Errors, 1)
	assert.Equal(t, "entity not found: light.kitchen (did you mean: light.kitchen_ceiling)", entities.Errors[0])
}

func TestValidate_OracleDegradation(t *testing.T) {
	doc := readFixture(t, "morning_lights.yaml")

	tests := []struct {
		name        string
		oracle      EntityOracle
		wantSkipped bool
		wantWarning string
	}{
		{"no oracle", nil, true, "no entity oracle configured"},
		{"oracle error", &fakeOracle{err: errors.New("connection refused")}, true, "oracle unavailable"},
		{"partial answer", &fakeOracle{omit: map[string]bool{"light.kitchen": true}}, false, "could not verify entity light.kitchen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.oracle != nil {
				opts = append(opts, WithOracle(tt.oracle))
			}
			report, err := quietPipeline(opts...).Validate(context.Background(), doc)
			require.NoError(t, err)

			assert.True(t, report.Valid)
			assert.Len(t, report.Stages, 5)
			entities := report.Stage(StageEntities)
			assert.Equal(t, tt.wantSkipped, entities.Skipped)
			assert.True(t, entities.Valid)
			require.Len(t, entities.Warnings, 1)
			assert.Contains(t, entities.Warnings[0], tt.wantWarning)
			assert.Equal(t, !tt.wantSkipped, report.AllChecksPassed)
		})
	}
}

func TestValidate_SchemaErrorDoesNotStopAdvisoryStages(t *testing.T) {
	p := quietPipeline(WithOracle(&fakeOracle{known: []string{"light.kitchen"}}))
	doc := readFixture(t, "morning_lights.yaml") + "colour: blue\n"

	report, err := p.Validate(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, report.SchemaValid)
	assert.Contains(t, report.SchemaError, "colour")
	assert.False(t, report.Valid)
	assert.Len(t, report.Stages, 5)
	assert.Equal(t, 1, report.TotalErrors)
}

func TestValidate_SafetyIsAdvisoryUnlessStrict(t *testing.T) {
	doc := `
trigger:
  - platform: state
    entity_id: binary_sensor.doorbell
    to: "on"
action:
  - service: lock.unlock
    entity_id: lock.front_door
`
	oracle := &fakeOracle{known: []string{"binary_sensor.doorbell", "lock.front_door"}}

	report, err := quietPipeline(WithOracle(oracle)).Validate(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.False(t, report.AllChecksPassed)
	assert.Equal(t, 75, *report.SafetyScore)
	require.Len(t, report.SafetyIssues, 1)
	assert.Equal(t, "unconditional_unlock", report.SafetyIssues[0].Rule)
	assert.Len(t, report.Stage(StageSafety).Warnings, 1)

	strict := quietPipeline(WithOracle(oracle), WithPolicy(Policy{StrictSafety: true}))
	report, err = strict.Validate(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Len(t, report.Stage(StageSafety).Errors, 1)

	minimum := quietPipeline(WithOracle(oracle), WithPolicy(Policy{MinSafetyScore: 80}))
	report, err = minimum.Validate(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Summary(), "safety score 75 is below the minimum 80")
}

func TestValidate_StrictLogic(t *testing.T) {
	doc := `
trigger:
  - platform: numeric_state
    entity_id: sensor.temperature
    above: 30
    below: 20
action:
  - service: fan.turn_on
    entity_id: fan.bedroom
`
	oracle := &fakeOracle{known: []string{"sensor.temperature", "fan.bedroom"}}

	report, err := quietPipeline(WithOracle(oracle)).Validate(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Len(t, report.Stage(StageLogic).Warnings, 1)

	report, err = quietPipeline(WithOracle(oracle), WithPolicy(Policy{StrictLogic: true})).Validate(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Len(t, report.Stage(StageLogic).Errors, 1)
}

func TestValidate_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := quietPipeline(WithMetrics(telemetry.NewMetrics(reg)))

	_, err := p.Validate(context.Background(), readFixture(t, "morning_lights.yaml"))
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "homeiq_validation_stage_total")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, err = testutil.GatherAndCount(reg, "homeiq_validation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCheckShape(t *testing.T) {
	assert.NoError(t, CheckShape(readFixture(t, "morning_lights.yaml")))
	assert.Error(t, CheckShape("trigger: []\naction: []\n"))
	assert.Error(t, CheckShape(strings.Replace(readFixture(t, "morning_lights.yaml"), "light.kitchen", "'{{ x }}'", 1)))
}
