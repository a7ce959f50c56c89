package condition

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
	"github.com/wtthornton/HomeIQ-sub005/pkg/eval"
	"github.com/wtthornton/HomeIQ-sub005/pkg/hass"
)

type world []hass.State

func (w world) GetStates(context.Context) ([]hass.State, error) { return w, nil }

// Friday 2024-03-01 07:30:00 UTC.
var fixedNow = time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)

func defaultWorld() world {
	return world{
		{EntityID: "light.kitchen", State: "on", LastChanged: fixedNow.Add(-10 * time.Minute)},
		{EntityID: "light.hallway", State: "off"},
		{EntityID: "sensor.temperature", State: "21.5", Attributes: map[string]any{"humidity": 40.0}},
		{EntityID: "input_number.comfort", State: "20"},
		{EntityID: "input_datetime.wake", State: "07:00:00"},
		{EntityID: "sun.sun", State: "above_horizon"},
		{EntityID: "zone.home", State: "zoning", Attributes: map[string]any{"latitude": 52.3731, "longitude": 4.8922, "radius": 100.0}},
		{EntityID: "person.alex", State: "home", Attributes: map[string]any{"latitude": 52.3732, "longitude": 4.8923}},
		{EntityID: "person.sam", State: "not_home", Attributes: map[string]any{"latitude": 51.9, "longitude": 4.4}},
	}
}

func newEvaluator(w world, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	}
	engine := eval.New(w, eval.WithClock(func() time.Time { return fixedNow }), eval.WithLogger(logger))
	return New(engine, WithLogger(logger))
}

func conds(t *testing.T, src string) []automation.Condition {
	t.Helper()
	var out []automation.Condition
	if err := yaml.Unmarshal([]byte(src), &out); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return out
}

func TestEvaluate(t *testing.T) {
	ev := newEvaluator(defaultWorld(), nil)
	vars := map[string]any{"trigger": map[string]any{"id": "morning"}}

	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"empty list", "[]", true},
		{"empty and", "- condition: and\n  conditions: []", true},
		{"empty or", "- condition: or\n  conditions: []", false},
		{"state match", "- condition: state\n  entity_id: light.kitchen\n  state: 'on'", true},
		{"state list membership", "- condition: state\n  entity_id: light.hallway\n  state: ['on', 'off']", true},
		{"state mismatch", "- condition: state\n  entity_id: light.hallway\n  state: 'on'", false},
		{"state all entities", "- condition: state\n  entity_id: [light.kitchen, light.hallway]\n  state: 'on'", false},
		{"state match any", "- condition: state\n  entity_id: [light.kitchen, light.hallway]\n  match: any\n  state: 'on'", true},
		{"state held for", "- condition: state\n  entity_id: light.kitchen\n  state: 'on'\n  for: '00:05:00'", true},
		{"state not held long enough", "- condition: state\n  entity_id: light.kitchen\n  state: 'on'\n  for: {minutes: 15}", false},
		{"state attribute", "- condition: state\n  entity_id: sensor.temperature\n  attribute: humidity\n  state: '40'", true},
		{"missing entity fails closed", "- condition: state\n  entity_id: light.garage\n  state: 'on'", false},
		{"implicit and", "- condition: state\n  entity_id: light.kitchen\n  state: 'on'\n- condition: state\n  entity_id: light.hallway\n  state: 'on'", false},
		{"or", "- condition: or\n  conditions:\n    - condition: state\n      entity_id: light.hallway\n      state: 'on'\n    - condition: state\n      entity_id: light.kitchen\n      state: 'on'", true},
		{"numeric in range", "- condition: numeric_state\n  entity_id: sensor.temperature\n  above: 20\n  below: 25", true},
		{"numeric above entity threshold", "- condition: numeric_state\n  entity_id: sensor.temperature\n  above: input_number.comfort", true},
		{"numeric below fails", "- condition: numeric_state\n  entity_id: sensor.temperature\n  below: 21.5", false},
		{"numeric value_template", "- condition: numeric_state\n  entity_id: sensor.temperature\n  value_template: \"{{ state.attributes.humidity }}\"\n  below: 50", true},
		{"numeric non-numeric state", "- condition: numeric_state\n  entity_id: light.kitchen\n  above: 0", false},
		{"time window", "- condition: time\n  after: '07:00:00'\n  before: '08:00:00'", true},
		{"time inclusive after", "- condition: time\n  after: '07:30:00'", true},
		{"time inclusive before", "- condition: time\n  before: '07:30:00'", true},
		{"time before passed", "- condition: time\n  before: '07:00'", false},
		{"time after entity", "- condition: time\n  after: input_datetime.wake", true},
		{"weekday match", "- condition: time\n  weekday: [mon, fri]", true},
		{"weekday mismatch", "- condition: time\n  weekday: sat", false},
		{"template true", "- condition: template\n  value_template: \"{{ is_state('light.kitchen', 'on') }}\"", true},
		{"template numeric", "- condition: template\n  value_template: \"{{ states('sensor.temperature') | float }}\"", true},
		{"template undefined fails closed", "- condition: template\n  value_template: \"{{ undefined_thing }}\"", false},
		{"zone inside", "- condition: zone\n  entity_id: person.alex\n  zone: zone.home", true},
		{"zone outside", "- condition: zone\n  entity_id: person.sam\n  zone: zone.home", false},
		{"device is_on", "- condition: device\n  device_id: abc\n  domain: light\n  type: is_on\n  entity_id: light.kitchen", true},
		{"device unsupported", "- condition: device\n  device_id: abc\n  domain: light\n  type: is_dimmed\n  entity_id: light.kitchen", false},
		{"sun after sunrise", "- condition: sun\n  after: sunrise", true},
		{"sun after sunset", "- condition: sun\n  after: sunset", false},
		{"trigger id", "- condition: trigger\n  id: [morning, evening]", true},
		{"disabled condition holds", "- condition: state\n  enabled: false\n  entity_id: light.hallway\n  state: 'on'", true},
		{"or drops disabled branch", "- condition: or\n  conditions:\n    - condition: state\n      enabled: false\n      entity_id: light.hallway\n      state: 'on'\n    - condition: state\n      entity_id: light.hallway\n      state: 'on'", false},
		{"or of only disabled branches", "- condition: or\n  conditions:\n    - condition: state\n      enabled: false\n      entity_id: light.kitchen\n      state: 'on'", false},
		{"not drops disabled branch", "- condition: not\n  conditions:\n    - condition: state\n      enabled: false\n      entity_id: light.kitchen\n      state: 'on'\n    - condition: state\n      entity_id: light.hallway\n      state: 'on'", true},
		{"and drops disabled branch", "- condition: and\n  conditions:\n    - condition: state\n      enabled: false\n      entity_id: light.hallway\n      state: 'on'\n    - condition: state\n      entity_id: light.kitchen\n      state: 'on'", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ev.Evaluate(context.Background(), conds(t, tt.src), vars))
		})
	}
}

func TestEvaluate_NotWithTwoConditions(t *testing.T) {
	var logs bytes.Buffer
	ev := newEvaluator(defaultWorld(), slog.New(slog.NewTextHandler(&logs, nil)))

	c := conds(t, `
- condition: not
  conditions:
    - condition: state
      entity_id: light.hallway
      state: 'on'
    - condition: state
      entity_id: light.kitchen
      state: 'off'
`)
	assert.False(t, ev.Evaluate(context.Background(), c, nil))
	assert.Contains(t, logs.String(), "exactly one")
}

func TestEvaluate_NotNegatesLeafProperty(t *testing.T) {
	states := []string{"on", "off", "unavailable", "unknown"}
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("not[X] == !X", prop.ForAll(
		func(current, target string) bool {
			ev := newEvaluator(world{{EntityID: "light.kitchen", State: current}}, nil)
			leaf := automation.Condition{
				Condition: automation.ConditionState,
				EntityID:  automation.StringList{"light.kitchen"},
				State:     automation.StringList{target},
			}
			not := automation.Condition{Condition: automation.ConditionNot, Conditions: []automation.Condition{leaf}}
			ctx := context.Background()
			return ev.EvaluateOne(ctx, &not, nil) == !ev.EvaluateOne(ctx, &leaf, nil)
		},
		gen.OneConstOf(states[0], states[1], states[2], states[3]),
		gen.OneConstOf(states[0], states[1], states[2], states[3]),
	))
	properties.Property("and[] is true and or[] is false", prop.ForAll(
		func(current string) bool {
			ev := newEvaluator(world{{EntityID: "light.kitchen", State: current}}, nil)
			and := automation.Condition{Condition: automation.ConditionAnd}
			or := automation.Condition{Condition: automation.ConditionOr}
			ctx := context.Background()
			return ev.EvaluateOne(ctx, &and, nil) && !ev.EvaluateOne(ctx, &or, nil)
		},
		gen.AlphaString(),
	))
	properties.TestingRun(t)
}

func TestNumericState_StrictBoundsProperty(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	check := func(current, above float64) bool {
		ev := newEvaluator(world{{EntityID: "sensor.level", State: strconv.FormatFloat(current, 'g', -1, 64)}}, nil)
		c := automation.Condition{
			Condition: automation.ConditionNumericState,
			EntityID:  automation.StringList{"sensor.level"},
			Above:     automation.NewThreshold(above),
		}
		return ev.EvaluateOne(context.Background(), &c, nil)
	}

	properties.Property("current == above fails", prop.ForAll(
		func(a float64) bool { return !check(a, a) },
		gen.Float64Range(-1e6, 1e6),
	))
	properties.Property("current just above passes", prop.ForAll(
		func(a float64) bool { return check(math.Nextafter(a, math.Inf(1)), a) },
		gen.Float64Range(-1e6, 1e6),
	))
	properties.TestingRun(t)
}

func TestHaversine(t *testing.T) {
	// Amsterdam Centraal to Dam Square is roughly 800 m.
	d := haversine(52.3791, 4.9003, 52.3731, 4.8922)
	assert.InDelta(t, 850, d, 100)
}
