package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSafety_Rules(t *testing.T) {
	const trig = "trigger:\n  - platform: state\n    entity_id: binary_sensor.x\n    to: \"on\"\n"

	tests := []struct {
		name      string
		doc       string
		wantRules []string
		wantScore int
	}{
		{
			name:      "harmless",
			doc:       trig + "action:\n  - service: light.turn_on\n    entity_id: light.kitchen\n",
			wantScore: 100,
		},
		{
			name:      "unlock without condition",
			doc:       trig + "action:\n  - service: lock.unlock\n    entity_id: lock.front_door\n",
			wantRules: []string{"unconditional_unlock"},
			wantScore: 75,
		},
		{
			name: "unlock behind top-level condition",
			doc: trig + "condition:\n  - condition: state\n    entity_id: person.alex\n    state: home\n" +
				"action:\n  - service: lock.unlock\n    entity_id: lock.front_door\n",
			wantScore: 100,
		},
		{
			name: "unlock inside choose",
			doc: trig + "action:\n  - choose:\n      - conditions:\n          - condition: state\n            entity_id: person.alex\n            state: home\n" +
				"        sequence:\n          - service: lock.unlock\n            entity_id: lock.front_door\n",
			wantScore: 100,
		},
		{
			name:      "alarm disarm",
			doc:       trig + "action:\n  - service: alarm_control_panel.alarm_disarm\n    entity_id: alarm_control_panel.home\n",
			wantRules: []string{"alarm_disarm_unguarded"},
			wantScore: 75,
		},
		{
			name:      "security automation turned off",
			doc:       trig + "action:\n  - service: automation.turn_off\n    target:\n      entity_id: automation.security_lights\n",
			wantRules: []string{"disable_security_automation"},
			wantScore: 75,
		},
		{
			name:      "garage opened",
			doc:       trig + "action:\n  - service: cover.open_cover\n    entity_id: cover.garage_door\n",
			wantRules: []string{"cover_open_unguarded"},
			wantScore: 90,
		},
		{
			name:      "extreme setpoint",
			doc:       trig + "action:\n  - service: climate.set_temperature\n    entity_id: climate.living\n    data:\n      temperature: 35\n",
			wantRules: []string{"climate_extreme_setpoint"},
			wantScore: 90,
		},
		{
			name:      "every second",
			doc:       "trigger:\n  - platform: time_pattern\n    seconds: \"/5\"\naction:\n  - service: light.toggle\n    entity_id: light.a\n",
			wantRules: []string{"high_frequency_trigger"},
			wantScore: 90,
		},
		{
			name:      "every minute",
			doc:       "trigger:\n  - platform: time_pattern\n    minutes: \"*\"\naction:\n  - service: light.toggle\n    entity_id: light.a\n",
			wantRules: []string{"high_frequency_trigger"},
			wantScore: 90,
		},
		{
			name:      "valve left open",
			doc:       trig + "action:\n  - service: switch.turn_on\n    entity_id: switch.garden_sprinkler\n",
			wantRules: []string{"valve_open_without_close"},
			wantScore: 90,
		},
		{
			name: "valve closed later",
			doc: trig + "action:\n  - service: valve.open_valve\n    entity_id: valve.main\n  - delay: 600\n" +
				"  - service: valve.close_valve\n    entity_id: valve.main\n",
			wantScore: 100,
		},
		{
			name:      "broadcast target",
			doc:       trig + "action:\n  - service: light.turn_off\n    target:\n      entity_id: all\n",
			wantRules: []string{"broadcast_target"},
			wantScore: 90,
		},
		{
			name: "score floors at zero",
			doc: trig + "action:\n" +
				"  - service: lock.unlock\n    entity_id: lock.a\n" +
				"  - service: lock.open\n    entity_id: lock.b\n" +
				"  - service: alarm_control_panel.alarm_disarm\n    entity_id: alarm_control_panel.home\n" +
				"  - service: automation.turn_off\n    entity_id: automation.alarm_siren\n" +
				"  - service: light.turn_off\n    entity_id: all\n",
			wantRules: []string{"unconditional_unlock", "unconditional_unlock", "alarm_disarm_unguarded", "disable_security_automation", "broadcast_target"},
			wantScore: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, issues := CheckSafety(decodePlan(t, tt.doc), DefaultSafetyConfig())
			var rules []string
			for _, is := range issues {
				rules = append(rules, is.Rule)
				assert.NotEmpty(t, is.SuggestedFix)
			}
			assert.Equal(t, tt.wantRules, rules)
			assert.Equal(t, tt.wantScore, score)
		})
	}
}

func TestCheckSafety_Config(t *testing.T) {
	doc := "trigger:\n  - platform: time\n    at: '07:00'\naction:\n  - service: lock.unlock\n    entity_id: lock.front_door\n" +
		"  - service: climate.set_temperature\n    entity_id: climate.x\n    data:\n      temperature: 28\n"
	plan := decodePlan(t, doc)

	score, issues := CheckSafety(plan, SafetyConfig{Disabled: []string{"unconditional_unlock"}, MinTemperature: 10, MaxTemperature: 30})
	assert.Equal(t, 100, score)
	assert.Empty(t, issues)

	score, issues = CheckSafety(plan, SafetyConfig{
		SeverityOverrides: map[string]string{"unconditional_unlock": SeverityWarning},
		MinTemperature:    16,
		MaxTemperature:    25,
	})
	require.Len(t, issues, 2)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
	assert.Equal(t, "action[1].data.temperature", issues[1].Path)
	assert.Equal(t, 80, score)
}
