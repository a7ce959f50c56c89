package enhance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLabelScorer(t *testing.T) {
	s := LabelScorer{KeywordBonus: DefaultLabelBonus, Generic: DefaultGenericLabels}

	tests := []struct {
		name   string
		labels []string
		domain string
		want   string
	}{
		{"empty", nil, "light", ""},
		{"domain relevance wins", []string{"misc", "kitchen_lights", "outdoor"}, "light", "kitchen_lights"},
		{"keyword bonus", []string{"garden", "security"}, "switch", "security"},
		{"generic penalized", []string{"all", "den"}, "light", "den"},
		{"alphabetical tiebreak", []string{"bb", "aa"}, "", "aa"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Best(tt.labels, tt.domain))
		})
	}

	assert.Equal(t, 29, s.Score("kitchen_lights", "light"))
	assert.Equal(t, -11, s.Score("misc", "light"))
}

func TestMatchTags(t *testing.T) {
	assert.Equal(t, []string{"energy", "lighting"}, matchTags(DefaultTagRules, "light.turn_on light.kitchen"))
	assert.Equal(t, []string{"climate", "energy"}, matchTags(DefaultTagRules, "climate.set_hvac_mode climate.living"))
	assert.Equal(t, []string{"presence", "security"}, matchTags(DefaultTagRules, "person.alex lock.lock"))
	assert.Empty(t, matchTags(DefaultTagRules, "notify.mobile_app"))
}

func TestMergeTags(t *testing.T) {
	assert.Equal(t, []string{"x", "ai-generated", "y"}, mergeTags([]string{"x", "ai-generated"}, []string{"ai-generated", "y"}))
	assert.Empty(t, mergeTags(nil, nil))
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "1 hour", humanDuration(time.Hour))
	assert.Equal(t, "90 seconds", humanDuration(90*time.Second))
	assert.Equal(t, "2 minutes", humanDuration(2*time.Minute))
	assert.Equal(t, "1.5s", humanDuration(1500*time.Millisecond))
}

func TestServiceVerb(t *testing.T) {
	assert.Equal(t, "turn on", serviceVerb("light.turn_on"))
	assert.Equal(t, "set temperature", serviceVerb("climate.set_temperature"))
}
