package enhance

import (
	"sort"
	"strings"
)

// TagRule adds Tag when any keyword occurs in the automation's service and
// entity text.
type TagRule struct {
	Tag      string   `mapstructure:"tag" yaml:"tag"`
	Keywords []string `mapstructure:"keywords" yaml:"keywords"`
}

// Tags every enhanced automation carries.
const (
	TagGenerated   = "ai-generated"
	TagConvenience = "convenience"
)

// DefaultCriticalKeywords mark actions whose failures must stay visible.
var DefaultCriticalKeywords = []string{
	"lock", "alarm", "security", "emergency", "notify", "climate.set_temperature", "water_heater",
}

// DefaultTagRules is the category table used when none is configured.
var DefaultTagRules = []TagRule{
	{Tag: "security", Keywords: []string{"lock.", "alarm_control_panel.", "camera.", "siren", "security"}},
	{Tag: "energy", Keywords: []string{"light.", "switch.", "climate.", "water_heater.", "energy", "power"}},
	{Tag: "climate", Keywords: []string{"climate.", "fan.", "humidifier.", "thermostat", "temperature"}},
	{Tag: "lighting", Keywords: []string{"light."}},
	{Tag: "presence", Keywords: []string{"person.", "device_tracker.", "presence", "occupancy", "motion"}},
	{Tag: "time-based", Keywords: []string{"timer.", "schedule.", "input_datetime."}},
}

// DefaultLabelBonus rewards labels that name a purpose rather than a place.
var DefaultLabelBonus = map[string]int{
	"security": 8,
	"night":    6,
	"outdoor":  6,
	"holiday":  6,
	"energy":   5,
	"comfort":  5,
	"indoor":   4,
	"ambient":  4,
}

// DefaultGenericLabels say nothing about the entities they group.
var DefaultGenericLabels = []string{"all", "default", "devices", "home", "misc", "new", "other", "test"}

// matchTags returns the categories whose keywords occur in text, sorted.
func matchTags(rules []TagRule, text string) []string {
	text = strings.ToLower(text)
	seen := map[string]bool{}
	var out []string
	for _, r := range rules {
		if seen[r.Tag] {
			continue
		}
		for _, k := range r.Keywords {
			if strings.Contains(text, strings.ToLower(k)) {
				seen[r.Tag] = true
				out = append(out, r.Tag)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Label scoring
// ---------------------------------------------------------------------------

// LabelScorer ranks candidate labels for a label_id target.
type LabelScorer struct {
	KeywordBonus map[string]int
	Generic      []string
}

// Score rates one label for an action in domain. Longer, compound and
// domain-relevant labels score higher; generic labels are penalized.
func (s LabelScorer) Score(label, domain string) int {
	l := strings.ToLower(label)
	score := min(len(l), 20)
	if strings.ContainsAny(l, "-_") {
		score += 5
	}
	if domain != "" && strings.Contains(l, domain) {
		score += 10
	}
	for k, bonus := range s.KeywordBonus {
		if strings.Contains(l, k) {
			score += bonus
		}
	}
	for _, g := range s.Generic {
		if l == g {
			score -= 15
		}
	}
	return score
}

// Best returns the highest-scoring label, ties broken alphabetically, or ""
// when labels is empty.
func (s LabelScorer) Best(labels []string, domain string) string {
	best, bestScore := "", 0
	for _, l := range labels {
		sc := s.Score(l, domain)
		if best == "" || sc > bestScore || (sc == bestScore && l < best) {
			best, bestScore = l, sc
		}
	}
	return best
}
