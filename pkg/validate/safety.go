package validate

import (
	"fmt"
	"strings"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
)

// Score weights per severity. The safety score is
// max(0, 100 - sum of weights of triggered issues).
const (
	ErrorWeight   = 25
	WarningWeight = 10
)

// SafetyIssue is one triggered safety rule.
type SafetyIssue struct {
	Rule         string `json:"rule"`
	Severity     string `json:"severity"`
	Path         string `json:"path,omitempty"`
	Message      string `json:"message"`
	SuggestedFix string `json:"suggested_fix"`
}

// SafetyConfig tunes the rule set.
type SafetyConfig struct {
	// Disabled rule ids are not evaluated.
	Disabled []string
	// SeverityOverrides maps rule id to "error" or "warning".
	SeverityOverrides map[string]string
	// MinTemperature and MaxTemperature bound climate setpoints.
	MinTemperature float64
	MaxTemperature float64
}

// DefaultSafetyConfig returns the default rule tuning.
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{MinTemperature: 10, MaxTemperature: 30}
}

// SafetyRule is one entry of the fixed rule set. Check returns the path
// and message of every violation.
type SafetyRule struct {
	ID           string
	Severity     string
	SuggestedFix string
	Check        func(p *automation.Plan, cfg SafetyConfig) []violation
}

type violation struct {
	path    string
	message string
}

// SafetyRules is the fixed rule set in evaluation order.
var SafetyRules = []SafetyRule{
	{
		ID:           "unconditional_unlock",
		Severity:     SeverityError,
		SuggestedFix: "Add a condition (for example presence or alarm state) before unlocking.",
		Check:        unguardedService("lock.unlock", "lock.open"),
	},
	{
		ID:           "alarm_disarm_unguarded",
		Severity:     SeverityError,
		SuggestedFix: "Guard the disarm with a presence or code-verified condition.",
		Check:        unguardedService("alarm_control_panel.alarm_disarm"),
	},
	{
		ID:           "disable_security_automation",
		Severity:     SeverityError,
		SuggestedFix: "Do not turn off security automations from another automation.",
		Check:        disablesSecurityAutomation,
	},
	{
		ID:           "cover_open_unguarded",
		Severity:     SeverityWarning,
		SuggestedFix: "Add a presence or time condition before opening garage doors and gates.",
		Check:        coverOpenUnguarded,
	},
	{
		ID:           "climate_extreme_setpoint",
		Severity:     SeverityWarning,
		SuggestedFix: "Keep temperature setpoints within a comfortable range.",
		Check:        climateExtremeSetpoint,
	},
	{
		ID:           "high_frequency_trigger",
		Severity:     SeverityWarning,
		SuggestedFix: "Trigger on state changes or use an interval of several minutes.",
		Check:        highFrequencyTrigger,
	},
	{
		ID:           "valve_open_without_close",
		Severity:     SeverityWarning,
		SuggestedFix: "Add a delay followed by a close action for the same valve.",
		Check:        valveOpenWithoutClose,
	},
	{
		ID:           "broadcast_target",
		Severity:     SeverityWarning,
		SuggestedFix: "Target specific entities, areas or labels instead of all.",
		Check:        broadcastTarget,
	},
}

// CheckSafety evaluates the rule set and returns the score and issues.
func CheckSafety(p *automation.Plan, cfg SafetyConfig) (int, []SafetyIssue) {
	disabled := map[string]bool{}
	for _, id := range cfg.Disabled {
		disabled[id] = true
	}

	var issues []SafetyIssue
	penalty := 0
	for _, rule := range SafetyRules {
		if disabled[rule.ID] {
			continue
		}
		severity := rule.Severity
		if o, ok := cfg.SeverityOverrides[rule.ID]; ok && (o == SeverityError || o == SeverityWarning) {
			severity = o
		}
		for _, v := range rule.Check(p, cfg) {
			issues = append(issues, SafetyIssue{
				Rule:         rule.ID,
				Severity:     severity,
				Path:         v.path,
				Message:      v.message,
				SuggestedFix: rule.SuggestedFix,
			})
			if severity == SeverityError {
				penalty += ErrorWeight
			} else {
				penalty += WarningWeight
			}
		}
	}
	return max(0, 100-penalty), issues
}

// ---------------------------------------------------------------------------
// Rules
// ---------------------------------------------------------------------------

// guarded reports whether an action sits behind a condition: the plan has
// top-level conditions or the action is inside a choose option or if block.
func guarded(p *automation.Plan, path string) bool {
	return len(p.Conditions) > 0 ||
		strings.Contains(path, ".choose[") ||
		strings.Contains(path, ".then[") ||
		strings.Contains(path, ".else[")
}

func unguardedService(services ...string) func(*automation.Plan, SafetyConfig) []violation {
	return func(p *automation.Plan, _ SafetyConfig) []violation {
		var out []violation
		automation.WalkActions(p.Actions, func(path string, a *automation.Action) {
			for _, s := range services {
				if a.Service == s && !guarded(p, path) {
					out = append(out, violation{path, fmt.Sprintf("%s runs without any condition", a.Service)})
				}
			}
		})
		return out
	}
}

var securityKeywords = []string{"security", "alarm", "lock", "intrusion", "camera"}

func disablesSecurityAutomation(p *automation.Plan, _ SafetyConfig) []violation {
	var out []violation
	automation.WalkActions(p.Actions, func(path string, a *automation.Action) {
		if a.Service != "automation.turn_off" && a.Service != "homeassistant.turn_off" {
			return
		}
		for _, id := range a.Entities() {
			if strings.HasPrefix(id, "automation.") && keywordIn(id, securityKeywords) {
				out = append(out, violation{path, fmt.Sprintf("turns off security automation %s", id)})
			}
		}
	})
	return out
}

var accessKeywords = []string{"garage", "gate", "door"}

func coverOpenUnguarded(p *automation.Plan, _ SafetyConfig) []violation {
	var out []violation
	automation.WalkActions(p.Actions, func(path string, a *automation.Action) {
		if a.Service != "cover.open_cover" || guarded(p, path) {
			return
		}
		for _, id := range a.Entities() {
			if keywordIn(id, accessKeywords) {
				out = append(out, violation{path, fmt.Sprintf("opens %s without any condition", id)})
			}
		}
	})
	return out
}

func climateExtremeSetpoint(p *automation.Plan, cfg SafetyConfig) []violation {
	var out []violation
	automation.WalkActions(p.Actions, func(path string, a *automation.Action) {
		if a.Service != "climate.set_temperature" {
			return
		}
		for _, key := range []string{"temperature", "target_temp_low", "target_temp_high"} {
			v, ok := numeric(a.Data[key])
			if !ok {
				continue
			}
			if v < cfg.MinTemperature || v > cfg.MaxTemperature {
				out = append(out, violation{keyPath(path, "data."+key),
					fmt.Sprintf("setpoint %v is outside %v-%v", v, cfg.MinTemperature, cfg.MaxTemperature)})
			}
		}
	})
	return out
}

func highFrequencyTrigger(p *automation.Plan, _ SafetyConfig) []violation {
	var out []violation
	for i, t := range p.Triggers {
		if t.Platform != automation.PlatformTimePattern {
			continue
		}
		path := indexPath("trigger", i)
		seconds := fmt.Sprint(t.Seconds)
		minutes := fmt.Sprint(t.Minutes)
		switch {
		case t.Seconds != nil && seconds != "0" && seconds != "00":
			out = append(out, violation{path, fmt.Sprintf("fires on seconds pattern %q", seconds)})
		case t.Minutes != nil && (minutes == "*" || minutes == "/1"):
			out = append(out, violation{path, "fires every minute"})
		}
	}
	return out
}

var valveKeywords = []string{"valve", "water", "sprinkler", "irrigation"}

func valveOpenWithoutClose(p *automation.Plan, _ SafetyConfig) []violation {
	opened := map[string]string{}
	closed := map[string]bool{}
	var order []string
	automation.WalkActions(p.Actions, func(path string, a *automation.Action) {
		for _, id := range a.Entities() {
			switch {
			case a.Service == "valve.open_valve" || (a.Service == "switch.turn_on" && keywordIn(id, valveKeywords)):
				if _, ok := opened[id]; !ok {
					opened[id] = path
					order = append(order, id)
				}
			case a.Service == "valve.close_valve" || a.Service == "switch.turn_off":
				closed[id] = true
			}
		}
	})
	var out []violation
	for _, id := range order {
		if !closed[id] {
			out = append(out, violation{opened[id], fmt.Sprintf("opens %s but never closes it", id)})
		}
	}
	return out
}

func broadcastTarget(p *automation.Plan, _ SafetyConfig) []violation {
	var out []violation
	automation.WalkActions(p.Actions, func(path string, a *automation.Action) {
		all := a.EntityID.Contains("all")
		if a.Target != nil {
			all = all || a.Target.EntityID.Contains("all") || a.Target.AreaID.Contains("all")
		}
		if all {
			out = append(out, violation{path, fmt.Sprintf("%s targets every entity", a.Service)})
		}
	})
	return out
}

func keywordIn(s string, keywords []string) bool {
	s = strings.ToLower(s)
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
