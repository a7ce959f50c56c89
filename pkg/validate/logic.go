package validate

import (
	"fmt"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
	"github.com/wtthornton/HomeIQ-sub005/pkg/eval"
)

// checkLogic finds automations that can never fire or whose conditions can
// never hold. Every finding is a warning; the pipeline may elevate them.
func checkLogic(p *automation.Plan, engine *eval.Engine) []*Finding {
	var out []*Finding

	allDisabled := len(p.Triggers) > 0
	for i, t := range p.Triggers {
		path := indexPath("trigger", i)
		if t.Enabled == nil || *t.Enabled {
			allDisabled = false
		}
		if t.Platform == automation.PlatformNumericState && impossibleRange(t.Above, t.Below) {
			out = append(out, warningf(StageLogic, path, "above (%s) is not below below (%s); trigger can never fire", thresholdText(t.Above), thresholdText(t.Below)))
		}
		if t.Platform == automation.PlatformState && len(t.From) > 0 && sameSet(t.From, t.To) {
			out = append(out, warningf(StageLogic, path, "from and to are identical; trigger can never fire"))
		}
		if t.ValueTemplate != "" {
			out = append(out, checkTemplate(engine, keyPath(path, "value_template"), t.ValueTemplate)...)
		}
	}
	if allDisabled {
		out = append(out, warningf(StageLogic, "trigger", "every trigger is disabled; automation can never fire"))
	}

	p.WalkAllConditions(func(path string, c *automation.Condition) {
		switch c.Condition {
		case automation.ConditionNot:
			if len(c.Conditions) != 1 {
				out = append(out, warningf(StageLogic, path, "not must wrap exactly one condition, got %d; it always evaluates to false", len(c.Conditions)))
			}
		case automation.ConditionOr:
			if len(c.Conditions) == 0 {
				out = append(out, warningf(StageLogic, path, "empty or block is always false"))
			}
		case automation.ConditionAnd:
			out = append(out, contradictions(c.Conditions, keyPath(path, "conditions"))...)
		case automation.ConditionNumericState:
			if impossibleRange(c.Above, c.Below) {
				out = append(out, warningf(StageLogic, path, "above (%s) is not below below (%s); condition can never hold", thresholdText(c.Above), thresholdText(c.Below)))
			}
		}
		if c.ValueTemplate != "" {
			out = append(out, checkTemplate(engine, keyPath(path, "value_template"), c.ValueTemplate)...)
		}
	})
	out = append(out, contradictions(p.Conditions, "condition")...)

	automation.WalkActions(p.Actions, func(path string, a *automation.Action) {
		if a.WaitTemplate != "" {
			out = append(out, checkTemplate(engine, keyPath(path, "wait_template"), a.WaitTemplate)...)
		}
	})

	if len(p.Triggers) == 1 {
		out = append(out, triggerExcluded(p.Triggers[0], p.Conditions)...)
		out = append(out, triggerOutsideWindow(p.Triggers[0], p.Conditions)...)
	}
	return out
}

func checkTemplate(engine *eval.Engine, path, tmpl string) []*Finding {
	if err := engine.Check(tmpl); err != nil {
		return []*Finding{warningf(StageLogic, path, "template does not compile: %v", err)}
	}
	return nil
}

func impossibleRange(above, below *automation.Threshold) bool {
	return above != nil && below != nil && above.Value != nil && below.Value != nil && *above.Value >= *below.Value
}

func thresholdText(t *automation.Threshold) string {
	if t.Value != nil {
		return fmt.Sprint(*t.Value)
	}
	return t.EntityID
}

// contradictions reports AND-ed state conditions on the same entity whose
// accepted states do not overlap.
func contradictions(conds []automation.Condition, base string) []*Finding {
	var out []*Finding
	wanted := map[string]automation.StringList{}
	for i, c := range conds {
		if c.Condition != automation.ConditionState || c.Attribute != "" || len(c.EntityID) != 1 || len(c.State) == 0 {
			continue
		}
		id := c.EntityID[0]
		if prev, ok := wanted[id]; ok && !overlaps(prev, c.State) {
			out = append(out, warningf(StageLogic, indexPath(base, i), "%s cannot be both %v and %v; conditions can never all hold", id, []string(prev), []string(c.State)))
			continue
		}
		wanted[id] = c.State
	}
	return out
}

// triggerExcluded reports a state trigger whose target state is ruled out
// by a top-level state condition on the same entity.
func triggerExcluded(t automation.Trigger, conds []automation.Condition) []*Finding {
	if t.Platform != automation.PlatformState || len(t.To) == 0 || t.Attribute != "" {
		return nil
	}
	var out []*Finding
	for i, c := range conds {
		if c.Condition != automation.ConditionState || c.Attribute != "" || len(c.State) == 0 {
			continue
		}
		for _, id := range c.EntityID {
			if t.EntityID.Contains(id) && len(t.EntityID) == 1 && !overlaps(t.To, c.State) {
				out = append(out, warningf(StageLogic, indexPath("condition", i), "trigger fires when %s becomes %v but the condition requires %v", id, []string(t.To), []string(c.State)))
			}
		}
	}
	return out
}

// triggerOutsideWindow reports a time trigger that fires outside a
// top-level time condition window.
func triggerOutsideWindow(t automation.Trigger, conds []automation.Condition) []*Finding {
	if t.Platform != automation.PlatformTime || len(t.At) != 1 {
		return nil
	}
	at, err := automation.ParseTimeOfDay(t.At[0])
	if err != nil {
		return nil
	}
	var out []*Finding
	for i, c := range conds {
		if c.Condition != automation.ConditionTime || (c.After == "" && c.Before == "") {
			continue
		}
		after, errA := automation.ParseTimeOfDay(c.After)
		before, errB := automation.ParseTimeOfDay(c.Before)
		outside := false
		switch {
		case errA == nil && errB == nil && after <= before:
			outside = at < after || at > before
		case errA == nil && c.Before == "":
			outside = at < after
		case errB == nil && c.After == "":
			outside = at > before
		}
		if outside {
			out = append(out, warningf(StageLogic, indexPath("condition", i), "trigger at %s is outside the time window; automation can never run", t.At[0]))
		}
	}
	return out
}

func overlaps(a, b automation.StringList) bool {
	for _, v := range a {
		if b.Contains(v) {
			return true
		}
	}
	return false
}

func sameSet(a, b automation.StringList) bool {
	if len(a) != len(b) {
		return false
	}
	for _, v := range a {
		if !b.Contains(v) {
			return false
		}
	}
	return true
}
