// Package condition evaluates automation condition trees against live
// state. Evaluation is pure and recursive; a failing leaf evaluates to
// false and never propagates an error.
package condition

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
	"github.com/wtthornton/HomeIQ-sub005/pkg/eval"
	"github.com/wtthornton/HomeIQ-sub005/pkg/hass"
)

// Evaluator evaluates conditions. State lookups and templates go through
// the template engine so both share its TTL cache.
type Evaluator struct {
	engine *eval.Engine
	logger *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ev *Evaluator) { ev.logger = l }
}

// New returns an evaluator backed by engine.
func New(engine *eval.Engine, opts ...Option) *Evaluator {
	ev := &Evaluator{engine: engine, logger: slog.Default()}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// Evaluate reports whether every condition holds. An empty list holds.
func (ev *Evaluator) Evaluate(ctx context.Context, conds []automation.Condition, vars map[string]any) bool {
	for i := range conds {
		if !ev.EvaluateOne(ctx, &conds[i], vars) {
			return false
		}
	}
	return true
}

// EvaluateOne evaluates a single condition. A disabled condition holds, so
// it is a no-op in a top-level list; composites drop disabled children.
func (ev *Evaluator) EvaluateOne(ctx context.Context, c *automation.Condition, vars map[string]any) bool {
	if c.Enabled != nil && !*c.Enabled {
		return true
	}

	switch c.Condition {
	case automation.ConditionAnd:
		return ev.Evaluate(ctx, c.Conditions, vars)
	case automation.ConditionOr:
		for _, sub := range active(c.Conditions) {
			if ev.EvaluateOne(ctx, sub, vars) {
				return true
			}
		}
		return false
	case automation.ConditionNot:
		subs := active(c.Conditions)
		if len(subs) != 1 {
			ev.logger.Warn("not condition must wrap exactly one condition; evaluating to false",
				slog.Int("conditions", len(subs)))
			return false
		}
		return !ev.EvaluateOne(ctx, subs[0], vars)
	}
	return ev.leaf(ctx, c, vars)
}

// active drops disabled sub-conditions; they take no part in and, or and
// not.
func active(conds []automation.Condition) []*automation.Condition {
	out := make([]*automation.Condition, 0, len(conds))
	for i := range conds {
		if c := &conds[i]; c.Enabled == nil || *c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

// leaf runs one leaf check with the fail-closed policy.
func (ev *Evaluator) leaf(ctx context.Context, c *automation.Condition, vars map[string]any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ev.logger.Error("condition evaluation panicked",
				slog.String("condition", string(c.Condition)), slog.Any("panic", r))
			ok = false
		}
	}()

	var err error
	switch c.Condition {
	case automation.ConditionState:
		ok, err = ev.state(ctx, c)
	case automation.ConditionNumericState:
		ok, err = ev.numericState(ctx, c, vars)
	case automation.ConditionTime:
		ok, err = ev.timeWindow(ctx, c)
	case automation.ConditionTemplate:
		ok, err = ev.engine.RenderBool(ctx, c.ValueTemplate, vars)
	case automation.ConditionZone:
		ok, err = ev.zone(ctx, c)
	case automation.ConditionDevice:
		ok, err = ev.device(ctx, c)
	case automation.ConditionSun:
		ok, err = ev.sun(ctx, c)
	case automation.ConditionTrigger:
		ok, err = triggerID(c, vars)
	default:
		err = fmt.Errorf("unsupported condition %q", c.Condition)
	}
	if err != nil {
		ev.logger.Debug("condition evaluated to false",
			slog.String("condition", string(c.Condition)), slog.Any("error", err))
		return false
	}
	return ok
}

// ---------------------------------------------------------------------------
// Leaf conditions
// ---------------------------------------------------------------------------

func (ev *Evaluator) state(ctx context.Context, c *automation.Condition) (bool, error) {
	if len(c.EntityID) == 0 {
		return false, fmt.Errorf("state condition without entity_id")
	}
	return ev.forEntities(c, func(id string) (bool, error) {
		st, err := ev.lookup(ctx, id)
		if err != nil {
			return false, err
		}
		current := st.State
		if c.Attribute != "" {
			current = fmt.Sprint(st.Attributes[c.Attribute])
		}
		if !c.State.Contains(current) {
			return false, nil
		}
		if c.For == nil {
			return true, nil
		}
		hold, err := automation.ParseDuration(c.For)
		if err != nil {
			return false, err
		}
		return !st.LastChanged.IsZero() && ev.engine.Now().Sub(st.LastChanged) >= hold, nil
	})
}

func (ev *Evaluator) numericState(ctx context.Context, c *automation.Condition, vars map[string]any) (bool, error) {
	if len(c.EntityID) == 0 {
		return false, fmt.Errorf("numeric_state condition without entity_id")
	}
	return ev.forEntities(c, func(id string) (bool, error) {
		st, err := ev.lookup(ctx, id)
		if err != nil {
			return false, err
		}
		raw := st.State
		if c.Attribute != "" {
			raw = fmt.Sprint(st.Attributes[c.Attribute])
		}
		if c.ValueTemplate != "" {
			scope := make(map[string]any, len(vars)+1)
			for k, v := range vars {
				scope[k] = v
			}
			scope["state"] = map[string]any{"entity_id": st.EntityID, "state": st.State, "attributes": st.Attributes}
			raw, err = ev.engine.Render(ctx, c.ValueTemplate, scope)
			if err != nil {
				return false, err
			}
		}
		current, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return false, fmt.Errorf("%s: state %q is not numeric", id, raw)
		}
		return ev.withinBounds(ctx, current, c.Above, c.Below)
	})
}

// withinBounds applies the exclusive above/below bounds.
func (ev *Evaluator) withinBounds(ctx context.Context, current float64, above, below *automation.Threshold) (bool, error) {
	if above != nil {
		limit, err := ev.threshold(ctx, above)
		if err != nil {
			return false, err
		}
		if current <= limit {
			return false, nil
		}
	}
	if below != nil {
		limit, err := ev.threshold(ctx, below)
		if err != nil {
			return false, err
		}
		if current >= limit {
			return false, nil
		}
	}
	return true, nil
}

func (ev *Evaluator) threshold(ctx context.Context, t *automation.Threshold) (float64, error) {
	if t.Value != nil {
		return *t.Value, nil
	}
	st, err := ev.lookup(ctx, t.EntityID)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(st.State, 64)
	if err != nil {
		return 0, fmt.Errorf("threshold %s: state %q is not numeric", t.EntityID, st.State)
	}
	return f, nil
}

var weekdays = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

func (ev *Evaluator) timeWindow(ctx context.Context, c *automation.Condition) (bool, error) {
	now := ev.engine.Now()
	if len(c.Weekday) > 0 && !c.Weekday.Contains(weekdays[now.Weekday()]) {
		return false, nil
	}
	current := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute + time.Duration(now.Second())*time.Second

	if c.After != "" {
		after, err := ev.timeOfDay(ctx, c.After)
		if err != nil {
			return false, err
		}
		if after > current {
			return false, nil
		}
	}
	if c.Before != "" {
		before, err := ev.timeOfDay(ctx, c.Before)
		if err != nil {
			return false, err
		}
		if before < current {
			return false, nil
		}
	}
	return true, nil
}

// timeOfDay accepts a literal "HH:MM[:SS]" or an entity whose state is one.
func (ev *Evaluator) timeOfDay(ctx context.Context, v string) (time.Duration, error) {
	if d, err := automation.ParseTimeOfDay(v); err == nil {
		return d, nil
	}
	if !strings.Contains(v, ".") {
		return 0, fmt.Errorf("invalid time %q", v)
	}
	st, err := ev.lookup(ctx, v)
	if err != nil {
		return 0, err
	}
	return automation.ParseTimeOfDay(st.State)
}

func (ev *Evaluator) zone(ctx context.Context, c *automation.Condition) (bool, error) {
	if c.Zone == "" || len(c.EntityID) == 0 {
		return false, fmt.Errorf("zone condition needs entity_id and zone")
	}
	zone, err := ev.lookup(ctx, c.Zone)
	if err != nil {
		return false, err
	}
	zlat, zlon, ok := coordinates(zone)
	radius, rok := number(zone.Attributes["radius"])
	if !ok || !rok {
		return false, fmt.Errorf("zone %s has no coordinates", c.Zone)
	}
	return ev.forEntities(c, func(id string) (bool, error) {
		st, err := ev.lookup(ctx, id)
		if err != nil {
			return false, err
		}
		lat, lon, ok := coordinates(st)
		if !ok {
			return false, fmt.Errorf("%s has no coordinates", id)
		}
		return haversine(lat, lon, zlat, zlon) <= radius, nil
	})
}

func (ev *Evaluator) device(ctx context.Context, c *automation.Condition) (bool, error) {
	var want string
	switch c.Type {
	case "is_on":
		want = "on"
	case "is_off":
		want = "off"
	default:
		return false, fmt.Errorf("unsupported device condition type %q", c.Type)
	}
	if len(c.EntityID) == 0 {
		return false, fmt.Errorf("device condition without entity_id")
	}
	return ev.forEntities(c, func(id string) (bool, error) {
		st, err := ev.lookup(ctx, id)
		if err != nil {
			return false, err
		}
		return st.State == want, nil
	})
}

// sun maps sunrise/sunset bounds onto the sun.sun horizon state.
func (ev *Evaluator) sun(ctx context.Context, c *automation.Condition) (bool, error) {
	st, err := ev.lookup(ctx, "sun.sun")
	if err != nil {
		return false, err
	}
	above := st.State == "above_horizon"
	check := func(bound string, aboveWhen string) (bool, error) {
		switch bound {
		case "":
			return true, nil
		case "sunrise", "sunset":
			return above == (bound == aboveWhen), nil
		}
		return false, fmt.Errorf("invalid sun bound %q", bound)
	}
	afterOK, err := check(c.After, "sunrise")
	if err != nil || !afterOK {
		return false, err
	}
	return check(c.Before, "sunset")
}

func triggerID(c *automation.Condition, vars map[string]any) (bool, error) {
	trig, ok := vars["trigger"].(map[string]any)
	if !ok {
		return false, fmt.Errorf("trigger condition outside a triggered run")
	}
	return c.ID.Contains(fmt.Sprint(trig["id"])), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (ev *Evaluator) lookup(ctx context.Context, id string) (hass.State, error) {
	st, found, err := ev.engine.State(ctx, id)
	if err != nil {
		return hass.State{}, err
	}
	if !found {
		return hass.State{}, fmt.Errorf("entity %s not found", id)
	}
	return st, nil
}

// forEntities requires check to hold for every entity, or for any entity
// when match is "any".
func (ev *Evaluator) forEntities(c *automation.Condition, check func(string) (bool, error)) (bool, error) {
	anyMatch := c.Match == "any"
	for _, id := range c.EntityID {
		ok, err := check(id)
		if err != nil {
			return false, err
		}
		if anyMatch && ok {
			return true, nil
		}
		if !anyMatch && !ok {
			return false, nil
		}
	}
	return !anyMatch, nil
}

func coordinates(st hass.State) (float64, float64, bool) {
	lat, ok1 := number(st.Attributes["latitude"])
	lon, ok2 := number(st.Attributes["longitude"])
	return lat, lon, ok1 && ok2
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

const earthRadiusMeters = 6371000

// haversine returns the great-circle distance in meters.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}
