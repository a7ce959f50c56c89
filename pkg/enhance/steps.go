package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
	"github.com/wtthornton/HomeIQ-sub005/pkg/hass"
)

var errDisabled = errors.New("disabled by configuration")

// step is one link of the chain. fn mutates its own copy of the plan.
type step struct {
	name string
	fn   func(ctx context.Context, r *run, p *automation.Plan) error
}

// steps run in this order. Later steps read what earlier ones wrote: tags
// see the actions after error handling, labels see targets after area
// collapsing.
var steps = []step{
	{"initial_state", ensureInitialState},
	{"mode", determineMode},
	{"max_exceeded", determineMaxExceeded},
	{"error_handling", addErrorHandling},
	{"availability_conditions", addAvailabilityConditions},
	{"description", enhanceDescription},
	{"tags", determineTags},
	{"target_optimization", optimizeTargets},
	{"label_optimization", optimizeLabels},
	{"preferences", applyPreferences},
}

// run holds the oracle answers of one Apply call so each oracle is asked
// at most once.
type run struct {
	c      *Chain
	logger *slog.Logger

	registryLoaded bool
	registry       map[string]hass.RegistryEntry
	registryErr    error

	statesLoaded bool
	states       map[string]hass.State
	statesErr    error
}

func (r *run) entityRegistry(ctx context.Context) (map[string]hass.RegistryEntry, error) {
	if r.c.registry == nil {
		return nil, ErrRegistryUnavailable
	}
	if !r.registryLoaded {
		r.registry, r.registryErr = r.c.registry.EntityRegistry(ctx)
		r.registryLoaded = true
	}
	return r.registry, r.registryErr
}

func (r *run) stateMap(ctx context.Context) (map[string]hass.State, error) {
	if r.c.states == nil {
		return nil, errNoStates
	}
	if !r.statesLoaded {
		r.statesLoaded = true
		list, err := r.c.states.GetStates(ctx)
		if err != nil {
			r.statesErr = fmt.Errorf("load states: %w", err)
			r.logger.Warn("state source failed; using entity ids as names", slog.String("error", err.Error()))
		} else {
			r.states = make(map[string]hass.State, len(list))
			for _, st := range list {
				r.states[st.EntityID] = st
			}
		}
	}
	return r.states, r.statesErr
}

// name returns the friendly name of an entity, falling back to its object
// id when no state is known.
func (r *run) name(ctx context.Context) func(string) string {
	states, _ := r.stateMap(ctx)
	return func(id string) string {
		if st, ok := states[id]; ok {
			return st.FriendlyName()
		}
		return hass.State{EntityID: id}.FriendlyName()
	}
}

// ---------------------------------------------------------------------------
// Run defaults
// ---------------------------------------------------------------------------

func ensureInitialState(_ context.Context, _ *run, p *automation.Plan) error {
	if p.InitialState == nil {
		on := true
		p.InitialState = &on
	}
	return nil
}

func determineMode(_ context.Context, _ *run, p *automation.Plan) error {
	if p.Mode != "" && p.Mode != automation.ModeSingle {
		return nil
	}
	p.Mode = automation.DetermineMode(p.Triggers, p.Actions, p.Description)
	return nil
}

func determineMaxExceeded(_ context.Context, _ *run, p *automation.Plan) error {
	if p.MaxExceeded == "" {
		p.MaxExceeded = automation.DetermineMaxExceeded(p.Triggers, p.Actions, p.EffectiveMode())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Error handling
// ---------------------------------------------------------------------------

// guardAlias names the choose option that wraps a guarded action.
const guardAlias = "entities available"

func addErrorHandling(_ context.Context, r *run, p *automation.Plan) error {
	critical := r.c.cfg.CriticalKeywords
	if r.c.cfg.UseChooseBlocks {
		p.Actions = guardActions(p.Actions, critical)
		return nil
	}
	automation.WalkActions(p.Actions, func(_ string, a *automation.Action) {
		if a.Kind() != automation.KindService || hasErrorPolicy(a) || isCritical(a, critical) {
			return
		}
		on := true
		a.ContinueOnError = &on
	})
	return nil
}

// isCritical matches keywords against whole segments of the service and
// entity ids: the full id, the domain, the object id, and their
// underscore-separated words. "lock" matches lock.unlock but not
// switch.clock_led.
func isCritical(a *automation.Action, keywords []string) bool {
	words := idWords(a.Service)
	for _, id := range a.Entities() {
		for w := range idWords(id) {
			words[w] = true
		}
	}
	for _, k := range keywords {
		if words[strings.ToLower(k)] {
			return true
		}
	}
	return false
}

func idWords(id string) map[string]bool {
	id = strings.ToLower(id)
	words := map[string]bool{id: true}
	for _, seg := range strings.Split(id, ".") {
		words[seg] = true
		for _, w := range strings.Split(seg, "_") {
			words[w] = true
		}
	}
	delete(words, "")
	return words
}

func hasCritical(actions []automation.Action, keywords []string) bool {
	found := false
	automation.WalkActions(actions, func(_ string, a *automation.Action) {
		found = found || (a.Kind() == automation.KindService && isCritical(a, keywords))
	})
	return found
}

func hasErrorPolicy(a *automation.Action) bool {
	return a.ContinueOnError != nil || a.Error != ""
}

func isGuard(a *automation.Action) bool {
	return len(a.Choose) == 1 && a.Choose[0].Alias == guardAlias
}

// guardActions wraps every non-critical service call that addresses
// entities in a choose block that runs it only while the entities are
// available and logs a warning otherwise.
func guardActions(actions []automation.Action, critical []string) []automation.Action {
	if len(actions) == 0 {
		return actions
	}
	out := make([]automation.Action, 0, len(actions))
	for _, a := range actions {
		switch {
		case isGuard(&a):
		case a.Kind() == automation.KindService:
			if ids := literalEntities(&a); len(ids) > 0 && !isCritical(&a, critical) && !hasErrorPolicy(&a) {
				a = wrapInGuard(a, ids)
			}
		default:
			for j := range a.Choose {
				a.Choose[j].Sequence = guardActions(a.Choose[j].Sequence, critical)
			}
			a.Default = guardActions(a.Default, critical)
			a.Then = guardActions(a.Then, critical)
			a.Else = guardActions(a.Else, critical)
			a.Parallel = guardActions(a.Parallel, critical)
			a.Sequence = guardActions(a.Sequence, critical)
			if a.Repeat != nil {
				a.Repeat.Sequence = guardActions(a.Repeat.Sequence, critical)
			}
		}
		out = append(out, a)
	}
	return out
}

func wrapInGuard(a automation.Action, ids []string) automation.Action {
	return automation.Action{
		Choose: []automation.Option{{
			Alias:      guardAlias,
			Conditions: []automation.Condition{availability(ids)},
			Sequence:   []automation.Action{a},
		}},
		Default: []automation.Action{{
			Service: "system_log.write",
			Data: map[string]any{
				"message": fmt.Sprintf("%s skipped: %s unavailable", a.Service, strings.Join(ids, ", ")),
				"level":   "warning",
			},
		}},
	}
}

// availability is a template condition that holds while every id has a
// usable state.
func availability(ids []string) automation.Condition {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("states('%s') not in ['unavailable', 'unknown']", id)
	}
	return automation.Condition{
		Condition:     automation.ConditionTemplate,
		ValueTemplate: "{{ " + strings.Join(parts, " and ") + " }}",
	}
}

// literalEntities returns the action's entity ids without the all/none
// keywords.
func literalEntities(a *automation.Action) []string {
	var out []string
	for _, id := range a.Entities() {
		if id != "all" && id != "none" {
			out = append(out, id)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Availability conditions
// ---------------------------------------------------------------------------

func addAvailabilityConditions(ctx context.Context, r *run, p *automation.Plan) error {
	if !r.c.cfg.AddAvailabilityConditions {
		return errDisabled
	}
	states, err := r.stateMap(ctx)
	if err != nil {
		return err
	}
	// A top-level condition gates every action, critical ones included.
	if hasCritical(p.Actions, r.c.cfg.CriticalKeywords) {
		r.logger.Debug("automation has critical actions; no top-level availability condition")
		return nil
	}

	seen := map[string]bool{}
	var ids []string
	automation.WalkActions(p.Actions, func(_ string, a *automation.Action) {
		for _, id := range literalEntities(a) {
			if seen[id] {
				continue
			}
			seen[id] = true
			if _, ok := states[id]; !ok {
				r.logger.Warn("skipping availability condition for unknown entity", slog.String("entity_id", id))
				continue
			}
			ids = append(ids, id)
		}
	})
	if len(ids) == 0 {
		return nil
	}

	cond := availability(ids)
	for _, c := range p.Conditions {
		if c.Condition == cond.Condition && c.ValueTemplate == cond.ValueTemplate {
			return nil
		}
	}
	p.Conditions = append(p.Conditions, cond)
	return nil
}

// ---------------------------------------------------------------------------
// Description and tags
// ---------------------------------------------------------------------------

func enhanceDescription(ctx context.Context, r *run, p *automation.Plan) error {
	if p.Description != "" && len(p.Description) >= r.c.cfg.DescriptionThreshold {
		return nil
	}
	summary := describe(p, r.name(ctx))
	switch {
	case summary == "" || strings.Contains(p.Description, summary):
	case p.Description == "":
		p.Description = summary
	default:
		p.Description = strings.TrimRight(p.Description, ". ") + ". " + summary
	}
	return nil
}

func determineTags(_ context.Context, r *run, p *automation.Plan) error {
	var words []string
	for _, t := range p.Triggers {
		words = append(words, t.EntityID...)
	}
	p.WalkAllConditions(func(_ string, c *automation.Condition) {
		words = append(words, c.EntityID...)
	})
	automation.WalkActions(p.Actions, func(_ string, a *automation.Action) {
		words = append(words, a.Service)
		words = append(words, a.Entities()...)
	})

	categories := matchTags(r.c.cfg.TagRules, strings.Join(words, " "))
	if len(categories) == 0 {
		categories = []string{TagConvenience}
	}
	p.Tags = mergeTags(p.Tags, append([]string{TagGenerated}, categories...))
	return nil
}

// mergeTags appends the tags of add missing from existing.
func mergeTags(existing, add []string) []string {
	out := append([]string(nil), existing...)
	for _, t := range add {
		found := false
		for _, e := range out {
			found = found || e == t
		}
		if !found {
			out = append(out, t)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Target optimization
// ---------------------------------------------------------------------------

// collapsible returns the entity ids of a service call that addresses two
// or more entities of one domain by id only, plus that domain.
func collapsible(a *automation.Action) ([]string, string, bool) {
	if a.Kind() != automation.KindService {
		return nil, "", false
	}
	if t := a.Target; t != nil && len(t.AreaID)+len(t.DeviceID)+len(t.LabelID)+len(t.FloorID) > 0 {
		return nil, "", false
	}
	ids := a.Entities()
	if len(ids) < 2 || len(literalEntities(a)) != len(ids) {
		return nil, "", false
	}
	domain := hass.Domain(ids[0])
	for _, id := range ids {
		if hass.Domain(id) != domain {
			return nil, "", false
		}
	}
	return ids, domain, true
}

// covers reports whether the registry entities of domain selected by keep
// are exactly ids, so a broader selector addresses the same entities.
func covers(reg map[string]hass.RegistryEntry, ids []string, domain string, keep func(hass.RegistryEntry) bool) bool {
	want := map[string]bool{}
	for _, id := range ids {
		e, ok := reg[id]
		if !ok || !keep(e) {
			return false
		}
		want[id] = true
	}
	for id, e := range reg {
		if hass.Domain(id) == domain && keep(e) && !want[id] {
			return false
		}
	}
	return true
}

func retarget(a *automation.Action, t *automation.Target) {
	a.EntityID = nil
	a.Target = t
}

// optimizeTargets replaces an entity list with a single area, or failing
// that a single device, when the registry shows that selector addresses
// exactly those entities of the domain. Sharing one area is not enough on
// its own: another entity of the domain in that area blocks the collapse.
func optimizeTargets(ctx context.Context, r *run, p *automation.Plan) error {
	reg, err := r.entityRegistry(ctx)
	if err != nil {
		return err
	}
	automation.WalkActions(p.Actions, func(path string, a *automation.Action) {
		ids, domain, ok := collapsible(a)
		if !ok {
			return
		}
		if first, ok := reg[ids[0]]; ok && first.AreaID != "" {
			area := first.AreaID
			if covers(reg, ids, domain, func(e hass.RegistryEntry) bool { return e.AreaID == area }) {
				retarget(a, &automation.Target{AreaID: automation.StringList{area}})
				r.logger.Debug("collapsed target to area", slog.String("path", path), slog.String("area_id", area))
				return
			}
		}
		if first, ok := reg[ids[0]]; ok && first.DeviceID != "" {
			device := first.DeviceID
			if covers(reg, ids, domain, func(e hass.RegistryEntry) bool { return e.DeviceID == device }) {
				retarget(a, &automation.Target{DeviceID: automation.StringList{device}})
				r.logger.Debug("collapsed target to device", slog.String("path", path), slog.String("device_id", device))
			}
		}
	})
	return nil
}

// optimizeLabels replaces an entity list with the best-scoring label whose
// registry members of the domain are exactly those entities. A label that
// also covers other entities of the domain is never chosen.
func optimizeLabels(ctx context.Context, r *run, p *automation.Plan) error {
	reg, err := r.entityRegistry(ctx)
	if err != nil {
		return err
	}
	scorer := LabelScorer{KeywordBonus: r.c.cfg.LabelBonus, Generic: r.c.cfg.GenericLabels}
	automation.WalkActions(p.Actions, func(path string, a *automation.Action) {
		ids, domain, ok := collapsible(a)
		if !ok {
			return
		}
		var candidates []string
		for _, label := range commonLabels(reg, ids) {
			if covers(reg, ids, domain, func(e hass.RegistryEntry) bool { return hasLabel(e, label) }) {
				candidates = append(candidates, label)
			}
		}
		if best := scorer.Best(candidates, domain); best != "" {
			retarget(a, &automation.Target{LabelID: automation.StringList{best}})
			r.logger.Debug("collapsed target to label", slog.String("path", path), slog.String("label_id", best))
		}
	})
	return nil
}

func commonLabels(reg map[string]hass.RegistryEntry, ids []string) []string {
	first, ok := reg[ids[0]]
	if !ok {
		return nil
	}
	var out []string
	for _, label := range first.Labels {
		shared := true
		for _, id := range ids[1:] {
			shared = shared && hasLabel(reg[id], label)
		}
		if shared {
			out = append(out, label)
		}
	}
	return out
}

func hasLabel(e hass.RegistryEntry, label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Preferences and voice hints
// ---------------------------------------------------------------------------

func applyPreferences(ctx context.Context, r *run, p *automation.Plan) error {
	pref := r.c.cfg.Preferences
	if pref.Mode != "" {
		p.Mode = pref.Mode
	}
	if pref.MaxExceeded != "" {
		p.MaxExceeded = pref.MaxExceeded
	}
	if pref.InitialState != nil {
		v := *pref.InitialState
		p.InitialState = &v
	}
	p.Tags = mergeTags(p.Tags, pref.ExtraTags)
	p.Metadata["voice_hints"] = voiceHints(p, r.name(ctx))
	return nil
}
