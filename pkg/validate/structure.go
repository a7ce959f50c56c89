package validate

import (
	"bytes"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
	"github.com/wtthornton/HomeIQ-sub005/pkg/eval"
)

// StructureResult is the outcome of the structural check. FixedText is set
// only when at least one auto-fix was applied; later stages must use it in
// place of the input.
type StructureResult struct {
	Valid     bool     `json:"valid"`
	Errors    []string `json:"errors"`
	Warnings  []string `json:"warnings"`
	FixedText string   `json:"fixed_text,omitempty"`
}

// CheckStructure confirms the document has the Home Assistant automation
// shape and applies the non-destructive fixes it can: plural keys become
// singular, new-style trigger/action discriminators become platform and
// service, single mappings become one-item lists, and missing platform or
// condition keys are inferred when unambiguous. Running it again on
// FixedText applies no further fix.
func CheckStructure(text string) StructureResult {
	doc, err := parseSyntax(text)
	if err != nil {
		return StructureResult{Errors: []string{err.Error()}, Warnings: []string{}}
	}
	findings, fixed := checkStructure(doc)
	res := StructureResult{Errors: []string{}, Warnings: []string{}}
	for _, f := range findings {
		if f.Severity == SeverityError {
			res.Errors = append(res.Errors, f.text())
		} else {
			res.Warnings = append(res.Warnings, f.text())
		}
	}
	res.Valid = len(res.Errors) == 0
	if fixed {
		out, err := encodeNode(doc)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			res.Valid = false
			return res
		}
		res.FixedText = out
	}
	return res
}

func encodeNode(doc *yaml.Node) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// structFixer accumulates findings while rewriting the node tree in place.
type structFixer struct {
	findings []*Finding
	fixed    bool
}

func (f *structFixer) fix(path, msg string, args ...any) {
	f.fixed = true
	f.findings = append(f.findings, warningf(StageStructure, path, "auto-fixed: "+msg, args...))
}

func (f *structFixer) fail(path, msg string, args ...any) {
	f.findings = append(f.findings, errorf(StageStructure, path, msg, args...))
}

var pluralKeys = [][2]string{
	{"triggers", "trigger"},
	{"conditions", "condition"},
	{"actions", "action"},
}

func checkStructure(doc *yaml.Node) ([]*Finding, bool) {
	f := &structFixer{}
	root := doc.Content[0]
	if root.Kind == yaml.SequenceNode && len(root.Content) == 1 && root.Content[0].Kind == yaml.MappingNode {
		doc.Content[0] = root.Content[0]
		root = doc.Content[0]
		f.fix("", "unwrapped single-automation list")
	}
	if root.Kind != yaml.MappingNode {
		f.fail("", "automation must be a mapping")
		return f.findings, f.fixed
	}

	for _, pair := range pluralKeys {
		plural, singular := pair[0], pair[1]
		_, pi := mapGet(root, plural)
		if pi < 0 {
			continue
		}
		if _, si := mapGet(root, singular); si >= 0 {
			f.fail(plural, "both %q and %q are present", singular, plural)
			continue
		}
		root.Content[pi].Value = singular
		f.fix(plural, "renamed %q to %q", plural, singular)
	}

	if trig, _ := mapGet(root, "trigger"); trig == nil {
		f.fail("trigger", "missing required key")
	} else {
		f.triggerList(trig, "trigger")
	}
	if cond, _ := mapGet(root, "condition"); cond != nil {
		f.conditionList(cond, "condition")
	}
	if act, _ := mapGet(root, "action"); act == nil {
		f.fail("action", "missing required key")
	} else {
		f.actionList(act, "action")
	}
	return f.findings, f.fixed
}

// ---------------------------------------------------------------------------
// Triggers
// ---------------------------------------------------------------------------

func (f *structFixer) triggerList(n *yaml.Node, path string) {
	if n.Kind == yaml.MappingNode {
		wrapInSequence(n)
		f.fix(path, "wrapped single trigger in a list")
	}
	if n.Kind != yaml.SequenceNode {
		f.fail(path, "must be a list of triggers")
		return
	}
	if len(n.Content) == 0 {
		f.fail(path, "at least one trigger is required")
		return
	}
	for i, item := range n.Content {
		f.triggerItem(item, indexPath(path, i))
	}
}

func (f *structFixer) triggerItem(m *yaml.Node, path string) {
	if m.Kind != yaml.MappingNode {
		f.fail(path, "trigger must be a mapping")
		return
	}
	if mapHas(m, "platform") {
		return
	}
	if _, i := mapGet(m, "trigger"); i >= 0 {
		m.Content[i].Value = "platform"
		f.fix(path, "renamed %q to %q", "trigger", "platform")
		return
	}
	p, ok := InferPlatform(m)
	if !ok {
		f.fail(path, "missing 'platform' and it cannot be inferred")
		return
	}
	mapPrepend(m, "platform", string(p))
	f.fix(path, "inferred platform %q", p)
}

// InferPlatform guesses the trigger platform from the keys present.
func InferPlatform(m *yaml.Node) (automation.Platform, bool) {
	event, _ := mapGet(m, "event")
	switch {
	case mapHas(m, "at"):
		return automation.PlatformTime, true
	case mapHasAny(m, "hours", "minutes", "seconds"):
		return automation.PlatformTimePattern, true
	case event != nil && (event.Value == "sunrise" || event.Value == "sunset") && !mapHas(m, "entity_id"):
		return automation.PlatformSun, true
	case mapHas(m, "event_type"):
		return automation.PlatformEvent, true
	case mapHas(m, "webhook_id"):
		return automation.PlatformWebhook, true
	case mapHas(m, "topic"):
		return automation.PlatformMQTT, true
	case mapHas(m, "source", "event"):
		return automation.PlatformGeoLocation, true
	case mapHas(m, "zone", "entity_id"):
		return automation.PlatformZone, true
	case mapHas(m, "device_id", "domain", "type"):
		return automation.PlatformDevice, true
	case mapHas(m, "entity_id") && mapHasAny(m, "above", "below"):
		return automation.PlatformNumericState, true
	case mapHas(m, "entity_id"):
		return automation.PlatformState, true
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Conditions
// ---------------------------------------------------------------------------

func (f *structFixer) conditionList(n *yaml.Node, path string) {
	switch {
	case n.Kind == yaml.MappingNode:
		wrapInSequence(n)
		f.fix(path, "wrapped single condition in a list")
	case n.Kind == yaml.ScalarNode && eval.IsTemplate(n.Value):
		wrapInSequence(n)
		f.fix(path, "wrapped template shorthand in a list")
	}
	if n.Kind != yaml.SequenceNode {
		f.fail(path, "must be a list of conditions")
		return
	}
	for i, item := range n.Content {
		f.conditionItem(item, indexPath(path, i))
	}
}

func (f *structFixer) conditionItem(m *yaml.Node, path string) {
	if m.Kind == yaml.ScalarNode && eval.IsTemplate(m.Value) {
		tmpl := m.Value
		*m = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		mapPrepend(m, "value_template", tmpl)
		mapPrepend(m, "condition", string(automation.ConditionTemplate))
		f.fix(path, "expanded template shorthand")
		return
	}
	if m.Kind != yaml.MappingNode {
		f.fail(path, "condition must be a mapping")
		return
	}

	if !mapHas(m, "condition") && len(m.Content) == 2 {
		switch key := m.Content[0].Value; key {
		case "and", "or", "not":
			m.Content[0].Value = "conditions"
			mapPrepend(m, "condition", key)
			f.fix(path, "expanded %q shorthand", key)
		}
	}

	ctype, _ := mapGet(m, "condition")
	if ctype == nil {
		inferred, ok := inferCondition(m)
		if !ok {
			f.fail(path, "missing 'condition' and it cannot be inferred")
			return
		}
		mapPrepend(m, "condition", string(inferred))
		f.fix(path, "inferred condition %q", inferred)
		ctype, _ = mapGet(m, "condition")
	}
	if automation.ConditionType(ctype.Value).IsComposite() {
		if sub, _ := mapGet(m, "conditions"); sub != nil {
			f.conditionList(sub, keyPath(path, "conditions"))
		}
	}
}

func inferCondition(m *yaml.Node) (automation.ConditionType, bool) {
	switch {
	case mapHas(m, "value_template") && !mapHas(m, "entity_id"):
		return automation.ConditionTemplate, true
	case mapHas(m, "entity_id") && mapHasAny(m, "above", "below"):
		return automation.ConditionNumericState, true
	case mapHas(m, "entity_id", "state"):
		return automation.ConditionState, true
	case mapHas(m, "entity_id", "zone"):
		return automation.ConditionZone, true
	case !mapHas(m, "entity_id") && mapHasAny(m, "after", "before", "weekday"):
		return automation.ConditionTime, true
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

var (
	serviceName = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)
	flowKeys    = []string{
		"delay", "wait_template", "wait_for_trigger", "repeat", "choose", "if",
		"parallel", "sequence", "event", "scene", "stop", "variables",
	}
)

func (f *structFixer) actionList(n *yaml.Node, path string) {
	if n.Kind == yaml.MappingNode {
		wrapInSequence(n)
		f.fix(path, "wrapped single action in a list")
	}
	if n.Kind != yaml.SequenceNode {
		f.fail(path, "must be a list of actions")
		return
	}
	if len(n.Content) == 0 {
		f.fail(path, "at least one action is required")
		return
	}
	for i, item := range n.Content {
		f.actionItem(item, indexPath(path, i))
	}
}

func (f *structFixer) actionItem(m *yaml.Node, path string) {
	if m.Kind != yaml.MappingNode {
		f.fail(path, "action must be a mapping")
		return
	}

	switch {
	case mapHas(m, "service"):
	case mapHas(m, "action"):
		_, i := mapGet(m, "action")
		m.Content[i].Value = "service"
		f.fix(path, "renamed %q to %q", "action", "service")
	case mapHasAny(m, flowKeys...):
	case len(m.Content) == 2 && serviceName.MatchString(m.Content[0].Value) &&
		(m.Content[1].Kind == yaml.MappingNode || m.Content[1].Tag == "!!null"):
		svc, body := m.Content[0].Value, m.Content[1]
		m.Content = nil
		if body.Kind == yaml.MappingNode {
			m.Content = body.Content
		}
		mapPrepend(m, "service", svc)
		f.fix(path, "expanded %q shorthand", svc)
	default:
		f.fail(path, "missing 'service' or a flow-control key")
		return
	}

	if choose, _ := mapGet(m, "choose"); choose != nil {
		if choose.Kind == yaml.MappingNode {
			wrapInSequence(choose)
			f.fix(keyPath(path, "choose"), "wrapped single option in a list")
		}
		for i, opt := range choose.Content {
			optPath := indexPath(keyPath(path, "choose"), i)
			if c, _ := mapGet(opt, "conditions"); c != nil {
				f.conditionList(c, keyPath(optPath, "conditions"))
			}
			if s, _ := mapGet(opt, "sequence"); s != nil {
				f.actionList(s, keyPath(optPath, "sequence"))
			}
		}
	}
	for _, key := range []string{"default", "then", "else", "parallel", "sequence"} {
		if sub, _ := mapGet(m, key); sub != nil {
			f.actionList(sub, keyPath(path, key))
		}
	}
	if cond, _ := mapGet(m, "if"); cond != nil {
		f.conditionList(cond, keyPath(path, "if"))
	}
	if repeat, _ := mapGet(m, "repeat"); repeat != nil {
		rp := keyPath(path, "repeat")
		if s, _ := mapGet(repeat, "sequence"); s != nil {
			f.actionList(s, keyPath(rp, "sequence"))
		}
		for _, key := range []string{"while", "until"} {
			if c, _ := mapGet(repeat, key); c != nil {
				f.conditionList(c, keyPath(rp, key))
			}
		}
	}
	if wait, _ := mapGet(m, "wait_for_trigger"); wait != nil {
		f.triggerList(wait, keyPath(path, "wait_for_trigger"))
	}
}
