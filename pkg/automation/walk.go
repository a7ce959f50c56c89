package automation

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// WalkActions visits every action depth-first, including actions nested in
// choose, if/then/else, repeat, parallel and sequence blocks. The path uses
// the wire key names, e.g. "action[1].choose[0].sequence[2]".
func WalkActions(actions []Action, fn func(path string, a *Action)) {
	walkActions(actions, "action", fn)
}

func walkActions(actions []Action, base string, fn func(string, *Action)) {
	for i := range actions {
		a := &actions[i]
		path := fmt.Sprintf("%s[%d]", base, i)
		fn(path, a)
		for j := range a.Choose {
			walkActions(a.Choose[j].Sequence, fmt.Sprintf("%s.choose[%d].sequence", path, j), fn)
		}
		walkActions(a.Default, path+".default", fn)
		walkActions(a.Then, path+".then", fn)
		walkActions(a.Else, path+".else", fn)
		walkActions(a.Parallel, path+".parallel", fn)
		walkActions(a.Sequence, path+".sequence", fn)
		if a.Repeat != nil {
			walkActions(a.Repeat.Sequence, path+".repeat.sequence", fn)
		}
	}
}

// WalkConditions visits every condition depth-first under base.
func WalkConditions(conds []Condition, base string, fn func(path string, c *Condition)) {
	for i := range conds {
		c := &conds[i]
		path := fmt.Sprintf("%s[%d]", base, i)
		fn(path, c)
		WalkConditions(c.Conditions, path+".conditions", fn)
	}
}

// WalkAllConditions visits the top-level conditions and every condition
// embedded in actions (choose options, if, repeat while/until).
func (p *Plan) WalkAllConditions(fn func(path string, c *Condition)) {
	WalkConditions(p.Conditions, "condition", fn)
	WalkActions(p.Actions, func(path string, a *Action) {
		for j := range a.Choose {
			WalkConditions(a.Choose[j].Conditions, fmt.Sprintf("%s.choose[%d].conditions", path, j), fn)
		}
		WalkConditions(a.If, path+".if", fn)
		if a.Repeat != nil {
			WalkConditions(a.Repeat.While, path+".repeat.while", fn)
			WalkConditions(a.Repeat.Until, path+".repeat.until", fn)
		}
	})
}

// DecodeLenient decodes wire YAML ignoring unknown fields. Validation stages
// use it to reason about documents that may not satisfy the closed schema.
// On a field type mismatch the partially decoded plan is returned together
// with the error.
func DecodeLenient(text string) (*Plan, error) {
	var p Plan
	if err := yaml.NewDecoder(strings.NewReader(text)).Decode(&p); err != nil {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			p.SchemaVersion = SchemaVersion
			return &p, fmt.Errorf("decode automation: %w", err)
		}
		return nil, fmt.Errorf("decode automation: %w", err)
	}
	p.SchemaVersion = SchemaVersion
	return &p, nil
}
