package validate

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wtthornton/HomeIQ-sub005/pkg/eval"
	"github.com/wtthornton/HomeIQ-sub005/pkg/hass"
)

// EntityOracle answers whether entity ids exist. *hass.Client implements it.
type EntityOracle interface {
	ValidateEntities(ctx context.Context, ids []string) (map[string]hass.EntityStatus, error)
}

// ExtractEntities returns every literal entity id referenced by an
// entity_id key under trigger, condition or action, at any depth and
// including targets, in document order without duplicates. The "all" and
// "none" keywords and templates are not entity ids and are skipped.
func ExtractEntities(doc *yaml.Node) []string {
	root := doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	seen := map[string]bool{}
	var out []string
	collect := func(_, key string, value *yaml.Node) {
		if key != "entity_id" {
			return
		}
		for _, id := range entityValues(value) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	for _, key := range []string{"trigger", "condition", "action"} {
		if v, _ := mapGet(root, key); v != nil {
			walkNodes(v, key, collect)
		}
	}
	return out
}

// ExtractEntitiesFromText parses text and extracts its entity ids.
func ExtractEntitiesFromText(text string) ([]string, error) {
	doc, err := parseSyntax(text)
	if err != nil {
		return nil, err
	}
	return ExtractEntities(doc), nil
}

func entityValues(n *yaml.Node) []string {
	var raw []string
	for _, v := range scalarValues(n) {
		raw = append(raw, strings.Split(v, ",")...)
	}
	out := make([]string, 0, len(raw))
	for _, id := range raw {
		id = strings.TrimSpace(id)
		if id == "" || id == "all" || id == "none" || eval.IsTemplate(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// checkEntities runs the entity-existence stage. skipped is true when the
// oracle is absent or unavailable; the stage then carries one warning.
func checkEntities(ctx context.Context, oracle EntityOracle, ids []string) (findings []*Finding, skipped bool) {
	if oracle == nil {
		return []*Finding{warningf(StageEntities, "", "entity validation skipped: no entity oracle configured")}, true
	}
	if len(ids) == 0 {
		return nil, false
	}
	statuses, err := oracle.ValidateEntities(ctx, ids)
	if err != nil {
		return []*Finding{warningf(StageEntities, "", "entity validation skipped: oracle unavailable: %v", err)}, true
	}
	for _, id := range ids {
		st, ok := statuses[id]
		switch {
		case !ok:
			findings = append(findings, warningf(StageEntities, "", "could not verify entity %s", id))
		case !st.Exists:
			msg := fmt.Sprintf("entity not found: %s", id)
			if len(st.Alternatives) > 0 {
				msg += fmt.Sprintf(" (did you mean: %s)", strings.Join(st.Alternatives, ", "))
			}
			findings = append(findings, errorf(StageEntities, "", "%s", msg))
		}
	}
	return findings, false
}
