// Package diagram renders an automation as a Mermaid flowchart or an ASCII
// sketch: triggers feed the condition gate, then the action sequence, with
// choose, if, parallel and repeat blocks drawn as branches.
package diagram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram string from a parsed automation.
func Generate(p *automation.Plan, format Format) (string, error) {
	if p == nil {
		return "", fmt.Errorf("nil automation")
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(p), nil
	case FormatASCII:
		return generateASCII(p), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

type node struct {
	id       string
	label    string
	kind     automation.ActionKind
	branches []branch

	// passThrough is set when control can pass the node without entering
	// any branch (choose without default, if without else, repeat exit).
	passThrough bool
}

type branch struct {
	label string
	nodes []node

	// loop sends the last node back to the parent.
	loop bool
}

func buildNodes(actions []automation.Action, prefix string) []node {
	out := make([]node, 0, len(actions))
	for i := range actions {
		a := &actions[i]
		n := node{
			id:    fmt.Sprintf("%s%d", prefix, i),
			label: actionLabel(a),
			kind:  a.Kind(),
		}
		sub := func(j int) string { return fmt.Sprintf("%s_%d_", n.id, j) }
		switch n.kind {
		case automation.KindChoose:
			for j, opt := range a.Choose {
				label := opt.Alias
				if label == "" {
					label = conditionsLabel(opt.Conditions)
				}
				n.branches = append(n.branches, branch{label: label, nodes: buildNodes(opt.Sequence, sub(j))})
			}
			if len(a.Default) > 0 {
				n.branches = append(n.branches, branch{label: "default", nodes: buildNodes(a.Default, sub(len(a.Choose)))})
			} else {
				n.passThrough = true
			}
		case automation.KindIf:
			n.branches = append(n.branches, branch{label: "then", nodes: buildNodes(a.Then, sub(0))})
			if len(a.Else) > 0 {
				n.branches = append(n.branches, branch{label: "else", nodes: buildNodes(a.Else, sub(1))})
			} else {
				n.passThrough = true
			}
		case automation.KindParallel:
			for j := range a.Parallel {
				n.branches = append(n.branches, branch{label: "parallel", nodes: buildNodes(a.Parallel[j:j+1], sub(j))})
			}
		case automation.KindSequence:
			n.branches = append(n.branches, branch{label: "sequence", nodes: buildNodes(a.Sequence, sub(0))})
		case automation.KindRepeat:
			n.branches = append(n.branches, branch{label: "repeat", nodes: buildNodes(a.Repeat.Sequence, sub(0)), loop: true})
			n.passThrough = true
		}
		out = append(out, n)
	}
	return out
}

// ---------------------------------------------------------------------------
// Mermaid flowchart
// ---------------------------------------------------------------------------

func generateMermaid(p *automation.Plan) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	nodes := buildNodes(p.Actions, "A")
	entry := "END"
	if len(nodes) > 0 {
		entry = nodes[0].id
	}
	if len(p.Conditions) > 0 {
		fmt.Fprintf(&b, "    COND{%s}\n", quote(conditionsLabel(p.Conditions)))
		fmt.Fprintf(&b, "    COND -->|\"pass\"| %s\n", entry)
		entry = "COND"
	}
	for i := range p.Triggers {
		id := fmt.Sprintf("T%d", i)
		fmt.Fprintf(&b, "    %s([%s])\n", id, quote(triggerLabel(&p.Triggers[i])))
		fmt.Fprintf(&b, "    %s --> %s\n", id, entry)
	}

	writeMermaidNodes(&b, nodes, "END")
	b.WriteString("    END([End])\n")

	for i := range p.Triggers {
		fmt.Fprintf(&b, "    style T%d fill:#1a3a4a,stroke:#0af\n", i)
	}
	return b.String()
}

func writeMermaidNodes(b *strings.Builder, nodes []node, next string) {
	for i, n := range nodes {
		after := next
		if i < len(nodes)-1 {
			after = nodes[i+1].id
		}

		if len(n.branches) == 0 {
			fmt.Fprintf(b, "    %s[%s]\n", n.id, quote(n.label))
			fmt.Fprintf(b, "    %s --> %s\n", n.id, after)
			continue
		}

		fmt.Fprintf(b, "    %s{%s}\n", n.id, quote(n.label))
		for _, br := range n.branches {
			rejoin := after
			if br.loop {
				rejoin = n.id
			}
			if len(br.nodes) == 0 {
				fmt.Fprintf(b, "    %s -->|%s| %s\n", n.id, quote(br.label), rejoin)
				continue
			}
			fmt.Fprintf(b, "    %s -->|%s| %s\n", n.id, quote(br.label), br.nodes[0].id)
			writeMermaidNodes(b, br.nodes, rejoin)
		}
		if n.passThrough {
			fmt.Fprintf(b, "    %s -->|\"continue\"| %s\n", n.id, after)
		}
	}
}

// quote wraps s for a Mermaid label, escaping embedded quotes.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "#quot;") + `"`
}

// ---------------------------------------------------------------------------
// ASCII
// ---------------------------------------------------------------------------

func generateASCII(p *automation.Plan) string {
	var b strings.Builder

	name := p.Name
	if name == "" {
		name = "Automation"
	}

	var header []string
	for i := range p.Triggers {
		header = append(header, " ▶ "+triggerLabel(&p.Triggers[i])+" ")
	}
	if len(p.Conditions) > 0 {
		header = append(header, " ◇ "+conditionsLabel(p.Conditions)+" ")
	}

	nodes := buildNodes(p.Actions, "A")
	const indent = 4
	boxWidth := uniformWidth(name, header, nodes)
	mid := boxWidth / 2
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", indent+1+mid)

	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + centerPad(name, boxWidth) + "║\n")
	if len(header) > 0 {
		b.WriteString(pad + "╟" + strings.Repeat("─", boxWidth) + "╢\n")
		for _, l := range header {
			b.WriteString(pad + "║" + rightPad(l, boxWidth) + "║\n")
		}
	}
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")

	for _, n := range nodes {
		b.WriteString(connPad + "│\n")
		lines := []string{" " + icon(n.kind) + " " + n.label + " "}
		lines = append(lines, branchLines(n.branches, 1)...)
		b.WriteString(pad + "┌" + strings.Repeat("─", mid) + "┴" + strings.Repeat("─", boxWidth-mid-1) + "┐\n")
		for _, l := range lines {
			b.WriteString(pad + "│" + rightPad(l, boxWidth) + "│\n")
		}
		b.WriteString(pad + "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘\n")
	}
	b.WriteString(connPad + "◼\n")
	return b.String()
}

// branchLines renders nested branches as indented text lines.
func branchLines(branches []branch, depth int) []string {
	var out []string
	ind := strings.Repeat("  ", depth)
	for _, br := range branches {
		out = append(out, ind+" ◇ "+br.label+" ")
		for _, n := range br.nodes {
			out = append(out, ind+"   "+icon(n.kind)+" "+n.label+" ")
			out = append(out, branchLines(n.branches, depth+2)...)
		}
	}
	return out
}

func uniformWidth(name string, header []string, nodes []node) int {
	w := 24
	if nw := runewidth.StringWidth(name) + 4; nw > w {
		w = nw
	}
	for _, l := range header {
		if lw := runewidth.StringWidth(l); lw > w {
			w = lw
		}
	}
	for _, n := range nodes {
		lines := append([]string{" " + icon(n.kind) + " " + n.label + " "}, branchLines(n.branches, 1)...)
		for _, l := range lines {
			if lw := runewidth.StringWidth(l); lw > w {
				w = lw
			}
		}
	}
	return w
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	left := (width - sw) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-sw-left)
}

func rightPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}

func icon(kind automation.ActionKind) string {
	switch kind {
	case automation.KindService:
		return "⚡"
	case automation.KindDelay, automation.KindWait:
		return "⏱"
	case automation.KindChoose, automation.KindIf:
		return "◇"
	case automation.KindRepeat:
		return "⟳"
	case automation.KindParallel:
		return "⫽"
	default:
		return "○"
	}
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

func triggerLabel(t *automation.Trigger) string {
	parts := []string{string(t.Platform)}
	switch t.Platform {
	case automation.PlatformTime:
		parts = append(parts, strings.Join(t.At, ", "))
	case automation.PlatformTimePattern:
		for _, f := range []struct {
			name string
			v    any
		}{{"h", t.Hours}, {"m", t.Minutes}, {"s", t.Seconds}} {
			if f.v != nil {
				parts = append(parts, fmt.Sprintf("%s=%v", f.name, f.v))
			}
		}
	case automation.PlatformSun:
		parts = append(parts, t.Event)
	case automation.PlatformEvent:
		parts = append(parts, t.EventType)
	case automation.PlatformMQTT:
		parts = append(parts, t.Topic)
	case automation.PlatformWebhook:
		parts = append(parts, t.WebhookID)
	default:
		parts = append(parts, strings.Join(t.EntityID, ", "))
		if len(t.To) > 0 {
			parts = append(parts, "→ "+strings.Join(t.To, "|"))
		}
		parts = append(parts, thresholdLabel(t.Above, t.Below))
	}
	return joinNonEmpty(parts)
}

func conditionsLabel(conds []automation.Condition) string {
	if len(conds) == 1 {
		return conditionLabel(&conds[0])
	}
	labels := make([]string, len(conds))
	for i := range conds {
		labels[i] = conditionLabel(&conds[i])
	}
	return strings.Join(labels, " and ")
}

func conditionLabel(c *automation.Condition) string {
	if c.Alias != "" {
		return c.Alias
	}
	if c.Condition.IsComposite() {
		inner := make([]string, len(c.Conditions))
		for i := range c.Conditions {
			inner[i] = conditionLabel(&c.Conditions[i])
		}
		return fmt.Sprintf("%s(%s)", c.Condition, strings.Join(inner, ", "))
	}
	parts := []string{string(c.Condition), strings.Join(c.EntityID, ", ")}
	switch c.Condition {
	case automation.ConditionState:
		parts = append(parts, "= "+strings.Join(c.State, "|"))
	case automation.ConditionNumericState:
		parts = append(parts, thresholdLabel(c.Above, c.Below))
	case automation.ConditionTime:
		if c.After != "" {
			parts = append(parts, "after "+c.After)
		}
		if c.Before != "" {
			parts = append(parts, "before "+c.Before)
		}
	case automation.ConditionTemplate:
		parts = append(parts, "template")
	}
	return joinNonEmpty(parts)
}

func actionLabel(a *automation.Action) string {
	if a.Alias != "" {
		return a.Alias
	}
	switch a.Kind() {
	case automation.KindService:
		return joinNonEmpty([]string{a.Service, strings.Join(a.Entities(), ", ")})
	case automation.KindDelay:
		if d, err := automation.ParseDuration(a.Delay); err == nil {
			return "delay " + d.String()
		}
		return "delay"
	case automation.KindWait:
		return "wait"
	case automation.KindRepeat:
		if a.Repeat.Count != nil {
			return fmt.Sprintf("repeat %v times", a.Repeat.Count)
		}
		return "repeat"
	case automation.KindChoose:
		return "choose"
	case automation.KindIf:
		return "if " + conditionsLabel(a.If)
	case automation.KindEvent:
		return "fire " + a.Event
	case automation.KindScene:
		return "scene " + a.Scene
	case automation.KindStop:
		return "stop: " + a.Stop
	case automation.KindVariable:
		keys := make([]string, 0, len(a.Variables))
		for k := range a.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "set " + strings.Join(keys, ", ")
	}
	return string(a.Kind())
}

func thresholdLabel(above, below *automation.Threshold) string {
	var parts []string
	if above != nil {
		parts = append(parts, "> "+thresholdValue(above))
	}
	if below != nil {
		parts = append(parts, "< "+thresholdValue(below))
	}
	return strings.Join(parts, " ")
}

func thresholdValue(t *automation.Threshold) string {
	if t.Value != nil {
		return fmt.Sprint(*t.Value)
	}
	return t.EntityID
}

func joinNonEmpty(parts []string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
