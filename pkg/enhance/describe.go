package enhance

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
)

// describe renders a one-sentence summary: triggers, condition count and
// the top-level actions in order.
func describe(p *automation.Plan, name func(string) string) string {
	var triggers []string
	for _, t := range p.Triggers {
		triggers = append(triggers, triggerPhrase(t, name))
	}
	var actions []string
	for i := range p.Actions {
		actions = append(actions, actionPhrase(&p.Actions[i], name))
	}
	if len(actions) == 0 {
		return ""
	}

	var b strings.Builder
	if len(triggers) > 0 {
		b.WriteString(strings.Join(triggers, " or "))
		b.WriteString(", ")
	}
	switch n := len(p.Conditions); {
	case n == 1:
		b.WriteString("if 1 condition holds, ")
	case n > 1:
		fmt.Fprintf(&b, "if %d conditions hold, ", n)
	}
	b.WriteString(strings.Join(actions, ", then "))
	return capitalize(b.String()) + "."
}

func names(ids []string, name func(string) string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = name(id)
	}
	return strings.Join(out, " or ")
}

func triggerPhrase(t automation.Trigger, name func(string) string) string {
	who := names(t.EntityID, name)
	switch t.Platform {
	case automation.PlatformTime:
		return "at " + strings.Join(t.At, " or ")
	case automation.PlatformTimePattern:
		return "on a time pattern"
	case automation.PlatformSun:
		return "at " + t.Event
	case automation.PlatformState:
		switch {
		case len(t.To) > 0:
			return fmt.Sprintf("when %s changes to %s", who, strings.Join(t.To, " or "))
		case len(t.From) > 0:
			return fmt.Sprintf("when %s changes from %s", who, strings.Join(t.From, " or "))
		}
		return fmt.Sprintf("when %s changes", who)
	case automation.PlatformNumericState:
		switch {
		case t.Above != nil && t.Below != nil:
			return fmt.Sprintf("when %s is between %s and %s", who, threshold(t.Above, name), threshold(t.Below, name))
		case t.Above != nil:
			return fmt.Sprintf("when %s rises above %s", who, threshold(t.Above, name))
		case t.Below != nil:
			return fmt.Sprintf("when %s drops below %s", who, threshold(t.Below, name))
		}
		return fmt.Sprintf("when %s changes", who)
	case automation.PlatformEvent:
		return fmt.Sprintf("when event %s fires", t.EventType)
	case automation.PlatformMQTT:
		return fmt.Sprintf("when a message arrives on %s", t.Topic)
	case automation.PlatformWebhook:
		return fmt.Sprintf("when webhook %s is called", t.WebhookID)
	case automation.PlatformZone:
		return fmt.Sprintf("when %s %ss %s", who, t.Event, t.Zone)
	}
	return fmt.Sprintf("on a %s trigger", t.Platform)
}

func threshold(t *automation.Threshold, name func(string) string) string {
	if t.Value != nil {
		return fmt.Sprint(*t.Value)
	}
	return name(t.EntityID)
}

func actionPhrase(a *automation.Action, name func(string) string) string {
	if isGuard(a) && len(a.Choose[0].Sequence) == 1 {
		return actionPhrase(&a.Choose[0].Sequence[0], name)
	}
	switch a.Kind() {
	case automation.KindService:
		ids := a.Entities()
		if len(ids) == 0 {
			return "call " + a.Service
		}
		targets := make([]string, len(ids))
		for i, id := range ids {
			targets[i] = name(id)
			if id == "all" {
				targets[i] = "all entities"
			}
		}
		return serviceVerb(a.Service) + " " + strings.Join(targets, " and ")
	case automation.KindDelay:
		if d, err := automation.ParseDuration(a.Delay); err == nil {
			return "wait " + humanDuration(d)
		}
		return "wait"
	case automation.KindWait:
		return "wait for a change"
	case automation.KindRepeat:
		return "repeat a sequence"
	case automation.KindChoose:
		return fmt.Sprintf("choose among %d options", len(a.Choose))
	case automation.KindIf:
		return "run a conditional branch"
	case automation.KindParallel:
		return fmt.Sprintf("run %d actions in parallel", len(a.Parallel))
	case automation.KindSequence:
		return fmt.Sprintf("run %d actions", len(a.Sequence))
	case automation.KindEvent:
		return "fire event " + a.Event
	case automation.KindScene:
		return "activate " + name(a.Scene)
	case automation.KindStop:
		return "stop"
	case automation.KindVariable:
		return "set variables"
	}
	return "run an action"
}

// serviceVerb turns "light.turn_on" into "turn on".
func serviceVerb(service string) string {
	_, verb, _ := strings.Cut(service, ".")
	return strings.ReplaceAll(verb, "_", " ")
}

func humanDuration(d time.Duration) string {
	unit := func(n int64, word string) string {
		if n == 1 {
			return "1 " + word
		}
		return fmt.Sprintf("%d %ss", n, word)
	}
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return unit(int64(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return unit(int64(d/time.Minute), "minute")
	case d%time.Second == 0:
		return unit(int64(d/time.Second), "second")
	}
	return d.String()
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// voiceHints derives spoken commands from the automation name and its
// service calls, e.g. "turn on the kitchen light".
func voiceHints(p *automation.Plan, name func(string) string) []string {
	seen := map[string]bool{}
	out := []string{}
	add := func(h string) {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" && !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	if p.Name != "" {
		add("run " + p.Name)
	}
	automation.WalkActions(p.Actions, func(_ string, a *automation.Action) {
		if a.Kind() != automation.KindService {
			return
		}
		for _, id := range literalEntities(a) {
			add(serviceVerb(a.Service) + " the " + name(id))
		}
	})
	return out
}
