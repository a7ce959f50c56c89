package generate

import (
	"errors"
	"strings"
)

// Markers delimiting the automation in a completion.
const (
	YAMLStartMarker = "---AUTOMATION_YAML---"
	YAMLEndMarker   = "---END_AUTOMATION_YAML---"
)

// ErrNoYAML is returned when a completion carries no automation.
var ErrNoYAML = errors.New("no automation YAML in LLM response")

// ExtractYAML pulls the automation out of a completion. It prefers the
// markers, then the first ```yaml fenced block, then the whole response
// when it looks like a mapping with a trigger or action key.
func ExtractYAML(response string) (string, error) {
	if body, ok := between(response, YAMLStartMarker, YAMLEndMarker); ok {
		if out := strings.TrimSpace(stripOuterCodeFence(body)); out != "" {
			return out, nil
		}
		return "", ErrNoYAML
	}
	if body, ok := fencedBlock(response); ok {
		return body, nil
	}
	out := strings.TrimSpace(stripOuterCodeFence(response))
	if looksLikeAutomation(out) {
		return out, nil
	}
	return "", ErrNoYAML
}

// between returns the text after start up to end. A missing end marker
// takes the rest of the response, which covers truncated answers.
func between(s, start, end string) (string, bool) {
	i := strings.Index(s, start)
	if i == -1 {
		return "", false
	}
	rest := s[i+len(start):]
	if j := strings.Index(rest, end); j != -1 {
		return rest[:j], true
	}
	return rest, true
}

// stripOuterCodeFence removes a wrapping ``` fence if present.
func stripOuterCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	if idx := strings.Index(trimmed, "\n"); idx != -1 {
		trimmed = trimmed[idx+1:]
	} else {
		return ""
	}
	if last := strings.LastIndex(trimmed, "```"); last != -1 {
		trimmed = trimmed[:last]
	}
	return trimmed
}

func fencedBlock(s string) (string, bool) {
	for _, open := range []string{"```yaml\n", "```yml\n"} {
		i := strings.Index(s, open)
		if i == -1 {
			continue
		}
		rest := s[i+len(open):]
		if j := strings.Index(rest, "```"); j != -1 {
			rest = rest[:j]
		}
		if out := strings.TrimSpace(rest); out != "" {
			return out, true
		}
	}
	return "", false
}

func looksLikeAutomation(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		for _, key := range []string{"trigger:", "triggers:", "action:", "actions:"} {
			if strings.HasPrefix(line, key) {
				return true
			}
		}
	}
	return false
}
