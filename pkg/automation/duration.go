package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration reads a Home Assistant duration: "HH:MM[:SS[.fff]]", a
// number of seconds, or a mapping of days/hours/minutes/seconds/milliseconds.
func ParseDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	case string:
		return parseClockDuration(d)
	case map[string]any:
		var total time.Duration
		for k, raw := range d {
			n, err := toNumber(raw)
			if err != nil {
				return 0, fmt.Errorf("duration %s: %w", k, err)
			}
			unit, ok := durationUnits[k]
			if !ok {
				return 0, fmt.Errorf("unknown duration unit %q", k)
			}
			total += time.Duration(n * float64(unit))
		}
		return total, nil
	}
	return 0, fmt.Errorf("unsupported duration %T", v)
}

var durationUnits = map[string]time.Duration{
	"days":         24 * time.Hour,
	"hours":        time.Hour,
	"minutes":      time.Minute,
	"seconds":      time.Second,
	"milliseconds": time.Millisecond,
}

func parseClockDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	var total time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, p := range parts {
		n, err := strconv.ParseFloat(p, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		total += time.Duration(n * float64(units[i]))
	}
	return total, nil
}

// ParseTimeOfDay reads "HH:MM[:SS]" and returns the offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	limits := []int{23, 59, 59}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid time %q", s)
		}
		total += time.Duration(n) * units[i]
	}
	return total, nil
}

func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	return 0, fmt.Errorf("not a number: %v", v)
}
