package automation

import "strings"

// Keyword tables for the mode heuristics. They are data so callers and tests
// can inspect them; DetermineMode and DetermineMaxExceeded read them as-is.
var (
	MotionEntityKeywords      = []string{"motion"}
	MotionDescriptionKeywords = []string{"motion", "presence", "movement"}
	FrequentSensorKeywords    = []string{"motion", "occupancy", "presence", "contact", "door", "window"}
)

// DetermineMode picks a run mode for the automation:
//   - a motion state trigger plus any delay/wait action => restart
//   - more than one action carrying a delay => restart
//   - a time, time_pattern or sun trigger with no delays => single
//   - a motion/presence/movement description plus delays => restart
//   - otherwise single
func DetermineMode(triggers []Trigger, actions []Action, description string) Mode {
	waits, delays := 0, 0
	WalkActions(actions, func(_ string, a *Action) {
		if a.HasWait() {
			waits++
		}
		if a.HasDelay() {
			delays++
		}
	})

	if hasMotionStateTrigger(triggers) && waits > 0 {
		return ModeRestart
	}
	if delays > 1 {
		return ModeRestart
	}
	if hasTimeBasedTrigger(triggers) && waits == 0 {
		return ModeSingle
	}
	if containsAny(strings.ToLower(description), MotionDescriptionKeywords) && waits > 0 {
		return ModeRestart
	}
	return ModeSingle
}

// DetermineMaxExceeded picks how dropped runs are reported:
//   - queued or parallel modes => warning
//   - clock triggers or frequently-firing sensors => silent
//   - single mode with a waiting action => silent
//   - otherwise warning
func DetermineMaxExceeded(triggers []Trigger, actions []Action, mode Mode) MaxExceeded {
	if mode == ModeQueued || mode == ModeParallel {
		return MaxExceededWarning
	}
	if hasTimeBasedTrigger(triggers) {
		return MaxExceededSilent
	}
	for _, t := range triggers {
		if t.Platform != PlatformState && t.Platform != PlatformNumericState {
			continue
		}
		for _, id := range t.EntityID {
			if containsAny(strings.ToLower(id), FrequentSensorKeywords) {
				return MaxExceededSilent
			}
		}
	}
	if mode == ModeSingle {
		waiting := false
		WalkActions(actions, func(_ string, a *Action) {
			waiting = waiting || a.HasWait()
		})
		if waiting {
			return MaxExceededSilent
		}
	}
	return MaxExceededWarning
}

func hasMotionStateTrigger(triggers []Trigger) bool {
	for _, t := range triggers {
		if t.Platform != PlatformState {
			continue
		}
		for _, id := range t.EntityID {
			if containsAny(strings.ToLower(id), MotionEntityKeywords) {
				return true
			}
		}
	}
	return false
}

func hasTimeBasedTrigger(triggers []Trigger) bool {
	for _, t := range triggers {
		if t.Platform.IsTimeBased() {
			return true
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
