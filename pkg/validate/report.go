// Package validate implements the automation validation pipeline:
// syntax → structure → entities → logic → safety. Structure and entity
// failures stop the run; logic and safety findings are advisory unless the
// caller's policy elevates them.
package validate

import (
	"fmt"
	"strings"
)

// Stage names in pipeline order.
const (
	StageSyntax    = "syntax"
	StageStructure = "structure"
	StageEntities  = "entities"
	StageLogic     = "logic"
	StageSafety    = "safety"
)

// Severity levels for findings.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Finding is one error or warning located by field path.
type Finding struct {
	Stage    string `json:"stage"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (f *Finding) Error() string {
	if f.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", f.Stage, f.Message, f.Path)
	}
	return fmt.Sprintf("[%s] %s", f.Stage, f.Message)
}

func errorf(stage, path, msg string, args ...any) *Finding {
	return &Finding{Stage: stage, Path: path, Message: fmt.Sprintf(msg, args...), Severity: SeverityError}
}

func warningf(stage, path, msg string, args ...any) *Finding {
	return &Finding{Stage: stage, Path: path, Message: fmt.Sprintf(msg, args...), Severity: SeverityWarning}
}

// text renders the finding as it appears in a stage's errors/warnings list.
func (f *Finding) text() string {
	if f.Path != "" {
		return f.Path + ": " + f.Message
	}
	return f.Message
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Name     string   `json:"name"`
	Valid    bool     `json:"valid"`
	Skipped  bool     `json:"skipped,omitempty"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func newStage(name string, findings []*Finding) StageResult {
	s := StageResult{Name: name, Errors: []string{}, Warnings: []string{}}
	for _, f := range findings {
		if f.Severity == SeverityError {
			s.Errors = append(s.Errors, f.text())
		} else {
			s.Warnings = append(s.Warnings, f.text())
		}
	}
	s.Valid = len(s.Errors) == 0
	return s
}

// Report is the result of one pipeline run. It is never persisted.
type Report struct {
	Valid           bool          `json:"valid"`
	Stages          []StageResult `json:"stages"`
	SchemaValid     bool          `json:"schema_valid"`
	SchemaError     string        `json:"schema_error,omitempty"`
	AutoFixed       bool          `json:"auto_fixed"`
	FixedYAMLUsed   bool          `json:"fixed_yaml_used"`
	TotalErrors     int           `json:"total_errors"`
	TotalWarnings   int           `json:"total_warnings"`
	AllChecksPassed bool          `json:"all_checks_passed"`

	// Fatal carries a hard failure that stopped the run before any stage.
	Fatal string `json:"fatal_error,omitempty"`

	// SafetyScore is set when the safety stage ran.
	SafetyScore  *int          `json:"safety_score,omitempty"`
	SafetyIssues []SafetyIssue `json:"safety_issues,omitempty"`

	// YAML is the document the later stages validated: the structurally
	// fixed text when a fix was applied, the input otherwise.
	YAML string `json:"yaml,omitempty"`
}

// Stage returns the named stage result, or nil when it did not run.
func (r *Report) Stage(name string) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// Errors returns every stage error prefixed by the stage name.
func (r *Report) Errors() []string {
	var out []string
	for _, s := range r.Stages {
		for _, e := range s.Errors {
			out = append(out, s.Name+": "+e)
		}
	}
	if r.SchemaError != "" {
		out = append(out, "schema: "+r.SchemaError)
	}
	if r.Fatal != "" {
		out = append(out, r.Fatal)
	}
	return out
}

// Summary renders the errors as a numbered list, one per line.
func (r *Report) Summary() string {
	var b strings.Builder
	for i, e := range r.Errors() {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e)
	}
	return b.String()
}

// finish computes the aggregate fields once all stages are recorded.
func (r *Report) finish(shortCircuited bool) {
	r.TotalErrors, r.TotalWarnings = 0, 0
	skipped := false
	for _, s := range r.Stages {
		r.TotalErrors += len(s.Errors)
		r.TotalWarnings += len(s.Warnings)
		skipped = skipped || s.Skipped
	}
	if r.SchemaError != "" {
		r.TotalErrors++
	}
	if r.Fatal != "" {
		r.TotalErrors++
	}
	r.Valid = r.TotalErrors == 0
	r.AllChecksPassed = r.Valid && !skipped && !shortCircuited
}
