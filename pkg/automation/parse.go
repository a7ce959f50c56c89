package automation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldViolation is one contract violation located by field path.
type FieldViolation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v FieldViolation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// SchemaValidationError reports every violated field of the closed contract.
type SchemaValidationError struct {
	Violations []FieldViolation
}

func (e *SchemaValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return "schema validation failed: " + strings.Join(msgs, "; ")
}

// Parse decodes wire YAML into a Plan. It fails with *SchemaValidationError
// when a field is unknown, a required list is empty, or an enum value is
// outside its closed set.
func Parse(text string) (*Plan, error) {
	var raw any
	if err := yaml.Unmarshal([]byte(text), &raw); err != nil {
		return nil, &SchemaValidationError{Violations: []FieldViolation{{Message: fmt.Sprintf("invalid YAML: %v", err)}}}
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, &SchemaValidationError{Violations: []FieldViolation{{Message: "automation must be a mapping"}}}
	}
	if violations := ValidateSchema(raw); len(violations) > 0 {
		return nil, &SchemaValidationError{Violations: violations}
	}

	plan, err := decodeStrict(strings.NewReader(text))
	if err != nil {
		return nil, &SchemaValidationError{Violations: typeErrorViolations(err)}
	}
	return plan, nil
}

// decodeStrict reads a Plan rejecting unknown fields.
func decodeStrict(r io.Reader) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	p.SchemaVersion = SchemaVersion
	return &p, nil
}

func typeErrorViolations(err error) []FieldViolation {
	var te *yaml.TypeError
	if errors.As(err, &te) {
		out := make([]FieldViolation, 0, len(te.Errors))
		for _, msg := range te.Errors {
			out = append(out, FieldViolation{Message: msg})
		}
		return out
	}
	return []FieldViolation{{Message: err.Error()}}
}

// Serialize renders the plan in the wire dialect: singular trigger/action
// keys, alias for the name, declaration key order, absent fields omitted.
func Serialize(p *Plan) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return "", fmt.Errorf("serialize automation: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("serialize automation: %w", err)
	}
	return buf.String(), nil
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() (*Plan, error) {
	text, err := Serialize(p)
	if err != nil {
		return nil, err
	}
	c, err := decodeStrict(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("clone automation: %w", err)
	}
	c.SchemaVersion = p.SchemaVersion
	if p.Metadata != nil {
		c.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return c, nil
}
