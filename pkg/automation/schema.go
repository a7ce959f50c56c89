package automation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const schemaID = "https://github.com/wtthornton/HomeIQ-sub005/schemas/automation-v1.json"

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from the
// Plan Go types using invopop/jsonschema. Every object is closed
// (additionalProperties: false).
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Plan{})
	s.ID = schemaID
	s.Title = "Home Assistant Automation"
	s.Description = "Closed schema for Home Assistant automation YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

var compiledSchema = sync.OnceValues(func() (*sjsonschema.Schema, error) {
	data, err := GenerateJSONSchema()
	if err != nil {
		return nil, err
	}
	doc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := sjsonschema.NewCompiler()
	if err := c.AddResource(schemaID, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(schemaID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
})

var printer = message.NewPrinter(language.English)

// ValidateSchema checks a decoded YAML document against the closed schema and
// returns one violation per failing leaf, each with its field path.
func ValidateSchema(doc any) []FieldViolation {
	sch, err := compiledSchema()
	if err != nil {
		return []FieldViolation{{Message: err.Error()}}
	}

	// Round-trip through JSON so the validator sees JSON-typed values.
	data, err := json.Marshal(doc)
	if err != nil {
		return []FieldViolation{{Message: fmt.Sprintf("marshal for schema validation: %v", err)}}
	}
	inst, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return []FieldViolation{{Message: fmt.Sprintf("unmarshal document: %v", err)}}
	}

	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return []FieldViolation{{Message: err.Error()}}
	}
	var out []FieldViolation
	for _, cause := range flattenValidationErrors(ve) {
		out = append(out, FieldViolation{
			Path:    instancePath(cause.InstanceLocation),
			Message: cause.ErrorKind.LocalizedString(printer),
		})
	}
	return out
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// instancePath renders ["action","0","target"] as "action[0].target".
func instancePath(loc []string) string {
	var b strings.Builder
	for _, seg := range loc {
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}
