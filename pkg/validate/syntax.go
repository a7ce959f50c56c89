package validate

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SyntaxError reports a document that is not parseable YAML. It always
// aborts the pipeline.
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("yaml syntax error: %v", e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// TemplateEntityError reports a template inside an entity_id field. Entity
// ids must be literal, so this always aborts the pipeline before any stage.
type TemplateEntityError struct {
	Path  string
	Value string
}

func (e *TemplateEntityError) Error() string {
	return fmt.Sprintf("template in entity_id at %s: %q; entity ids must be literal", e.Path, e.Value)
}

// parseSyntax parses text into a document node.
func parseSyntax(text string) (*yaml.Node, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &SyntaxError{Err: errors.New("document is empty")}
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, &SyntaxError{Err: err}
	}
	if len(doc.Content) == 0 {
		return nil, &SyntaxError{Err: errors.New("document is empty")}
	}
	return &doc, nil
}

// CheckTemplateEntities returns an error for the first entity_id anywhere
// in the document whose value contains template markup.
func CheckTemplateEntities(doc *yaml.Node) error {
	var found *TemplateEntityError
	walkNodes(doc, "", func(path, key string, value *yaml.Node) {
		if found != nil || key != "entity_id" {
			return
		}
		for _, v := range scalarValues(value) {
			if strings.Contains(v, "{{") || strings.Contains(v, "{%") {
				found = &TemplateEntityError{Path: path, Value: v}
				return
			}
		}
	})
	if found != nil {
		return found
	}
	return nil
}
