package generate

import (
	"bytes"
	"text/template"
)

// SystemPrompt is sent as the system message. It carries the schema, the
// authoring rules and the entities the model may reference.
const SystemPrompt = `You are a Home Assistant automation author. Convert the user's request
into exactly one automation document in Home Assistant YAML.

## JSON Schema (Draft 2020-12)

The automation MUST conform to this schema. Unknown keys are rejected.

` + "```json" + `
{{ .JSONSchema }}
` + "```" + `

## Rules

1. Use the keys trigger:, condition: and action: (lists). Every trigger has
   platform:, every service call has service: in "domain.service" form.
2. Set alias: to a short human title and description: to one sentence.
3. mode: is one of single, restart, queued, parallel. Use restart for motion
   lights that turn off after a delay, queued for notifications.
4. entity_id values MUST be literal entity ids. Never put a template
   ({{ "{{" }} ... {{ "}}" }}) in entity_id or target.entity_id.
5. Guard locks, alarms, garage doors and gates with a condition.
6. Keep climate setpoints between 10 and 30 degrees.
7. Never open a valve without closing it again later in the sequence.
{{- if .Entities }}

## Available entities

Only reference entities from this list:
{{ range .Entities }}
- {{ .ID }}{{ if .Name }} ({{ .Name }}){{ end }}
{{- end }}
{{- end }}

## Output format

Respond with the YAML between these markers and nothing else:

` + YAMLStartMarker + `
alias: ...
trigger: ...
action: ...
` + YAMLEndMarker

// UserPromptTemplate carries the request.
const UserPromptTemplate = `Create a Home Assistant automation for this request:

{{ .Request }}`

// CorrectionPromptTemplate asks the model to fix its previous answer.
const CorrectionPromptTemplate = `Your previous automation for this request failed validation.

## Request

{{ .Request }}

## Previous YAML

` + "```yaml" + `
{{ .PreviousYAML }}
` + "```" + `

## Validation errors

{{ .Errors }}

Fix every error above and respond with the complete corrected automation
between the markers.`

var (
	systemTemplate     = template.Must(template.New("system").Parse(SystemPrompt))
	userTemplate       = template.Must(template.New("user").Parse(UserPromptTemplate))
	correctionTemplate = template.Must(template.New("correction").Parse(CorrectionPromptTemplate))
)

// PromptEntity is one line of the entity list.
type PromptEntity struct {
	ID   string
	Name string
}

// PromptData holds the data for rendering the prompt templates.
type PromptData struct {
	JSONSchema   string
	Entities     []PromptEntity
	Request      string
	PreviousYAML string
	Errors       string
}

// RenderSystemPrompt renders the system prompt.
func RenderSystemPrompt(data PromptData) (string, error) {
	return render(systemTemplate, data)
}

// RenderUserPrompt renders the first-attempt user prompt.
func RenderUserPrompt(data PromptData) (string, error) {
	return render(userTemplate, data)
}

// RenderCorrectionPrompt renders the re-prompt sent after a failed validation.
func RenderCorrectionPrompt(data PromptData) (string, error) {
	return render(correctionTemplate, data)
}

func render(t *template.Template, data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
