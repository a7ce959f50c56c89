// Package automation defines the closed Home Assistant automation contract:
// typed triggers, conditions and actions, strict decoding of the wire YAML
// dialect, deterministic serialization, and JSON Schema export.
package automation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// SchemaVersion is stamped on every plan produced by Parse.
const SchemaVersion = "1.0"

// ---------------------------------------------------------------------------
// Plan
// ---------------------------------------------------------------------------

// Plan is a single automation. The Go field names use the plural internal
// representation; the yaml/json tags carry the singular wire keys.
type Plan struct {
	// SchemaVersion and Metadata never appear on the wire.
	SchemaVersion string         `yaml:"-" json:"-"`
	Metadata      map[string]any `yaml:"-" json:"-"`

	ID           string         `yaml:"id,omitempty"            json:"id,omitempty"`
	Name         string         `yaml:"alias,omitempty"         json:"alias,omitempty"`
	Description  string         `yaml:"description,omitempty"   json:"description,omitempty"`
	Triggers     []Trigger      `yaml:"trigger"                 json:"trigger" jsonschema:"minItems=1"`
	Conditions   []Condition    `yaml:"condition,omitempty"     json:"condition,omitempty"`
	Actions      []Action       `yaml:"action"                  json:"action" jsonschema:"minItems=1"`
	Mode         Mode           `yaml:"mode,omitempty"          json:"mode,omitempty" jsonschema:"enum=single,enum=restart,enum=queued,enum=parallel"`
	Max          int            `yaml:"max,omitempty"           json:"max,omitempty" jsonschema:"minimum=1"`
	MaxExceeded  MaxExceeded    `yaml:"max_exceeded,omitempty"  json:"max_exceeded,omitempty" jsonschema:"enum=silent,enum=warning,enum=error"`
	InitialState *bool          `yaml:"initial_state,omitempty" json:"initial_state,omitempty"`
	Variables    map[string]any `yaml:"variables,omitempty"     json:"variables,omitempty"`
	Tags         []string       `yaml:"tags,omitempty"          json:"tags,omitempty"`
}

// EffectiveMode returns the mode Home Assistant applies when none is set.
func (p *Plan) EffectiveMode() Mode {
	if p.Mode == "" {
		return ModeSingle
	}
	return p.Mode
}

// Mode is the automation run mode.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeRestart  Mode = "restart"
	ModeQueued   Mode = "queued"
	ModeParallel Mode = "parallel"
)

// Valid reports whether m is one of the four run modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeSingle, ModeRestart, ModeQueued, ModeParallel:
		return true
	}
	return false
}

// MaxExceeded controls how Home Assistant logs runs dropped by the mode.
type MaxExceeded string

const (
	MaxExceededSilent  MaxExceeded = "silent"
	MaxExceededWarning MaxExceeded = "warning"
	MaxExceededError   MaxExceeded = "error"
)

// ---------------------------------------------------------------------------
// Trigger
// ---------------------------------------------------------------------------

// Platform enumerates the supported trigger platforms.
type Platform string

const (
	PlatformState        Platform = "state"
	PlatformTime         Platform = "time"
	PlatformTimePattern  Platform = "time_pattern"
	PlatformNumericState Platform = "numeric_state"
	PlatformSun          Platform = "sun"
	PlatformEvent        Platform = "event"
	PlatformMQTT         Platform = "mqtt"
	PlatformWebhook      Platform = "webhook"
	PlatformZone         Platform = "zone"
	PlatformGeoLocation  Platform = "geo_location"
	PlatformDevice       Platform = "device"
)

// Platforms lists every accepted trigger platform in declaration order.
var Platforms = []Platform{
	PlatformState, PlatformTime, PlatformTimePattern, PlatformNumericState,
	PlatformSun, PlatformEvent, PlatformMQTT, PlatformWebhook,
	PlatformZone, PlatformGeoLocation, PlatformDevice,
}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// IsTimeBased reports whether the platform fires on the clock.
func (p Platform) IsTimeBased() bool {
	return p == PlatformTime || p == PlatformTimePattern || p == PlatformSun
}

// Trigger is the union of all platform-specific trigger attributes. Only the
// fields relevant to Platform are expected to be populated.
type Trigger struct {
	Platform Platform `yaml:"platform" json:"platform" jsonschema:"enum=state,enum=time,enum=time_pattern,enum=numeric_state,enum=sun,enum=event,enum=mqtt,enum=webhook,enum=zone,enum=geo_location,enum=device"`
	ID       string   `yaml:"id,omitempty"      json:"id,omitempty"`
	Enabled  *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// state, numeric_state, zone
	EntityID  StringList `yaml:"entity_id,omitempty" json:"entity_id,omitempty"`
	Attribute string     `yaml:"attribute,omitempty" json:"attribute,omitempty"`
	From      StringList `yaml:"from,omitempty"      json:"from,omitempty"`
	To        StringList `yaml:"to,omitempty"        json:"to,omitempty"`
	For       any        `yaml:"for,omitempty"       json:"for,omitempty"`

	// numeric_state
	Above         *Threshold `yaml:"above,omitempty"          json:"above,omitempty"`
	Below         *Threshold `yaml:"below,omitempty"          json:"below,omitempty"`
	ValueTemplate string     `yaml:"value_template,omitempty" json:"value_template,omitempty"`

	// time, time_pattern
	At      StringList `yaml:"at,omitempty"      json:"at,omitempty"`
	Hours   any        `yaml:"hours,omitempty"   json:"hours,omitempty"`
	Minutes any        `yaml:"minutes,omitempty" json:"minutes,omitempty"`
	Seconds any        `yaml:"seconds,omitempty" json:"seconds,omitempty"`

	// sun (sunrise|sunset), zone and geo_location (enter|leave)
	Event  string `yaml:"event,omitempty"  json:"event,omitempty"`
	Offset string `yaml:"offset,omitempty" json:"offset,omitempty"`
	Zone   string `yaml:"zone,omitempty"   json:"zone,omitempty"`
	Source string `yaml:"source,omitempty" json:"source,omitempty"`

	// event
	EventType string         `yaml:"event_type,omitempty" json:"event_type,omitempty"`
	EventData map[string]any `yaml:"event_data,omitempty" json:"event_data,omitempty"`

	// mqtt
	Topic   string `yaml:"topic,omitempty"   json:"topic,omitempty"`
	Payload string `yaml:"payload,omitempty" json:"payload,omitempty"`

	// webhook
	WebhookID      string   `yaml:"webhook_id,omitempty"      json:"webhook_id,omitempty"`
	AllowedMethods []string `yaml:"allowed_methods,omitempty" json:"allowed_methods,omitempty"`
	LocalOnly      *bool    `yaml:"local_only,omitempty"      json:"local_only,omitempty"`

	// device
	DeviceID string `yaml:"device_id,omitempty" json:"device_id,omitempty"`
	Domain   string `yaml:"domain,omitempty"    json:"domain,omitempty"`
	Type     string `yaml:"type,omitempty"      json:"type,omitempty"`
	Subtype  string `yaml:"subtype,omitempty"   json:"subtype,omitempty"`

	Variables map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
}

// ---------------------------------------------------------------------------
// Condition
// ---------------------------------------------------------------------------

// ConditionType enumerates condition kinds.
type ConditionType string

const (
	ConditionAnd          ConditionType = "and"
	ConditionOr           ConditionType = "or"
	ConditionNot          ConditionType = "not"
	ConditionState        ConditionType = "state"
	ConditionNumericState ConditionType = "numeric_state"
	ConditionTime         ConditionType = "time"
	ConditionTemplate     ConditionType = "template"
	ConditionZone         ConditionType = "zone"
	ConditionDevice       ConditionType = "device"
	ConditionSun          ConditionType = "sun"
	ConditionTrigger      ConditionType = "trigger"
)

// IsComposite reports whether the condition wraps sub-conditions.
func (t ConditionType) IsComposite() bool {
	return t == ConditionAnd || t == ConditionOr || t == ConditionNot
}

// Condition is a recursive tagged union keyed by Condition.
type Condition struct {
	Condition  ConditionType `yaml:"condition" json:"condition" jsonschema:"enum=and,enum=or,enum=not,enum=state,enum=numeric_state,enum=time,enum=template,enum=zone,enum=device,enum=sun,enum=trigger"`
	Alias      string        `yaml:"alias,omitempty"      json:"alias,omitempty"`
	Enabled    *bool         `yaml:"enabled,omitempty"    json:"enabled,omitempty"`
	Conditions []Condition   `yaml:"conditions,omitempty" json:"conditions,omitempty"`

	// state, numeric_state, zone, device
	EntityID  StringList `yaml:"entity_id,omitempty" json:"entity_id,omitempty"`
	Attribute string     `yaml:"attribute,omitempty" json:"attribute,omitempty"`
	State     StringList `yaml:"state,omitempty"     json:"state,omitempty"`
	For       any        `yaml:"for,omitempty"       json:"for,omitempty"`
	Match     string     `yaml:"match,omitempty"     json:"match,omitempty" jsonschema:"enum=any,enum=all"`

	// numeric_state, template
	Above         *Threshold `yaml:"above,omitempty"          json:"above,omitempty"`
	Below         *Threshold `yaml:"below,omitempty"          json:"below,omitempty"`
	ValueTemplate string     `yaml:"value_template,omitempty" json:"value_template,omitempty"`

	// time, sun
	After        string     `yaml:"after,omitempty"         json:"after,omitempty"`
	Before       string     `yaml:"before,omitempty"        json:"before,omitempty"`
	AfterOffset  string     `yaml:"after_offset,omitempty"  json:"after_offset,omitempty"`
	BeforeOffset string     `yaml:"before_offset,omitempty" json:"before_offset,omitempty"`
	Weekday      StringList `yaml:"weekday,omitempty"       json:"weekday,omitempty"`

	// zone
	Zone string `yaml:"zone,omitempty" json:"zone,omitempty"`

	// device
	DeviceID string `yaml:"device_id,omitempty" json:"device_id,omitempty"`
	Domain   string `yaml:"domain,omitempty"    json:"domain,omitempty"`
	Type     string `yaml:"type,omitempty"      json:"type,omitempty"`

	// trigger
	ID StringList `yaml:"id,omitempty" json:"id,omitempty"`
}

// ---------------------------------------------------------------------------
// Action
// ---------------------------------------------------------------------------

// Action is a single step of the action sequence. A service call carries
// Service; flow-control steps carry exactly one of the flow fields.
type Action struct {
	Alias   string `yaml:"alias,omitempty"   json:"alias,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	Service          string         `yaml:"service,omitempty"           json:"service,omitempty" jsonschema:"pattern=^[a-z0-9_]+\\.[a-z0-9_]+$"`
	Target           *Target        `yaml:"target,omitempty"            json:"target,omitempty"`
	EntityID         StringList     `yaml:"entity_id,omitempty"         json:"entity_id,omitempty"`
	Data             map[string]any `yaml:"data,omitempty"              json:"data,omitempty"`
	ResponseVariable string         `yaml:"response_variable,omitempty" json:"response_variable,omitempty"`

	Delay             any         `yaml:"delay,omitempty"               json:"delay,omitempty"`
	WaitTemplate      string      `yaml:"wait_template,omitempty"       json:"wait_template,omitempty"`
	WaitForTrigger    []Trigger   `yaml:"wait_for_trigger,omitempty"    json:"wait_for_trigger,omitempty"`
	Timeout           any         `yaml:"timeout,omitempty"             json:"timeout,omitempty"`
	ContinueOnTimeout *bool       `yaml:"continue_on_timeout,omitempty" json:"continue_on_timeout,omitempty"`
	Repeat            *Repeat     `yaml:"repeat,omitempty"              json:"repeat,omitempty"`
	Choose            []Option    `yaml:"choose,omitempty"              json:"choose,omitempty"`
	Default           []Action    `yaml:"default,omitempty"             json:"default,omitempty"`
	If                []Condition `yaml:"if,omitempty"                  json:"if,omitempty"`
	Then              []Action    `yaml:"then,omitempty"                json:"then,omitempty"`
	Else              []Action    `yaml:"else,omitempty"                json:"else,omitempty"`
	Parallel          []Action    `yaml:"parallel,omitempty"            json:"parallel,omitempty"`
	Sequence          []Action    `yaml:"sequence,omitempty"            json:"sequence,omitempty"`

	Event     string         `yaml:"event,omitempty"      json:"event,omitempty"`
	EventData map[string]any `yaml:"event_data,omitempty" json:"event_data,omitempty"`
	Scene     string         `yaml:"scene,omitempty"      json:"scene,omitempty"`
	Stop      string         `yaml:"stop,omitempty"       json:"stop,omitempty"`
	Variables map[string]any `yaml:"variables,omitempty"  json:"variables,omitempty"`

	// Error policy. ContinueOnError is the legacy boolean form.
	ContinueOnError *bool  `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`
	Error           string `yaml:"error,omitempty"             json:"error,omitempty" jsonschema:"enum=continue,enum=stop"`
}

// Option is one arm of a choose block.
type Option struct {
	Alias      string      `yaml:"alias,omitempty" json:"alias,omitempty"`
	Conditions []Condition `yaml:"conditions"      json:"conditions"`
	Sequence   []Action    `yaml:"sequence"        json:"sequence"`
}

// Repeat describes a repeat block.
type Repeat struct {
	Count    any         `yaml:"count,omitempty"    json:"count,omitempty"`
	While    []Condition `yaml:"while,omitempty"    json:"while,omitempty"`
	Until    []Condition `yaml:"until,omitempty"    json:"until,omitempty"`
	ForEach  any         `yaml:"for_each,omitempty" json:"for_each,omitempty"`
	Sequence []Action    `yaml:"sequence"           json:"sequence"`
}

// Target addresses entities directly or through areas, devices and labels.
type Target struct {
	EntityID StringList `yaml:"entity_id,omitempty" json:"entity_id,omitempty"`
	AreaID   StringList `yaml:"area_id,omitempty"   json:"area_id,omitempty"`
	DeviceID StringList `yaml:"device_id,omitempty" json:"device_id,omitempty"`
	LabelID  StringList `yaml:"label_id,omitempty"  json:"label_id,omitempty"`
	FloorID  StringList `yaml:"floor_id,omitempty"  json:"floor_id,omitempty"`
}

// IsEmpty reports whether no selector is set.
func (t *Target) IsEmpty() bool {
	return t == nil || (len(t.EntityID) == 0 && len(t.AreaID) == 0 &&
		len(t.DeviceID) == 0 && len(t.LabelID) == 0 && len(t.FloorID) == 0)
}

// ActionKind is the capability an action exercises.
type ActionKind string

const (
	KindService  ActionKind = "service"
	KindDelay    ActionKind = "delay"
	KindWait     ActionKind = "wait"
	KindRepeat   ActionKind = "repeat"
	KindChoose   ActionKind = "choose"
	KindIf       ActionKind = "if"
	KindParallel ActionKind = "parallel"
	KindSequence ActionKind = "sequence"
	KindEvent    ActionKind = "event"
	KindScene    ActionKind = "scene"
	KindStop     ActionKind = "stop"
	KindVariable ActionKind = "variables"
	KindUnknown  ActionKind = ""
)

// Kind classifies the action by the first capability field present.
func (a *Action) Kind() ActionKind {
	switch {
	case a.Service != "":
		return KindService
	case a.Delay != nil:
		return KindDelay
	case a.WaitTemplate != "" || len(a.WaitForTrigger) > 0:
		return KindWait
	case a.Repeat != nil:
		return KindRepeat
	case len(a.Choose) > 0:
		return KindChoose
	case len(a.If) > 0:
		return KindIf
	case len(a.Parallel) > 0:
		return KindParallel
	case len(a.Sequence) > 0:
		return KindSequence
	case a.Event != "":
		return KindEvent
	case a.Scene != "":
		return KindScene
	case a.Stop != "":
		return KindStop
	case len(a.Variables) > 0:
		return KindVariable
	}
	return KindUnknown
}

// Domain returns the service domain ("light" for "light.turn_on").
func (a *Action) Domain() string {
	domain, _, _ := strings.Cut(a.Service, ".")
	return domain
}

// Entities returns the entity ids addressed by the action, target first.
func (a *Action) Entities() []string {
	var out []string
	if a.Target != nil {
		out = append(out, a.Target.EntityID...)
	}
	out = append(out, a.EntityID...)
	return out
}

// HasDelay reports whether the action itself pauses execution.
func (a *Action) HasDelay() bool {
	return a.Delay != nil
}

// HasWait reports whether the action pauses or waits.
func (a *Action) HasWait() bool {
	return a.Delay != nil || a.WaitTemplate != "" || len(a.WaitForTrigger) > 0
}

// ---------------------------------------------------------------------------
// StringList
// ---------------------------------------------------------------------------

// StringList accepts either a scalar or a sequence of scalars.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*l = nil
			return nil
		}
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		out := make(StringList, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected string list item, got %s", item.Line, kindName(item.Kind))
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	}
	return fmt.Errorf("line %d: expected string or list of strings, got %s", node.Line, kindName(node.Kind))
}

// MarshalYAML emits a single value as a scalar.
func (l StringList) MarshalYAML() (any, error) {
	if len(l) == 1 {
		return l[0], nil
	}
	return []string(l), nil
}

// JSONSchema implements jsonschema.JSONSchemer.
func (StringList) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
	}
}

// Contains reports whether v is in the list.
func (l StringList) Contains(v string) bool {
	for _, s := range l {
		if s == v {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Threshold
// ---------------------------------------------------------------------------

// Threshold is a numeric_state bound: a literal number or an entity id whose
// state supplies the number.
type Threshold struct {
	Value    *float64
	EntityID string
}

// NewThreshold returns a literal threshold.
func NewThreshold(v float64) *Threshold {
	return &Threshold{Value: &v}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Threshold) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: threshold must be a number or entity id", node.Line)
	}
	if f, err := strconv.ParseFloat(node.Value, 64); err == nil {
		t.Value = &f
		return nil
	}
	t.EntityID = node.Value
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (t Threshold) MarshalYAML() (any, error) {
	if t.Value != nil {
		return *t.Value, nil
	}
	return t.EntityID, nil
}

// MarshalJSON writes the wire form: the number or the entity id.
func (t Threshold) MarshalJSON() ([]byte, error) {
	if t.Value != nil {
		return json.Marshal(*t.Value)
	}
	return json.Marshal(t.EntityID)
}

// JSONSchema implements jsonschema.JSONSchemer.
func (Threshold) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "number"},
			{Type: "string"},
		},
	}
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "list"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}
