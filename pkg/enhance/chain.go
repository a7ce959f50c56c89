// Package enhance applies the ordered best-practice chain to a validated
// automation: run defaults, error handling, availability guards, a derived
// description, tags, target collapsing and voice hints.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
	"github.com/wtthornton/HomeIQ-sub005/pkg/hass"
	"github.com/wtthornton/HomeIQ-sub005/pkg/telemetry"
	"github.com/wtthornton/HomeIQ-sub005/pkg/validate"
)

// ErrRegistryUnavailable is returned by steps that need the entity
// registry when none is configured. The chain records the step as skipped.
var ErrRegistryUnavailable = errors.New("entity registry unavailable")

// errNoStates marks a step skipped for lack of a state source.
var errNoStates = errors.New("state source unavailable")

// StepError wraps the failure of one step. The step's changes are dropped
// and the chain continues from the document as it was before the step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("enhancement step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Registry resolves entity ids to their area, device and labels.
// *hass.Client implements it.
type Registry interface {
	EntityRegistry(ctx context.Context) (map[string]hass.RegistryEntry, error)
}

// StateSource lists live entity states. *hass.Client implements it.
type StateSource interface {
	GetStates(ctx context.Context) ([]hass.State, error)
}

// Preferences are caller overrides applied in the last step.
type Preferences struct {
	Mode         automation.Mode        `mapstructure:"mode" yaml:"mode" validate:"omitempty,oneof=single restart queued parallel"`
	MaxExceeded  automation.MaxExceeded `mapstructure:"max_exceeded" yaml:"max_exceeded" validate:"omitempty,oneof=silent warning error"`
	InitialState *bool                  `mapstructure:"initial_state" yaml:"initial_state"`
	ExtraTags    []string               `mapstructure:"extra_tags" yaml:"extra_tags"`
}

// Config tunes the chain. The rule tables default to the package tables.
type Config struct {
	UseChooseBlocks           bool           `mapstructure:"use_choose_blocks" yaml:"use_choose_blocks"`
	AddAvailabilityConditions bool           `mapstructure:"add_availability_conditions" yaml:"add_availability_conditions"`
	DescriptionThreshold      int            `mapstructure:"description_threshold" yaml:"description_threshold" validate:"gte=0"`
	CriticalKeywords          []string       `mapstructure:"critical_keywords" yaml:"critical_keywords"`
	TagRules                  []TagRule      `mapstructure:"tag_rules" yaml:"tag_rules"`
	LabelBonus                map[string]int `mapstructure:"label_bonus" yaml:"label_bonus"`
	GenericLabels             []string       `mapstructure:"generic_labels" yaml:"generic_labels"`
	Preferences               Preferences    `mapstructure:"preferences" yaml:"preferences"`

	// Revalidate re-checks the emitted YAML and falls back to the
	// pre-enhancement document when it no longer passes.
	Revalidate bool `mapstructure:"revalidate" yaml:"revalidate"`
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		AddAvailabilityConditions: true,
		DescriptionThreshold:      100,
		CriticalKeywords:          DefaultCriticalKeywords,
		TagRules:                  DefaultTagRules,
		LabelBonus:                DefaultLabelBonus,
		GenericLabels:             DefaultGenericLabels,
		Revalidate:                true,
	}
}

// Result is the chain output. Plan and YAML are either fully enhanced or,
// when Reverted is set, the pre-enhancement document.
type Result struct {
	Plan     *automation.Plan `json:"-"`
	YAML     string           `json:"yaml"`
	Applied  []string         `json:"applied"`
	Skipped  []string         `json:"skipped,omitempty"`
	Failures []*StepError     `json:"-"`
	Metadata map[string]any   `json:"metadata,omitempty"`
	Reverted bool             `json:"reverted,omitempty"`
}

// Chain runs the enhancement steps. It is safe for concurrent use.
type Chain struct {
	cfg      Config
	registry Registry
	states   StateSource
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

// Option configures a Chain.
type Option func(*Chain)

// WithConfig replaces the default tuning. Empty rule tables fall back to
// the package defaults.
func WithConfig(cfg Config) Option {
	return func(c *Chain) { c.cfg = cfg }
}

// WithRegistry enables the target and label optimizations.
func WithRegistry(r Registry) Option {
	return func(c *Chain) { c.registry = r }
}

// WithStates enables availability conditions and friendly names in
// descriptions and voice hints.
func WithStates(s StateSource) Option {
	return func(c *Chain) { c.states = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Chain) { c.metrics = m }
}

// New returns a chain.
func New(opts ...Option) *Chain {
	c := &Chain{
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		tracer: telemetry.Tracer("enhance"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.cfg.CriticalKeywords) == 0 {
		c.cfg.CriticalKeywords = DefaultCriticalKeywords
	}
	if len(c.cfg.TagRules) == 0 {
		c.cfg.TagRules = DefaultTagRules
	}
	if c.cfg.LabelBonus == nil {
		c.cfg.LabelBonus = DefaultLabelBonus
	}
	if c.cfg.GenericLabels == nil {
		c.cfg.GenericLabels = DefaultGenericLabels
	}
	return c
}

// StepNames returns the step names in execution order.
func StepNames() []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.name
	}
	return names
}

// EnhanceYAML parses text against the closed schema and applies the chain.
func (c *Chain) EnhanceYAML(ctx context.Context, text string) (*Result, error) {
	plan, err := automation.Parse(text)
	if err != nil {
		return nil, err
	}
	return c.Apply(ctx, plan)
}

// Apply runs every step in order on a copy of plan; plan itself is not
// modified. A failing step is logged and skipped. When ctx is cancelled
// mid-chain the pre-enhancement document is returned with ctx.Err().
func (c *Chain) Apply(ctx context.Context, plan *automation.Plan) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "enhance.chain")
	defer span.End()
	logger := telemetry.FromContext(ctx, c.logger)

	original, err := plan.Clone()
	if err != nil {
		return nil, err
	}
	doc, err := plan.Clone()
	if err != nil {
		return nil, err
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}

	res := &Result{Applied: []string{}}
	r := &run{c: c, logger: logger}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return c.revert(original, res, err)
		}
		next, err := c.runStep(ctx, r, s, doc)
		switch {
		case err == nil:
			doc = next
			res.Applied = append(res.Applied, s.name)
			c.metrics.ObserveEnhancement(s.name, "applied")
		case errors.Is(err, ErrRegistryUnavailable) || errors.Is(err, errNoStates) || errors.Is(err, errDisabled):
			res.Skipped = append(res.Skipped, s.name)
			c.metrics.ObserveEnhancement(s.name, "skipped")
			logger.Debug("enhancement step skipped", slog.String("step", s.name), slog.String("reason", err.Error()))
		default:
			se := &StepError{Step: s.name, Err: err}
			res.Failures = append(res.Failures, se)
			c.metrics.ObserveEnhancement(s.name, "failed")
			logger.Warn("enhancement step failed; keeping previous document",
				slog.String("step", s.name), slog.String("error", err.Error()))
		}
	}
	if err := ctx.Err(); err != nil {
		return c.revert(original, res, err)
	}

	out, err := automation.Serialize(doc)
	if err != nil {
		return nil, err
	}
	if c.cfg.Revalidate {
		if err := validate.CheckShape(out); err != nil {
			logger.Warn("enhanced automation failed re-validation; using pre-enhancement document",
				slog.String("error", err.Error()))
			res.Failures = append(res.Failures, &StepError{Step: "revalidate", Err: err})
			return c.revert(original, res, nil)
		}
	}
	res.Plan = doc
	res.YAML = out
	res.Metadata = doc.Metadata
	span.SetAttributes(
		attribute.Int("applied", len(res.Applied)),
		attribute.Int("failed", len(res.Failures)),
	)
	return res, nil
}

// revert fills res with the pre-enhancement document and returns cause.
func (c *Chain) revert(original *automation.Plan, res *Result, cause error) (*Result, error) {
	out, err := automation.Serialize(original)
	if err != nil {
		return nil, err
	}
	res.Plan = original
	res.YAML = out
	res.Metadata = original.Metadata
	res.Reverted = true
	return res, cause
}

// runStep applies s to a copy of doc and returns the copy.
func (c *Chain) runStep(ctx context.Context, r *run, s step, doc *automation.Plan) (next *automation.Plan, err error) {
	ctx, span := c.tracer.Start(ctx, "enhance."+s.name)
	defer span.End()
	defer func() {
		if p := recover(); p != nil {
			next, err = nil, fmt.Errorf("panic: %v", p)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	work, err := doc.Clone()
	if err != nil {
		return nil, err
	}
	if work.Metadata == nil {
		work.Metadata = map[string]any{}
	}
	if err := s.fn(ctx, r, work); err != nil {
		return nil, err
	}
	return work, nil
}
