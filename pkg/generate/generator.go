package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
	"github.com/wtthornton/HomeIQ-sub005/pkg/enhance"
	"github.com/wtthornton/HomeIQ-sub005/pkg/hass"
	"github.com/wtthornton/HomeIQ-sub005/pkg/telemetry"
	"github.com/wtthornton/HomeIQ-sub005/pkg/validate"
)

// DefaultMaxAttempts bounds the generate → validate → correct loop.
const DefaultMaxAttempts = 3

// MaxPromptEntities caps the entity list embedded in the system prompt.
const MaxPromptEntities = 300

// ErrAttemptsExhausted is returned when no attempt produced a valid document.
var ErrAttemptsExhausted = errors.New("generation attempts exhausted")

// Validator checks a candidate document. *validate.Pipeline implements it.
type Validator interface {
	Validate(ctx context.Context, text string) (*validate.Report, error)
}

// Enhancer applies best practices to a valid document. *enhance.Chain
// implements it.
type Enhancer interface {
	EnhanceYAML(ctx context.Context, text string) (*enhance.Result, error)
}

// StateSource lists the entities offered to the model.
type StateSource interface {
	GetStates(ctx context.Context) ([]hass.State, error)
}

// Result is the outcome of one generation request.
type Result struct {
	RequestID   string           `json:"request_id"`
	Model       string           `json:"model"`
	YAML        string           `json:"yaml"`
	Attempts    int              `json:"attempts"`
	Report      *validate.Report `json:"report,omitempty"`
	Enhancement *enhance.Result  `json:"enhancement,omitempty"`
}

// Generator runs the self-correction loop.
type Generator struct {
	client      LLMClient
	validator   Validator
	enhancer    Enhancer
	states      StateSource
	maxAttempts int
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
}

// Option configures a Generator.
type Option func(*Generator)

// WithEnhancer runs the enhancement chain on the validated document.
func WithEnhancer(e Enhancer) Option {
	return func(g *Generator) { g.enhancer = e }
}

// WithStates lists live entities in the system prompt.
func WithStates(s StateSource) Option {
	return func(g *Generator) { g.states = s }
}

// WithMaxAttempts sets the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithMetrics records attempt counts.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// New returns a Generator. A nil validator gets a default pipeline.
func New(client LLMClient, v Validator, opts ...Option) *Generator {
	g := &Generator{
		client:      client,
		validator:   v,
		maxAttempts: DefaultMaxAttempts,
		tracer:      telemetry.Tracer("generate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.validator == nil {
		g.validator = validate.New(validate.WithLogger(g.logger))
	}
	return g
}

// Generate turns request into a validated, enhanced automation. A document
// with a template in an entity_id field fails immediately. Any other
// validation failure is fed back to the model until the attempt budget is
// spent, after which the last report is returned with ErrAttemptsExhausted.
func (g *Generator) Generate(ctx context.Context, request string) (*Result, error) {
	if strings.TrimSpace(request) == "" {
		return nil, fmt.Errorf("request is empty")
	}
	res := &Result{RequestID: uuid.NewString(), Model: g.client.ModelName()}

	ctx, span := g.tracer.Start(ctx, "generate.request", trace.WithAttributes(
		attribute.String("request_id", res.RequestID),
		attribute.String("model", res.Model),
	))
	defer span.End()
	logger := telemetry.FromContext(ctx, g.logger).With("request_id", res.RequestID)

	system, err := g.systemPrompt(ctx, logger)
	if err != nil {
		return nil, err
	}

	data := PromptData{Request: request}
	user, err := RenderUserPrompt(data)
	if err != nil {
		return nil, fmt.Errorf("render user prompt: %w", err)
	}

	defer func() { g.metrics.ObserveGeneration(res.Attempts) }()
	for res.Attempts < g.maxAttempts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts++
		logger.Debug("requesting completion", "attempt", res.Attempts)

		response, err := g.client.Complete(ctx, system, user)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return res, fmt.Errorf("llm completion (attempt %d): %w", res.Attempts, err)
		}

		text, err := ExtractYAML(response)
		if err != nil {
			logger.Warn("completion carried no automation", "attempt", res.Attempts)
			data.PreviousYAML = strings.TrimSpace(response)
			data.Errors = "1. " + err.Error()
			if user, err = RenderCorrectionPrompt(data); err != nil {
				return res, fmt.Errorf("render correction prompt: %w", err)
			}
			continue
		}

		report, err := g.validator.Validate(ctx, text)
		res.Report = report
		res.YAML = text
		var tmplErr *validate.TemplateEntityError
		if errors.As(err, &tmplErr) {
			span.SetStatus(codes.Error, err.Error())
			return res, err
		}
		if report != nil && report.Valid {
			res.YAML = report.YAML
			span.SetAttributes(attribute.Int("attempts", res.Attempts))
			return res, g.enhance(ctx, logger, res)
		}

		data.PreviousYAML = text
		data.Errors = correctionErrors(report, err)
		logger.Info("candidate failed validation", "attempt", res.Attempts, "errors", data.Errors)
		if user, err = RenderCorrectionPrompt(data); err != nil {
			return res, fmt.Errorf("render correction prompt: %w", err)
		}
	}

	span.SetStatus(codes.Error, ErrAttemptsExhausted.Error())
	return res, fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, res.Attempts)
}

// enhance runs the chain. A chain failure other than cancellation keeps
// the validated document.
func (g *Generator) enhance(ctx context.Context, logger *slog.Logger, res *Result) error {
	if g.enhancer == nil {
		return nil
	}
	out, err := g.enhancer.EnhanceYAML(ctx, res.YAML)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("enhancement failed, keeping validated document", "error", err)
		return nil
	}
	res.Enhancement = out
	res.YAML = out.YAML
	return nil
}

func (g *Generator) systemPrompt(ctx context.Context, logger *slog.Logger) (string, error) {
	schema, err := automation.GenerateJSONSchema()
	if err != nil {
		return "", fmt.Errorf("generate schema: %w", err)
	}
	data := PromptData{JSONSchema: string(schema)}
	if g.states != nil {
		states, err := g.states.GetStates(ctx)
		if err != nil {
			logger.Warn("entity list unavailable, prompting without it", "error", err)
		} else {
			data.Entities = promptEntities(states)
		}
	}
	out, err := RenderSystemPrompt(data)
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return out, nil
}

func promptEntities(states []hass.State) []PromptEntity {
	out := make([]PromptEntity, 0, len(states))
	for _, s := range states {
		e := PromptEntity{ID: s.EntityID}
		if name, ok := s.Attributes["friendly_name"].(string); ok {
			e.Name = name
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > MaxPromptEntities {
		out = out[:MaxPromptEntities]
	}
	return out
}

func correctionErrors(report *validate.Report, err error) string {
	if report != nil {
		if s := report.Summary(); s != "" {
			return strings.TrimRight(s, "\n")
		}
	}
	if err != nil {
		return "1. " + err.Error()
	}
	return "1. validation failed"
}
