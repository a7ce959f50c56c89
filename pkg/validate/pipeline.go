package validate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
	"github.com/wtthornton/HomeIQ-sub005/pkg/eval"
	"github.com/wtthornton/HomeIQ-sub005/pkg/telemetry"
)

// Policy decides whether advisory findings fail validation.
type Policy struct {
	StrictLogic    bool
	StrictSafety   bool
	MinSafetyScore int
}

// Pipeline runs the validation stages in fixed order. It holds no
// per-request state and is safe for concurrent use.
type Pipeline struct {
	oracle  EntityOracle
	engine  *eval.Engine
	safety  SafetyConfig
	policy  Policy
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithOracle sets the entity-existence oracle. Without one the entity
// stage is skipped with a warning.
func WithOracle(o EntityOracle) Option {
	return func(p *Pipeline) { p.oracle = o }
}

// WithEngine sets the template engine used to check templates.
func WithEngine(e *eval.Engine) Option {
	return func(p *Pipeline) { p.engine = e }
}

// WithSafetyConfig tunes the safety rules.
func WithSafetyConfig(cfg SafetyConfig) Option {
	return func(p *Pipeline) { p.safety = cfg }
}

// WithPolicy sets the strictness policy.
func WithPolicy(policy Policy) Option {
	return func(p *Pipeline) { p.policy = policy }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New returns a pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		safety: DefaultSafetyConfig(),
		logger: slog.Default(),
		tracer: telemetry.Tracer("validate"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.engine == nil {
		p.engine = eval.New(nil, eval.WithLogger(p.logger))
	}
	return p
}

// Validate runs syntax → structure → entities → logic → safety over text.
// It always returns a report. The error is non-nil only for the two hard
// failures: *SyntaxError and *TemplateEntityError.
func (p *Pipeline) Validate(ctx context.Context, text string) (*Report, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "validate.pipeline")
	defer span.End()
	defer func() { p.metrics.ObserveValidation(time.Since(start)) }()

	report := &Report{Stages: []StageResult{}, YAML: text}

	doc, err := parseSyntax(text)
	if err != nil {
		p.record(ctx, report, newStage(StageSyntax, []*Finding{errorf(StageSyntax, "", "%v", err)}))
		report.finish(true)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	if err := CheckTemplateEntities(doc); err != nil {
		report.Fatal = err.Error()
		report.finish(true)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	p.record(ctx, report, newStage(StageSyntax, nil))

	// Structure. Fixes rewrite doc in place; every later stage reads the
	// fixed document.
	findings, fixed := checkStructure(doc)
	structure := newStage(StageStructure, findings)
	report.AutoFixed = fixed
	if fixed && structure.Valid {
		out, err := encodeNode(doc)
		if err != nil {
			structure.Errors = append(structure.Errors, fmt.Sprintf("encode fixed document: %v", err))
			structure.Valid = false
		} else {
			report.YAML = out
			report.FixedYAMLUsed = true
		}
	}
	p.record(ctx, report, structure)
	if !structure.Valid {
		report.finish(true)
		return report, nil
	}

	plan, err := automation.Parse(report.YAML)
	report.SchemaValid = err == nil
	if err != nil {
		report.SchemaError = err.Error()
		plan, _ = automation.DecodeLenient(report.YAML)
	}

	entityFindings, skipped := checkEntities(ctx, p.oracle, ExtractEntities(doc))
	entities := newStage(StageEntities, entityFindings)
	entities.Skipped = skipped
	p.record(ctx, report, entities)
	if !entities.Valid {
		report.finish(true)
		return report, nil
	}

	if plan == nil {
		p.record(ctx, report, skippedStage(StageLogic, "automation could not be decoded"))
		p.record(ctx, report, skippedStage(StageSafety, "automation could not be decoded"))
		report.finish(false)
		return report, nil
	}

	logicFindings := checkLogic(plan, p.engine)
	if p.policy.StrictLogic {
		elevate(logicFindings)
	}
	p.record(ctx, report, newStage(StageLogic, logicFindings))

	p.record(ctx, report, p.safetyStage(report, plan))

	report.finish(false)
	span.SetAttributes(
		attribute.Bool("valid", report.Valid),
		attribute.Int("errors", report.TotalErrors),
		attribute.Int("warnings", report.TotalWarnings),
	)
	return report, nil
}

func (p *Pipeline) safetyStage(report *Report, plan *automation.Plan) StageResult {
	score, issues := CheckSafety(plan, p.safety)
	report.SafetyScore = &score
	report.SafetyIssues = issues

	var findings []*Finding
	for _, is := range issues {
		f := warningf(StageSafety, is.Path, "%s: %s (suggested fix: %s)", is.Rule, is.Message, is.SuggestedFix)
		if p.policy.StrictSafety && is.Severity == SeverityError {
			f.Severity = SeverityError
		}
		findings = append(findings, f)
	}
	if p.policy.MinSafetyScore > 0 && score < p.policy.MinSafetyScore {
		findings = append(findings, errorf(StageSafety, "", "safety score %d is below the minimum %d", score, p.policy.MinSafetyScore))
	}
	return newStage(StageSafety, findings)
}

func (p *Pipeline) record(ctx context.Context, report *Report, s StageResult) {
	result := "passed"
	switch {
	case s.Skipped:
		result = "skipped"
	case !s.Valid:
		result = "failed"
	}
	p.metrics.ObserveStage(s.Name, result)
	trace.SpanFromContext(ctx).AddEvent("stage", trace.WithAttributes(
		attribute.String("stage", s.Name),
		attribute.String("result", result),
	))
	telemetry.FromContext(ctx, p.logger).Debug("validation stage finished",
		slog.String("stage", s.Name),
		slog.String("result", result),
		slog.Int("errors", len(s.Errors)),
		slog.Int("warnings", len(s.Warnings)),
	)
	report.Stages = append(report.Stages, s)
}

func skippedStage(name, reason string) StageResult {
	s := newStage(name, []*Finding{warningf(name, "", "skipped: %s", reason)})
	s.Skipped = true
	return s
}

func elevate(findings []*Finding) {
	for _, f := range findings {
		f.Severity = SeverityError
	}
}

// CheckShape runs the syntax, template-entity, structure and schema checks
// without fixing anything. It is used to re-validate generated output.
func CheckShape(text string) error {
	doc, err := parseSyntax(text)
	if err != nil {
		return err
	}
	if err := CheckTemplateEntities(doc); err != nil {
		return err
	}
	findings, _ := checkStructure(doc)
	for _, f := range findings {
		if f.Severity == SeverityError {
			return f
		}
	}
	if _, err := automation.Parse(text); err != nil {
		return err
	}
	return nil
}
