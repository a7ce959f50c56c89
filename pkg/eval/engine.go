// Package eval renders Home Assistant value templates. Every {{ ... }}
// segment is compiled as an expr-lang expression against a closed
// environment: the caller's variables plus a fixed function set (states,
// is_state, state_attr, now, utcnow, float, int, round). Undefined names
// are compile errors and the expression language has no filesystem,
// process or import access.
package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/wtthornton/HomeIQ-sub005/pkg/hass"
)

// DefaultStateTTL bounds how long a fetched state snapshot is reused.
const DefaultStateTTL = 5 * time.Second

const stateCacheSize = 4096

// ErrNoStateSource is returned by state lookups on an engine built without
// a state source.
var ErrNoStateSource = errors.New("no state source configured")

// StateSource supplies the live entity states.
type StateSource interface {
	GetStates(ctx context.Context) ([]hass.State, error)
}

// TemplateError reports a malformed template or a failed render. Err keeps
// the underlying compiler or runtime message.
type TemplateError struct {
	Template string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

type cachedState struct {
	state hass.State
	found bool
}

// Engine renders templates. It is safe for concurrent use.
type Engine struct {
	source StateSource
	ttl    time.Duration
	cache  *expirable.LRU[string, cachedState]
	group  singleflight.Group
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStateTTL overrides DefaultStateTTL.
func WithStateTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

// WithClock sets the time source behind now() and utcnow().
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an engine reading states from source. A nil source is
// allowed; templates that look up state then fail with ErrNoStateSource.
func New(source StateSource, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		ttl:    DefaultStateTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = expirable.NewLRU[string, cachedState](stateCacheSize, nil, e.ttl)
	return e
}

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Render evaluates every {{ }} segment of tmpl and concatenates the result
// with the literal text around it. Failures are *TemplateError.
func (e *Engine) Render(ctx context.Context, tmpl string, vars map[string]any) (string, error) {
	segs, err := split(tmpl)
	if err != nil {
		return "", &TemplateError{Template: tmpl, Err: err}
	}
	var b strings.Builder
	for _, s := range segs {
		if !s.expr {
			b.WriteString(s.text)
			continue
		}
		out, err := e.run(ctx, s.text, vars)
		if err != nil {
			return "", &TemplateError{Template: tmpl, Err: err}
		}
		b.WriteString(format(out))
	}
	return b.String(), nil
}

// RenderBool renders tmpl and coerces the output with Truthy.
func (e *Engine) RenderBool(ctx context.Context, tmpl string, vars map[string]any) (bool, error) {
	out, err := e.Render(ctx, tmpl, vars)
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

// Check compiles every segment of tmpl without evaluating it. Variables are
// not known ahead of a run, so unknown names are accepted here.
func (e *Engine) Check(tmpl string) error {
	segs, err := split(tmpl)
	if err != nil {
		return &TemplateError{Template: tmpl, Err: err}
	}
	for _, s := range segs {
		if !s.expr {
			continue
		}
		opts := append(e.functions(context.Background()), expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
		if _, err := expr.Compile(rewriteFilters(s.text), opts...); err != nil {
			return &TemplateError{Template: tmpl, Err: fmt.Errorf("compile %q: %w", s.text, err)}
		}
	}
	return nil
}

func (e *Engine) run(ctx context.Context, source string, vars map[string]any) (any, error) {
	env := make(map[string]any, len(vars))
	maps.Copy(env, vars)

	opts := append(e.functions(ctx), expr.Env(env))
	program, err := expr.Compile(rewriteFilters(source), opts...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", source, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", source, err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// State lookups
// ---------------------------------------------------------------------------

// State returns the current state of entityID. found is false when Home
// Assistant does not know the entity. Lookups within the TTL window share
// one snapshot; concurrent refreshes collapse into a single fetch.
func (e *Engine) State(ctx context.Context, entityID string) (hass.State, bool, error) {
	if c, ok := e.cache.Get(entityID); ok {
		return c.state, c.found, nil
	}
	if e.source == nil {
		return hass.State{}, false, ErrNoStateSource
	}

	_, err, _ := e.group.Do("states", func() (any, error) {
		states, err := e.source.GetStates(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range states {
			e.cache.Add(s.EntityID, cachedState{state: s, found: true})
		}
		return nil, nil
	})
	if err != nil {
		e.logger.Warn("state refresh failed", slog.String("entity_id", entityID), slog.Any("error", err))
		return hass.State{}, false, fmt.Errorf("fetch states: %w", err)
	}

	if c, ok := e.cache.Get(entityID); ok {
		return c.state, c.found, nil
	}
	missing := hass.State{EntityID: entityID}
	e.cache.Add(entityID, cachedState{state: missing})
	return missing, false, nil
}

// Invalidate drops every cached state.
func (e *Engine) Invalidate() {
	e.cache.Purge()
}

// ---------------------------------------------------------------------------
// Output coercion
// ---------------------------------------------------------------------------

// Truthy converts rendered template output to a boolean:
// true/1/yes/on are true, false/0/no/off and the empty string are false,
// other numbers are true when non-zero, and any other text is true.
func Truthy(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off", "":
		return false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f != 0
	}
	return true
}

// IsTemplate reports whether s contains template markup.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatFloat(x, 'f', 1, 64)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format("2006-01-02 15:04:05.999999-07:00")
	}
	return fmt.Sprint(v)
}
