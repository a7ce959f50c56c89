// Package app wires the homeiq components from one loaded configuration.
// Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/wtthornton/HomeIQ-sub005/pkg/condition"
	"github.com/wtthornton/HomeIQ-sub005/pkg/config"
	"github.com/wtthornton/HomeIQ-sub005/pkg/enhance"
	"github.com/wtthornton/HomeIQ-sub005/pkg/eval"
	"github.com/wtthornton/HomeIQ-sub005/pkg/generate"
	"github.com/wtthornton/HomeIQ-sub005/pkg/hass"
	"github.com/wtthornton/HomeIQ-sub005/pkg/telemetry"
	"github.com/wtthornton/HomeIQ-sub005/pkg/validate"
)

// App holds the shared collaborators. Hass is nil when no Home Assistant
// URL is configured.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
	Hass     *hass.Client
	registry *prometheus.Registry
}

// New decodes v and builds the collaborators. Logs go to logOut.
func New(v *viper.Viper, logOut io.Writer) (*App, error) {
	cfg, err := config.Decode(v)
	if err != nil {
		return nil, err
	}
	a := &App{
		Config: cfg,
		Logger: telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format, logOut),
	}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.Metrics = telemetry.NewMetrics(a.registry)
	}

	client, err := hass.NewClient(cfg.Hass(), hass.WithLogger(a.Logger))
	switch {
	case errors.Is(err, hass.ErrNotConfigured):
		a.Logger.Debug("home assistant not configured, running offline")
	case err != nil:
		return nil, err
	default:
		a.Hass = client
	}
	return a, nil
}

// Pipeline returns a validation pipeline. The entity stage and template
// state lookups use Home Assistant when it is configured.
func (a *App) Pipeline() *validate.Pipeline {
	opts := []validate.Option{
		validate.WithLogger(a.Logger),
		validate.WithMetrics(a.Metrics),
		validate.WithPolicy(a.Config.Policy()),
		validate.WithSafetyConfig(a.Config.SafetyRules()),
	}
	if a.Hass != nil {
		opts = append(opts,
			validate.WithOracle(a.Hass),
			validate.WithEngine(eval.New(a.Hass, eval.WithLogger(a.Logger))),
		)
	}
	return validate.New(opts...)
}

// Conditions returns a condition evaluator over live Home Assistant state.
func (a *App) Conditions() (*condition.Evaluator, error) {
	if a.Hass == nil {
		return nil, hass.ErrNotConfigured
	}
	engine := eval.New(a.Hass, eval.WithLogger(a.Logger))
	return condition.New(engine, condition.WithLogger(a.Logger)), nil
}

// Chain returns the enhancement chain.
func (a *App) Chain() *enhance.Chain {
	opts := []enhance.Option{
		enhance.WithConfig(a.Config.EnhanceChain()),
		enhance.WithLogger(a.Logger),
		enhance.WithMetrics(a.Metrics),
	}
	if a.Hass != nil {
		opts = append(opts, enhance.WithRegistry(a.Hass), enhance.WithStates(a.Hass))
	}
	return enhance.New(opts...)
}

// Generator returns the self-correcting generator. It fails when no LLM
// endpoint is configured.
func (a *App) Generator() (*generate.Generator, error) {
	client, err := generate.NewOpenAIClient(a.Config.LLMClient())
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	opts := []generate.Option{
		generate.WithEnhancer(a.Chain()),
		generate.WithMaxAttempts(a.Config.LLM.MaxAttempts),
		generate.WithLogger(a.Logger),
		generate.WithMetrics(a.Metrics),
	}
	if a.Hass != nil {
		opts = append(opts, generate.WithStates(a.Hass))
	}
	return generate.New(client, a.Pipeline(), opts...), nil
}

// ServeMetrics exposes /metrics on metrics.addr until ctx ends. It is a
// no-op unless metrics are enabled and an address is set.
func (a *App) ServeMetrics(ctx context.Context) {
	if a.registry == nil || a.Config.Metrics.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.Config.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Warn("metrics listener stopped", "error", err)
		}
	}()
}
