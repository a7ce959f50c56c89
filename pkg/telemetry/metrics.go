package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records pipeline, enhancement and generation outcomes. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	stageTotal       *prometheus.CounterVec
	validationTime   prometheus.Histogram
	enhancementTotal *prometheus.CounterVec
	generationTries  prometheus.Histogram
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		stageTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "homeiq_validation_stage_total",
			Help: "Validation stage outcomes.",
		}, []string{"stage", "result"}),
		validationTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "homeiq_validation_duration_seconds",
			Help:    "Duration of full validation pipeline runs.",
			Buckets: prometheus.DefBuckets,
		}),
		enhancementTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "homeiq_enhancement_step_total",
			Help: "Enhancement step outcomes.",
		}, []string{"step", "result"}),
		generationTries: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "homeiq_generation_attempts",
			Help:    "LLM attempts needed per generation request.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
	}
}

// ObserveStage counts one stage outcome (passed, failed, skipped).
func (m *Metrics) ObserveStage(stage, result string) {
	if m == nil {
		return
	}
	m.stageTotal.WithLabelValues(stage, result).Inc()
}

// ObserveValidation records the duration of one pipeline run.
func (m *Metrics) ObserveValidation(d time.Duration) {
	if m == nil {
		return
	}
	m.validationTime.Observe(d.Seconds())
}

// ObserveEnhancement counts one enhancement step outcome (applied, failed).
func (m *Metrics) ObserveEnhancement(step, result string) {
	if m == nil {
		return
	}
	m.enhancementTotal.WithLabelValues(step, result).Inc()
}

// ObserveGeneration records how many LLM attempts a request took.
func (m *Metrics) ObserveGeneration(attempts int) {
	if m == nil {
		return
	}
	m.generationTries.Observe(float64(attempts))
}
