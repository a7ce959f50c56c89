package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug", "json", &buf)
	logger.Debug("stage finished", slog.String("stage", "structure"))

	assert.Contains(t, buf.String(), `"msg":"stage finished"`)
	assert.Contains(t, buf.String(), `"stage":"structure"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestFromContext_NoSpan(t *testing.T) {
	base := Discard()
	assert.Same(t, base, FromContext(context.Background(), base))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveStage("entities", "failed")
	m.ObserveStage("entities", "failed")
	m.ObserveEnhancement("tags", "applied")
	m.ObserveValidation(20 * time.Millisecond)
	m.ObserveGeneration(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.stageTotal.WithLabelValues("entities", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enhancementTotal.WithLabelValues("tags", "applied")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStage("syntax", "passed")
		m.ObserveValidation(time.Second)
		m.ObserveEnhancement("mode", "failed")
		m.ObserveGeneration(1)
	})
}
