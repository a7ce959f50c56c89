package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtthornton/HomeIQ-sub005/pkg/automation"
	"github.com/wtthornton/HomeIQ-sub005/pkg/config"
	"github.com/wtthornton/HomeIQ-sub005/pkg/hass"
)

func TestNew_Offline(t *testing.T) {
	a, err := New(config.NewViper(), io.Discard)
	require.NoError(t, err)
	assert.Nil(t, a.Hass)
	assert.Nil(t, a.Metrics)

	report, err := a.Pipeline().Validate(context.Background(), "trigger:\n  - platform: time\n    at: \"07:00:00\"\naction:\n  - service: light.turn_on\n    entity_id: light.kitchen\n")
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.True(t, report.Stage("entities").Skipped)

	_, err = a.Generator()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm client")

	_, err = a.Conditions()
	assert.ErrorIs(t, err, hass.ErrNotConfigured)
}

func TestNew_WithHomeAssistant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"entity_id":"light.kitchen","state":"on"}]`))
	}))
	defer srv.Close()

	v := config.NewViper()
	v.Set("home_assistant.url", srv.URL)
	v.Set("home_assistant.token", "t")
	v.Set("metrics.enabled", true)
	v.Set("llm.base_url", "https://llm.example.com/v1")
	v.Set("llm.api_key", "k")
	v.Set("llm.model", "m")

	a, err := New(v, io.Discard)
	require.NoError(t, err)
	require.NotNil(t, a.Hass)
	require.NotNil(t, a.Metrics)

	report, err := a.Pipeline().Validate(context.Background(), "trigger:\n  - platform: time\n    at: \"07:00:00\"\naction:\n  - service: light.turn_on\n    entity_id: light.kitchen\n")
	require.NoError(t, err)
	assert.True(t, report.AllChecksPassed)

	g, err := a.Generator()
	require.NoError(t, err)
	assert.NotNil(t, g)
	assert.NotNil(t, a.Chain())

	ev, err := a.Conditions()
	require.NoError(t, err)
	assert.True(t, ev.EvaluateOne(context.Background(), &automation.Condition{
		Condition: automation.ConditionState,
		EntityID:  automation.StringList{"light.kitchen"},
		State:     automation.StringList{"on"},
	}, nil))
}

func TestNew_InvalidConfig(t *testing.T) {
	v := config.NewViper()
	v.Set("log.level", "loud")
	_, err := New(v, io.Discard)
	require.Error(t, err)
}
