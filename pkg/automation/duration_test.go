package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   any
		want time.Duration
	}{
		{nil, 0},
		{30, 30 * time.Second},
		{1.5, 1500 * time.Millisecond},
		{"00:05:00", 5 * time.Minute},
		{"01:30", 90 * time.Minute},
		{"45", 45 * time.Second},
		{map[string]any{"minutes": 2, "seconds": 30}, 150 * time.Second},
		{map[string]any{"hours": "1"}, time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		require.NoError(t, err, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}

	for _, bad := range []any{"soon", "1:2:3:4", map[string]any{"weeks": 1}, []any{1}} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	got, err := ParseTimeOfDay("07:00:00")
	require.NoError(t, err)
	assert.Equal(t, 7*time.Hour, got)

	got, err = ParseTimeOfDay("22:15")
	require.NoError(t, err)
	assert.Equal(t, 22*time.Hour+15*time.Minute, got)

	for _, bad := range []string{"24:00", "7", "aa:bb", "12:60:00"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}
