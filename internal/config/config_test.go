package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, "9083", cfg.GRPCPort)
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 20, cfg.AI.HistoryWindow)
	assert.Equal(t, 10, cfg.AI.CallsPerMinute)
	assert.Equal(t, []string{"dall-e-3"}, cfg.AI.ImageModels)
	assert.Equal(t, "schat.events", cfg.AMQPExchange)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("GRPC_PORT", "")
	t.Setenv("GIN_MODE", "weird")
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("ADMIN_USER_IDS", "1, 7,x,-2")
	t.Setenv("AI_IMAGE_MODELS", "dall-e-3, dall-e-2")
	t.Setenv("AI_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Empty(t, cfg.GRPCPort)
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, []int{1, 7}, cfg.AdminUserIDs)
	assert.True(t, cfg.IsAdmin(7))
	assert.False(t, cfg.IsAdmin(2))
	assert.Equal(t, []string{"dall-e-3", "dall-e-2"}, cfg.AI.ImageModels)
	assert.Equal(t, 5*time.Second, cfg.AI.Timeout)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"LOG_LEVEL":               "loud",
		"RATE_BURST":              "0",
		"AI_HISTORY_WINDOW":       "1",
		"AI_CALLS_PER_MINUTE":     "0",
		"OTEL_TRACES_SAMPLER_ARG": "2",
		"WS_MAX_MESSAGE_BYTES":    "-1",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
