package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.DebounceWindow)
	assert.False(t, cfg.Production())
	assert.Empty(t, cfg.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("SERIAL_BAUD", "115200")
	t.Setenv("SECURE_COOKIES", "true")
	t.Setenv("DEBOUNCE_WINDOW", "not-a-duration")
	t.Setenv("CORS_ORIGINS", "https://attend.school.test, ,http://localhost:3000")

	cfg := Load()
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 115200, cfg.SerialBaud)
	assert.True(t, cfg.SecureCookies)
	assert.Equal(t, 2*time.Second, cfg.DebounceWindow)
	assert.Equal(t, []string{"https://attend.school.test", "http://localhost:3000"}, cfg.AllowedOrigins)
}

func TestValidateProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	cfg := Load()
	assert.Error(t, cfg.Validate())

	cfg.JWTSigningKey = "real-secret"
	cfg.AdminPasswordHash = "$2a$10$abcdefghijklmnopqrstuv"
	assert.NoError(t, cfg.Validate())
}

func TestLocationFallback(t *testing.T) {
	cfg := App{Timezone: "Mars/Olympus"}
	assert.Equal(t, time.UTC, cfg.Location())
}
