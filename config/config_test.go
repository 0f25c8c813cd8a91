package config_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/visit-engine/admission"
	"github.com/warp/visit-engine/config"
)

var allKeys = []string{
	"PORT", "DB_DRIVER", "DATABASE_URL", "CLUB_TIMEZONE", "PHONE_REGION", "LOG_LEVEL",
	"GUEST_MONTHLY_LIMIT", "GUEST_YEARLY_LIMIT", "RECIPROCAL_MONTHLY_LIMIT",
	"RECIPROCAL_YEARLY_LIMIT", "HOST_DAILY_LIMIT", "SCHEDULER_ENABLED",
	"SCHEDULER_INTERVAL", "SWEEP_CONCURRENCY", "CORS_ORIGINS",
}

// clearEnv blanks every variable Load reads; blank means "use the default".
func clearEnv(t *testing.T) {
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	// GIVEN: No configuration in the environment
	clearEnv(t)

	// WHEN: Loading
	cfg, err := config.Load()

	// THEN: Every value falls back to its default
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "visits.db", cfg.DatabaseURL)
	assert.Equal(t, "US", cfg.PhoneRegion)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Equal(t, 15*time.Minute, cfg.SchedulerInterval)
	assert.Empty(t, cfg.CORSOrigins)
	assert.Equal(t, admission.DefaultLimitConfig(), cfg.Limits())
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_Overrides(t *testing.T) {
	// GIVEN: A club in New York with tighter reciprocal limits on postgres
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://visits@localhost/visits?sslmode=disable")
	t.Setenv("CLUB_TIMEZONE", "America/New_York")
	t.Setenv("PHONE_REGION", "gb")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("RECIPROCAL_YEARLY_LIMIT", "24")
	t.Setenv("HOST_DAILY_LIMIT", "2")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("SCHEDULER_INTERVAL", "1h")
	t.Setenv("CORS_ORIGINS", "https://desk.example.org, https://admin.example.org,")

	// WHEN: Loading
	cfg, err := config.Load()

	// THEN: Overrides are applied and parsed
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "GB", cfg.PhoneRegion)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.False(t, cfg.SchedulerEnabled)
	assert.Equal(t, time.Hour, cfg.SchedulerInterval)
	assert.Equal(t, []string{"https://desk.example.org", "https://admin.example.org"}, cfg.CORSOrigins)
	assert.Equal(t, "America/New_York", cfg.Location().String())

	limits := cfg.Limits()
	assert.Equal(t, admission.Limits{Monthly: 4, Yearly: 24}, limits.Reciprocal)
	assert.Equal(t, admission.Limits{Monthly: 4, Yearly: 12}, limits.Guest)
	assert.Equal(t, 2, limits.HostDaily)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric port", "PORT", "http"},
		{"port out of range", "PORT", "70000"},
		{"unknown driver", "DB_DRIVER", "mysql"},
		{"unknown timezone", "CLUB_TIMEZONE", "Mars/Olympus"},
		{"unknown log level", "LOG_LEVEL", "loud"},
		{"zero host limit", "HOST_DAILY_LIMIT", "0"},
		{"negative guest limit", "GUEST_MONTHLY_LIMIT", "-1"},
		{"bad bool", "SCHEDULER_ENABLED", "maybe"},
		{"bad duration", "SCHEDULER_INTERVAL", "soon"},
		{"zero interval", "SCHEDULER_INTERVAL", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := config.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
