/*
Package config loads server configuration from the environment.

A .env file in the working directory is read by cmd/server before Load
runs; variables already set in the environment win.

VARIABLES:
  PORT                     HTTP port (8080)
  DB_DRIVER                sqlite3 | postgres (sqlite3)
  DATABASE_URL             file path or postgres DSN (visits.db)
  CLUB_TIMEZONE            IANA zone "today" is computed in (UTC)
  PHONE_REGION             default region for numbers without +CC (US)
  LOG_LEVEL                zerolog level (info)
  GUEST_MONTHLY_LIMIT      4
  GUEST_YEARLY_LIMIT       12
  RECIPROCAL_MONTHLY_LIMIT 4
  RECIPROCAL_YEARLY_LIMIT  12
  HOST_DAILY_LIMIT         4
  SCHEDULER_ENABLED        true
  SCHEDULER_INTERVAL       Go duration (15m)
  SWEEP_CONCURRENCY        parallel recalculations in the daily sweep (4)
  CORS_ORIGINS             comma-separated allowed origins
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"github.com/warp/visit-engine/admission"
)

type Config struct {
	// Server
	Port        int
	CORSOrigins []string
	LogLevel    zerolog.Level

	// Database
	DBDriver    string
	DatabaseURL string

	// Club
	Timezone    string
	PhoneRegion string

	// Quotas
	GuestMonthly      int
	GuestYearly       int
	ReciprocalMonthly int
	ReciprocalYearly  int
	HostDaily         int

	// Scheduler
	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	SweepConcurrency  int

	loc *time.Location
}

// Load reads the configuration and validates it.
func Load() (*Config, error) {
	defaults := admission.DefaultLimitConfig()
	cfg := &Config{
		DBDriver:    getEnv("DB_DRIVER", "sqlite3"),
		DatabaseURL: getEnv("DATABASE_URL", "visits.db"),
		Timezone:    getEnv("CLUB_TIMEZONE", "UTC"),
		PhoneRegion: strings.ToUpper(getEnv("PHONE_REGION", admission.DefaultPhoneRegion)),
	}

	var err error
	if cfg.Port, err = getEnvInt("PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.GuestMonthly, err = getEnvInt("GUEST_MONTHLY_LIMIT", defaults.Guest.Monthly); err != nil {
		return nil, err
	}
	if cfg.GuestYearly, err = getEnvInt("GUEST_YEARLY_LIMIT", defaults.Guest.Yearly); err != nil {
		return nil, err
	}
	if cfg.ReciprocalMonthly, err = getEnvInt("RECIPROCAL_MONTHLY_LIMIT", defaults.Reciprocal.Monthly); err != nil {
		return nil, err
	}
	if cfg.ReciprocalYearly, err = getEnvInt("RECIPROCAL_YEARLY_LIMIT", defaults.Reciprocal.Yearly); err != nil {
		return nil, err
	}
	if cfg.HostDaily, err = getEnvInt("HOST_DAILY_LIMIT", defaults.HostDaily); err != nil {
		return nil, err
	}
	if cfg.SchedulerEnabled, err = getEnvBool("SCHEDULER_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.SchedulerInterval, err = getEnvDuration("SCHEDULER_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepConcurrency, err = getEnvInt("SWEEP_CONCURRENCY", 4); err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(strings.ToLower(getEnv("LOG_LEVEL", "info")))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and resolves the club timezone.
func (c *Config) Validate() error {
	if c.DBDriver != "sqlite3" && c.DBDriver != "postgres" {
		return fmt.Errorf("invalid DB_DRIVER %q: want sqlite3 or postgres", c.DBDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	for name, v := range map[string]int{
		"GUEST_MONTHLY_LIMIT":      c.GuestMonthly,
		"GUEST_YEARLY_LIMIT":       c.GuestYearly,
		"RECIPROCAL_MONTHLY_LIMIT": c.ReciprocalMonthly,
		"RECIPROCAL_YEARLY_LIMIT":  c.ReciprocalYearly,
		"HOST_DAILY_LIMIT":         c.HostDaily,
	} {
		if v < 1 {
			return fmt.Errorf("invalid %s %d: must be at least 1", name, v)
		}
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("invalid SCHEDULER_INTERVAL %s", c.SchedulerInterval)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid CLUB_TIMEZONE: %w", err)
	}
	c.loc = loc
	return nil
}

// Limits returns the quota configuration for the engine.
func (c *Config) Limits() admission.LimitConfig {
	return admission.LimitConfig{
		Guest:      admission.Limits{Monthly: c.GuestMonthly, Yearly: c.GuestYearly},
		Reciprocal: admission.Limits{Monthly: c.ReciprocalMonthly, Yearly: c.ReciprocalYearly},
		HostDaily:  c.HostDaily,
	}
}

// Location returns the club timezone. UTC until Validate has run.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	s := getEnv(key, "")
	if s == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
