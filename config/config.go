// Package config loads and watches the mailpulse configuration.
//
// Configuration is read from a TOML file with MAILPULSE_-prefixed environment
// variable overrides. Defaults cover every knob so a bare install runs without
// a config file at all.
package config

import (
	"time"
)

// Config is the root configuration for mailpulse.
type Config struct {
	Tenant    TenantConfig    `mapstructure:"tenant"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// TenantConfig identifies the tenant this process serves.
type TenantConfig struct {
	ID string `mapstructure:"id"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// UpstreamConfig configures the resilient call wrapper.
type UpstreamConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	RateLimitFloor    time.Duration `mapstructure:"rate_limit_floor"`

	// MaxCallsPerMinute paces outbound calls client-side. 0 disables pacing.
	MaxCallsPerMinute int `mapstructure:"max_calls_per_minute"`
}

// BreakerConfig configures the per-tenant circuit breaker.
type BreakerConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// CacheConfig configures the bounded cache.
type CacheConfig struct {
	// Backend selects the value store: "sqlite" (default) or "redis".
	Backend   string `mapstructure:"backend"`
	RedisAddr string `mapstructure:"redis_addr"`

	MaxItems     int           `mapstructure:"max_items"`
	MaxItemBytes int           `mapstructure:"max_item_bytes"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`

	// StaleRetention is how long past logical expiry a value stays physically
	// retrievable for stale-while-revalidate reads.
	StaleRetention time.Duration `mapstructure:"stale_retention"`

	RevalidationBatch    int           `mapstructure:"revalidation_batch"`
	UtilizationThreshold float64       `mapstructure:"utilization_threshold"`
	MaintenanceCeiling   time.Duration `mapstructure:"maintenance_ceiling"`
}

// SchedulerConfig configures the job scheduler.
type SchedulerConfig struct {
	// Timezone is the IANA name used for calendar-day idempotency markers.
	// Empty means the process-local zone.
	Timezone string `mapstructure:"timezone"`

	// TickSpec is the cron expression the run daemon fires Tick on.
	TickSpec string `mapstructure:"tick_spec"`

	// DigestHour is the local hour the built-in daily digest job targets.
	DigestHour int `mapstructure:"digest_hour"`
}

// Location resolves the configured timezone, falling back to time.Local.
func (s SchedulerConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
