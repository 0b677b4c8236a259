package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "default", cfg.Tenant.ID)
	assert.Equal(t, 3, cfg.Upstream.MaxRetries)
	assert.Equal(t, time.Second, cfg.Upstream.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Upstream.MaxDelay)
	assert.Equal(t, 2.0, cfg.Upstream.BackoffMultiplier)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, 5*time.Minute, cfg.Breaker.Cooldown)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, 128, cfg.Cache.MaxItems)
	assert.Equal(t, 100_000, cfg.Cache.MaxItemBytes)
	assert.Equal(t, "@hourly", cfg.Scheduler.TickSpec)
	assert.Equal(t, 8, cfg.Scheduler.DigestHour)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty tenant", func(c *Config) { c.Tenant.ID = "" }},
		{"negative retries", func(c *Config) { c.Upstream.MaxRetries = -1 }},
		{"multiplier below one", func(c *Config) { c.Upstream.BackoffMultiplier = 0.5 }},
		{"max delay below initial", func(c *Config) { c.Upstream.MaxDelay = c.Upstream.InitialDelay / 2 }},
		{"zero threshold", func(c *Config) { c.Breaker.Threshold = 0 }},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"utilization above one", func(c *Config) { c.Cache.UtilizationThreshold = 1.5 }},
		{"digest hour out of range", func(c *Config) { c.Scheduler.DigestHour = 24 }},
		{"bogus timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mailpulse.toml")
	content := `
[tenant]
id = "acme"

[breaker]
threshold = 7
cooldown = "10m"

[cache]
backend = "redis"
redis_addr = "redis.internal:6379"

[scheduler]
digest_hour = 6
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Tenant.ID)
	assert.Equal(t, 7, cfg.Breaker.Threshold)
	assert.Equal(t, 10*time.Minute, cfg.Breaker.Cooldown)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 6, cfg.Scheduler.DigestHour)
	// Unset values fall back to defaults
	assert.Equal(t, 3, cfg.Upstream.MaxRetries)
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mailpulse.toml")
	require.NoError(t, os.WriteFile(path, []byte("[breaker]\nthreshold = 0\n"), 0o644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestSchedulerLocation(t *testing.T) {
	s := SchedulerConfig{}
	assert.Equal(t, time.Local, s.Location())

	s.Timezone = "UTC"
	assert.Equal(t, time.UTC, s.Location())
}
