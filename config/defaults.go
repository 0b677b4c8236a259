package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Tenant defaults
	v.SetDefault("tenant.id", "default")

	// Database defaults
	v.SetDefault("database.path", "mailpulse.db")

	// Upstream call wrapper defaults
	v.SetDefault("upstream.max_retries", 3)
	v.SetDefault("upstream.initial_delay", "1s")
	v.SetDefault("upstream.max_delay", "30s")
	v.SetDefault("upstream.backoff_multiplier", 2.0)
	v.SetDefault("upstream.rate_limit_floor", "30s") // Minimum wait after a 429
	v.SetDefault("upstream.max_calls_per_minute", 30)

	// Circuit breaker defaults
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.cooldown", "5m")

	// Cache defaults
	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.max_items", 128)
	v.SetDefault("cache.max_item_bytes", 100_000)
	v.SetDefault("cache.default_ttl", "6h")
	v.SetDefault("cache.stale_retention", "24h")
	v.SetDefault("cache.revalidation_batch", 3)
	v.SetDefault("cache.utilization_threshold", 0.8)
	v.SetDefault("cache.maintenance_ceiling", "6h")

	// Scheduler defaults
	v.SetDefault("scheduler.timezone", "")
	v.SetDefault("scheduler.tick_spec", "@hourly")
	v.SetDefault("scheduler.digest_hour", 8)
}
