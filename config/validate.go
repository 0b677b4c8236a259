package config

import (
	"time"

	"github.com/tidemark/mailpulse/errors"
)

// Validate checks the configuration for values that would misbehave at
// runtime. It is called by Load; callers constructing a Config by hand
// should call it themselves.
func (c *Config) Validate() error {
	if c.Tenant.ID == "" {
		return errors.New("tenant.id must not be empty")
	}
	if c.Database.Path == "" {
		return errors.New("database.path must not be empty")
	}

	if c.Upstream.MaxRetries < 0 {
		return errors.Newf("upstream.max_retries must be >= 0, got %d", c.Upstream.MaxRetries)
	}
	if c.Upstream.BackoffMultiplier < 1 {
		return errors.Newf("upstream.backoff_multiplier must be >= 1, got %g", c.Upstream.BackoffMultiplier)
	}
	if c.Upstream.MaxDelay < c.Upstream.InitialDelay {
		return errors.Newf("upstream.max_delay (%s) must be >= upstream.initial_delay (%s)",
			c.Upstream.MaxDelay, c.Upstream.InitialDelay)
	}

	if c.Breaker.Threshold < 1 {
		return errors.Newf("breaker.threshold must be >= 1, got %d", c.Breaker.Threshold)
	}
	if c.Breaker.Cooldown <= 0 {
		return errors.Newf("breaker.cooldown must be positive, got %s", c.Breaker.Cooldown)
	}

	switch c.Cache.Backend {
	case "sqlite", "redis":
	default:
		return errors.Newf("cache.backend must be \"sqlite\" or \"redis\", got %q", c.Cache.Backend)
	}
	if c.Cache.MaxItems < 1 {
		return errors.Newf("cache.max_items must be >= 1, got %d", c.Cache.MaxItems)
	}
	if c.Cache.MaxItemBytes < 1 {
		return errors.Newf("cache.max_item_bytes must be >= 1, got %d", c.Cache.MaxItemBytes)
	}
	if c.Cache.UtilizationThreshold <= 0 || c.Cache.UtilizationThreshold > 1 {
		return errors.Newf("cache.utilization_threshold must be in (0, 1], got %g", c.Cache.UtilizationThreshold)
	}
	if c.Cache.RevalidationBatch < 1 {
		return errors.Newf("cache.revalidation_batch must be >= 1, got %d", c.Cache.RevalidationBatch)
	}

	if c.Scheduler.DigestHour < 0 || c.Scheduler.DigestHour > 23 {
		return errors.Newf("scheduler.digest_hour must be in [0, 23], got %d", c.Scheduler.DigestHour)
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return errors.Wrapf(err, "scheduler.timezone %q is not a valid IANA zone", c.Scheduler.Timezone)
		}
	}

	return nil
}
