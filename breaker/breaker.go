// Package breaker implements the tenant-scoped circuit breaker that stops
// outbound calls after repeated upstream failures and self-heals after a
// cooldown.
//
// State machine: CLOSED -> OPEN when the consecutive failure count reaches
// the threshold; OPEN -> half-open lazily once the cooldown has elapsed
// (checked on the next call, no timer); half-open allows exactly one trial
// call whose outcome either closes the breaker (success) or restarts the
// cooldown (failure).
package breaker

import (
	"time"

	"go.uber.org/zap"

	"github.com/tidemark/mailpulse/errors"
	"github.com/tidemark/mailpulse/logger"
)

const (
	// DefaultThreshold is the consecutive failure count that opens the breaker.
	DefaultThreshold = 5
	// DefaultCooldown is how long the breaker stays open before permitting a
	// half-open trial call.
	DefaultCooldown = 5 * time.Minute
)

// Breaker is the circuit breaker for one tenant. All external calls for the
// tenant funnel through the same breaker.
type Breaker struct {
	store     *Store
	tenant    string
	threshold int
	cooldown  time.Duration
	log       *zap.SugaredLogger

	// Injectable for tests.
	now func() time.Time
}

// New creates a breaker for the tenant. threshold <= 0 and cooldown <= 0
// fall back to the defaults.
func New(store *Store, tenant string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		store:     store,
		tenant:    tenant,
		threshold: threshold,
		cooldown:  cooldown,
		log:       logger.Named("breaker"),
		now:       time.Now,
	}
}

// RecordFailure increments the consecutive failure count and opens the
// breaker once the threshold is reached. Called once per failed attempt.
func (b *Breaker) RecordFailure() error {
	state, err := b.store.Read(b.tenant)
	if err != nil {
		return err
	}

	now := b.now()
	state.FailureCount++
	state.LastFailureAt = &now

	if state.FailureCount >= b.threshold && !state.Open {
		state.Open = true
		b.log.Warnw("Circuit breaker opened",
			logger.FieldTenant, b.tenant,
			logger.FieldFailureCount, state.FailureCount,
			"threshold", b.threshold,
			"cooldown", b.cooldown)
	} else if state.FailureCount >= b.threshold {
		// Already open: a failed half-open trial restarts the cooldown via
		// the refreshed LastFailureAt.
		state.Open = true
	}

	return b.store.Write(b.tenant, state)
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() error {
	state, err := b.store.Read(b.tenant)
	if err != nil {
		return err
	}

	if state.FailureCount == 0 && !state.Open {
		return nil // Nothing to reset, skip the write
	}

	if state.Open {
		b.log.Infow("Circuit breaker closed after successful call",
			logger.FieldTenant, b.tenant)
	}

	return b.store.Write(b.tenant, State{})
}

// IsOpenNow reports whether calls should be short-circuited right now.
// When the cooldown has elapsed it returns false - permitting exactly the
// next call through as a half-open trial - WITHOUT resetting state; only an
// explicit RecordSuccess or RecordFailure from that trial moves the state.
//
// Callers must check this before invoking the call wrapper: foreground paths
// surface ErrBreakerOpen, best-effort background work skips entirely.
func (b *Breaker) IsOpenNow() (bool, error) {
	state, err := b.store.Read(b.tenant)
	if err != nil {
		return false, err
	}

	if !state.Open {
		return false, nil
	}
	if state.LastFailureAt != nil && b.now().Sub(*state.LastFailureAt) > b.cooldown {
		// Half-open: allow the trial call, leave state untouched.
		return false, nil
	}
	return true, nil
}

// Reject returns the error a foreground caller surfaces when the breaker is
// open: a cheap, immediate rejection never conflated with the failure that
// tripped the breaker.
func (b *Breaker) Reject() error {
	return errors.WithHint(errors.ErrBreakerOpen, "try again shortly")
}

// Reset clears the tenant's breaker state entirely.
func (b *Breaker) Reset() error {
	return b.store.Delete(b.tenant)
}

// State returns the current persisted state, for observability surfaces.
func (b *Breaker) State() (State, error) {
	return b.store.Read(b.tenant)
}
