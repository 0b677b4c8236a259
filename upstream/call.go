package upstream

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tidemark/mailpulse/errors"
	"github.com/tidemark/mailpulse/logger"
)

// Options controls retry behavior for a wrapped call.
type Options struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// RateLimitFloor, when positive, replaces the default minimum wait after
	// a rate-limit rejection.
	RateLimitFloor time.Duration
}

// DefaultOptions returns the standard retry options.
func DefaultOptions() Options {
	return Options{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Signaler receives the per-attempt failure/success signals the circuit
// breaker consumes. Every attempt reports exactly one signal.
type Signaler interface {
	RecordFailure() error
	RecordSuccess() error
}

// Func is a wrapped remote call.
type Func func(ctx context.Context) (any, error)

// Error is the final classified error an exhausted or non-retryable call
// propagates. The wrapped error is the last underlying failure.
type Error struct {
	Op       string
	Class    Class
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Executor runs remote calls with classification-aware retries. Retries are
// synchronous: each backoff suspends the calling goroutine, so
// MaxRetries*MaxDelay must stay comfortably below the platform's invocation
// ceiling.
type Executor struct {
	opts     Options
	signaler Signaler
	limiter  *rate.Limiter
	log      *zap.SugaredLogger

	// Injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor. signaler may be nil (no breaker signals);
// maxCallsPerMinute <= 0 disables client-side pacing.
func NewExecutor(opts Options, signaler Signaler, maxCallsPerMinute int) *Executor {
	var limiter *rate.Limiter
	if maxCallsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(maxCallsPerMinute)/60.0), maxCallsPerMinute)
	}
	return &Executor{
		opts:     opts,
		signaler: signaler,
		limiter:  limiter,
		log:      logger.Named("upstream"),
		sleep:    sleepContext,
	}
}

// Do executes fn with bounded retries. Non-retryable failures propagate
// immediately; retryable ones are re-attempted after a backoff of
// min(initial * multiplier^attempt, max), raised to the classification's
// delay floor. After MaxRetries retries the last error propagates, wrapped
// in *Error. Intermediate failures are logged and suppressed.
func (e *Executor) Do(ctx context.Context, op string, fn Func) (any, error) {
	var lastErr error
	var lastClass Class

	attempts := 0
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if err := e.pace(ctx); err != nil {
			return nil, errors.Wrapf(err, "%s: pacing interrupted", op)
		}

		result, err := fn(ctx)
		attempts++
		if err == nil {
			e.signalSuccess(op)
			return result, nil
		}

		lastErr = err
		lastClass = Classify(err)
		e.signalFailure(op)

		if !lastClass.Retryable {
			e.log.Debugw("Upstream call failed, not retryable",
				logger.FieldOperation, op,
				logger.FieldKind, lastClass.Kind.String(),
				logger.FieldAttempt, attempts,
				logger.FieldError, err)
			break
		}
		if attempt == e.opts.MaxRetries {
			break
		}

		delay := e.backoff(attempt, lastClass)
		e.log.Debugw("Upstream call failed, retrying",
			logger.FieldOperation, op,
			logger.FieldKind, lastClass.Kind.String(),
			logger.FieldAttempt, attempts,
			logger.FieldDelay, delay,
			logger.FieldError, err)

		if err := e.sleep(ctx, delay); err != nil {
			return nil, errors.Wrapf(err, "%s: retry backoff interrupted", op)
		}
	}

	return nil, &Error{Op: op, Class: lastClass, Attempts: attempts, Err: lastErr}
}

// backoff computes the delay before the retry following the given 0-based
// failed attempt.
func (e *Executor) backoff(attempt int, class Class) time.Duration {
	delay := time.Duration(float64(e.opts.InitialDelay) * math.Pow(e.opts.BackoffMultiplier, float64(attempt)))
	if delay > e.opts.MaxDelay || delay <= 0 {
		delay = e.opts.MaxDelay
	}

	floor := class.DelayFloor
	if class.Kind == KindRateLimited && e.opts.RateLimitFloor > 0 {
		floor = e.opts.RateLimitFloor
	}
	if delay < floor {
		delay = floor
	}
	return delay
}

func (e *Executor) pace(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

func (e *Executor) signalFailure(op string) {
	if e.signaler == nil {
		return
	}
	if err := e.signaler.RecordFailure(); err != nil {
		e.log.Warnw("Failed to record breaker failure signal",
			logger.FieldOperation, op,
			logger.FieldError, err)
	}
}

func (e *Executor) signalSuccess(op string) {
	if e.signaler == nil {
		return
	}
	if err := e.signaler.RecordSuccess(); err != nil {
		e.log.Warnw("Failed to record breaker success signal",
			logger.FieldOperation, op,
			logger.FieldError, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
