package upstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/mailpulse/errors"
)

type fakeSignaler struct {
	failures  int
	successes int
}

func (f *fakeSignaler) RecordFailure() error {
	f.failures++
	return nil
}

func (f *fakeSignaler) RecordSuccess() error {
	f.successes++
	return nil
}

func testExecutor(opts Options, sig Signaler) (*Executor, *[]time.Duration) {
	e := NewExecutor(opts, sig, 0)
	slept := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return e, slept
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	sig := &fakeSignaler{}
	e, slept := testExecutor(DefaultOptions(), sig)

	calls := 0
	result, err := e.Do(context.Background(), "fetch threads", func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("502 Bad Gateway")
		}
		return "inbox", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "inbox", result)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, sig.failures)
	assert.Equal(t, 1, sig.successes)
	// Standard backoff: 1s, then 2s.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	sig := &fakeSignaler{}
	e, slept := testExecutor(DefaultOptions(), sig)

	calls := 0
	_, err := e.Do(context.Background(), "send digest", func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.Wrap(errors.ErrUnauthorized, "token rejected")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
	assert.Equal(t, 1, sig.failures)
	assert.Equal(t, 0, sig.successes)

	var callErr *Error
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, KindUnauthorized, callErr.Class.Kind)
	assert.Equal(t, MessageReauthorize, callErr.Class.Message)
	assert.Equal(t, 1, callErr.Attempts)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
}

func TestDoExhaustsRetriesAndPropagatesLastError(t *testing.T) {
	sig := &fakeSignaler{}
	opts := DefaultOptions()
	opts.MaxRetries = 2
	e, slept := testExecutor(opts, sig)

	calls := 0
	_, err := e.Do(context.Background(), "refresh labels", func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.Newf("gateway timeout (call %d)", calls)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial call + 2 retries
	assert.Len(t, *slept, 2)
	assert.Equal(t, 3, sig.failures)

	var callErr *Error
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, 3, callErr.Attempts)
	// The *last* underlying error propagates.
	assert.Contains(t, callErr.Err.Error(), "call 3")
}

func TestDoRateLimitFloorOverridesBackoff(t *testing.T) {
	e, slept := testExecutor(DefaultOptions(), nil)

	calls := 0
	_, err := e.Do(context.Background(), "classify", func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("too many requests")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Len(t, *slept, 1)
	// Backoff schedule would say 1s; the rate-limit floor wins.
	assert.Equal(t, 30*time.Second, (*slept)[0])
}

func TestDoRateLimitFloorConfigurable(t *testing.T) {
	opts := DefaultOptions()
	opts.RateLimitFloor = 45 * time.Second
	e, slept := testExecutor(opts, nil)

	calls := 0
	_, _ = e.Do(context.Background(), "classify", func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.ErrRateLimited
		}
		return "ok", nil
	})

	require.Len(t, *slept, 1)
	assert.Equal(t, 45*time.Second, (*slept)[0])
}

func TestDoBackoffCapsAtMaxDelay(t *testing.T) {
	opts := Options{
		MaxRetries:        5,
		InitialDelay:      4 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
	e, slept := testExecutor(opts, nil)

	_, err := e.Do(context.Background(), "sync", func(ctx context.Context) (any, error) {
		return nil, errors.New("connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}, *slept)
}

func TestDoBackoffInterruptedByContext(t *testing.T) {
	e := NewExecutor(DefaultOptions(), nil, 0)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := e.Do(ctx, "sync", func(ctx context.Context) (any, error) {
			calls++
			return nil, errors.New("503 Service Unavailable")
		})
		done <- err
	}()

	// Let the first attempt fail and enter backoff, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestDoZeroRetriesRunsOnce(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRetries = 0
	e, slept := testExecutor(opts, nil)

	calls := 0
	_, err := e.Do(context.Background(), "probe", func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("bad gateway")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}
