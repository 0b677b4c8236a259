package upstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tidemark/mailpulse/errors"
)

func TestClassifyTaxonomyOrder(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
	}{
		{"rate limit text", errors.New("429 Too Many Requests"), KindRateLimited, true},
		{"quota text", errors.New("daily quota exceeded, throttling"), KindRateLimited, true},
		{"rate limit sentinel", errors.Wrap(errors.ErrRateLimited, "listing threads"), KindRateLimited, true},
		{"rate limit status", &StatusError{Code: 429}, KindRateLimited, true},

		{"unauthorized text", errors.New("401 Unauthorized"), KindUnauthorized, false},
		{"forbidden status", &StatusError{Code: 403, Msg: "access denied"}, KindUnauthorized, false},
		{"expired token", errors.New("authentication expired for account"), KindUnauthorized, false},

		{"timeout text", errors.New("request timed out after 30s"), KindUnavailable, true},
		{"bad gateway", errors.New("502 Bad Gateway"), KindUnavailable, true},
		{"connection refused", errors.New("dial tcp: connection refused"), KindUnavailable, true},
		{"deadline exceeded", context.DeadlineExceeded, KindUnavailable, true},
		{"unavailable status", &StatusError{Code: 503}, KindUnavailable, true},

		{"mailbox gone text", errors.New("mailbox no longer exists"), KindMailboxGone, false},
		{"thread gone text", errors.New("thread not found: t-1842"), KindMailboxGone, false},
		{"gone sentinel", errors.Wrap(errors.ErrMailboxGone, "fetching thread"), KindMailboxGone, false},
		{"not found status", &StatusError{Code: 404}, KindMailboxGone, false},

		{"generic 4xx", &StatusError{Code: 422, Msg: "unprocessable"}, KindUpstream, true},
		{"generic 5xx text", errors.New("internal server error"), KindUpstream, true},

		{"unknown", errors.New("something odd happened"), KindUnknown, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			class := Classify(tc.err)
			assert.Equal(t, tc.kind, class.Kind)
			assert.Equal(t, tc.retryable, class.Retryable)
		})
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	// Matches both the rate-limit and the unavailable heuristics; rate limit
	// is checked first.
	class := Classify(errors.New("503 service unavailable: rate limit exceeded"))
	assert.Equal(t, KindRateLimited, class.Kind)
}

func TestClassifyDelayFloors(t *testing.T) {
	assert.Equal(t, 30*time.Second, Classify(errors.New("too many requests")).DelayFloor)
	assert.Equal(t, 2*time.Second, Classify(errors.New("mystery")).DelayFloor)
	assert.Zero(t, Classify(errors.New("gateway timeout")).DelayFloor)
}

func TestClassifyMessageCategories(t *testing.T) {
	assert.Equal(t, MessageReauthorize, Classify(&StatusError{Code: 401}).Message)
	assert.Equal(t, MessageUpstreamDown, Classify(errors.New("no such host")).Message)
	assert.Equal(t, MessageMailboxGone, Classify(errors.ErrMailboxGone).Message)
	assert.Equal(t, MessageRetryShortly, Classify(errors.ErrRateLimited).Message)
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, Class{}, Classify(nil))
}
