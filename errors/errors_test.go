package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelWrapping(t *testing.T) {
	err := Wrap(ErrUnauthorized, "refreshing label taxonomy")
	assert.True(t, Is(err, ErrUnauthorized))
	assert.False(t, Is(err, ErrRateLimited))
	assert.Contains(t, err.Error(), "refreshing label taxonomy")
}

func TestIsBreakerOpenError(t *testing.T) {
	assert.False(t, IsBreakerOpenError(nil))
	assert.False(t, IsBreakerOpenError(New("boom")))
	assert.True(t, IsBreakerOpenError(ErrBreakerOpen))
	assert.True(t, IsBreakerOpenError(Wrap(ErrBreakerOpen, "digest job")))
}

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, IsNotFoundError(nil))
	assert.True(t, IsNotFoundError(Wrapf(ErrNotFound, "marker for job %q", "digest")))
}

func TestHintsSurviveWrapping(t *testing.T) {
	err := WithHint(New("quota exceeded"), "try again shortly")
	err = Wrap(err, "outer")
	assert.Equal(t, []string{"try again shortly"}, GetAllHints(err))
}
