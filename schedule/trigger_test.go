package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronTriggerIdempotent(t *testing.T) {
	trigger := NewCronTrigger("@hourly", func() {})

	require.NoError(t, trigger.Ensure())
	require.NoError(t, trigger.Ensure())
	assert.True(t, trigger.Active())

	require.NoError(t, trigger.Retire())
	require.NoError(t, trigger.Retire())
	assert.False(t, trigger.Active())
}

func TestCronTriggerBadSpec(t *testing.T) {
	trigger := NewCronTrigger("not a cron spec", func() {})

	err := trigger.Ensure()
	require.Error(t, err)
	assert.False(t, trigger.Active())
}
