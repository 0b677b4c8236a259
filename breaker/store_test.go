package breaker

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/mailpulse/errors"
	mptest "github.com/tidemark/mailpulse/internal/testing"
	"github.com/tidemark/mailpulse/internal/util"
)

func TestStoreReadMissingRowIsZeroState(t *testing.T) {
	store := NewStore(mptest.CreateTestDB(t))

	state, err := store.Read("nobody")
	require.NoError(t, err)
	assert.Equal(t, State{}, state)
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(mptest.CreateTestDB(t))

	failedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := State{FailureCount: 4, LastFailureAt: util.Ptr(failedAt), Open: true}
	require.NoError(t, store.Write("tenant-1", in))

	out, err := store.Read("tenant-1")
	require.NoError(t, err)
	assert.Equal(t, in.FailureCount, out.FailureCount)
	assert.Equal(t, in.Open, out.Open)
	require.NotNil(t, out.LastFailureAt)
	assert.True(t, failedAt.Equal(*out.LastFailureAt))
}

func TestStoreWriteIsUpsert(t *testing.T) {
	store := NewStore(mptest.CreateTestDB(t))

	require.NoError(t, store.Write("tenant-1", State{FailureCount: 1}))
	require.NoError(t, store.Write("tenant-1", State{FailureCount: 2}))

	out, err := store.Read("tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 2, out.FailureCount)
}

func TestStoreReadPropagatesQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT failure_count").
		WillReturnError(errors.New("disk I/O error"))

	store := NewStore(db)
	_, err = store.Read("tenant-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreReadRejectsCorruptTimestamp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"failure_count", "last_failure_at", "is_open"}).
		AddRow(3, "not-a-timestamp", 1)
	mock.ExpectQuery("SELECT failure_count").WillReturnRows(rows)

	store := NewStore(db)
	_, err = store.Read("tenant-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last_failure_at")
}
