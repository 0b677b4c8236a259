package breaker

import (
	"database/sql"
	"time"

	"github.com/tidemark/mailpulse/errors"
)

// State is the persisted breaker record for one tenant.
type State struct {
	FailureCount  int
	LastFailureAt *time.Time
	Open          bool
}

// Store persists breaker state, one row per tenant. Rows are created lazily
// on first write; a tenant with no row has the zero (closed) state.
type Store struct {
	db *sql.DB
}

// NewStore creates a breaker state store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Read returns the tenant's breaker state, or the zero state when no row
// exists yet.
func (s *Store) Read(tenant string) (State, error) {
	query := `
		SELECT failure_count, last_failure_at, is_open
		FROM breaker_state
		WHERE tenant_id = ?
	`

	var state State
	var lastFailureAt sql.NullString
	var isOpen int

	err := s.db.QueryRow(query, tenant).Scan(&state.FailureCount, &lastFailureAt, &isOpen)
	if err != nil {
		if err == sql.ErrNoRows {
			return State{}, nil
		}
		return State{}, errors.Wrapf(err, "failed to read breaker state for tenant %s", tenant)
	}

	state.Open = isOpen != 0
	if lastFailureAt.Valid {
		t, err := time.Parse(time.RFC3339, lastFailureAt.String)
		if err != nil {
			return State{}, errors.Wrapf(err, "failed to parse last_failure_at for tenant %s", tenant)
		}
		state.LastFailureAt = &t
	}

	return state, nil
}

// Write upserts the tenant's breaker state as a single row, keeping the
// read-modify-write window as small as one statement.
func (s *Store) Write(tenant string, state State) error {
	query := `
		INSERT INTO breaker_state (tenant_id, failure_count, last_failure_at, is_open, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			failure_count = excluded.failure_count,
			last_failure_at = excluded.last_failure_at,
			is_open = excluded.is_open,
			updated_at = excluded.updated_at
	`

	var lastFailureAt any
	if state.LastFailureAt != nil {
		lastFailureAt = state.LastFailureAt.UTC().Format(time.RFC3339)
	}

	isOpen := 0
	if state.Open {
		isOpen = 1
	}

	_, err := s.db.Exec(query, tenant, state.FailureCount, lastFailureAt, isOpen,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "failed to write breaker state for tenant %s", tenant)
	}

	return nil
}

// Delete removes the tenant's breaker row (explicit reset).
func (s *Store) Delete(tenant string) error {
	if _, err := s.db.Exec("DELETE FROM breaker_state WHERE tenant_id = ?", tenant); err != nil {
		return errors.Wrapf(err, "failed to delete breaker state for tenant %s", tenant)
	}
	return nil
}
