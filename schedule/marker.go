package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/tidemark/mailpulse/errors"
)

// markerStore persists per-job idempotency markers. A marker is written only
// after a run succeeds, so a crashed run leaves the job due again on the next
// tick.
type markerStore struct {
	db *sql.DB
}

func (m *markerStore) get(ctx context.Context, tenant, job string) (string, error) {
	var marker string
	err := m.db.QueryRowContext(ctx,
		"SELECT marker FROM job_markers WHERE tenant_id = ? AND job_name = ?",
		tenant, job).Scan(&marker)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", errors.Wrapf(err, "failed to read marker for job %s", job)
	}
	return marker, nil
}

func (m *markerStore) set(ctx context.Context, tenant, job, marker string, at time.Time) error {
	query := `
		INSERT INTO job_markers (tenant_id, job_name, marker, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, job_name) DO UPDATE SET
			marker = excluded.marker,
			updated_at = excluded.updated_at
	`
	_, err := m.db.ExecContext(ctx, query, tenant, job, marker, at.UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "failed to write marker for job %s", job)
	}
	return nil
}
