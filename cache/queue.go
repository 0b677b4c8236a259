package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/tidemark/mailpulse/errors"
)

// queueStore holds keys waiting for background revalidation. The primary key
// on (tenant_id, key) makes enqueue idempotent: serving the same stale entry
// repeatedly before maintenance runs still yields one pending refresh.
type queueStore struct {
	db *sql.DB
}

type queuedItem struct {
	Key      string
	Producer string
	QueuedAt time.Time
}

func (q *queueStore) enqueue(ctx context.Context, tenant, key, producer string, at time.Time) error {
	query := `
		INSERT INTO revalidation_queue (tenant_id, key, producer, queued_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, key) DO NOTHING
	`
	_, err := q.db.ExecContext(ctx, query, tenant, key, producer, at.UTC().Format(sortableTime))
	if err != nil {
		return errors.Wrapf(err, "failed to enqueue revalidation for key %s", key)
	}
	return nil
}

// take returns up to limit items in queue order without removing them. The
// caller removes each item after processing it.
func (q *queueStore) take(ctx context.Context, tenant string, limit int) ([]queuedItem, error) {
	query := `
		SELECT key, producer, queued_at
		FROM revalidation_queue
		WHERE tenant_id = ?
		ORDER BY queued_at ASC, key ASC
		LIMIT ?
	`

	rows, err := q.db.QueryContext(ctx, query, tenant, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read revalidation queue")
	}
	defer rows.Close()

	var items []queuedItem
	for rows.Next() {
		var item queuedItem
		var queuedAt string
		if err := rows.Scan(&item.Key, &item.Producer, &queuedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan revalidation queue row")
		}
		t, err := time.Parse(sortableTime, queuedAt)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse queued_at for key %s", item.Key)
		}
		item.QueuedAt = t
		items = append(items, item)
	}
	return items, rows.Err()
}

func (q *queueStore) remove(ctx context.Context, tenant, key string) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM revalidation_queue WHERE tenant_id = ? AND key = ?", tenant, key)
	if err != nil {
		return errors.Wrapf(err, "failed to remove revalidation item for key %s", key)
	}
	return nil
}

func (q *queueStore) size(ctx context.Context, tenant string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM revalidation_queue WHERE tenant_id = ?", tenant).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count revalidation queue")
	}
	return count, nil
}
