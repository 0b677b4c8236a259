package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/tidemark/mailpulse/errors"
)

// metaStore is the cache's accounting record: one row per cached key,
// regardless of which ValueStore backend holds the payload. Mutated only by
// cache set/remove/evict and the maintenance sweep. Totals are derived with
// SUM/COUNT so they can never drift from the rows.
type metaStore struct {
	db *sql.DB
}

type metaRow struct {
	Key       string
	SizeBytes int
	Kind      string
	CachedAt  time.Time
}

func (m *metaStore) put(ctx context.Context, tenant string, row metaRow) error {
	query := `
		INSERT INTO cache_meta (tenant_id, key, size_bytes, kind, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, key) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			kind = excluded.kind,
			cached_at = excluded.cached_at
	`
	_, err := m.db.ExecContext(ctx, query,
		tenant, row.Key, row.SizeBytes, row.Kind, row.CachedAt.UTC().Format(sortableTime))
	if err != nil {
		return errors.Wrapf(err, "failed to write cache metadata for key %s", row.Key)
	}
	return nil
}

func (m *metaStore) delete(ctx context.Context, tenant, key string) error {
	_, err := m.db.ExecContext(ctx,
		"DELETE FROM cache_meta WHERE tenant_id = ? AND key = ?", tenant, key)
	if err != nil {
		return errors.Wrapf(err, "failed to delete cache metadata for key %s", key)
	}
	return nil
}

func (m *metaStore) has(ctx context.Context, tenant, key string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM cache_meta WHERE tenant_id = ? AND key = ?)",
		tenant, key).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check cache metadata for key %s", key)
	}
	return exists, nil
}

func (m *metaStore) kind(ctx context.Context, tenant, key string) (string, error) {
	var kind string
	err := m.db.QueryRowContext(ctx,
		"SELECT kind FROM cache_meta WHERE tenant_id = ? AND key = ?", tenant, key).Scan(&kind)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", errors.Wrapf(err, "failed to read kind for key %s", key)
	}
	return kind, nil
}

func (m *metaStore) count(ctx context.Context, tenant string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cache_meta WHERE tenant_id = ?", tenant).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count cache metadata")
	}
	return count, nil
}

func (m *metaStore) totalSize(ctx context.Context, tenant string) (int, error) {
	var total int
	err := m.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(size_bytes), 0) FROM cache_meta WHERE tenant_id = ?", tenant).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum cache metadata sizes")
	}
	return total, nil
}

// oldest returns the single oldest row by cached_at (the FIFO eviction
// victim), or nil when the tenant has no rows.
func (m *metaStore) oldest(ctx context.Context, tenant string) (*metaRow, error) {
	query := `
		SELECT key, size_bytes, kind, cached_at
		FROM cache_meta
		WHERE tenant_id = ?
		ORDER BY cached_at ASC, key ASC
		LIMIT 1
	`

	row, err := scanMetaRow(m.db.QueryRowContext(ctx, query, tenant))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find oldest cache entry")
	}
	return row, nil
}

func (m *metaStore) list(ctx context.Context, tenant string) ([]metaRow, error) {
	query := `
		SELECT key, size_bytes, kind, cached_at
		FROM cache_meta
		WHERE tenant_id = ?
		ORDER BY cached_at ASC, key ASC
	`

	rows, err := m.db.QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cache metadata")
	}
	defer rows.Close()

	var out []metaRow
	for rows.Next() {
		row, err := scanMetaRow(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan cache metadata row")
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

func (m *metaStore) countByKind(ctx context.Context, tenant string) (map[string]int, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT kind, COUNT(*) FROM cache_meta WHERE tenant_id = ? GROUP BY kind", tenant)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count cache metadata by kind")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan kind count")
		}
		out[kind] = count
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetaRow(scanner rowScanner) (*metaRow, error) {
	var row metaRow
	var cachedAt string
	if err := scanner.Scan(&row.Key, &row.SizeBytes, &row.Kind, &cachedAt); err != nil {
		return nil, err
	}
	t, err := time.Parse(sortableTime, cachedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse cached_at for key %s", row.Key)
	}
	row.CachedAt = t
	return &row, nil
}

// stateStore tracks per-tenant maintenance bookkeeping.
type stateStore struct {
	db *sql.DB
}

func (s *stateStore) lastMaintenance(ctx context.Context, tenant string) (time.Time, error) {
	var at sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT last_maintenance_at FROM cache_state WHERE tenant_id = ?", tenant).Scan(&at)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, errors.Wrap(err, "failed to read cache state")
	}
	if !at.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, at.String)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to parse last_maintenance_at")
	}
	return t, nil
}

func (s *stateStore) setLastMaintenance(ctx context.Context, tenant string, at time.Time) error {
	query := `
		INSERT INTO cache_state (tenant_id, last_maintenance_at)
		VALUES (?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			last_maintenance_at = excluded.last_maintenance_at
	`
	_, err := s.db.ExecContext(ctx, query, tenant, at.UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(err, "failed to write cache state")
	}
	return nil
}
