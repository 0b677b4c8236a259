package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/tidemark/mailpulse/errors"
)

// sortableTime is a fixed-width UTC layout so cached_at/purge_at columns sort
// lexicographically. time.RFC3339Nano strips trailing zeros and breaks
// ordering.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// Entry is one cached artifact. An entry whose ExpiresAt has passed is
// logically absent but stays physically retrievable (for stale reads) until
// the store's retention horizon sweeps it.
type Entry struct {
	Value     []byte
	Kind      string
	SizeBytes int
	CachedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its logical expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// ValueStore is the tenant-isolated key/value primitive holding cache
// payloads. Get returns nil when the key is physically absent (never stored,
// or already purged past retention).
type ValueStore interface {
	Get(ctx context.Context, tenant, key string) (*Entry, error)
	Put(ctx context.Context, tenant, key string, entry Entry) error
	Delete(ctx context.Context, tenant, key string) error
}

// purger is implemented by stores that need explicit physical cleanup of
// entries past their retention horizon. Stores with native TTL (redis) purge
// on their own.
type purger interface {
	purgeExpired(ctx context.Context, tenant string, now time.Time) (int, error)
}

// SQLiteStore stores cache values in the cache_entries table. Logical expiry
// lives in expires_at; physical retention in purge_at = expires_at +
// retention.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration

	// Injectable for tests.
	now func() time.Time
}

// NewSQLiteStore creates a SQLite-backed value store. retention is how long
// past logical expiry values stay retrievable for stale reads.
func NewSQLiteStore(db *sql.DB, retention time.Duration) *SQLiteStore {
	return &SQLiteStore{db: db, retention: retention, now: time.Now}
}

// Get returns the entry, or nil when absent or past its purge horizon.
func (s *SQLiteStore) Get(ctx context.Context, tenant, key string) (*Entry, error) {
	query := `
		SELECT value, kind, size_bytes, cached_at, expires_at
		FROM cache_entries
		WHERE tenant_id = ? AND key = ? AND purge_at > ?
	`

	var entry Entry
	var cachedAt, expiresAt string

	err := s.db.QueryRowContext(ctx, query, tenant, key, s.now().UTC().Format(sortableTime)).
		Scan(&entry.Value, &entry.Kind, &entry.SizeBytes, &cachedAt, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read cache entry %s", key)
	}

	if entry.CachedAt, err = time.Parse(sortableTime, cachedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse cached_at for key %s", key)
	}
	if entry.ExpiresAt, err = time.Parse(sortableTime, expiresAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse expires_at for key %s", key)
	}

	return &entry, nil
}

// Put upserts the entry.
func (s *SQLiteStore) Put(ctx context.Context, tenant, key string, entry Entry) error {
	query := `
		INSERT INTO cache_entries (tenant_id, key, value, kind, size_bytes, cached_at, expires_at, purge_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, key) DO UPDATE SET
			value = excluded.value,
			kind = excluded.kind,
			size_bytes = excluded.size_bytes,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at,
			purge_at = excluded.purge_at
	`

	purgeAt := entry.ExpiresAt.Add(s.retention)
	_, err := s.db.ExecContext(ctx, query,
		tenant, key, entry.Value, entry.Kind, entry.SizeBytes,
		entry.CachedAt.UTC().Format(sortableTime),
		entry.ExpiresAt.UTC().Format(sortableTime),
		purgeAt.UTC().Format(sortableTime),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to write cache entry %s", key)
	}
	return nil
}

// Delete removes the entry if present.
func (s *SQLiteStore) Delete(ctx context.Context, tenant, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE tenant_id = ? AND key = ?", tenant, key)
	if err != nil {
		return errors.Wrapf(err, "failed to delete cache entry %s", key)
	}
	return nil
}

// purgeExpired deletes entries past their retention horizon, emulating the
// native expiry a platform cache primitive would do itself.
func (s *SQLiteStore) purgeExpired(ctx context.Context, tenant string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE tenant_id = ? AND purge_at <= ?",
		tenant, now.UTC().Format(sortableTime))
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge expired cache entries")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
