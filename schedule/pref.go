package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/tidemark/mailpulse/errors"
)

// PrefStore holds per-tenant feature toggles. A feature with no row is
// disabled; enabling it is an explicit act.
type PrefStore struct {
	db *sql.DB
}

// NewPrefStore creates a PrefStore over the given database.
func NewPrefStore(db *sql.DB) *PrefStore {
	return &PrefStore{db: db}
}

// Pref is one feature toggle row.
type Pref struct {
	Name      string
	Enabled   bool
	UpdatedAt time.Time
}

// IsEnabled reports whether the tenant has the named feature on.
func (p *PrefStore) IsEnabled(ctx context.Context, tenant, name string) (bool, error) {
	var enabled bool
	err := p.db.QueryRowContext(ctx,
		"SELECT enabled FROM feature_prefs WHERE tenant_id = ? AND name = ?",
		tenant, name).Scan(&enabled)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to read feature pref %s", name)
	}
	return enabled, nil
}

// SetEnabled writes the toggle.
func (p *PrefStore) SetEnabled(ctx context.Context, tenant, name string, enabled bool) error {
	query := `
		INSERT INTO feature_prefs (tenant_id, name, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, name) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := p.db.ExecContext(ctx, query,
		tenant, name, enabled, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "failed to write feature pref %s", name)
	}
	return nil
}

// EnabledCount returns how many features the tenant has on.
func (p *PrefStore) EnabledCount(ctx context.Context, tenant string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM feature_prefs WHERE tenant_id = ? AND enabled = 1",
		tenant).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count enabled features")
	}
	return count, nil
}

// List returns the tenant's toggles in name order.
func (p *PrefStore) List(ctx context.Context, tenant string) ([]Pref, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT name, enabled, updated_at FROM feature_prefs WHERE tenant_id = ? ORDER BY name",
		tenant)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list feature prefs")
	}
	defer rows.Close()

	var prefs []Pref
	for rows.Next() {
		var pref Pref
		var updatedAt string
		if err := rows.Scan(&pref.Name, &pref.Enabled, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan feature pref")
		}
		if pref.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, errors.Wrapf(err, "failed to parse updated_at for pref %s", pref.Name)
		}
		prefs = append(prefs, pref)
	}
	return prefs, rows.Err()
}
