// Package cache implements the bounded, tenant-scoped artifact cache with
// stale-while-revalidate semantics. Payloads live in a pluggable ValueStore
// (sqlite or redis); accounting, maintenance state, and the revalidation
// queue always live in sqlite so the eviction and drain logic has one source
// of truth.
package cache

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/tidemark/mailpulse/errors"
	"github.com/tidemark/mailpulse/logger"
	"github.com/tidemark/mailpulse/upstream"
)

// Options bound the cache and tune its maintenance cycle.
type Options struct {
	// MaxItems is the per-tenant entry ceiling. Inserting a new key at the
	// ceiling evicts the oldest entry by cache time.
	MaxItems int

	// MaxItemBytes is the per-entry payload ceiling. Oversize writes are
	// declined, not errored.
	MaxItemBytes int

	// DefaultTTL applies when a write does not specify a lifetime.
	DefaultTTL time.Duration

	// RevalidationBatch caps how many queued keys one maintenance pass
	// recomputes.
	RevalidationBatch int

	// UtilizationThreshold is the MaxItems fraction above which maintenance
	// is considered due.
	UtilizationThreshold float64

	// MaintenanceCeiling forces a maintenance pass when this much time has
	// elapsed since the last one, even with nothing queued.
	MaintenanceCeiling time.Duration
}

// DefaultOptions returns the production cache bounds.
func DefaultOptions() Options {
	return Options{
		MaxItems:             128,
		MaxItemBytes:         100_000,
		DefaultTTL:           6 * time.Hour,
		RevalidationBatch:    3,
		UtilizationThreshold: 0.8,
		MaintenanceCeiling:   6 * time.Hour,
	}
}

// ProducerFunc computes a fresh payload for a cache key.
type ProducerFunc func(ctx context.Context, key string) ([]byte, error)

// executor runs producer computations through the resilient call path.
type executor interface {
	Do(ctx context.Context, op string, fn upstream.Func) (any, error)
}

// gate exposes the circuit breaker decisions the cache needs: whether to
// attempt upstream work right now, and the error to surface when it declines.
type gate interface {
	IsOpenNow() (bool, error)
	Reject() error
}

// Result is the outcome of a cache read.
type Result struct {
	Value []byte
	Found bool
	// Stale means the value is past its logical expiry but still within the
	// retention window.
	Stale bool
}

// ComputeOptions tune a GetOrCompute call.
type ComputeOptions struct {
	// TTL for a freshly computed value. Zero means the cache default.
	TTL time.Duration

	// Kind labels the entry for stats (digest, summary, label_plan).
	Kind string

	// AllowStale serves an expired-but-retained value immediately and queues
	// a background refresh instead of computing inline.
	AllowStale bool
}

// Cache is the per-tenant bounded cache.
type Cache struct {
	tenant string
	values ValueStore
	meta   *metaStore
	state  *stateStore
	queue  *queueStore

	exec executor
	gate gate
	opts Options

	producers map[string]ProducerFunc

	log *zap.SugaredLogger
	now func() time.Time
}

// New builds a Cache over the given value store. The sqlite handle carries
// the accounting tables even when values live elsewhere.
func New(tenant string, values ValueStore, db *sql.DB, exec executor, g gate, opts Options) *Cache {
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultOptions().MaxItems
	}
	if opts.MaxItemBytes <= 0 {
		opts.MaxItemBytes = DefaultOptions().MaxItemBytes
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultOptions().DefaultTTL
	}
	if opts.RevalidationBatch <= 0 {
		opts.RevalidationBatch = DefaultOptions().RevalidationBatch
	}
	if opts.UtilizationThreshold <= 0 {
		opts.UtilizationThreshold = DefaultOptions().UtilizationThreshold
	}
	if opts.MaintenanceCeiling <= 0 {
		opts.MaintenanceCeiling = DefaultOptions().MaintenanceCeiling
	}

	return &Cache{
		tenant:    tenant,
		values:    values,
		meta:      &metaStore{db: db},
		state:     &stateStore{db: db},
		queue:     &queueStore{db: db},
		exec:      exec,
		gate:      g,
		opts:      opts,
		producers: make(map[string]ProducerFunc),
		log:       logger.Named("cache").With(logger.FieldTenant, tenant),
		now:       time.Now,
	}
}

// RegisterProducer binds a name to a compute function. Queued revalidations
// reference producers by name, so every producer used with GetOrCompute must
// be registered before maintenance runs.
func (c *Cache) RegisterProducer(name string, fn ProducerFunc) error {
	if _, exists := c.producers[name]; exists {
		return errors.Newf("producer %s is already registered", name)
	}
	c.producers[name] = fn
	return nil
}

// Get reads a key. A value past its logical expiry but still retained comes
// back with Stale set; callers decide whether that is acceptable.
func (c *Cache) Get(ctx context.Context, key string) (Result, error) {
	entry, err := c.values.Get(ctx, c.tenant, key)
	if err != nil {
		return Result{}, err
	}
	if entry == nil {
		return Result{}, nil
	}
	return Result{
		Value: entry.Value,
		Found: true,
		Stale: entry.Expired(c.now()),
	}, nil
}

// Set writes a value with the given lifetime. It returns false without error
// when the payload exceeds the per-entry byte ceiling; oversize artifacts are
// simply not worth caching. Inserting a new key at the item ceiling evicts
// the oldest entry first.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, kind string) (bool, error) {
	if len(value) > c.opts.MaxItemBytes {
		c.log.Warnw("declining oversize cache write",
			logger.FieldCacheKey, key,
			logger.FieldSizeBytes, len(value),
		)
		return false, nil
	}
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}

	present, err := c.meta.has(ctx, c.tenant, key)
	if err != nil {
		return false, err
	}
	if !present {
		if err := c.evictForInsert(ctx); err != nil {
			return false, err
		}
	}

	now := c.now()
	entry := Entry{
		Value:     value,
		Kind:      kind,
		SizeBytes: len(value),
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := c.values.Put(ctx, c.tenant, key, entry); err != nil {
		return false, err
	}
	if err := c.meta.put(ctx, c.tenant, metaRow{
		Key:       key,
		SizeBytes: len(value),
		Kind:      kind,
		CachedAt:  now,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// evictForInsert makes room for one new key when the tenant is at the item
// ceiling. Eviction order is oldest cache time first.
func (c *Cache) evictForInsert(ctx context.Context) error {
	count, err := c.meta.count(ctx, c.tenant)
	if err != nil {
		return err
	}
	for count >= c.opts.MaxItems {
		victim, err := c.meta.oldest(ctx, c.tenant)
		if err != nil {
			return err
		}
		if victim == nil {
			return nil
		}
		c.log.Debugw("evicting oldest cache entry",
			logger.FieldCacheKey, victim.Key,
			logger.FieldSizeBytes, victim.SizeBytes,
		)
		if err := c.Remove(ctx, victim.Key); err != nil {
			return err
		}
		count--
	}
	return nil
}

// Remove deletes a key from the value store, the accounting table, and the
// revalidation queue.
func (c *Cache) Remove(ctx context.Context, key string) error {
	if err := c.values.Delete(ctx, c.tenant, key); err != nil {
		return err
	}
	if err := c.meta.delete(ctx, c.tenant, key); err != nil {
		return err
	}
	return c.queue.remove(ctx, c.tenant, key)
}

// GetOrCompute reads a key and computes it through the named producer when
// missing. With AllowStale, an expired-but-retained value is served
// immediately and the key is queued for background revalidation. Inline
// computation goes through the resilient executor behind the circuit
// breaker; when computation fails and a stale value is retained, the stale
// value is served instead of the error.
func (c *Cache) GetOrCompute(ctx context.Context, key, producer string, opts ComputeOptions) (Result, error) {
	fn, ok := c.producers[producer]
	if !ok {
		return Result{}, errors.Newf("no producer registered with name %s", producer)
	}

	entry, err := c.values.Get(ctx, c.tenant, key)
	if err != nil {
		return Result{}, err
	}
	if entry != nil && !entry.Expired(c.now()) {
		return Result{Value: entry.Value, Found: true}, nil
	}

	if entry != nil && opts.AllowStale {
		if err := c.queue.enqueue(ctx, c.tenant, key, producer, c.now()); err != nil {
			return Result{}, err
		}
		c.log.Debugw("serving stale value, revalidation queued",
			logger.FieldCacheKey, key,
			logger.FieldProducer, producer,
		)
		return Result{Value: entry.Value, Found: true, Stale: true}, nil
	}

	open, err := c.gate.IsOpenNow()
	if err != nil {
		return Result{}, err
	}
	if open {
		if entry != nil {
			c.log.Warnw("breaker open, degrading to stale value",
				logger.FieldCacheKey, key,
			)
			return Result{Value: entry.Value, Found: true, Stale: true}, nil
		}
		return Result{}, c.gate.Reject()
	}

	value, err := c.compute(ctx, key, producer, fn, opts)
	if err != nil {
		if entry != nil {
			c.log.Warnw("compute failed, degrading to stale value",
				logger.FieldCacheKey, key,
				logger.FieldError, err,
			)
			return Result{Value: entry.Value, Found: true, Stale: true}, nil
		}
		return Result{}, err
	}
	return Result{Value: value, Found: true}, nil
}

// compute runs the producer through the executor and caches the result. An
// oversize result is still returned to the caller, just not cached.
func (c *Cache) compute(ctx context.Context, key, producer string, fn ProducerFunc, opts ComputeOptions) ([]byte, error) {
	out, err := c.exec.Do(ctx, "cache."+producer, func(ctx context.Context) (any, error) {
		return fn(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	value, ok := out.([]byte)
	if !ok {
		return nil, errors.Newf("producer %s returned %T, expected []byte", producer, out)
	}
	if _, err := c.Set(ctx, key, value, opts.TTL, opts.Kind); err != nil {
		return nil, err
	}
	return value, nil
}

// MaintenanceDue reports whether a maintenance pass should run: queued
// revalidations, item utilization above threshold, or ceiling time elapsed
// since the last pass.
func (c *Cache) MaintenanceDue(ctx context.Context) (bool, error) {
	depth, err := c.queue.size(ctx, c.tenant)
	if err != nil {
		return false, err
	}
	if depth > 0 {
		return true, nil
	}

	count, err := c.meta.count(ctx, c.tenant)
	if err != nil {
		return false, err
	}
	if float64(count) >= c.opts.UtilizationThreshold*float64(c.opts.MaxItems) {
		return true, nil
	}

	last, err := c.state.lastMaintenance(ctx, c.tenant)
	if err != nil {
		return false, err
	}
	return c.now().Sub(last) >= c.opts.MaintenanceCeiling, nil
}

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	Purged       int
	Swept        int
	Drained      int
	DrainSkipped bool
}

// RunMaintenance purges entries past retention, sweeps orphaned accounting
// rows, and drains a batch of queued revalidations. The drain is skipped
// while the breaker is open; queued items stay put for the next pass. Every
// drained item is removed from the queue whether its recompute succeeded or
// not, so one poisoned key cannot wedge the queue.
func (c *Cache) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	now := c.now()

	if p, ok := c.values.(purger); ok {
		purged, err := p.purgeExpired(ctx, c.tenant, now)
		if err != nil {
			return report, err
		}
		report.Purged = purged
	}

	swept, err := c.sweepOrphans(ctx)
	if err != nil {
		return report, err
	}
	report.Swept = swept

	open, err := c.gate.IsOpenNow()
	if err != nil {
		return report, err
	}
	if open {
		c.log.Infow("breaker open, skipping revalidation drain")
		report.DrainSkipped = true
	} else {
		drained, err := c.drain(ctx)
		if err != nil {
			return report, err
		}
		report.Drained = drained
	}

	if err := c.state.setLastMaintenance(ctx, c.tenant, now); err != nil {
		return report, err
	}
	c.log.Debugw("maintenance pass complete",
		"purged", report.Purged,
		"swept", report.Swept,
		"drained", report.Drained,
	)
	return report, nil
}

// sweepOrphans deletes accounting rows whose payload has been purged from the
// value store.
func (c *Cache) sweepOrphans(ctx context.Context) (int, error) {
	rows, err := c.meta.list(ctx, c.tenant)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, row := range rows {
		entry, err := c.values.Get(ctx, c.tenant, row.Key)
		if err != nil {
			return swept, err
		}
		if entry != nil {
			continue
		}
		if err := c.meta.delete(ctx, c.tenant, row.Key); err != nil {
			return swept, err
		}
		if err := c.queue.remove(ctx, c.tenant, row.Key); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// drain recomputes up to RevalidationBatch queued keys.
func (c *Cache) drain(ctx context.Context) (int, error) {
	items, err := c.queue.take(ctx, c.tenant, c.opts.RevalidationBatch)
	if err != nil {
		return 0, err
	}

	drained := 0
	for _, item := range items {
		kind, err := c.meta.kind(ctx, c.tenant, item.Key)
		if err != nil {
			return drained, err
		}
		fn, ok := c.producers[item.Producer]
		if !ok {
			c.log.Warnw("dropping queued revalidation with unknown producer",
				logger.FieldCacheKey, item.Key,
				logger.FieldProducer, item.Producer,
			)
		} else if _, err := c.compute(ctx, item.Key, item.Producer, fn, ComputeOptions{Kind: kind}); err != nil {
			c.log.Warnw("background revalidation failed",
				logger.FieldCacheKey, item.Key,
				logger.FieldProducer, item.Producer,
				logger.FieldError, err,
			)
		}
		if err := c.queue.remove(ctx, c.tenant, item.Key); err != nil {
			return drained, err
		}
		drained++
	}
	return drained, nil
}

// Stats describes the tenant's cache occupancy.
type Stats struct {
	Items           int
	TotalBytes      int
	QueueDepth      int
	ByKind          map[string]int
	LastMaintenance time.Time
}

// Stats reads the accounting tables.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	var err error

	if stats.Items, err = c.meta.count(ctx, c.tenant); err != nil {
		return stats, err
	}
	if stats.TotalBytes, err = c.meta.totalSize(ctx, c.tenant); err != nil {
		return stats, err
	}
	if stats.QueueDepth, err = c.queue.size(ctx, c.tenant); err != nil {
		return stats, err
	}
	if stats.ByKind, err = c.meta.countByKind(ctx, c.tenant); err != nil {
		return stats, err
	}
	if stats.LastMaintenance, err = c.state.lastMaintenance(ctx, c.tenant); err != nil {
		return stats, err
	}
	return stats, nil
}
