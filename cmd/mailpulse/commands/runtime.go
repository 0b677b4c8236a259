package commands

import (
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tidemark/mailpulse/breaker"
	"github.com/tidemark/mailpulse/cache"
	"github.com/tidemark/mailpulse/config"
	"github.com/tidemark/mailpulse/db"
	"github.com/tidemark/mailpulse/errors"
	"github.com/tidemark/mailpulse/logger"
	"github.com/tidemark/mailpulse/schedule"
	"github.com/tidemark/mailpulse/upstream"
)

// runtime is the wired object graph every command builds on: one tenant's
// breaker, executor, cache, and scheduler over one database handle.
type runtime struct {
	cfg      *config.Config
	db       *sql.DB
	breaker  *breaker.Breaker
	executor *upstream.Executor
	cache    *cache.Cache
	prefs    *schedule.PrefStore
	sched    *schedule.Scheduler
}

func (rt *runtime) Close() {
	if rt.db != nil {
		rt.db.Close()
	}
}

// loadConfig honors the global --config flag, falling back to the standard
// search locations.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// openDatabase opens and migrates the configured database.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	path := cfg.Database.Path
	if path == "" {
		path = "mailpulse.db"
	}

	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", path)
	}
	return database, nil
}

// buildRuntime constructs the full component graph. trigger may be nil for
// commands that drive ticks manually.
func buildRuntime(cmd *cobra.Command, trigger schedule.TriggerController) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	tenant := cfg.Tenant.ID
	brk := breaker.New(breaker.NewStore(database), tenant, cfg.Breaker.Threshold, cfg.Breaker.Cooldown)

	executor := upstream.NewExecutor(upstream.Options{
		MaxRetries:        cfg.Upstream.MaxRetries,
		InitialDelay:      cfg.Upstream.InitialDelay,
		MaxDelay:          cfg.Upstream.MaxDelay,
		BackoffMultiplier: cfg.Upstream.BackoffMultiplier,
		RateLimitFloor:    cfg.Upstream.RateLimitFloor,
	}, brk, cfg.Upstream.MaxCallsPerMinute)

	values, err := buildValueStore(cfg, database)
	if err != nil {
		database.Close()
		return nil, err
	}

	artifactCache := cache.New(tenant, values, database, executor, brk, cache.Options{
		MaxItems:             cfg.Cache.MaxItems,
		MaxItemBytes:         cfg.Cache.MaxItemBytes,
		DefaultTTL:           cfg.Cache.DefaultTTL,
		RevalidationBatch:    cfg.Cache.RevalidationBatch,
		UtilizationThreshold: cfg.Cache.UtilizationThreshold,
		MaintenanceCeiling:   cfg.Cache.MaintenanceCeiling,
	})

	prefs := schedule.NewPrefStore(database)
	sched := schedule.New(tenant, database, prefs, trigger, artifactCache)

	rt := &runtime{
		cfg:      cfg,
		db:       database,
		breaker:  brk,
		executor: executor,
		cache:    artifactCache,
		prefs:    prefs,
		sched:    sched,
	}
	if err := registerBuiltinJobs(rt); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func buildValueStore(cfg *config.Config, database *sql.DB) (cache.ValueStore, error) {
	retention := cfg.Cache.StaleRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	switch cfg.Cache.Backend {
	case "", "sqlite":
		return cache.NewSQLiteStore(database, retention), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		return cache.NewRedisStore(client, retention), nil
	default:
		return nil, errors.Newf("unknown cache backend %q", cfg.Cache.Backend)
	}
}
