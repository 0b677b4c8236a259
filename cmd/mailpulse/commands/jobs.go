package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/tidemark/mailpulse/cache"
	"github.com/tidemark/mailpulse/schedule"
)

// Built-in jobs exercise the full substrate end to end: each run funnels
// through the cache, the resilient executor, and the breaker. Their producers
// are self-contained placeholders; a deployment embeds mailpulse as a library
// and registers mailbox-backed producers in their place.

const (
	jobDigest    = "digest"
	jobAutoLabel = "autoLabel"
	jobCacheWarm = "cacheWarm"
)

func registerBuiltinJobs(rt *runtime) error {
	loc := rt.cfg.Scheduler.Location()

	if err := rt.cache.RegisterProducer("digest", func(ctx context.Context, key string) ([]byte, error) {
		return []byte(fmt.Sprintf("digest %s generated at %s", key, time.Now().UTC().Format(time.RFC3339))), nil
	}); err != nil {
		return err
	}
	if err := rt.cache.RegisterProducer("labelPlan", func(ctx context.Context, key string) ([]byte, error) {
		return []byte(fmt.Sprintf("label plan %s generated at %s", key, time.Now().UTC().Format(time.RFC3339))), nil
	}); err != nil {
		return err
	}

	jobs := []*schedule.Job{
		{
			Name:    jobDigest,
			Cadence: schedule.DailyAt(rt.cfg.Scheduler.DigestHour, loc),
			Run: func(ctx context.Context) error {
				key := "digest:" + time.Now().In(loc).Format("2006-01-02")
				_, err := rt.cache.GetOrCompute(ctx, key, "digest", cache.ComputeOptions{Kind: "digest"})
				return err
			},
		},
		{
			Name:    jobAutoLabel,
			Cadence: schedule.EveryTick(),
			Run: func(ctx context.Context) error {
				_, err := rt.cache.GetOrCompute(ctx, "labels:inbox", "labelPlan", cache.ComputeOptions{
					Kind:       "label_plan",
					AllowStale: true,
				})
				return err
			},
		},
		{
			// Best effort: touching hot keys with AllowStale queues refreshes
			// for maintenance to drain instead of computing inline.
			Name:    jobCacheWarm,
			Cadence: schedule.EveryTick(),
			Run: func(ctx context.Context) error {
				key := "digest:" + time.Now().In(loc).Format("2006-01-02")
				if _, err := rt.cache.Get(ctx, key); err != nil {
					return err
				}
				return nil
			},
		},
	}

	for _, job := range jobs {
		if err := rt.sched.RegisterJob(job); err != nil {
			return err
		}
	}
	return nil
}
