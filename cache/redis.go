package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tidemark/mailpulse/errors"
)

// RedisStore is an alternative ValueStore for deployments that share cache
// values across processes. Redis handles physical retention natively: each
// document is stored with TTL = logical TTL + stale retention, so stale reads
// keep working until redis drops the key on its own.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// redisEnvelope is the JSON document stored per key; the logical expiry
// travels with the value since redis TTLs only cover physical retention.
type redisEnvelope struct {
	Value     []byte    `json:"value"`
	Kind      string    `json:"kind"`
	SizeBytes int       `json:"size_bytes"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRedisStore creates a redis-backed value store.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

func redisKey(tenant, key string) string {
	return "mailpulse:cache:" + tenant + ":" + key
}

// Get returns the entry, or nil once redis has expired the key.
func (s *RedisStore) Get(ctx context.Context, tenant, key string) (*Entry, error) {
	data, err := s.client.Get(ctx, redisKey(tenant, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read cache entry %s from redis", key)
	}

	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrapf(err, "failed to decode cache entry %s", key)
	}

	return &Entry{
		Value:     env.Value,
		Kind:      env.Kind,
		SizeBytes: env.SizeBytes,
		CachedAt:  env.CachedAt,
		ExpiresAt: env.ExpiresAt,
	}, nil
}

// Put stores the entry with physical TTL covering the stale window.
func (s *RedisStore) Put(ctx context.Context, tenant, key string, entry Entry) error {
	env := redisEnvelope{
		Value:     entry.Value,
		Kind:      entry.Kind,
		SizeBytes: entry.SizeBytes,
		CachedAt:  entry.CachedAt,
		ExpiresAt: entry.ExpiresAt,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrapf(err, "failed to encode cache entry %s", key)
	}

	ttl := time.Until(entry.ExpiresAt) + s.retention
	if ttl <= 0 {
		ttl = s.retention
	}

	if err := s.client.Set(ctx, redisKey(tenant, key), data, ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to write cache entry %s to redis", key)
	}
	return nil
}

// Delete removes the entry if present.
func (s *RedisStore) Delete(ctx context.Context, tenant, key string) error {
	if err := s.client.Del(ctx, redisKey(tenant, key)).Err(); err != nil {
		return errors.Wrapf(err, "failed to delete cache entry %s from redis", key)
	}
	return nil
}
