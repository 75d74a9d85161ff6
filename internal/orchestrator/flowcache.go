package orchestrator

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chaingraph/core/internal/domain/flow"
	"github.com/chaingraph/core/internal/domain/node"
	"github.com/chaingraph/core/internal/pkg/errors"
)

// flowSource is the durable, authoritative store a FlowCache falls back to
// on a cache miss.
type flowSource interface {
	Load(ctx context.Context, id, version string) ([]byte, error)
}

// FlowCache is a read-through cache over flow definitions, adapted from
// the teacher's cache.RedisCache: a flow is loaded potentially many times
// (once per execution across many worker replicas) but never mutated
// during execution, so a short TTL is pure latency savings, never a
// staleness risk the orchestrator needs to reason about.
type FlowCache struct {
	redis    *redis.Client
	source   flowSource
	registry *node.Registry
	ttl      time.Duration
}

func NewFlowCache(redisClient *redis.Client, source flowSource, registry *node.Registry, ttl time.Duration) *FlowCache {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &FlowCache{redis: redisClient, source: source, registry: registry, ttl: ttl}
}

func cacheKey(id, version string) string {
	return "chaingraph:flow:" + id + ":" + version
}

// Load returns the deserialized flow for (id, version), consulting Redis
// before falling back to the durable source.
func (c *FlowCache) Load(ctx context.Context, id, version string) (*flow.Flow, error) {
	key := cacheKey(id, version)

	if raw, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		f, derr := flow.Deserialize(raw, c.registry)
		if derr == nil {
			return f, nil
		}
		// Cached bytes failed to deserialize (e.g. registry changed); fall
		// through to the durable source rather than failing the execution.
	}

	raw, err := c.source.Load(ctx, id, version)
	if err != nil {
		return nil, err
	}
	f, err := flow.Deserialize(raw, c.registry)
	if err != nil {
		return nil, errors.Internal("failed to deserialize flow definition", err)
	}

	if setErr := c.redis.Set(ctx, key, raw, c.ttl).Err(); setErr != nil {
		// Cache write failures never fail the execution — the durable
		// source already returned a usable flow.
		_ = setErr
	}
	return f, nil
}
