// Package workerruntime implements C7: the worker process that bootstraps
// a queue consumer bound to the orchestrator, registers its own liveness,
// serves a health endpoint, and drains in-flight work on shutdown.
package workerruntime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chaingraph/core/internal/pkg/errors"
)

// heartbeatTTL bounds how long a worker is considered alive after its
// last Heartbeat call, adapted from the teacher's in-memory
// worker.Registry's IsHealthy(threshold) check into a Redis key
// expiry — liveness has to be visible across worker replicas and
// process restarts, which an in-memory map cannot provide.
const heartbeatTTL = 30 * time.Second

// Liveness is one worker's self-reported state.
type Liveness struct {
	WorkerID   string    `json:"workerId"`
	AppVersion string    `json:"appVersion"`
	ActiveRuns int       `json:"activeRuns"`
	StartedAt  time.Time `json:"startedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Registry is a Redis-backed liveness directory: every worker replica
// writes its own key with a TTL, so a crashed worker simply expires
// rather than requiring another process to notice and remove it —
// grounded on the teacher's worker.Registry.CleanupStaleWorkers, but a
// TTL makes that sweep unnecessary here.
type Registry struct {
	redis *redis.Client
}

func NewRegistry(redisClient *redis.Client) *Registry {
	return &Registry{redis: redisClient}
}

func registryKey(workerID string) string {
	return "chaingraph:worker:" + workerID
}

// Heartbeat writes or refreshes a worker's liveness entry.
func (r *Registry) Heartbeat(ctx context.Context, l Liveness) error {
	l.UpdatedAt = time.Now()
	raw, err := json.Marshal(l)
	if err != nil {
		return errors.Internal("failed to marshal worker liveness", err)
	}
	if err := r.redis.Set(ctx, registryKey(l.WorkerID), raw, heartbeatTTL).Err(); err != nil {
		return errors.Transient("failed to write worker heartbeat", err)
	}
	return nil
}

// Deregister removes a worker's entry immediately, used on graceful
// shutdown so other observers don't wait out the TTL.
func (r *Registry) Deregister(ctx context.Context, workerID string) error {
	if err := r.redis.Del(ctx, registryKey(workerID)).Err(); err != nil {
		return errors.Transient("failed to deregister worker", err)
	}
	return nil
}

// Get returns a worker's last-reported liveness, or ok=false if it has
// expired or never registered.
func (r *Registry) Get(ctx context.Context, workerID string) (Liveness, bool, error) {
	raw, err := r.redis.Get(ctx, registryKey(workerID)).Bytes()
	if err == redis.Nil {
		return Liveness{}, false, nil
	}
	if err != nil {
		return Liveness{}, false, errors.Transient("failed to read worker liveness", err)
	}
	var l Liveness
	if err := json.Unmarshal(raw, &l); err != nil {
		return Liveness{}, false, errors.Internal("failed to unmarshal worker liveness", err)
	}
	return l, true, nil
}
