package queue

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/chaingraph/core/internal/pkg/errors"
)

// Reaper periodically logs and counts expired claims. Re-claiming itself
// needs no separate sweep — Store.Claim's WHERE clause already treats an
// expired claim as claimable — this worker exists purely for operational
// visibility into how often workers are crashing mid-task, mirroring the
// teacher's CleanupWorker maintenance-loop shape.
type Reaper struct {
	store    *Store
	cron     *cron.Cron
	schedule string
}

// NewReaper builds a reaper that reports the expired-claim count across
// all queues on the given cron schedule (standard 5-field expression).
func NewReaper(store *Store, schedule string) *Reaper {
	return &Reaper{
		store:    store,
		cron:     cron.New(),
		schedule: schedule,
	}
}

// Start registers the sweep and begins the cron scheduler.
func (r *Reaper) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.schedule, func() {
		n, err := r.sweep(ctx)
		if err != nil {
			log.Printf("queue: expired-claim sweep failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("queue: %d expired claims observed, now re-claimable", n)
		}
	})
	if err != nil {
		return errors.Internal("failed to register expired-claim sweep", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for any running sweep to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reaper) sweep(ctx context.Context) (int, error) {
	var n int
	err := r.store.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_entry WHERE claim_expires_at IS NOT NULL AND claim_expires_at < NOW()
	`).Scan(&n)
	if err != nil {
		return 0, errors.Internal("failed to count expired claims", err)
	}
	return n, nil
}
