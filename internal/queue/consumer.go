package queue

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/chaingraph/core/internal/pkg/errors"
)

// Handler runs one claimed task to completion and reports its outcome by
// calling Store.Complete itself (the orchestrator owns checkpointing); the
// Consumer's job ends at claim + dispatch.
type Handler func(ctx context.Context, task Task)

// ConsumerOptions configures the C5 consume loop per spec.md §4.5/§5.
type ConsumerOptions struct {
	WorkerID          string
	QueueName         string
	AppVersion        string
	WorkerConcurrency int64
	GlobalConcurrency int64
	ClaimExpiry       time.Duration
	PollInterval      time.Duration // average time between dequeue attempts
}

func (o *ConsumerOptions) setDefaults() {
	if o.ClaimExpiry == 0 {
		o.ClaimExpiry = DefaultTaskTimeout
	}
	if o.WorkerConcurrency == 0 {
		o.WorkerConcurrency = 4
	}
	if o.PollInterval == 0 {
		o.PollInterval = 500 * time.Millisecond
	}
}

// Consumer dequeues up to WorkerConcurrency concurrent tasks from Store,
// rate-limited so idle polling doesn't hammer the durable backend.
type Consumer struct {
	store   *Store
	opts    ConsumerOptions
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

func NewConsumer(store *Store, opts ConsumerOptions) *Consumer {
	opts.setDefaults()
	return &Consumer{
		store:   store,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.PollInterval), 1),
		sem:     semaphore.NewWeighted(opts.WorkerConcurrency),
	}
}

// Consume starts dequeueing until ctx is cancelled. It blocks while
// in-flight handlers drain before returning, so callers can use it as the
// "wait for in-flight steps to checkpoint" half of graceful shutdown
// (spec.md §4.7).
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.drain(ctx)
		}

		free := c.freeWorkerSlots()
		if free <= 0 {
			continue
		}
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return c.drain(ctx)
		}

		tasks, err := c.store.Claim(ctx, c.opts.QueueName, c.opts.AppVersion, c.opts.WorkerID, int(free), c.opts.ClaimExpiry, c.opts.GlobalConcurrency)
		if err != nil {
			c.sem.Release(1)
			log.Printf("queue: claim failed: %v", err)
			continue
		}
		if len(tasks) == 0 {
			c.sem.Release(1)
			select {
			case <-ctx.Done():
				return c.drain(ctx)
			default:
			}
			continue
		}

		c.sem.Release(1)
		for _, t := range tasks {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				return c.drain(ctx)
			}
			task := t
			go func() {
				defer c.sem.Release(1)
				handler(ctx, task)
			}()
		}
	}
}

// freeWorkerSlots is advisory (the real cap is enforced by sem.Acquire);
// it just avoids claiming more than could possibly be dispatched.
func (c *Consumer) freeWorkerSlots() int64 {
	return c.opts.WorkerConcurrency
}

// drain waits for every in-flight handler goroutine to release the
// semaphore, i.e. for every claimed task to finish checkpointing.
func (c *Consumer) drain(ctx context.Context) error {
	acquireCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := c.sem.Acquire(acquireCtx, c.opts.WorkerConcurrency); err != nil {
		return errors.Transient("timed out draining in-flight tasks", err)
	}
	c.sem.Release(c.opts.WorkerConcurrency)
	return ctx.Err()
}
