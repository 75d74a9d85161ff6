// Package client implements C8: the producer-only half of the queue API
// for use by an API layer that submits work without running any dequeue
// machinery itself, grounded on the teacher's RunService.CreateAndWaitForRun
// and WaitForRun (poll-to-terminal) but built over the durable C5 queue and
// C6 signal store instead of an in-memory run aggregate.
package client

import (
	"context"
	"time"

	"github.com/chaingraph/core/internal/orchestrator"
	"github.com/chaingraph/core/internal/pkg/errors"
	"github.com/chaingraph/core/internal/queue"
)

// pollInterval matches the teacher's WaitForRun ticker.
const pollInterval = 500 * time.Millisecond

// Client is a thin producer-only facade: it can enqueue, signal, cancel
// and observe executions, but never claims or runs one. appVersion is
// fixed at construction and stamped on every task this client enqueues,
// so a mismatched worker population simply never dequeues it (spec.md
// §4.8's version-match rule).
type Client struct {
	appVersion  string
	queueStore  *queue.Store
	signalStore *orchestrator.SignalStore
}

func New(appVersion string, queueStore *queue.Store, signalStore *orchestrator.SignalStore) *Client {
	return &Client{appVersion: appVersion, queueStore: queueStore, signalStore: signalStore}
}

// Enqueue submits a new root execution. It stamps AppVersion from the
// client's configuration, overriding anything the caller set, so a
// client can never accidentally enqueue a task under the wrong version.
func (c *Client) Enqueue(ctx context.Context, task queue.Task) (*queue.Handle, error) {
	task.AppVersion = c.appVersion
	return c.queueStore.Enqueue(ctx, task)
}

// SendSignal delivers an execution-scoped message (e.g. a
// human-in-the-loop resume payload or an externally-sourced event) on the
// topic given by name. Only an empty name is rejected; the orchestrator's
// own "start-signal" and "debug-command" topics are accepted, and sending
// "start-signal" is how a caller starts a root execution.
func (c *Client) SendSignal(ctx context.Context, executionID, name string, payload any) error {
	if name == "" {
		return errors.ValidationError("name", "signal name must not be empty")
	}
	return c.signalStore.Send(ctx, executionID, name, payload)
}

// Cancel cancels an execution. A pending execution is marked cancelled
// at once. For one a worker has already claimed, a STOP command is sent
// that the worker observes only when the execution runs with Debug set;
// the call does not wait for the execution to stop.
func (c *Client) Cancel(ctx context.Context, executionID string) error {
	return c.queueStore.Cancel(ctx, executionID)
}

// GetStatus returns the execution's current queue status.
func (c *Client) GetStatus(ctx context.Context, executionID string) (queue.Status, error) {
	return c.queueStore.Status(ctx, executionID)
}

// GetResult blocks until the execution reaches a terminal status or ctx
// is cancelled, then returns its result.
func (c *Client) GetResult(ctx context.Context, executionID string) (*queue.Result, error) {
	return c.queueStore.Handle(executionID).GetResult(ctx)
}

// WaitForStatus polls GetStatus until it reaches a terminal state or ctx
// is cancelled, mirroring the teacher's WaitForRun polling loop for
// callers that want the status without unmarshaling a full result.
func (c *Client) WaitForStatus(ctx context.Context, executionID string) (queue.Status, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		status, err := c.GetStatus(ctx, executionID)
		if err != nil {
			return "", err
		}
		if status.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return "", errors.Aborted(executionID, "context cancelled awaiting terminal status")
		case <-ticker.C:
		}
	}
}
