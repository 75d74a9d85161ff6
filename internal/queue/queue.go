// Package queue implements the C5 task queue: a durable, Postgres-backed
// FIFO of workflow executions with atomic claim, per-execution
// deduplication, a configurable global/per-worker concurrency cap, and
// claim expiry so a crashed worker's task is picked up by another
// replica.
//
// The claim query is grounded on the teacher's outbox claim/retry shape
// (`GetUnpublished` + exponential-backoff `MarkAsFailed`): here the
// "unpublished" predicate becomes "unclaimed or claim expired", and the
// backoff becomes a flat claim-expiry rather than a growing delay, since
// a task's retry is a full worker replacement rather than a publish
// retry.
package queue

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle of one enqueued execution, per spec.md §4.5.
type Status string

const (
	StatusPending   Status = "pending"
	StatusEnqueued  Status = "enqueued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
	StatusNotFound  Status = "not-found"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// DefaultTaskTimeout is the per-task budget from spec.md §4.5/§5.
const DefaultTaskTimeout = 35 * time.Minute

// Task is one unit of work submitted to the queue: an execution of a flow,
// carrying exactly the "Queued task" fields from spec.md §3.
type Task struct {
	ExecutionID     string          `json:"executionId"`
	QueueName       string          `json:"queueName"`
	AppVersion      string          `json:"appVersion"`
	FlowID          string          `json:"flowId"`
	FlowVersion     string          `json:"flowVersion"`
	Input           json.RawMessage `json:"input"`
	TimeoutMs       int64           `json:"timeoutMs"`
	DeduplicationID string          `json:"deduplicationId"`
	Debug           bool            `json:"debug"`

	RootExecutionID   string          `json:"rootExecutionId,omitempty"`
	ParentExecutionID string          `json:"parentExecutionId,omitempty"`
	ExecutionDepth    int             `json:"executionDepth"`
	IntegrationCtx    json.RawMessage `json:"integrationContext,omitempty"`
	EventData         json.RawMessage `json:"eventData,omitempty"`
}
