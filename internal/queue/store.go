package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chaingraph/core/internal/pkg/errors"
)

// Store is the durable backend for the queue: `workflow_row` carries the
// application-visible status, `queue_entry` is the claimable pending set
// (rows are deleted on terminal status, per spec.md §6).
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Handle lets a caller await or poll the terminal outcome of one
// execution, without needing to know whether it is running locally or on
// another worker replica.
type Handle struct {
	ExecutionID string
	store       *Store
}

// Enqueue inserts the workflow row and its queue entry. If an execution
// with this id already exists and is not purged, Enqueue is a no-op and
// returns a handle to the existing row (spec.md §4.5 idempotency).
func (s *Store) Enqueue(ctx context.Context, task Task) (*Handle, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM workflow_row WHERE id = $1)`, task.ExecutionID).Scan(&exists)
	if err != nil {
		return nil, errors.Internal("failed to check existing workflow row", err)
	}
	if exists {
		return &Handle{ExecutionID: task.ExecutionID, store: s}, nil
	}

	timeoutMs := task.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = DefaultTaskTimeout.Milliseconds()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Transient("failed to begin enqueue transaction", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_row (
			id, status, app_version, queue_name, flow_id, flow_version, timeout_ms,
			deduplication_id, debug, root_execution_id, parent_execution_id, execution_depth,
			integration_context, event_data, input, recovery_attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 0)
	`, task.ExecutionID, string(StatusEnqueued), task.AppVersion, task.QueueName, task.FlowID, nullableString(task.FlowVersion),
		timeoutMs, nullableString(task.DeduplicationID), task.Debug, nullableString(task.RootExecutionID), nullableString(task.ParentExecutionID),
		task.ExecutionDepth, []byte(task.IntegrationCtx), []byte(task.EventData), []byte(task.Input))
	if err != nil {
		return nil, errors.Internal("failed to insert workflow row", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO queue_entry (workflow_id, queue_name, enqueued_at, worker_concurrency_key, global_concurrency_key)
		VALUES ($1, $2, NOW(), $3, 'global')
	`, task.ExecutionID, task.QueueName, task.QueueName)
	if err != nil {
		return nil, errors.Internal("failed to insert queue entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Transient("failed to commit enqueue", err)
	}
	return &Handle{ExecutionID: task.ExecutionID, store: s}, nil
}

// Claim atomically takes up to limit unclaimed-or-expired entries for
// queueName whose appVersion matches this worker's, in FIFO order, and
// marks them claimed by workerID until claimExpiry. `FOR UPDATE SKIP
// LOCKED` ensures a task is claimed by at most one worker at any instant
// even under concurrent Claim calls. A task enqueued under a different
// appVersion is left untouched — it stays queued for a worker running
// that version, per spec.md §6's enqueuer/worker version-match rule.
// globalConcurrency, if positive, caps the batch so the count of
// currently-running workflow_row entries for queueName across the whole
// fleet never exceeds it (spec.md invariant 8); zero or negative means no
// global cap, only the per-call limit applies.
func (s *Store) Claim(ctx context.Context, queueName, appVersion, workerID string, limit int, claimExpiry time.Duration, globalConcurrency int64) ([]Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Transient("failed to begin claim transaction", err)
	}
	defer tx.Rollback(ctx)

	if globalConcurrency > 0 {
		var running int64
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM workflow_row WHERE queue_name = $1 AND status = $2
		`, queueName, string(StatusRunning)).Scan(&running); err != nil {
			return nil, errors.Internal("failed to count running workflows", err)
		}
		remaining := globalConcurrency - running
		if remaining <= 0 {
			return nil, nil
		}
		if int64(limit) > remaining {
			limit = int(remaining)
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT qe.workflow_id, wr.queue_name, wr.app_version, wr.flow_id, wr.flow_version, wr.input, wr.timeout_ms,
		       wr.deduplication_id, wr.debug, wr.root_execution_id, wr.parent_execution_id, wr.execution_depth,
		       wr.integration_context, wr.event_data
		FROM queue_entry qe
		JOIN workflow_row wr ON wr.id = qe.workflow_id
		WHERE qe.queue_name = $1 AND wr.app_version = $2 AND (qe.claimed_by IS NULL OR qe.claim_expires_at < NOW())
		ORDER BY qe.enqueued_at ASC
		LIMIT $3
		FOR UPDATE OF qe SKIP LOCKED
	`, queueName, appVersion, limit)
	if err != nil {
		return nil, errors.Internal("failed to query claimable entries", err)
	}

	var ids []string
	var tasks []Task
	for rows.Next() {
		var t Task
		var rawInput, rawIntegration, rawEventData []byte
		var flowVersion, dedupeID, rootID, parentID *string
		if err := rows.Scan(&t.ExecutionID, &t.QueueName, &t.AppVersion, &t.FlowID, &flowVersion, &rawInput, &t.TimeoutMs,
			&dedupeID, &t.Debug, &rootID, &parentID, &t.ExecutionDepth, &rawIntegration, &rawEventData); err != nil {
			rows.Close()
			return nil, errors.Internal("failed to scan claimable entry", err)
		}
		t.Input = json.RawMessage(rawInput)
		t.IntegrationCtx = json.RawMessage(rawIntegration)
		t.EventData = json.RawMessage(rawEventData)
		t.FlowVersion = derefString(flowVersion)
		t.DeduplicationID = derefString(dedupeID)
		t.RootExecutionID = derefString(rootID)
		t.ParentExecutionID = derefString(parentID)
		ids = append(ids, t.ExecutionID)
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Internal("failed to iterate claimable entries", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	expiresAt := time.Now().Add(claimExpiry)
	if _, err := tx.Exec(ctx, `
		UPDATE queue_entry SET claimed_by = $1, claim_expires_at = $2
		WHERE workflow_id = ANY($3)
	`, workerID, expiresAt, ids); err != nil {
		return nil, errors.Internal("failed to mark entries claimed", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE workflow_row SET status = $1, started_at = COALESCE(started_at, NOW()) WHERE id = ANY($2)
	`, string(StatusRunning), ids); err != nil {
		return nil, errors.Internal("failed to transition workflow rows to running", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Transient("failed to commit claim", err)
	}
	return tasks, nil
}

// Complete marks an execution terminal and removes its queue entry.
func (s *Store) Complete(ctx context.Context, executionID string, status Status, output any, execErr error) error {
	var outputJSON, errorJSON []byte
	if output != nil {
		raw, err := json.Marshal(output)
		if err != nil {
			return errors.Internal("failed to marshal task output", err)
		}
		outputJSON = raw
	}
	if execErr != nil {
		errorJSON, _ = json.Marshal(map[string]string{"message": execErr.Error()})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Transient("failed to begin completion transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE workflow_row SET status = $1, output = $2, error = $3, completed_at = NOW()
		WHERE id = $4
	`, string(status), outputJSON, errorJSON, executionID); err != nil {
		return errors.Internal("failed to update workflow row to terminal", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM queue_entry WHERE workflow_id = $1`, executionID); err != nil {
		return errors.Internal("failed to remove queue entry", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Transient("failed to commit completion", err)
	}
	return nil
}

// Status returns the current lifecycle status of an execution.
func (s *Store) Status(ctx context.Context, executionID string) (Status, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM workflow_row WHERE id = $1`, executionID).Scan(&status)
	if err == pgx.ErrNoRows {
		return StatusNotFound, nil
	}
	if err != nil {
		return "", errors.Internal("failed to query workflow status", err)
	}
	return Status(status), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Result is the terminal outcome of an execution.
type Result struct {
	Status Status
	Output json.RawMessage
	Error  json.RawMessage
}

func (s *Store) result(ctx context.Context, executionID string) (*Result, error) {
	var status string
	var output, errJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT status, output, error FROM workflow_row WHERE id = $1`, executionID).
		Scan(&status, &output, &errJSON)
	if err == pgx.ErrNoRows {
		return &Result{Status: StatusNotFound}, nil
	}
	if err != nil {
		return nil, errors.Internal("failed to query workflow result", err)
	}
	return &Result{Status: Status(status), Output: output, Error: errJSON}, nil
}

// Handle returns a handle to a previously enqueued execution, for
// callers (e.g. the client package) that don't hold the one Enqueue
// returned.
func (s *Store) Handle(executionID string) *Handle {
	return &Handle{ExecutionID: executionID, store: s}
}

// GetStatus returns the handle's current status.
func (h *Handle) GetStatus(ctx context.Context) (Status, error) {
	return h.store.Status(ctx, h.ExecutionID)
}

// GetResult blocks, polling at a fixed interval, until the execution
// reaches a terminal status, then returns its outcome.
func (h *Handle) GetResult(ctx context.Context) (*Result, error) {
	const pollInterval = 500 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		res, err := h.store.result(ctx, h.ExecutionID)
		if err != nil {
			return nil, err
		}
		if res.Status.Terminal() || res.Status == StatusNotFound {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Aborted(h.ExecutionID, "context cancelled while awaiting result")
		case <-ticker.C:
		}
	}
}

// Cancel cancels an execution. A pending (unclaimed) execution is removed
// from the queue and marked cancelled at once. For a claimed execution a
// STOP command is written to its debug-command topic on the
// workflow_message channel (§4.6); the orchestrator polls that topic only
// for executions run with Debug set, so a claimed non-debug execution is
// not stopped by this call.
func (s *Store) Cancel(ctx context.Context, executionID string) error {
	tag, err := s.pool.Exec(ctx, `
		WITH removed AS (
			DELETE FROM queue_entry WHERE workflow_id = $1 AND claimed_by IS NULL RETURNING workflow_id
		)
		UPDATE workflow_row SET status = $2, completed_at = NOW() WHERE id IN (SELECT workflow_id FROM removed)
	`, executionID, string(StatusCancelled))
	if err != nil {
		return errors.Internal("failed to cancel pending execution", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_message (workflow_id, topic, payload, received_at)
		VALUES ($1, 'debug-command', $2, NOW())
	`, executionID, []byte(`{"command":"STOP"}`)); err != nil {
		return errors.Internal("failed to send cancel signal", err)
	}
	return nil
}
