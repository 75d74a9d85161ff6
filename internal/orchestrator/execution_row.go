package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chaingraph/core/internal/pkg/errors"
)

// ExecutionStore persists `execution_row`, the application-level mirror of
// one execution's orchestrator status and context (spec.md §6) — distinct
// from `workflow_row`, which the queue (C5) owns for dequeue bookkeeping.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Context carries the fields cloned into a child execution per spec.md
// §4.6 "Child execution cloning".
type Context struct {
	FlowID            string
	OwnerID           string
	Debug             bool
	StrictChildren    bool
	RootExecutionID   string
	ParentExecutionID string
	ExecutionDepth    int
	IntegrationCtx    map[string]any
	EventData         json.RawMessage
}

func (s *ExecutionStore) Create(ctx context.Context, executionID string, c Context) error {
	integrationJSON, err := json.Marshal(c.IntegrationCtx)
	if err != nil {
		return errors.Internal("failed to marshal integration context", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_row (
			id, flow_id, owner_id, status, debug, strict_children, created_at,
			root_execution_id, parent_execution_id, execution_depth, integration_context, event_data
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, executionID, c.FlowID, c.OwnerID, string(StatusQueued), c.Debug, c.StrictChildren,
		nullable(c.RootExecutionID), nullable(c.ParentExecutionID), c.ExecutionDepth, integrationJSON, []byte(c.EventData))
	if err != nil {
		return errors.Internal("failed to insert execution row", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpdateStatus records a state-machine transition. Callers are expected to
// have already validated the transition via Status.CanTransitionTo.
func (s *ExecutionStore) UpdateStatus(ctx context.Context, executionID string, status Status, errMsg string) error {
	var err error
	switch status {
	case StatusRunning:
		_, err = s.pool.Exec(ctx, `UPDATE execution_row SET status = $1, started_at = COALESCE(started_at, NOW()) WHERE id = $2`, string(status), executionID)
	case StatusCompleted, StatusStopped, StatusFailed:
		_, err = s.pool.Exec(ctx, `UPDATE execution_row SET status = $1, completed_at = NOW(), error_message = NULLIF($2, '') WHERE id = $3`, string(status), errMsg, executionID)
	default:
		_, err = s.pool.Exec(ctx, `UPDATE execution_row SET status = $1 WHERE id = $2`, string(status), executionID)
	}
	if err != nil {
		return errors.Internal("failed to update execution row status", err)
	}
	return nil
}

func (s *ExecutionStore) Status(ctx context.Context, executionID string) (Status, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM execution_row WHERE id = $1`, executionID).Scan(&status)
	if err != nil {
		return "", errors.Internal("failed to query execution row status", err)
	}
	return Status(status), nil
}

// strictChildren reports the strict-children flag an execution was
// created with, consulted when its own children complete.
func (s *ExecutionStore) strictChildren(ctx context.Context, executionID string) (bool, error) {
	var strict bool
	err := s.pool.QueryRow(ctx, `SELECT strict_children FROM execution_row WHERE id = $1`, executionID).Scan(&strict)
	if err != nil {
		return false, errors.Internal("failed to query strict_children flag", err)
	}
	return strict, nil
}

// elapsedSince is a small helper used by callers enforcing timeouts
// against a started_at/created_at column read separately.
func elapsedSince(t time.Time) time.Duration { return time.Since(t) }
