package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chaingraph/core/internal/pkg/errors"
)

// StepStore persists the checkpointed steps that make up one execution's
// durable function body (`workflow_step`, spec.md §6). Grounded on the
// teacher's checkpoint repository: a narrow `scannable` interface lets one
// scan function serve both QueryRow and Rows call sites.
type StepStore struct {
	pool *pgxpool.Pool
}

func NewStepStore(pool *pgxpool.Pool) *StepStore {
	return &StepStore{pool: pool}
}

type stepRecord struct {
	status string
	output json.RawMessage
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanStep(row scannable) (*stepRecord, error) {
	var rec stepRecord
	if err := row.Scan(&rec.status, &rec.output); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Checkpoint runs fn exactly once per (workflowID, stepID): if a prior
// attempt already recorded success, its output is returned without
// re-running fn; otherwise fn runs, its result is persisted, and the
// result is returned. A crash between "fn ran" and "result persisted" is
// indistinguishable from "fn never ran" to the next worker, so fn must be
// safe to run more than once against the real world (idempotent sends,
// etc.) — the spec's guarantee is "durable step," not "exactly-once
// side effect."
func (s *StepStore) Checkpoint(ctx context.Context, workflowID, stepID, name string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	existing, err := s.load(ctx, workflowID, stepID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.status == "success" {
		return existing.output, nil
	}

	attempt := 1
	if existing != nil {
		attempt++
	}

	output, runErr := fn(ctx)
	if runErr != nil {
		_ = s.save(ctx, workflowID, stepID, name, "error", nil, attempt)
		return nil, runErr
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return nil, errors.Internal("failed to marshal step output", err)
	}
	if err := s.save(ctx, workflowID, stepID, name, "success", raw, attempt); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *StepStore) load(ctx context.Context, workflowID, stepID string) (*stepRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT status, output FROM workflow_step WHERE workflow_id = $1 AND step_id = $2
	`, workflowID, stepID)
	rec, err := scanStep(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Internal("failed to load step checkpoint", err)
	}
	return rec, nil
}

func (s *StepStore) save(ctx context.Context, workflowID, stepID, name, status string, output json.RawMessage, attempt int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_step (workflow_id, step_id, name, status, output, attempt)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (workflow_id, step_id)
		DO UPDATE SET status = $4, output = $5, attempt = $6
	`, workflowID, stepID, name, status, []byte(output), attempt)
	if err != nil {
		return errors.Internal("failed to save step checkpoint", err)
	}
	return nil
}
