package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chaingraph/core/internal/pkg/errors"
)

// FlowRepository is the relational home for flow definitions: created by
// external tooling, loaded read-only by the core at execution start
// (spec.md §3), never mutated here.
type FlowRepository struct {
	pool *pgxpool.Pool
}

func NewFlowRepository(pool *pgxpool.Pool) *FlowRepository {
	return &FlowRepository{pool: pool}
}

// Load returns the raw serialized flow for (id, version). An empty version
// resolves to the most recently updated definition for id.
func (r *FlowRepository) Load(ctx context.Context, id, version string) ([]byte, error) {
	var data []byte
	var err error
	if version == "" {
		err = r.pool.QueryRow(ctx, `
			SELECT data FROM flow_definition WHERE id = $1 ORDER BY updated_at DESC LIMIT 1
		`, id).Scan(&data)
	} else {
		err = r.pool.QueryRow(ctx, `
			SELECT data FROM flow_definition WHERE id = $1 AND version = $2
		`, id, version).Scan(&data)
	}
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("flow", id)
	}
	if err != nil {
		return nil, errors.Internal("failed to load flow definition", err)
	}
	return data, nil
}

// Save upserts a flow definition, used by tooling/tests that seed flows
// directly against the store rather than through an external authoring UI.
func (r *FlowRepository) Save(ctx context.Context, id, version string, data []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO flow_definition (id, version, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id, version) DO UPDATE SET data = $3, updated_at = $4
	`, id, version, data, time.Now())
	if err != nil {
		return errors.Internal("failed to save flow definition", err)
	}
	return nil
}
