// Package eventstream implements the C4 event stream: a durable,
// per-execution ordered log readable by multiple subscribers in real
// time, with backfill from a chosen index and automatic termination on
// workflow completion.
//
// Storage follows the `workflow_stream` table from the external-interface
// schema (spec.md §6): append-only, keyed by (workflowId, index), with a
// terminal marker row closing the stream. NATS wakeups (Hub, in
// nats_bridge.go) let subscribers re-read promptly instead of waiting out
// the poll interval; every delivery is still read from Postgres, which is
// the durable source of truth for backfill and crash recovery.
package eventstream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chaingraph/core/internal/pkg/errors"
)

// CreatedIndex is the reserved index for the workflow-level EXECUTION_CREATED
// marker, always delivered regardless of a subscriber's fromIndex.
const CreatedIndex int64 = -1

// Record is one element of a workflow's stream.
type Record struct {
	WorkflowID string          `json:"workflowId"`
	StreamKey  string          `json:"streamKey"`
	Index      int64           `json:"index"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	WrittenAt  time.Time       `json:"writtenAt"`
	Terminal   bool            `json:"terminal"`
}

// Store is the durable append-only log backing the event stream.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store over an existing connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// AppendCreated writes the workflow-level EXECUTION_CREATED marker at the
// reserved index -1. Idempotent: calling it twice for the same workflow is
// a no-op on the second call.
func (s *Store) AppendCreated(ctx context.Context, workflowID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Internal("failed to marshal EXECUTION_CREATED payload", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_stream (workflow_id, stream_key, index, event_type, payload, written_at, terminal)
		VALUES ($1, 'lifecycle', -1, 'EXECUTION_CREATED', $2, NOW(), FALSE)
		ON CONFLICT (workflow_id, stream_key, index) DO NOTHING
	`, workflowID, raw)
	if err != nil {
		return errors.Internal("failed to append EXECUTION_CREATED", err)
	}
	return nil
}

// dedupeKey, when non-empty, lets a retried step append idempotently: a
// second Append call carrying the same dedupeKey for the same workflow is
// a no-op, implementing the at-least-once-step / exactly-once-workflow
// guarantee split described in §4.4.
type appendOpts struct {
	dedupeKey string
	terminal  bool
}

// AppendOption configures one Append call.
type AppendOption func(*appendOpts)

// WithDedupeKey marks this append idempotent under the given key.
func WithDedupeKey(key string) AppendOption {
	return func(o *appendOpts) { o.dedupeKey = key }
}

// Terminal marks this record as the stream's terminal marker.
func Terminal() AppendOption {
	return func(o *appendOpts) { o.terminal = true }
}

// Append allocates the next non-negative index for (workflowId, streamKey)
// atomically and appends the record. A per-workflow advisory lock
// serializes index allocation across concurrent appenders (mirroring the
// teacher's transaction-scoped version counter in its event store), so
// indices stay strictly increasing and contiguous.
func (s *Store) Append(ctx context.Context, workflowID, streamKey, eventType string, payload any, opts ...AppendOption) (int64, error) {
	var o appendOpts
	for _, opt := range opts {
		opt(&o)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.Internal("failed to marshal event payload", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, errors.Transient("failed to begin stream append transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, workflowID); err != nil {
		return 0, errors.Transient("failed to acquire stream append lock", err)
	}

	if o.dedupeKey != "" {
		var existing int64
		err := tx.QueryRow(ctx, `
			SELECT index FROM workflow_stream
			WHERE workflow_id = $1 AND stream_key = $2 AND dedupe_key = $3
		`, workflowID, streamKey, o.dedupeKey).Scan(&existing)
		if err == nil {
			return existing, nil
		}
		if err != pgx.ErrNoRows {
			return 0, errors.Transient("failed to check dedupe key", err)
		}
	}

	var next int64
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(index), -1) + 1 FROM workflow_stream
		WHERE workflow_id = $1 AND stream_key = $2 AND index >= 0
	`, workflowID, streamKey).Scan(&next)
	if err != nil {
		return 0, errors.Internal("failed to allocate stream index", err)
	}

	var dedupe *string
	if o.dedupeKey != "" {
		dedupe = &o.dedupeKey
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_stream (workflow_id, stream_key, index, event_type, payload, written_at, terminal, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, NOW(), $6, $7)
	`, workflowID, streamKey, next, eventType, raw, o.terminal, dedupe)
	if err != nil {
		return 0, errors.Internal("failed to append stream record", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Transient("failed to commit stream append", err)
	}
	return next, nil
}

// Read loads every record for (workflowId, streamKey) with index >=
// fromIndex, plus the index=-1 marker (always included), ordered by
// index. Used both for subscriber backfill and for tests asserting
// round-trip/prefix-equivalence.
func (s *Store) Read(ctx context.Context, workflowID, streamKey string, fromIndex int64) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT workflow_id, stream_key, index, event_type, payload, written_at, terminal
		FROM workflow_stream
		WHERE workflow_id = $1 AND stream_key = $2 AND (index >= $3 OR index < 0)
		ORDER BY index ASC
	`, workflowID, streamKey, fromIndex)
	if err != nil {
		return nil, errors.Internal("failed to read stream", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.WorkflowID, &r.StreamKey, &r.Index, &r.Type, &r.Payload, &r.WrittenAt, &r.Terminal); err != nil {
			return nil, errors.Internal("failed to scan stream record", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// IsTerminal reports whether the stream already carries a terminal
// marker for (workflowId, streamKey).
func (s *Store) IsTerminal(ctx context.Context, workflowID, streamKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM workflow_stream WHERE workflow_id = $1 AND stream_key = $2 AND terminal)
	`, workflowID, streamKey).Scan(&exists)
	if err != nil {
		return false, errors.Internal("failed to check terminal marker", err)
	}
	return exists, nil
}
