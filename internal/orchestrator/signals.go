package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chaingraph/core/internal/engine"
	"github.com/chaingraph/core/internal/pkg/errors"
)

const (
	topicStartSignal   = "start-signal"
	topicDebugCommand  = "debug-command"
	debugPollInterval  = 5 * time.Second
	parentPollInterval = time.Second
)

// SignalStore implements the `workflow_message` side of the wire protocol:
// START_SIGNAL delivery and the debug-command channel (spec.md §4.6, §6).
type SignalStore struct {
	pool *pgxpool.Pool
}

func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Send publishes a message on an execution-scoped topic.
func (s *SignalStore) Send(ctx context.Context, executionID, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Internal("failed to marshal signal payload", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_message (workflow_id, topic, payload, received_at)
		VALUES ($1, $2, $3, NOW())
	`, executionID, topic, raw)
	if err != nil {
		return errors.Internal("failed to send signal", err)
	}
	return nil
}

// AwaitStart blocks until a START_SIGNAL message arrives for executionID or
// timeout elapses (5 min root / 10 s child, per spec.md §4.6).
func (s *SignalStore) AwaitStart(ctx context.Context, executionID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		delivered, err := s.consumeOne(ctx, executionID, topicStartSignal)
		if err != nil {
			return err
		}
		if delivered {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.StartTimeout(executionID, timeout.String())
		}
		select {
		case <-ctx.Done():
			return errors.Aborted(executionID, "context cancelled awaiting start signal")
		case <-ticker.C:
		}
	}
}

func (s *SignalStore) consumeOne(ctx context.Context, executionID, topic string) (bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		UPDATE workflow_message SET delivered_at = NOW()
		WHERE id = (
			SELECT id FROM workflow_message
			WHERE workflow_id = $1 AND topic = $2 AND delivered_at IS NULL
			ORDER BY received_at ASC LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`, executionID, topic).Scan(&id)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Internal("failed to consume signal message", err)
	}
	return true, nil
}

type debugCommandPayload struct {
	Command string `json:"command"`
}

// PollDebugCommands runs until done is closed, consuming debug-command
// messages every debugPollInterval and applying them to the engine's
// shared controllers. Only started when task.Debug is true — zero
// overhead otherwise, per spec.md §4.6.
func (s *SignalStore) PollDebugCommands(ctx context.Context, executionID string, cmd *engine.CommandController, abort *engine.AbortController, done <-chan struct{}) {
	ticker := time.NewTicker(debugPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				payload, ok, err := s.nextDebugCommand(ctx, executionID)
				if err != nil || !ok {
					break
				}
				switch payload.Command {
				case "PAUSE":
					cmd.Pause()
				case "RESUME":
					cmd.Resume()
				case "STEP":
					cmd.Step()
				case "STOP":
					abort.Abort("debug STOP command")
					return
				}
			}
		}
	}
}

func (s *SignalStore) nextDebugCommand(ctx context.Context, executionID string) (debugCommandPayload, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		UPDATE workflow_message SET delivered_at = NOW()
		WHERE id = (
			SELECT id FROM workflow_message
			WHERE workflow_id = $1 AND topic = $2 AND delivered_at IS NULL
			ORDER BY received_at ASC LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING payload
	`, executionID, topicDebugCommand).Scan(&raw)
	if err == pgx.ErrNoRows {
		return debugCommandPayload{}, false, nil
	}
	if err != nil {
		return debugCommandPayload{}, false, errors.Internal("failed to consume debug command", err)
	}
	var p debugCommandPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return debugCommandPayload{}, false, errors.Internal("failed to unmarshal debug command", err)
	}
	return p, true, nil
}

// WatchParent polls the parent execution's status every parentPollInterval
// and aborts the child when the parent reaches any terminal status
// (spec.md §4.6 "Parent monitoring").
func WatchParent(ctx context.Context, statusOf func(context.Context, string) (Status, error), parentExecutionID string, abort *engine.AbortController, done <-chan struct{}) {
	ticker := time.NewTicker(parentPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := statusOf(ctx, parentExecutionID)
			if err != nil {
				continue
			}
			if status.IsTerminal() {
				abort.Abort("parent execution reached terminal status")
				return
			}
		}
	}
}
