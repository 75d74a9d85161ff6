//go:build integration

package eventstream

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	chaingraphpg "github.com/chaingraph/core/internal/infrastructure/persistence/postgres"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("chaingraph_test"),
		postgres.WithUsername("chaingraph"),
		postgres.WithPassword("chaingraph"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("eventstream: failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("eventstream: failed to get connection string: %v", err)
	}

	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("eventstream: failed to create pool: %v", err)
	}
	if err := chaingraphpg.EnsureSchema(ctx, testPool); err != nil {
		log.Fatalf("eventstream: failed to create schema: %v", err)
	}

	code := m.Run()

	testPool.Close()
	if err := testcontainers.TerminateContainer(pgContainer); err != nil {
		log.Printf("eventstream: failed to terminate container: %v", err)
	}
	os.Exit(code)
}

func TestStore_AppendAndRead_OrderedWithBackfill(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testPool)
	workflowID := "wf-" + t.Name()

	require.NoError(t, store.AppendCreated(ctx, workflowID, map[string]string{"flowId": "f1"}))

	idx0, err := store.Append(ctx, workflowID, "lifecycle", "FLOW_STARTED", map[string]string{"a": "1"})
	require.NoError(t, err)
	require.Equal(t, int64(0), idx0)

	idx1, err := store.Append(ctx, workflowID, "lifecycle", "NODE_STARTED", map[string]string{"node": "n1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), idx1)

	all, err := store.Read(ctx, workflowID, "lifecycle", 0)
	require.NoError(t, err)
	require.Len(t, all, 3) // includes the -1 marker
	require.Equal(t, int64(-1), all[0].Index)
	require.Equal(t, "EXECUTION_CREATED", all[0].Type)
	require.Equal(t, int64(0), all[1].Index)
	require.Equal(t, int64(1), all[2].Index)

	fromOne, err := store.Read(ctx, workflowID, "lifecycle", 1)
	require.NoError(t, err)
	require.Len(t, fromOne, 2) // marker is always included, plus index 1
	require.Equal(t, int64(-1), fromOne[0].Index)
	require.Equal(t, int64(1), fromOne[1].Index)
}

func TestStore_Append_DedupeKeyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testPool)
	workflowID := "wf-" + t.Name()

	idx1, err := store.Append(ctx, workflowID, "lifecycle", "NODE_COMPLETED", map[string]string{"node": "n1"}, WithDedupeKey("step-1"))
	require.NoError(t, err)

	idx2, err := store.Append(ctx, workflowID, "lifecycle", "NODE_COMPLETED", map[string]string{"node": "n1"}, WithDedupeKey("step-1"))
	require.NoError(t, err)
	require.Equal(t, idx1, idx2, "retried append with the same dedupe key must not produce a new record")

	records, err := store.Read(ctx, workflowID, "lifecycle", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestStore_TerminalMarker(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testPool)
	workflowID := "wf-" + t.Name()

	terminal, err := store.IsTerminal(ctx, workflowID, "lifecycle")
	require.NoError(t, err)
	require.False(t, terminal)

	_, err = store.Append(ctx, workflowID, "lifecycle", "FLOW_COMPLETED", map[string]string{}, Terminal())
	require.NoError(t, err)

	terminal, err = store.IsTerminal(ctx, workflowID, "lifecycle")
	require.NoError(t, err)
	require.True(t, terminal)
}

func TestStore_Subscribe_DeliversTailAndTerminates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store := NewStore(testPool)
	workflowID := "wf-" + t.Name()

	batches := store.Subscribe(ctx, workflowID, "lifecycle", 0, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		store.Append(ctx, workflowID, "lifecycle", "FLOW_STARTED", map[string]string{})
		time.Sleep(50 * time.Millisecond)
		store.Append(ctx, workflowID, "lifecycle", "FLOW_COMPLETED", map[string]string{}, Terminal())
	}()

	var seen []Record
	for batch := range batches {
		seen = append(seen, batch...)
	}
	require.NotEmpty(t, seen)
	require.True(t, seen[len(seen)-1].Terminal)
}
