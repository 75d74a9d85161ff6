//go:build integration

package client

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
	"github.com/chaingraph/core/internal/orchestrator"
	"github.com/chaingraph/core/internal/queue"
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
		log.Fatalf("client: failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("client: failed to get connection string: %v", err)
	}

	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("client: failed to create pool: %v", err)
	}
	if err := chaingraphpg.EnsureSchema(ctx, testPool); err != nil {
		log.Fatalf("client: failed to create schema: %v", err)
	}

	code := m.Run()

	testPool.Close()
	if err := testcontainers.TerminateContainer(pgContainer); err != nil {
		log.Printf("client: failed to terminate container: %v", err)
	}
	os.Exit(code)
}

func newTestClient() *Client {
	return New("v1", queue.NewStore(testPool), orchestrator.NewSignalStore(testPool))
}

func TestClient_Enqueue_StampsAppVersion(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	handle, err := c.Enqueue(ctx, queue.Task{
		ExecutionID: "exec-" + t.Name(),
		QueueName:   "default",
		AppVersion:  "some-other-version", // must be overridden
		Input:       []byte(`{}`),
	})
	require.NoError(t, err)

	status, err := c.GetStatus(ctx, handle.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusEnqueued, status)

	// Claim filters on app_version, so the task is claimable under "v1"
	// only if the client overrode the caller's version.
	claimed, err := c.queueStore.Claim(ctx, "default", "v1", "worker-"+t.Name(), 10, time.Minute, 0)
	require.NoError(t, err)
	found := false
	for _, task := range claimed {
		if task.ExecutionID == handle.ExecutionID {
			found = true
			require.Equal(t, "v1", task.AppVersion)
		}
	}
	require.True(t, found)
}

func TestClient_Enqueue_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()
	task := queue.Task{ExecutionID: "exec-" + t.Name(), QueueName: "default", Input: []byte(`{}`)}

	h1, err := c.Enqueue(ctx, task)
	require.NoError(t, err)
	h2, err := c.Enqueue(ctx, task)
	require.NoError(t, err)
	require.Equal(t, h1.ExecutionID, h2.ExecutionID)
}

func TestClient_SendSignal_RejectsEmptyName(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	err := c.SendSignal(ctx, "exec-"+t.Name(), "", map[string]any{"x": 1})
	require.Error(t, err)
}

func TestClient_SendSignal_DeliversToSignalStore(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()
	executionID := "exec-" + t.Name()

	require.NoError(t, c.SendSignal(ctx, executionID, "approval", map[string]any{"approved": true}))
}

func TestClient_Cancel_TerminatesPendingExecution(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()
	executionID := "exec-" + t.Name()

	_, err := c.Enqueue(ctx, queue.Task{ExecutionID: executionID, QueueName: "cancel-" + t.Name(), Input: []byte(`{}`)})
	require.NoError(t, err)

	require.NoError(t, c.Cancel(ctx, executionID))

	status, err := c.GetStatus(ctx, executionID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusCancelled, status)
}

func TestClient_GetResult_ReturnsTerminalOutcome(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()
	executionID := "exec-" + t.Name()
	queueName := "result-" + t.Name()

	_, err := c.Enqueue(ctx, queue.Task{ExecutionID: executionID, QueueName: queueName, Input: []byte(`{}`)})
	require.NoError(t, err)

	_, err = c.queueStore.Claim(ctx, queueName, "v1", "worker-a", 1, time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, c.queueStore.Complete(ctx, executionID, queue.StatusSuccess, map[string]string{"ok": "true"}, nil))

	resultCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := c.GetResult(resultCtx, executionID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusSuccess, res.Status)
}

func TestClient_GetStatus_NotFoundForUnknownExecution(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	status, err := c.GetStatus(ctx, "never-enqueued-"+t.Name())
	require.NoError(t, err)
	require.Equal(t, queue.StatusNotFound, status)
}
