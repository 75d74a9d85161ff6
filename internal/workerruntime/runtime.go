package workerruntime

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chaingraph/core/internal/orchestrator"
	"github.com/chaingraph/core/internal/queue"
)

const heartbeatInterval = 10 * time.Second

// Options configures one worker process.
type Options struct {
	AppVersion        string
	QueueName         string
	WorkerConcurrency int64
	GlobalConcurrency int64
	ClaimExpiry       time.Duration
	PollInterval      time.Duration
	HealthPort        int
}

// Runtime bootstraps a queue.Consumer bound to an Orchestrator, mirroring
// the teacher's cmd/server/main.go bootstrap ordering (connect stores,
// start background workers, serve health, wait for signal, drain) but
// built around C5/C6 instead of the teacher's HTTP/CQRS stack.
type Runtime struct {
	opts     Options
	workerID string
	started  time.Time

	consumer *queue.Consumer
	orch     *orchestrator.Orchestrator
	registry *Registry

	activeRuns int64
	health     *echo.Echo
}

func New(opts Options, store *queue.Store, orch *orchestrator.Orchestrator, registry *Registry) *Runtime {
	workerID := "worker-" + uuid.NewString()
	consumer := queue.NewConsumer(store, queue.ConsumerOptions{
		WorkerID:          workerID,
		QueueName:         opts.QueueName,
		AppVersion:        opts.AppVersion,
		WorkerConcurrency: opts.WorkerConcurrency,
		GlobalConcurrency: opts.GlobalConcurrency,
		ClaimExpiry:       opts.ClaimExpiry,
		PollInterval:      opts.PollInterval,
	})
	r := &Runtime{
		opts:     opts,
		workerID: workerID,
		started:  time.Now(),
		consumer: consumer,
		orch:     orch,
		registry: registry,
	}
	r.health = r.newHealthServer()
	return r
}

// Run blocks until ctx is cancelled (typically by a SIGINT/SIGTERM
// handler upstream), draining in-flight executions before returning.
func (r *Runtime) Run(ctx context.Context) error {
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	go r.heartbeatLoop(heartbeatCtx)

	go func() {
		addr := ":" + strconv.Itoa(r.opts.HealthPort)
		if err := r.health.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("workerruntime: health server error: %v", err)
		}
	}()

	err := r.consumer.Consume(ctx, r.handle)

	stopHeartbeat()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.health.Shutdown(shutdownCtx)
	_ = r.registry.Deregister(shutdownCtx, r.workerID)

	return err
}

// handle runs one claimed task through the orchestrator. The
// orchestrator itself calls queue.Store.Complete on every exit path, so
// handle's only remaining job is active-run bookkeeping and logging an
// unexpected (store-level) failure.
func (r *Runtime) handle(ctx context.Context, task queue.Task) {
	atomic.AddInt64(&r.activeRuns, 1)
	defer atomic.AddInt64(&r.activeRuns, -1)

	if err := r.orch.Execute(ctx, task); err != nil {
		log.Printf("workerruntime: execution %s ended with error: %v", task.ExecutionID, err)
	}
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	beat := func() {
		l := Liveness{
			WorkerID:   r.workerID,
			AppVersion: r.opts.AppVersion,
			ActiveRuns: int(atomic.LoadInt64(&r.activeRuns)),
			StartedAt:  r.started,
		}
		if err := r.registry.Heartbeat(ctx, l); err != nil {
			log.Printf("workerruntime: heartbeat failed: %v", err)
		}
	}
	beat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}

// healthResponse matches spec.md §6's health endpoint shape exactly.
type healthResponse struct {
	Status    string `json:"status"`
	WorkerID  string `json:"workerId"`
	PID       int    `json:"pid"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
	Running   bool   `json:"running"`
}

func (r *Runtime) newHealthServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HideLogo = true
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, healthResponse{
			Status:    "healthy",
			WorkerID:  r.workerID,
			PID:       os.Getpid(),
			Uptime:    time.Since(r.started).String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Running:   atomic.LoadInt64(&r.activeRuns) > 0,
		})
	})
	return e
}
