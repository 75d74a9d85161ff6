package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chaingraph/core/internal/config"
	"github.com/chaingraph/core/internal/domain/node"
	"github.com/chaingraph/core/internal/eventstream"
	"github.com/chaingraph/core/internal/infrastructure/persistence/postgres"
	"github.com/chaingraph/core/internal/orchestrator"
	"github.com/chaingraph/core/internal/queue"
	"github.com/chaingraph/core/internal/workerruntime"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("chaingraph worker starting")
	fmt.Printf("app version: %s, queue: %s\n", cfg.AppVersion, cfg.QueueName)

	pool, err := postgres.NewPoolFromURL(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer postgres.Close(pool)
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
	fmt.Println("database connected")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()
	fmt.Println("redis connected")

	hub, err := eventstream.NewHub(cfg.NATSURL)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	defer hub.Close()
	fmt.Println("nats connected")

	queueStore := queue.NewStore(pool)
	reaper := queue.NewReaper(queueStore, "@every 1m")
	if err := reaper.Start(ctx); err != nil {
		log.Fatalf("failed to start expired-claim reaper: %v", err)
	}
	defer reaper.Stop()

	execStore := orchestrator.NewExecutionStore(pool)
	stepStore := orchestrator.NewStepStore(pool)
	signalStore := orchestrator.NewSignalStore(pool)
	streamStore := eventstream.NewStore(pool)
	flowRepo := postgres.NewFlowRepository(pool)

	registry := node.NewRegistry()
	flowCache := orchestrator.NewFlowCache(redisClient, flowRepo, registry, 5*time.Minute)

	orch := orchestrator.New(
		orchestrator.Config{
			MaxExecutionDepth:       cfg.MaxExecutionDepth,
			RootStartTimeout:        cfg.StartSignalTimeoutRoot,
			ChildStartTimeout:       cfg.StartSignalTimeoutChild,
			StrictChildrenByDefault: false,
		},
		queueStore, execStore, stepStore, signalStore, streamStore, hub, flowCache, registry,
	)

	workerRegistry := workerruntime.NewRegistry(redisClient)
	runtime := workerruntime.New(workerruntime.Options{
		AppVersion:        cfg.AppVersion,
		QueueName:         cfg.QueueName,
		WorkerConcurrency: int64(cfg.WorkerConcurrency),
		GlobalConcurrency: int64(cfg.GlobalConcurrency),
		ClaimExpiry:       cfg.ClaimExpiry,
		PollInterval:      cfg.PollInterval,
		HealthPort:        cfg.HealthPort,
	}, queueStore, orch, workerRegistry)

	fmt.Println("worker runtime ready, consuming")
	if err := runtime.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("worker runtime exited: %v", err)
	}
	fmt.Println("shutdown complete")
}
