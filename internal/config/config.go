// Package config loads the worker runtime's environment-variable
// configuration, generalizing the teacher's cmd/server/config helpers
// (getEnv/getEnvInt) to the full env var list from spec.md §6.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is every environment-tunable knob the worker runtime, queue,
// and orchestrator need at process start.
type Config struct {
	AppVersion string
	DatabaseURL string
	NATSURL     string
	RedisAddr   string

	QueueName         string
	WorkerConcurrency int
	GlobalConcurrency int
	ClaimExpiry       time.Duration
	PollInterval      time.Duration

	MaxExecutionDepth      int
	StartSignalTimeoutRoot time.Duration
	StartSignalTimeoutChild time.Duration
	TaskTimeout            time.Duration

	HealthPort int
}

// Load reads Config from the process environment, falling back to the
// defaults spec.md §4.5/§4.6/§5 specify where an env var is unset.
func Load() Config {
	return Config{
		AppVersion:  getEnv("APP_VERSION", "dev"),
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/chaingraph?sslmode=disable"),
		NATSURL:     getEnv("NATS_URL", "nats://localhost:4222"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),

		QueueName:         getEnv("QUEUE_NAME", "default"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),
		GlobalConcurrency: getEnvInt("GLOBAL_CONCURRENCY", 100),
		ClaimExpiry:       getEnvDuration("CLAIM_EXPIRY", 2*time.Minute),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 250*time.Millisecond),

		MaxExecutionDepth:       getEnvInt("MAX_EXECUTION_DEPTH", 16),
		StartSignalTimeoutRoot:  getEnvDuration("START_SIGNAL_TIMEOUT_ROOT", 5*time.Minute),
		StartSignalTimeoutChild: getEnvDuration("START_SIGNAL_TIMEOUT_CHILD", 10*time.Second),
		TaskTimeout:             getEnvDuration("TASK_TIMEOUT", 35*time.Minute),

		HealthPort: getEnvInt("HEALTH_PORT", 8080),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
