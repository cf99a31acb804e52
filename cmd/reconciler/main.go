// Command reconciler is the process entrypoint: it loads configuration,
// wires every collaborator package together, and runs the worker pool until
// signaled to stop. Grounded in the teacher's cmd/<service>/main.go shape
// (flag-driven config path, structured zap/logr logger, signal.NotifyContext
// graceful shutdown, a metrics HTTP listener run alongside the main work
// loop) — no single teacher main.go survived the example-pack filtering
// (cmd/* under the teacher only kept _test.go files), so this file follows
// the pattern visible across the pack's service tests rather than one
// specific source file.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zapcore"

	"github.com/P4R1H/affiliate-platform/internal/breaker"
	"github.com/P4R1H/affiliate-platform/internal/clock"
	"github.com/P4R1H/affiliate-platform/internal/config"
	"github.com/P4R1H/affiliate-platform/internal/engine"
	"github.com/P4R1H/affiliate-platform/internal/fetcher"
	"github.com/P4R1H/affiliate-platform/internal/fetcher/adapters"
	"github.com/P4R1H/affiliate-platform/internal/idempotency"
	"github.com/P4R1H/affiliate-platform/internal/metrics"
	slacknotify "github.com/P4R1H/affiliate-platform/internal/notify/slack"
	"github.com/P4R1H/affiliate-platform/internal/queue"
	"github.com/P4R1H/affiliate-platform/internal/repository"
	"github.com/P4R1H/affiliate-platform/internal/repository/memory"
	"github.com/P4R1H/affiliate-platform/internal/repository/postgres"
	"github.com/P4R1H/affiliate-platform/internal/shared/logging"
	"github.com/P4R1H/affiliate-platform/internal/trust"
	"github.com/P4R1H/affiliate-platform/internal/worker"
)

const (
	workerPollTimeout  = 5 * time.Second
	workerMaxFailures  = 200
	metricsSampleEvery = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the reconciliation engine's YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = zapcore.InfoLevel
	}
	log, err := logging.NewLogger(level)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := buildRepository(ctx, cfg)
	if err != nil {
		log.Error(err, "failed to build repository")
		os.Exit(1)
	}
	defer closeRepo()

	fakeClock := clock.Real
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		OpenCooldown:     cfg.CircuitBreaker.OpenCooldown,
		HalfOpenProbes:   cfg.CircuitBreaker.HalfOpenProbes,
	}, fakeClock)

	endpoints := make([]adapters.PlatformEndpoint, 0, len(cfg.Fetcher.Platforms))
	for _, p := range cfg.Fetcher.Platforms {
		endpoints = append(endpoints, adapters.PlatformEndpoint{Platform: p.Name, BaseURL: p.BaseURL})
	}
	registry := adapters.BuildRegistry(endpoints, cfg.Fetcher.FetchTimeout)
	fetch := fetcher.New(registry, breakers, &cfg.BackoffPolicy, fakeClock)

	scorer := trust.NewScorer(trust.DefaultEventDeltas(), trust.DefaultBounds(), trust.DefaultBucketThresholds())

	eng := engine.New(repo, fetch, scorer, cfg, fakeClock, log)

	if cfg.Slack.Enabled {
		notifier, err := slacknotify.New(cfg.Slack)
		if err != nil {
			log.Error(err, "failed to build slack notifier, alerts will only be persisted")
		} else {
			eng.Notifier = notifier
		}
	}

	q, err := buildQueue(cfg, fakeClock)
	if err != nil {
		log.Error(err, "failed to build queue")
		os.Exit(1)
	}
	defer q.Shutdown()

	var guard *idempotency.Guard
	if cfg.Idempotency.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Idempotency.RedisAddr})
		guard = idempotency.New(client, cfg.Idempotency.TTL, "reconciler")
	}

	pool := worker.New(q, eng, cfg.NumWorkers, workerPollTimeout, log, workerMaxFailures, guard)

	m := metrics.New()
	go sampleMetrics(ctx, m, q, breakers)
	go serveMetrics(cfg.Server.MetricsPort, m, log)

	stopWatch, err := config.Watch(*configPath, func(reloaded *config.Config) {
		log.Info("config reloaded", logging.NewFields().Component("main").KVs()...)
		*cfg = *reloaded
	})
	if err != nil {
		log.Error(err, "config hot-reload watch failed to start, continuing without it")
	} else {
		defer stopWatch()
	}

	log.Info("reconciler starting", logging.NewFields().Component("main").
		With("num_workers", cfg.NumWorkers).With("queue_backend", cfg.Queue.Backend).KVs()...)

	if err := pool.Run(ctx); err != nil {
		log.Error(err, "worker pool exited with an error")
		os.Exit(1)
	}
	log.Info("reconciler shut down cleanly", logging.NewFields().Component("main").KVs()...)
}

func buildRepository(ctx context.Context, cfg *config.Config) (repository.Repository, func(), error) {
	switch cfg.Database.Backend {
	case "postgres":
		// lib/pq's import above registers the "postgres" driver name used
		// here; goose needs a plain *sql.DB, separate from the pgx-backed
		// connection postgres.Open establishes for the repository itself.
		migrationDB, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(migrationDB); err != nil {
			migrationDB.Close()
			return nil, nil, err
		}
		migrationDB.Close()

		repo, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func buildQueue(cfg *config.Config, clk clock.Clock) (queue.Queue, error) {
	priorities := queue.Priorities{
		High: cfg.Queue.Priorities.High, Normal: cfg.Queue.Priorities.Normal, Low: cfg.Queue.Priorities.Low,
	}
	switch cfg.Queue.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
		return queue.NewRedisQueue(client, worker.JobCodec{}, priorities, cfg.Queue.WarnDepth, cfg.Queue.MaxInMemory, "reconciler"), nil
	case "memory":
		return queue.New(priorities, cfg.Queue.WarnDepth, cfg.Queue.MaxInMemory, clk), nil
	default:
		return nil, errors.New("unsupported queue backend: " + cfg.Queue.Backend)
	}
}

func sampleMetrics(ctx context.Context, m *metrics.Metrics, q queue.Queue, breakers *breaker.Registry) {
	ticker := time.NewTicker(metricsSampleEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SampleQueue(q)
			m.SampleBreakers(breakers.Snapshots())
		}
	}
}

func serveMetrics(port string, m *metrics.Metrics, log logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error(err, "metrics server stopped")
	}
}
