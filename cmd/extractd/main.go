// Command extractd runs the extraction daemon: a hot-folder watcher feeding
// a work queue, a worker pool driving documents through the orchestrator,
// and the operational HTTP/gRPC surfaces.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/finsight-labs/extractd/internal/config"
	"github.com/finsight-labs/extractd/internal/extraction"
	"github.com/finsight-labs/extractd/internal/ingest"
	"github.com/finsight-labs/extractd/internal/normalize"
	"github.com/finsight-labs/extractd/internal/parseapi"
	"github.com/finsight-labs/extractd/internal/queue"
	"github.com/finsight-labs/extractd/internal/repository"
	"github.com/finsight-labs/extractd/internal/server"
	"github.com/finsight-labs/extractd/internal/worker"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("EXTRACTD_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("daemon failed", zap.Error(err))
	}
	log.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	store, ping, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	q, normalizer, closeQueue, err := openQueue(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeQueue()

	exec := parseapi.NewExecutor(
		parseapi.NewRetryPolicy(cfg.Extraction.MaxRetries),
		parseapi.WithRateLimit(cfg.ParseAPI.RatePerSecond, parseapi.DefaultConcurrency),
		parseapi.WithLogger(log),
	)
	client, err := parseapi.NewClient(parseapi.Config{
		BaseURL:        cfg.ParseAPI.BaseURL,
		APIKey:         cfg.ParseAPI.APIKey,
		RequestTimeout: cfg.ParseAPI.RequestTimeout,
		ConnectTimeout: cfg.ParseAPI.ConnectTimeout,
	}, exec, log)
	if err != nil {
		return fmt.Errorf("parse api client: %w", err)
	}

	orch := extraction.NewOrchestrator(cfg.Extraction, store, client, normalizer,
		extraction.WithLogger(log))

	pool := worker.NewPool(q, orch, store,
		worker.WithWorkers(cfg.Queue.Workers),
		worker.WithLogger(log))

	ops := server.NewOps(server.OpsConfig{Addr: cfg.Server.HTTPAddr}, ping, log)
	admin := server.NewAdmin(log)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	log.Info("extractd started",
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.String("grpc_addr", cfg.Server.GRPCAddr),
		zap.String("queue", cfg.Queue.Kind),
		zap.Int("workers", cfg.Queue.Workers),
		zap.String("watch_dir", cfg.Ingest.WatchDir),
		zap.Int64("sync_max_bytes", cfg.Extraction.SyncMaxBytes))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return pool.Run(gctx) })

	if cfg.Ingest.WatchDir != "" {
		hot := ingest.NewHotfolder(
			ingest.NewFSIngestor(store, log),
			q,
			ingest.DefaultProfileID(),
			ingest.WatchConfig{
				Roots:       []string{cfg.Ingest.WatchDir},
				InitialScan: true,
				Debounce:    cfg.Ingest.Debounce,
			},
			log)
		g.Go(func() error { return hot.Run(gctx) })
	}

	g.Go(func() error { return ops.Start() })
	g.Go(func() error { return admin.Serve(lis) })

	if ping != nil && cfg.Database.HealthCheckIntv > 0 {
		g.Go(func() error {
			t := time.NewTicker(cfg.Database.HealthCheckIntv)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					if err := ping(gctx); err != nil {
						log.Warn("store health check failed", zap.Error(err))
					}
				}
			}
		})
	}

	// Shutdown supervisor: unblocks the serving goroutines once the group
	// context ends.
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		admin.SetServing(false)

		shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := ops.Shutdown(shCtx); err != nil {
			log.Warn("ops shutdown", zap.Error(err))
		}
		admin.GracefulStop()
		return gctx.Err()
	})

	return g.Wait()
}

// openStore picks the persistence backend from the database URL: Postgres
// for postgres:// URLs, an embedded SQLite file otherwise.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, server.ReadyFunc, func(), error) {
	url := cfg.Database.URL
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		pool, err := repository.Open(ctx, repository.Config{
			DSN:         url,
			MaxConns:    int32(cfg.Database.MaxConns),
			DialTimeout: cfg.Database.ConnectTimeout,
		}, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := repository.HealthCheck(ctx, pool, cfg.Database.ConnectTimeout, log); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("postgres health: %w", err)
		}
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		ping := func(ctx context.Context) error {
			return repository.HealthCheck(ctx, pool, cfg.Database.ConnectTimeout, nil)
		}
		return repository.NewPostgresStore(pool, log), ping, func() { repository.Close(pool, log) }, nil
	}

	path := url
	if path == "" {
		path = "extractd.db"
	}
	log.Info("using embedded sqlite store", zap.String("path", path))
	store, err := repository.OpenSQLite(path, log)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Warn("close sqlite", zap.Error(err))
		}
	}
	return store, store.Ping, closeFn, nil
}

// openQueue builds the task queue plus the matching result sink: accepted
// results are published to a Redis stream when the queue is Redis-backed,
// logged otherwise.
func openQueue(ctx context.Context, cfg *config.Config, log *zap.Logger) (queue.Queue, normalize.Service, func(), error) {
	if cfg.Queue.Kind == "redis" {
		sq, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			Stream:      cfg.Redis.Stream,
			DLQStream:   cfg.Redis.DLQ,
			Group:       cfg.Redis.Group,
			MaxAttempts: cfg.Queue.MaxRetries,
		}, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis queue: %w", err)
		}
		sink := normalize.NewStreamService(sq.Client(), cfg.Redis.Stream+":accepted", log)
		closeFn := func() {
			if err := sq.Close(); err != nil {
				log.Warn("close redis queue", zap.Error(err))
			}
		}
		return sq, sink, closeFn, nil
	}

	lq := queue.NewLocalQueue(cfg.Queue.BufferSize, cfg.Queue.MaxRetries, log)
	return lq, normalize.NewLogService(log), func() {}, nil
}

// initLogger builds the zap logger from the logging block.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Console {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		zc.Level = lvl
	}
	return zc.Build()
}
