// Command extract-batch processes a directory in one shot: ingest every
// matching file, drive each document through extraction with bounded
// parallelism, then write an XLSX report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/config"
	"github.com/finsight-labs/extractd/internal/export"
	"github.com/finsight-labs/extractd/internal/extraction"
	"github.com/finsight-labs/extractd/internal/ingest"
	"github.com/finsight-labs/extractd/internal/parseapi"
	"github.com/finsight-labs/extractd/internal/repository"
)

// printError prints to stderr, falling back to stdout if stderr fails.
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	_ = godotenv.Load()

	var (
		inmem      = flag.Bool("inmem", false, "use an in-memory SQLite database")
		dir        = flag.String("dir", "", "directory to process (required)")
		out        = flag.String("out", "", "output XLSX path (defaults to the parent directory)")
		fromStr    = flag.String("from", "", "from date YYYY-MM-DD")
		toStr      = flag.String("to", "", "to date YYYY-MM-DD")
		parallel   = flag.Int("parallel", 4, "concurrent extractions")
		configPath = flag.String("config", os.Getenv("EXTRACTD_CONFIG"), "path to YAML config")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: -dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(*dir), "extractions.xlsx")
	}

	var from, to *time.Time
	if *fromStr != "" {
		parsed, err := time.Parse("2006-01-02", *fromStr)
		if err != nil {
			printError("Error: invalid -from date, use YYYY-MM-DD: %v\n", err)
			os.Exit(1)
		}
		from = &parsed
	}
	if *toStr != "" {
		parsed, err := time.Parse("2006-01-02", *toStr)
		if err != nil {
			printError("Error: invalid -to date, use YYYY-MM-DD: %v\n", err)
			os.Exit(1)
		}
		to = &parsed
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	log, err := zap.NewProduction()
	if err != nil {
		printError("Error: logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg, *inmem, log)
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		os.Exit(1)
	}
	defer closeStore()

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
		log.Error("failed to build parse api client", zap.Error(err))
		os.Exit(1)
	}

	orch := extraction.NewOrchestrator(cfg.Extraction, store, client, nil,
		extraction.WithLogger(log))

	profileID := ingest.DefaultProfileID()
	ingestor := ingest.NewFSIngestor(store, log)

	log.Info("starting ingestion", zap.String("dir", *dir))
	results, stats, err := ingestor.IngestDirectory(ctx, profileID, *dir, true)
	if err != nil {
		log.Error("failed to ingest directory", zap.Error(err))
		os.Exit(1)
	}
	log.Info("ingestion complete",
		zap.Uint32("scanned", stats.Scanned),
		zap.Uint32("matched", stats.Matched),
		zap.Uint32("succeeded", stats.Succeeded),
		zap.Uint32("deduplicated", stats.Deduplicated),
		zap.Uint32("failed", stats.Failed))

	// Only documents still waiting get extracted; settled duplicates keep
	// their earlier results.
	type pendingDoc struct {
		id   uuid.UUID
		name string
	}
	var pending []pendingDoc
	for _, r := range results {
		if r.Err != "" || r.Document == nil {
			continue
		}
		if r.Document.Status != constants.DocStatusReceived {
			continue
		}
		pending = append(pending, pendingDoc{id: r.Document.ID, name: r.Document.Filename})
	}

	outcome := make([]error, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallel)
	for i, p := range pending {
		g.Go(func() error {
			if _, err := orch.Extract(gctx, p.id); err != nil {
				outcome[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	processed := 0
	failures := 0
	for i, err := range outcome {
		if err != nil {
			log.Error("extraction failed",
				zap.String("file", pending[i].name),
				zap.Error(err))
			failures++
		} else {
			processed++
		}
	}

	log.Info("exporting", zap.String("output", *out))
	svc := export.NewService(store, log)
	xlsxBytes, err := svc.ExportDocumentsXLSX(ctx, profileID, from, to)
	if err != nil {
		log.Error("failed to export", zap.Error(err))
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsxBytes, 0o644); err != nil {
		log.Error("failed to write output file", zap.Error(err))
		os.Exit(1)
	}

	log.Info("batch complete",
		zap.Int("extracted", processed),
		zap.Int("failures", failures),
		zap.String("output_file", *out))

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Files ingested: %d\n", stats.Succeeded)
	fmt.Printf("- Documents extracted: %d\n", processed)
	fmt.Printf("- Failures: %d\n", failures)
	fmt.Printf("- Output: %s\n", *out)
}

func openStore(ctx context.Context, cfg *config.Config, inmem bool, log *zap.Logger) (repository.Store, func(), error) {
	if inmem {
		store, err := repository.OpenSQLite(":memory:", log)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	url := cfg.Database.URL
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		pool, err := repository.Open(ctx, repository.Config{
			DSN:         url,
			MaxConns:    int32(cfg.Database.MaxConns),
			DialTimeout: cfg.Database.ConnectTimeout,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repository.NewPostgresStore(pool, log), func() { repository.Close(pool, log) }, nil
	}

	path := url
	if path == "" {
		path = "extractd.db"
	}
	store, err := repository.OpenSQLite(path, log)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
