package extraction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/config"
	"github.com/finsight-labs/extractd/internal/entity"
	"github.com/finsight-labs/extractd/internal/metrics"
	"github.com/finsight-labs/extractd/internal/normalize"
	"github.com/finsight-labs/extractd/internal/parseapi"
	"github.com/finsight-labs/extractd/internal/repository"
)

// ErrAlreadyExtracting rejects a second concurrent claim on a document.
var ErrAlreadyExtracting = errors.New("extraction: document is already being extracted")

// SourceFunc loads the raw payload for a document. The default reads the
// ingested file from disk.
type SourceFunc func(ctx context.Context, doc *entity.Document) ([]byte, error)

// Orchestrator owns the document lifecycle: it claims the document, runs
// the right path, persists the terminal status and hands successful results
// to normalization. Nothing above the executor retries.
type Orchestrator struct {
	store         repository.Store
	router        *Router
	sync          *SyncPath
	async         *AsyncPath
	expander      *Expander
	normalizer    normalize.Service
	source        SourceFunc
	minConfidence float32
	log           *zap.Logger
	pollOpts      []AsyncOption
}

type Option func(*Orchestrator)

func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithSource replaces where payload bytes come from, for tests and for
// callers that hold documents somewhere other than the local filesystem.
func WithSource(fn SourceFunc) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.source = fn
		}
	}
}

// WithAsyncOptions forwards options to the polling path.
func WithAsyncOptions(opts ...AsyncOption) Option {
	return func(o *Orchestrator) {
		o.pollOpts = append(o.pollOpts, opts...)
	}
}

func NewOrchestrator(cfg config.ExtractionConfig, store repository.Store, api parseapi.API, normalizer normalize.Service, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         store,
		normalizer:    normalizer,
		source:        readSourceFile,
		minConfidence: float32(cfg.MinConfidence),
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.normalizer == nil {
		o.normalizer = normalize.NewLogService(o.log)
	}

	o.router = NewRouter(cfg.SyncMaxBytes)
	o.sync = NewSyncPath(api, o.log)
	asyncOpts := append([]AsyncOption{WithPollCeiling(cfg.PollCeiling)}, o.pollOpts...)
	o.async = NewAsyncPath(api, store, o.log, asyncOpts...)
	o.expander = NewExpander(o.router, o.sync, o.async, cfg.ArchiveConcurrency, o.log)
	return o
}

// Extract drives one document from RECEIVED to a terminal status. A second
// concurrent call for the same document loses the claim and returns
// ErrAlreadyExtracting; nothing is submitted twice.
func (o *Orchestrator) Extract(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	doc, err := o.store.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	switch doc.Status {
	case constants.DocStatusReceived:
	case constants.DocStatusExtracting:
		return nil, ErrAlreadyExtracting
	default:
		return nil, fmt.Errorf("document %s is already %s", id, doc.Status)
	}
	if err := o.store.TransitionStatus(ctx, id, constants.DocStatusReceived, constants.DocStatusExtracting); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			return nil, ErrAlreadyExtracting
		}
		return nil, fmt.Errorf("claim document %s: %w", id, err)
	}

	start := time.Now()
	route := o.routeName(doc)
	log := o.log.With(
		zap.String("document_id", id.String()),
		zap.String("filename", doc.Filename),
		zap.String("route", route))
	log.Info("extraction started", zap.Int64("size_bytes", doc.SizeBytes))

	res, err := o.run(ctx, doc)
	if err != nil {
		return nil, o.fail(ctx, doc, route, start, err)
	}

	needsReview := res.Degraded || res.Partial || res.Confidence < o.minConfidence
	bookCtx := context.WithoutCancel(ctx)
	if err := o.store.SaveResult(bookCtx, id, res, needsReview); err != nil {
		return nil, fmt.Errorf("save result for %s: %w", id, err)
	}
	if err := o.normalizer.Accept(bookCtx, id, res); err != nil {
		// The document is already terminal; downstream catches up on its own.
		log.Warn("normalization accept failed", zap.Error(err))
	}

	metrics.RecordOutcome(outcomeOf(res), route, time.Since(start))
	log.Info("extraction finished",
		zap.Bool("degraded", res.Degraded),
		zap.Bool("partial", res.Partial),
		zap.Bool("needs_review", needsReview),
		zap.Duration("elapsed", time.Since(start)))

	final, err := o.store.GetDocument(bookCtx, id)
	if err != nil {
		return nil, fmt.Errorf("reload document %s: %w", id, err)
	}
	return final, nil
}

func (o *Orchestrator) run(ctx context.Context, doc *entity.Document) (*entity.ExtractionResult, error) {
	payload, err := o.source(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	switch {
	case doc.IsArchive():
		return o.expander.Extract(ctx, doc, payload)
	case o.router.Choose(doc.SizeBytes) == RouteSync:
		return o.sync.Extract(ctx, doc.Filename, payload, doc.DocType)
	default:
		return o.async.Extract(ctx, doc, payload)
	}
}

func (o *Orchestrator) routeName(doc *entity.Document) string {
	if doc.IsArchive() {
		return "archive"
	}
	return o.router.Choose(doc.SizeBytes).String()
}

// fail records the classified failure and moves the document to FAILED.
// The original cause is returned so callers can still inspect the class.
func (o *Orchestrator) fail(ctx context.Context, doc *entity.Document, route string, start time.Time, cause error) error {
	class := parseapi.ClassOf(cause)
	lastErr := fmt.Sprintf("%s: %v", class, cause)
	if err := o.store.MarkFailed(context.WithoutCancel(ctx), doc.ID, lastErr); err != nil {
		o.log.Error("failure bookkeeping lost",
			zap.String("document_id", doc.ID.String()),
			zap.NamedError("mark_failed", err),
			zap.Error(cause))
	}

	outcome := "failed"
	if class == parseapi.ClassCanceled {
		outcome = "canceled"
	}
	metrics.RecordOutcome(outcome, route, time.Since(start))
	o.log.Warn("extraction failed",
		zap.String("document_id", doc.ID.String()),
		zap.String("class", string(class)),
		zap.Error(cause))
	return cause
}

func outcomeOf(res *entity.ExtractionResult) string {
	switch {
	case res.Partial:
		return "partial"
	case res.Degraded:
		return "degraded"
	default:
		return "extracted"
	}
}

func readSourceFile(_ context.Context, doc *entity.Document) ([]byte, error) {
	return os.ReadFile(doc.SourcePath)
}
