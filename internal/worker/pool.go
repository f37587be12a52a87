package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/entity"
	"github.com/finsight-labs/extractd/internal/extraction"
	"github.com/finsight-labs/extractd/internal/queue"
	"github.com/finsight-labs/extractd/internal/repository"
)

// Extractor drives one document to a terminal status.
type Extractor interface {
	Extract(ctx context.Context, documentID uuid.UUID) (*entity.Document, error)
}

// Pool runs extraction tasks from the queue across a fixed set of workers.
// Terminal document outcomes, good or bad, complete the task; only
// infrastructure errors go back to the queue for redelivery.
type Pool struct {
	consumer  queue.Consumer
	extractor Extractor
	docs      repository.DocumentStore
	log       *zap.Logger
	workers   int
	timeout   time.Duration
	wg        sync.WaitGroup
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithTaskTimeout bounds one document end-to-end. It must comfortably
// exceed the per-call budget of the slowest path (submit + polls + fetch).
func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(p *Pool) {
		if log != nil {
			p.log = log
		}
	}
}

func NewPool(consumer queue.Consumer, extractor Extractor, docs repository.DocumentStore, opts ...Option) *Pool {
	p := &Pool{
		consumer:  consumer,
		extractor: extractor,
		docs:      docs,
		log:       zap.NewNop(),
		workers:   4,
		timeout:   20 * time.Minute,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run blocks until ctx is canceled and every worker has drained.
func (p *Pool) Run(ctx context.Context) error {
	for i := 1; i <= p.workers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			log := p.log.With(zap.Int("worker_id", workerID))
			log.Info("worker started")
			p.consumeLoop(ctx, log)
			log.Info("worker stopped")
		}(i)
	}
	p.wg.Wait()
	return ctx.Err()
}

func (p *Pool) consumeLoop(ctx context.Context, log *zap.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := p.consumer.Consume(ctx, p.handle)
		if err == nil || ctx.Err() != nil {
			return
		}
		log.Error("consume loop error, backing off", zap.Error(err))

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Pool) handle(ctx context.Context, task queue.Task) error {
	taskCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	doc, err := p.extractor.Extract(taskCtx, task.DocumentID)
	if err == nil {
		p.log.Info("document extracted",
			zap.String("document_id", task.DocumentID.String()),
			zap.String("status", string(doc.Status)),
			zap.Bool("needs_review", doc.NeedsReview))
		return nil
	}
	if errors.Is(err, extraction.ErrAlreadyExtracting) {
		// Another worker holds the claim; this delivery is done.
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		p.log.Warn("task for unknown document dropped",
			zap.String("document_id", task.DocumentID.String()))
		return nil
	}

	// A document that reached FAILED is handled even though extraction
	// surfaced the cause. Only errors that left the document unresolved are
	// worth a redelivery.
	stored, derr := p.docs.GetDocument(context.WithoutCancel(ctx), task.DocumentID)
	if derr == nil && constants.TerminalDocStatus(stored.Status) {
		p.log.Warn("document failed terminally",
			zap.String("document_id", task.DocumentID.String()),
			zap.Error(err))
		return nil
	}
	return err
}
