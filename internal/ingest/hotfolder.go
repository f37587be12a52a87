package ingest

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/queue"
)

// Hotfolder glues the filesystem watcher to ingestion and the work queue:
// every file that settles under the roots becomes a document plus one queued
// extraction task.
type Hotfolder struct {
	ingestor  Ingestor
	producer  queue.Producer
	profileID uuid.UUID
	cfg       WatchConfig
	log       *zap.Logger
}

func NewHotfolder(ing Ingestor, producer queue.Producer, profileID uuid.UUID, cfg WatchConfig, log *zap.Logger) *Hotfolder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hotfolder{
		ingestor:  ing,
		producer:  producer,
		profileID: profileID,
		cfg:       cfg,
		log:       log,
	}
}

// Run blocks until ctx is canceled or the watcher dies.
func (h *Hotfolder) Run(ctx context.Context) error {
	events, errs, err := StartWatcher(ctx, h.cfg, h.log)
	if err != nil {
		return err
	}
	h.log.Info("hot folder watching", zap.Strings("roots", h.cfg.Roots))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path, ok := <-events:
			if !ok {
				return nil
			}
			h.handle(ctx, path)
		case werr, ok := <-errs:
			if !ok {
				return nil
			}
			h.log.Warn("watch error", zap.Error(werr))
		}
	}
}

func (h *Hotfolder) handle(ctx context.Context, path string) {
	res, err := h.ingestor.IngestPath(ctx, h.profileID, path)
	if err != nil {
		h.log.Warn("ingest failed", zap.String("path", path), zap.Error(err))
		return
	}

	doc := res.Document
	if res.Deduplicated && doc.Status != constants.DocStatusReceived {
		// Already extracted or in flight. Dropping the same bytes again is
		// not a request to redo the work.
		h.log.Debug("skipping duplicate",
			zap.String("path", path),
			zap.String("document_id", doc.ID.String()),
			zap.String("status", string(doc.Status)))
		return
	}

	if err := h.producer.Enqueue(ctx, queue.NewTask(doc.ID)); err != nil {
		h.log.Error("enqueue failed",
			zap.String("document_id", doc.ID.String()),
			zap.Error(err))
		return
	}
	h.log.Info("queued for extraction",
		zap.String("document_id", doc.ID.String()),
		zap.String("path", path))
}
