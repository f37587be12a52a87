package normalize

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finsight-labs/extractd/internal/entity"
)

// Service receives the final result of every successfully extracted
// document, exactly once per document.
type Service interface {
	Accept(ctx context.Context, documentID uuid.UUID, res *entity.ExtractionResult) error
}

// LogService records accepted results without forwarding them anywhere.
// Used by the batch CLI and as the default sink in tests.
type LogService struct {
	log *zap.Logger
}

func NewLogService(log *zap.Logger) *LogService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogService{log: log}
}

func (s *LogService) Accept(_ context.Context, documentID uuid.UUID, res *entity.ExtractionResult) error {
	fields := []zap.Field{
		zap.String("document_id", documentID.String()),
		zap.Float32("confidence", res.Confidence),
		zap.Bool("degraded", res.Degraded),
		zap.Bool("partial", res.Partial),
		zap.Int("key_values", len(res.KeyValues)),
		zap.Int("entities", len(res.Entities)),
	}
	if res.Manifest != nil {
		fields = append(fields, zap.Int("members_ok", res.Manifest.Succeeded()), zap.Int("members_failed", res.Manifest.Failed()))
	}
	s.log.Info("result accepted", fields...)
	return nil
}

// StreamService hands results to downstream consumers over a Redis stream.
// The daemon wires this so normalization workers can pick results up without
// sharing the extraction database.
type StreamService struct {
	rdb    *redis.Client
	stream string
	log    *zap.Logger
}

func NewStreamService(rdb *redis.Client, stream string, log *zap.Logger) *StreamService {
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamService{rdb: rdb, stream: stream, log: log}
}

func (s *StreamService) Accept(ctx context.Context, documentID uuid.UUID, res *entity.ExtractionResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"document_id": documentID.String(),
			"degraded":    res.Degraded,
			"partial":     res.Partial,
			"result":      payload,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish result for %s: %w", documentID, err)
	}
	s.log.Debug("result published",
		zap.String("document_id", documentID.String()),
		zap.String("stream", s.stream),
		zap.String("entry_id", id))
	return nil
}
