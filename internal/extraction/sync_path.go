package extraction

import (
	"context"

	"go.uber.org/zap"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/docschema"
	"github.com/finsight-labs/extractd/internal/entity"
	"github.com/finsight-labs/extractd/internal/parseapi"
)

// SyncPath runs the two-phase extraction against the blocking endpoints.
type SyncPath struct {
	api parseapi.API
	log *zap.Logger
}

func NewSyncPath(api parseapi.API, log *zap.Logger) *SyncPath {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncPath{api: api, log: log}
}

// Extract parses the payload, then runs the schema-guided phase over the
// parsed text. A parse failure propagates; a schema-phase failure degrades
// the result instead.
func (p *SyncPath) Extract(ctx context.Context, filename string, payload []byte, docType constants.DocType) (*entity.ExtractionResult, error) {
	parsed, err := p.api.Parse(ctx, filename, payload)
	if err != nil {
		return nil, err
	}
	return schemaPhase(ctx, p.api, p.log, parsed, docType)
}

// schemaPhase runs field extraction over parsed text. The structural result
// is already in hand at this point, so any failure short of cancellation
// yields a degraded result rather than an error.
func schemaPhase(ctx context.Context, api parseapi.API, log *zap.Logger, parsed *parseapi.ParseResult, docType constants.DocType) (*entity.ExtractionResult, error) {
	res := resultFromParse(parsed)
	extracted, err := api.Extract(ctx, parsed.Text, docschema.ForDocType(docType))
	if err != nil {
		if parseapi.IsCanceled(err) {
			return nil, err
		}
		log.Warn("schema phase failed, keeping structural result",
			zap.String("doc_type", string(docType)),
			zap.Error(err))
		res.Degraded = true
		return res, nil
	}
	if err := docschema.ValidateResponse(extracted); err != nil {
		log.Warn("schema phase returned malformed payload, keeping structural result",
			zap.String("doc_type", string(docType)),
			zap.Error(err))
		res.Degraded = true
		return res, nil
	}
	mergeExtract(res, extracted)
	return res, nil
}

// resultFromParse maps the structural wire shape onto the entity result.
func resultFromParse(parsed *parseapi.ParseResult) *entity.ExtractionResult {
	res := &entity.ExtractionResult{
		Markdown:  parsed.Text,
		PageCount: parsed.Metadata.PageCount,
	}
	for _, t := range parsed.Tables {
		res.Tables = append(res.Tables, entity.Table{Rows: t.Rows, Page: t.Page})
	}
	return res
}

func mergeExtract(res *entity.ExtractionResult, extracted *parseapi.ExtractResult) {
	for _, e := range extracted.Entities {
		res.Entities = append(res.Entities, entity.Entity{Type: e.Type, Value: e.Value, Confidence: e.Confidence})
	}
	for _, kv := range extracted.KeyValues {
		res.KeyValues = append(res.KeyValues, entity.KeyValue{Key: kv.Key, Value: kv.Value, Confidence: kv.Confidence})
	}
	res.Confidence = extracted.Confidence
}
