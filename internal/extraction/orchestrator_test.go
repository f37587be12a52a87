package extraction

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/config"
	"github.com/finsight-labs/extractd/internal/entity"
	"github.com/finsight-labs/extractd/internal/parseapi"
	"github.com/finsight-labs/extractd/internal/repository"
)

type recordingNormalizer struct {
	mu    sync.Mutex
	calls []uuid.UUID
	last  *entity.ExtractionResult
}

func (r *recordingNormalizer) Accept(_ context.Context, id uuid.UUID, res *entity.ExtractionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	r.last = res
	return nil
}

func (r *recordingNormalizer) accepted() (int, *entity.ExtractionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls), r.last
}

func testExtractionConfig() config.ExtractionConfig {
	return config.ExtractionConfig{
		SyncMaxBytes:       15 << 20,
		MaxRetries:         2,
		PollCeiling:        60,
		ArchiveConcurrency: 4,
		MinConfidence:      0.5,
	}
}

func staticSource(payload []byte) SourceFunc {
	return func(context.Context, *entity.Document) ([]byte, error) {
		return payload, nil
	}
}

func seedDocument(t *testing.T, store repository.Store, sizeBytes int64, ext string) *entity.Document {
	t.Helper()
	hash := sha256.Sum256([]byte(uuid.NewString()))
	doc := &entity.Document{
		ID:          uuid.New(),
		ProfileID:   uuid.New(),
		SourcePath:  "/inbox/" + uuid.NewString() + "." + ext,
		Filename:    "statement." + ext,
		FileExt:     ext,
		DocType:     constants.DocTypeBankStatement,
		ContentHash: hash[:],
		SizeBytes:   sizeBytes,
		Status:      constants.DocStatusReceived,
		UploadedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateDocument(context.Background(), doc))
	return doc
}

func TestOrchestratorSyncSuccess(t *testing.T) {
	store := repository.NewMemoryStore()
	api := &fakeAPI{}
	norm := &recordingNormalizer{}
	o := NewOrchestrator(testExtractionConfig(), store, api, norm, WithSource(staticSource([]byte("%PDF"))))
	doc := seedDocument(t, store, 4096, "pdf")

	got, err := o.Extract(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocStatusExtracted, got.Status)
	assert.False(t, got.NeedsReview)
	require.NotNil(t, got.Result)
	assert.False(t, got.Result.Degraded)
	assert.NotNil(t, got.ExtractedAt)

	calls, last := norm.accepted()
	assert.Equal(t, 1, calls, "normalization accepts exactly once")
	assert.InDelta(t, 0.9, last.Confidence, 1e-6)

	parses, extracts, submits, _, _ := api.counts()
	assert.Equal(t, 1, parses)
	assert.Equal(t, 1, extracts)
	assert.Zero(t, submits, "small documents never take the job path")
}

func TestOrchestratorDegradedStillExtracted(t *testing.T) {
	store := repository.NewMemoryStore()
	api := &fakeAPI{
		extractFn: func(context.Context, string, any) (*parseapi.ExtractResult, error) {
			return nil, &parseapi.APIError{Op: "extract", Status: 422, Class: parseapi.ClassFatalRequest}
		},
	}
	norm := &recordingNormalizer{}
	o := NewOrchestrator(testExtractionConfig(), store, api, norm, WithSource(staticSource([]byte("%PDF"))))
	doc := seedDocument(t, store, 4096, "pdf")

	got, err := o.Extract(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocStatusExtracted, got.Status)
	assert.True(t, got.NeedsReview, "degraded results are flagged for review")
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Degraded)

	calls, last := norm.accepted()
	assert.Equal(t, 1, calls)
	assert.True(t, last.Degraded)
}

func TestOrchestratorFatalFailure(t *testing.T) {
	store := repository.NewMemoryStore()
	api := &fakeAPI{
		parseFn: func(context.Context, string, []byte) (*parseapi.ParseResult, error) {
			return nil, &parseapi.APIError{Op: "parse", Status: 422, Class: parseapi.ClassFatalRequest, Body: "unsupported layout"}
		},
	}
	norm := &recordingNormalizer{}
	o := NewOrchestrator(testExtractionConfig(), store, api, norm, WithSource(staticSource([]byte("%PDF"))))
	doc := seedDocument(t, store, 4096, "pdf")

	got, err := o.Extract(context.Background(), doc.ID)
	assert.Nil(t, got)
	require.Error(t, err)
	assert.Equal(t, parseapi.ClassFatalRequest, parseapi.ClassOf(err))

	stored, err := store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "FATAL_REQUEST")
	assert.Contains(t, *stored.LastError, "422")

	calls, _ := norm.accepted()
	assert.Zero(t, calls, "failed documents never reach normalization")
}

func TestOrchestratorConcurrentSecondExtractRejected(t *testing.T) {
	store := repository.NewMemoryStore()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	api := &fakeAPI{
		parseFn: func(context.Context, string, []byte) (*parseapi.ParseResult, error) {
			once.Do(func() { close(started) })
			<-release
			return defaultParseResult(), nil
		},
	}
	norm := &recordingNormalizer{}
	o := NewOrchestrator(testExtractionConfig(), store, api, norm, WithSource(staticSource([]byte("%PDF"))))
	doc := seedDocument(t, store, 4096, "pdf")

	done := make(chan error, 1)
	go func() {
		_, err := o.Extract(context.Background(), doc.ID)
		done <- err
	}()
	<-started

	_, err := o.Extract(context.Background(), doc.ID)
	assert.ErrorIs(t, err, ErrAlreadyExtracting)

	parses, _, submits, _, _ := api.counts()
	assert.Equal(t, 1, parses, "the losing claim triggers no second call")
	assert.Zero(t, submits)

	close(release)
	require.NoError(t, <-done)

	stored, err := store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocStatusExtracted, stored.Status)

	calls, _ := norm.accepted()
	assert.Equal(t, 1, calls)
}

func TestOrchestratorCancellationMarksFailed(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	api := &fakeAPI{
		parseFn: func(ctx context.Context, _ string, _ []byte) (*parseapi.ParseResult, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	norm := &recordingNormalizer{}
	o := NewOrchestrator(testExtractionConfig(), store, api, norm, WithSource(staticSource([]byte("%PDF"))))
	doc := seedDocument(t, store, 4096, "pdf")

	got, err := o.Extract(ctx, doc.ID)
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, parseapi.IsCanceled(err))

	stored, err := store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "CANCELED")

	calls, _ := norm.accepted()
	assert.Zero(t, calls)
}

func TestOrchestratorRoutesLargeDocumentsAsync(t *testing.T) {
	store := repository.NewMemoryStore()
	api := &fakeAPI{}
	norm := &recordingNormalizer{}
	sleeper := &fakeSleeper{}
	o := NewOrchestrator(testExtractionConfig(), store, api, norm,
		WithSource(staticSource([]byte("%PDF"))),
		WithAsyncOptions(WithPollSleep(sleeper.sleep)))
	doc := seedDocument(t, store, 64<<20, "pdf")

	got, err := o.Extract(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocStatusExtracted, got.Status)

	parses, _, submits, statuses, results := api.counts()
	assert.Zero(t, parses, "large documents never hit the blocking endpoint")
	assert.Equal(t, 1, submits)
	assert.Equal(t, 1, statuses)
	assert.Equal(t, 1, results)
}

func TestOrchestratorArchivePartial(t *testing.T) {
	store := repository.NewMemoryStore()
	api := &fakeAPI{
		parseFn: func(_ context.Context, filename string, _ []byte) (*parseapi.ParseResult, error) {
			if filename == "bad.pdf" {
				return nil, &parseapi.APIError{Op: "parse", Status: 400, Class: parseapi.ClassFatalRequest}
			}
			return defaultParseResult(), nil
		},
	}
	norm := &recordingNormalizer{}
	payload := buildZip(t, []zipMember{
		{"good.pdf", "fine"},
		{"bad.pdf", "broken"},
	})
	o := NewOrchestrator(testExtractionConfig(), store, api, norm, WithSource(staticSource(payload)))
	doc := seedDocument(t, store, int64(len(payload)), "zip")

	got, err := o.Extract(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocStatusExtracted, got.Status)
	assert.True(t, got.NeedsReview)
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Partial)
	require.NotNil(t, got.Result.Manifest)
	assert.Len(t, got.Result.Manifest.Entries, 2)

	_, last := norm.accepted()
	require.NotNil(t, last.Manifest, "normalization receives the manifest")
}

func TestOrchestratorLowConfidenceFlagsReview(t *testing.T) {
	store := repository.NewMemoryStore()
	api := &fakeAPI{
		extractFn: func(context.Context, string, any) (*parseapi.ExtractResult, error) {
			res := defaultExtractResult()
			res.Confidence = 0.2
			return res, nil
		},
	}
	o := NewOrchestrator(testExtractionConfig(), store, api, &recordingNormalizer{}, WithSource(staticSource([]byte("%PDF"))))
	doc := seedDocument(t, store, 4096, "pdf")

	got, err := o.Extract(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.DocStatusExtracted, got.Status)
	assert.True(t, got.NeedsReview)
	assert.False(t, got.Result.Degraded)
}

func TestOrchestratorTerminalDocumentRejected(t *testing.T) {
	store := repository.NewMemoryStore()
	api := &fakeAPI{}
	o := NewOrchestrator(testExtractionConfig(), store, api, &recordingNormalizer{}, WithSource(staticSource([]byte("%PDF"))))
	doc := seedDocument(t, store, 4096, "pdf")

	_, err := o.Extract(context.Background(), doc.ID)
	require.NoError(t, err)

	_, err = o.Extract(context.Background(), doc.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyExtracting)

	parses, _, _, _, _ := api.counts()
	assert.Equal(t, 1, parses)
}

func TestOrchestratorUnknownDocument(t *testing.T) {
	store := repository.NewMemoryStore()
	o := NewOrchestrator(testExtractionConfig(), store, &fakeAPI{}, &recordingNormalizer{}, WithSource(staticSource(nil)))

	_, err := o.Extract(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
