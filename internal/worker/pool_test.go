package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/entity"
	"github.com/finsight-labs/extractd/internal/extraction"
	"github.com/finsight-labs/extractd/internal/queue"
	"github.com/finsight-labs/extractd/internal/repository"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls []uuid.UUID
	fn    func(ctx context.Context, id uuid.UUID) (*entity.Document, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, id)
	}
	return &entity.Document{ID: id, Status: constants.DocStatusExtracted}, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func seedWorkerDoc(t *testing.T, store repository.Store, status constants.DocumentStatus) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	doc := &entity.Document{
		ID:          uuid.New(),
		ProfileID:   uuid.New(),
		Filename:    "doc.pdf",
		FileExt:     "pdf",
		DocType:     constants.DocTypeOther,
		ContentHash: []byte(uuid.NewString()),
		SizeBytes:   10,
		Status:      constants.DocStatusReceived,
		UploadedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateDocument(ctx, doc))
	if status == constants.DocStatusFailed {
		require.NoError(t, store.TransitionStatus(ctx, doc.ID, constants.DocStatusReceived, constants.DocStatusExtracting))
		require.NoError(t, store.MarkFailed(ctx, doc.ID, "FATAL_REQUEST: status 422"))
	}
	return doc.ID
}

func startPool(t *testing.T, p *Pool) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("pool did not drain")
		}
	})
	return cancel, done
}

func TestPoolExtractsQueuedDocuments(t *testing.T) {
	store := repository.NewMemoryStore()
	q := queue.NewLocalQueue(8, 3, nil)
	ext := &fakeExtractor{}
	p := NewPool(q, ext, store, WithWorkers(2))
	startPool(t, p)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, queue.NewTask(seedWorkerDoc(t, store, constants.DocStatusReceived))))
	}

	assert.Eventually(t, func() bool { return ext.callCount() == 3 }, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, q.DLQSize())
}

func TestPoolCompletesTaskOnTerminalFailure(t *testing.T) {
	store := repository.NewMemoryStore()
	q := queue.NewLocalQueue(8, 2, nil)
	id := seedWorkerDoc(t, store, constants.DocStatusFailed)
	ext := &fakeExtractor{
		fn: func(context.Context, uuid.UUID) (*entity.Document, error) {
			return nil, errors.New("parse: status 422 (FATAL_REQUEST): unsupported")
		},
	}
	p := NewPool(q, ext, store, WithWorkers(1))
	startPool(t, p)

	require.NoError(t, q.Enqueue(context.Background(), queue.NewTask(id)))

	assert.Eventually(t, func() bool { return ext.callCount() == 1 }, 3*time.Second, 10*time.Millisecond)
	// Give a redelivery a chance to show up if the handler got it wrong.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, ext.callCount(), "terminal failures are not redelivered")
	assert.Zero(t, q.DLQSize())
}

func TestPoolRequeuesInfrastructureErrors(t *testing.T) {
	store := repository.NewMemoryStore()
	q := queue.NewLocalQueue(8, 2, nil)
	id := seedWorkerDoc(t, store, constants.DocStatusReceived)
	ext := &fakeExtractor{
		fn: func(context.Context, uuid.UUID) (*entity.Document, error) {
			return nil, errors.New("claim document: connection refused")
		},
	}
	p := NewPool(q, ext, store, WithWorkers(1))
	startPool(t, p)

	require.NoError(t, q.Enqueue(context.Background(), queue.NewTask(id)))

	assert.Eventually(t, func() bool { return q.DLQSize() == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, ext.callCount(), "unresolved documents use the delivery budget")
}

func TestPoolDropsCompetingClaims(t *testing.T) {
	store := repository.NewMemoryStore()
	q := queue.NewLocalQueue(8, 2, nil)
	id := seedWorkerDoc(t, store, constants.DocStatusReceived)
	ext := &fakeExtractor{
		fn: func(context.Context, uuid.UUID) (*entity.Document, error) {
			return nil, extraction.ErrAlreadyExtracting
		},
	}
	p := NewPool(q, ext, store, WithWorkers(1))
	startPool(t, p)

	require.NoError(t, q.Enqueue(context.Background(), queue.NewTask(id)))

	assert.Eventually(t, func() bool { return ext.callCount() == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, ext.callCount())
	assert.Zero(t, q.DLQSize())
}
