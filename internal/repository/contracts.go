package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/entity"
)

var (
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicateHash signals that a document with the same content hash
	// already exists for the profile.
	ErrDuplicateHash = errors.New("repository: content hash already ingested")
	// ErrStaleTransition signals a compare-and-set status update that found
	// the document in a different state than expected.
	ErrStaleTransition = errors.New("repository: stale status transition")
	// ErrLiveJobExists signals a second job creation while one is still
	// running for the same document.
	ErrLiveJobExists = errors.New("repository: live job already exists for document")
)

// DocumentStore persists documents and enforces the forward-only status
// machine. All status updates are compare-and-set; concurrent writers lose
// with ErrStaleTransition instead of clobbering state.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *entity.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	GetByHash(ctx context.Context, profileID uuid.UUID, hash []byte) (*entity.Document, error)
	ListByStatus(ctx context.Context, status constants.DocumentStatus, limit int) ([]*entity.Document, error)
	// TransitionStatus moves id from one status to another, failing with
	// ErrStaleTransition when the document is not currently in from.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to constants.DocumentStatus) error
	// SaveResult stores the result and moves EXTRACTING -> EXTRACTED.
	SaveResult(ctx context.Context, id uuid.UUID, res *entity.ExtractionResult, needsReview bool) error
	// MarkFailed records the classified error and moves EXTRACTING -> FAILED.
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

// JobStore tracks asynchronous remote parse jobs. At most one live job per
// document is enforced by the store, not by callers.
type JobStore interface {
	CreateJob(ctx context.Context, job *entity.ExtractionJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*entity.ExtractionJob, error)
	// UpdateJobState records the latest remote state and poll attempt count.
	UpdateJobState(ctx context.Context, id uuid.UUID, state constants.JobState, pollAttempts int) error
	// FinishJob moves the job to a terminal state.
	FinishJob(ctx context.Context, id uuid.UUID, state constants.JobState, lastError string) error
}

// Store bundles the two persistence surfaces the pipeline needs.
type Store interface {
	DocumentStore
	JobStore
}
