package repository

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/entity"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs. All status
// updates are compare-and-set under one lock, matching the SQL stores'
// single-writer guarantees.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]*entity.Document
	jobs map[uuid.UUID]*entity.ExtractionJob
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[uuid.UUID]*entity.Document),
		jobs: make(map[uuid.UUID]*entity.ExtractionJob),
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *entity.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		if d.ProfileID == doc.ProfileID && bytes.Equal(d.ContentHash, doc.ContentHash) {
			return ErrDuplicateHash
		}
	}
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id uuid.UUID) (*entity.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) GetByHash(_ context.Context, profileID uuid.UUID, hash []byte) (*entity.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.docs {
		if d.ProfileID == profileID && bytes.Equal(d.ContentHash, hash) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListByStatus(_ context.Context, status constants.DocumentStatus, limit int) ([]*entity.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var docs []*entity.Document
	for _, d := range s.docs {
		if d.Status != status {
			continue
		}
		cp := *d
		docs = append(docs, &cp)
		if len(docs) == limit {
			break
		}
	}
	return docs, nil
}

func (s *MemoryStore) TransitionStatus(_ context.Context, id uuid.UUID, from, to constants.DocumentStatus) error {
	if !constants.ValidDocTransition(from, to) {
		return ErrStaleTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if doc.Status != from {
		return ErrStaleTransition
	}
	doc.Status = to
	return nil
}

func (s *MemoryStore) SaveResult(_ context.Context, id uuid.UUID, res *entity.ExtractionResult, needsReview bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if doc.Status != constants.DocStatusExtracting {
		return ErrStaleTransition
	}
	now := time.Now()
	doc.Status = constants.DocStatusExtracted
	doc.Result = res
	doc.NeedsReview = needsReview
	doc.LastError = nil
	doc.ExtractedAt = &now
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if doc.Status != constants.DocStatusExtracting {
		return ErrStaleTransition
	}
	doc.Status = constants.DocStatusFailed
	doc.LastError = &lastError
	return nil
}

func (s *MemoryStore) CreateJob(_ context.Context, job *entity.ExtractionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.DocumentID == job.DocumentID && !constants.TerminalJobState(j.State) {
			return ErrLiveJobExists
		}
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*entity.ExtractionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) UpdateJobState(_ context.Context, id uuid.UUID, state constants.JobState, pollAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.State = state
	job.PollAttempts = pollAttempts
	return nil
}

func (s *MemoryStore) FinishJob(_ context.Context, id uuid.UUID, state constants.JobState, lastError string) error {
	if !constants.TerminalJobState(state) {
		return fmt.Errorf("finish job: %s is not terminal", state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.State = state
	now := time.Now()
	job.FinishedAt = &now
	if lastError != "" {
		job.LastError = &lastError
	}
	return nil
}
