package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/entity"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS documents (
    id           UUID PRIMARY KEY,
    profile_id   UUID NOT NULL,
    source_path  TEXT NOT NULL,
    filename     TEXT NOT NULL,
    file_ext     TEXT NOT NULL,
    doc_type     TEXT NOT NULL,
    content_hash BYTEA NOT NULL,
    size_bytes   BIGINT NOT NULL,
    status       TEXT NOT NULL,
    result       JSONB,
    last_error   TEXT,
    needs_review BOOLEAN NOT NULL DEFAULT FALSE,
    uploaded_at  TIMESTAMPTZ NOT NULL,
    extracted_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS documents_profile_hash ON documents (profile_id, content_hash);
CREATE INDEX IF NOT EXISTS documents_status ON documents (status);

CREATE TABLE IF NOT EXISTS extraction_jobs (
    id            UUID PRIMARY KEY,
    document_id   UUID NOT NULL REFERENCES documents (id),
    remote_id     TEXT NOT NULL,
    state         TEXT NOT NULL,
    poll_attempts INTEGER NOT NULL DEFAULT 0,
    submitted_at  TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ,
    last_error    TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS extraction_jobs_live
    ON extraction_jobs (document_id) WHERE state IN ('SUBMITTED', 'RUNNING');
`

// EnsureSchema creates the extraction tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const documentColumns = `id, profile_id, source_path, filename, file_ext, doc_type,
content_hash, size_bytes, status, result, last_error, needs_review, uploaded_at, extracted_at`

type pgDocumentStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewPostgresDocumentStore returns a DocumentStore backed by pgx.
func NewPostgresDocumentStore(pool *pgxpool.Pool, log *zap.Logger) DocumentStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &pgDocumentStore{pool: pool, log: log}
}

func (s *pgDocumentStore) CreateDocument(ctx context.Context, doc *entity.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents
			(id, profile_id, source_path, filename, file_ext, doc_type,
			 content_hash, size_bytes, status, needs_review, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		doc.ID, doc.ProfileID, doc.SourcePath, doc.Filename, doc.FileExt, string(doc.DocType),
		doc.ContentHash, doc.SizeBytes, string(doc.Status), doc.NeedsReview, doc.UploadedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateHash
		}
		s.log.Error("document create failed", zap.String("document_id", doc.ID.String()), zap.Error(err))
		return fmt.Errorf("create document: %w", err)
	}
	s.log.Info("document created",
		zap.String("document_id", doc.ID.String()),
		zap.String("filename", doc.Filename),
		zap.Int64("size_bytes", doc.SizeBytes))
	return nil
}

func (s *pgDocumentStore) GetDocument(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

func (s *pgDocumentStore) GetByHash(ctx context.Context, profileID uuid.UUID, hash []byte) (*entity.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE profile_id = $1 AND content_hash = $2`,
		profileID, hash)
	return scanDocument(row)
}

func (s *pgDocumentStore) ListByStatus(ctx context.Context, status constants.DocumentStatus, limit int) ([]*entity.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE status = $1 ORDER BY uploaded_at LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *pgDocumentStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to constants.DocumentStatus) error {
	if !constants.ValidDocTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	ct, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		s.log.Error("status transition failed", zap.String("document_id", id.String()), zap.Error(err))
		return fmt.Errorf("transition status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	s.log.Info("document status transition",
		zap.String("document_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

func (s *pgDocumentStore) SaveResult(ctx context.Context, id uuid.UUID, res *entity.ExtractionResult, needsReview bool) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	ct, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET status = $2, result = $3, needs_review = $4, extracted_at = $5, last_error = NULL
		WHERE id = $1 AND status = $6`,
		id, string(constants.DocStatusExtracted), raw, needsReview, time.Now().UTC(),
		string(constants.DocStatusExtracting))
	if err != nil {
		s.log.Error("save result failed", zap.String("document_id", id.String()), zap.Error(err))
		return fmt.Errorf("save result: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	s.log.Info("document extracted",
		zap.String("document_id", id.String()),
		zap.Bool("degraded", res.Degraded),
		zap.Bool("partial", res.Partial),
		zap.Bool("needs_review", needsReview))
	return nil
}

func (s *pgDocumentStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE documents SET status = $2, last_error = $3
		WHERE id = $1 AND status = $4`,
		id, string(constants.DocStatusFailed), lastError, string(constants.DocStatusExtracting))
	if err != nil {
		s.log.Error("mark failed failed", zap.String("document_id", id.String()), zap.Error(err))
		return fmt.Errorf("mark failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	s.log.Warn("document failed",
		zap.String("document_id", id.String()),
		zap.String("last_error", lastError))
	return nil
}

func scanDocument(row pgx.Row) (*entity.Document, error) {
	var (
		doc       entity.Document
		docType   string
		status    string
		resultRaw []byte
	)
	err := row.Scan(&doc.ID, &doc.ProfileID, &doc.SourcePath, &doc.Filename, &doc.FileExt, &docType,
		&doc.ContentHash, &doc.SizeBytes, &status, &resultRaw, &doc.LastError, &doc.NeedsReview,
		&doc.UploadedAt, &doc.ExtractedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.DocType = constants.DocType(docType)
	doc.Status = constants.DocumentStatus(status)
	if len(resultRaw) > 0 {
		var res entity.ExtractionResult
		if err := json.Unmarshal(resultRaw, &res); err != nil {
			return nil, fmt.Errorf("decode stored result: %w", err)
		}
		doc.Result = &res
	}
	return &doc, nil
}

type pgJobStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewPostgresJobStore returns a JobStore backed by pgx.
func NewPostgresJobStore(pool *pgxpool.Pool, log *zap.Logger) JobStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &pgJobStore{pool: pool, log: log}
}

func (s *pgJobStore) CreateJob(ctx context.Context, job *entity.ExtractionJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO extraction_jobs (id, document_id, remote_id, state, poll_attempts, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.DocumentID, job.RemoteID, string(job.State), job.PollAttempts, job.SubmittedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrLiveJobExists
		}
		s.log.Error("job create failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		return fmt.Errorf("create job: %w", err)
	}
	s.log.Info("job created",
		zap.String("job_id", job.ID.String()),
		zap.String("document_id", job.DocumentID.String()),
		zap.String("remote_id", job.RemoteID))
	return nil
}

func (s *pgJobStore) GetJob(ctx context.Context, id uuid.UUID) (*entity.ExtractionJob, error) {
	var (
		job   entity.ExtractionJob
		state string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, document_id, remote_id, state, poll_attempts, submitted_at, finished_at, last_error
		FROM extraction_jobs WHERE id = $1`, id).
		Scan(&job.ID, &job.DocumentID, &job.RemoteID, &state, &job.PollAttempts,
			&job.SubmittedAt, &job.FinishedAt, &job.LastError)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	job.State = constants.JobState(state)
	return &job, nil
}

func (s *pgJobStore) UpdateJobState(ctx context.Context, id uuid.UUID, state constants.JobState, pollAttempts int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE extraction_jobs SET state = $2, poll_attempts = $3 WHERE id = $1`,
		id, string(state), pollAttempts)
	if err != nil {
		s.log.Error("job update failed", zap.String("job_id", id.String()), zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (s *pgJobStore) FinishJob(ctx context.Context, id uuid.UUID, state constants.JobState, lastError string) error {
	if !constants.TerminalJobState(state) {
		return fmt.Errorf("finish job: %s is not terminal", state)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE extraction_jobs SET state = $2, finished_at = $3, last_error = NULLIF($4, '')
		WHERE id = $1`,
		id, string(state), time.Now().UTC(), lastError)
	if err != nil {
		s.log.Error("job finish failed", zap.String("job_id", id.String()), zap.Error(err))
		return fmt.Errorf("finish job: %w", err)
	}
	s.log.Info("job finished",
		zap.String("job_id", id.String()),
		zap.String("state", string(state)))
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresStore bundles the pgx-backed stores behind the Store contract.
type PostgresStore struct {
	DocumentStore
	JobStore
}

func NewPostgresStore(pool *pgxpool.Pool, log *zap.Logger) *PostgresStore {
	return &PostgresStore{
		DocumentStore: NewPostgresDocumentStore(pool, log),
		JobStore:      NewPostgresJobStore(pool, log),
	}
}
