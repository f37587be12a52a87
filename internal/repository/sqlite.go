package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/entity"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
    id           TEXT PRIMARY KEY,
    profile_id   TEXT NOT NULL,
    source_path  TEXT NOT NULL,
    filename     TEXT NOT NULL,
    file_ext     TEXT NOT NULL,
    doc_type     TEXT NOT NULL,
    content_hash BLOB NOT NULL,
    size_bytes   INTEGER NOT NULL,
    status       TEXT NOT NULL,
    result       TEXT,
    last_error   TEXT,
    needs_review INTEGER NOT NULL DEFAULT 0,
    uploaded_at  TEXT NOT NULL,
    extracted_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS documents_profile_hash ON documents (profile_id, content_hash);
CREATE INDEX IF NOT EXISTS documents_status ON documents (status);

CREATE TABLE IF NOT EXISTS extraction_jobs (
    id            TEXT PRIMARY KEY,
    document_id   TEXT NOT NULL REFERENCES documents (id),
    remote_id     TEXT NOT NULL,
    state         TEXT NOT NULL,
    poll_attempts INTEGER NOT NULL DEFAULT 0,
    submitted_at  TEXT NOT NULL,
    finished_at   TEXT,
    last_error    TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS extraction_jobs_live
    ON extraction_jobs (document_id) WHERE state IN ('SUBMITTED', 'RUNNING');
`

// SQLiteStore is an embedded Store for the batch CLI and tests.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) a SQLite store at path. Use ":memory:" for
// an ephemeral database; it is pinned to a single connection so every query
// sees the same data.
func OpenSQLite(path string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := &SQLiteStore{db: db, log: log}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is still reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *entity.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents
			(id, profile_id, source_path, filename, file_ext, doc_type,
			 content_hash, size_bytes, status, needs_review, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID.String(), doc.ProfileID.String(), doc.SourcePath, doc.Filename, doc.FileExt,
		string(doc.DocType), doc.ContentHash, doc.SizeBytes, string(doc.Status),
		boolToInt(doc.NeedsReview), formatTime(doc.UploadedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateHash
		}
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

const sqliteDocumentColumns = `id, profile_id, source_path, filename, file_ext, doc_type,
content_hash, size_bytes, status, result, last_error, needs_review, uploaded_at, extracted_at`

func (s *SQLiteStore) GetDocument(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDocumentColumns+` FROM documents WHERE id = ?`, id.String())
	return scanSQLiteDocument(row)
}

func (s *SQLiteStore) GetByHash(ctx context.Context, profileID uuid.UUID, hash []byte) (*entity.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDocumentColumns+` FROM documents WHERE profile_id = ? AND content_hash = ?`,
		profileID.String(), hash)
	return scanSQLiteDocument(row)
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status constants.DocumentStatus, limit int) ([]*entity.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteDocumentColumns+` FROM documents WHERE status = ? ORDER BY uploaded_at LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*entity.Document
	for rows.Next() {
		doc, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to constants.DocumentStatus) error {
	if !constants.ValidDocTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ? WHERE id = ? AND status = ?`,
		string(to), id.String(), string(from))
	if err != nil {
		return fmt.Errorf("transition status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition status: %w", err)
	}
	if n == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (s *SQLiteStore) SaveResult(ctx context.Context, id uuid.UUID, result *entity.ExtractionResult, needsReview bool) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, result = ?, needs_review = ?, extracted_at = ?, last_error = NULL
		WHERE id = ? AND status = ?`,
		string(constants.DocStatusExtracted), string(raw), boolToInt(needsReview),
		formatTime(time.Now()), id.String(), string(constants.DocStatusExtracting))
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	if n == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, last_error = ? WHERE id = ? AND status = ?`,
		string(constants.DocStatusFailed), lastError, id.String(), string(constants.DocStatusExtracting))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if n == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *entity.ExtractionJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extraction_jobs (id, document_id, remote_id, state, poll_attempts, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.DocumentID.String(), job.RemoteID, string(job.State),
		job.PollAttempts, formatTime(job.SubmittedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrLiveJobExists
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id uuid.UUID) (*entity.ExtractionJob, error) {
	var (
		job         entity.ExtractionJob
		idStr       string
		docIDStr    string
		state       string
		submittedAt string
		finishedAt  sql.NullString
		lastError   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, remote_id, state, poll_attempts, submitted_at, finished_at, last_error
		FROM extraction_jobs WHERE id = ?`, id.String()).
		Scan(&idStr, &docIDStr, &job.RemoteID, &state, &job.PollAttempts, &submittedAt, &finishedAt, &lastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	if job.DocumentID, err = uuid.Parse(docIDStr); err != nil {
		return nil, fmt.Errorf("parse document id: %w", err)
	}
	job.State = constants.JobState(state)
	if job.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, err
		}
		job.FinishedAt = &t
	}
	if lastError.Valid {
		job.LastError = &lastError.String
	}
	return &job, nil
}

func (s *SQLiteStore) UpdateJobState(ctx context.Context, id uuid.UUID, state constants.JobState, pollAttempts int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE extraction_jobs SET state = ?, poll_attempts = ? WHERE id = ?`,
		string(state), pollAttempts, id.String())
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FinishJob(ctx context.Context, id uuid.UUID, state constants.JobState, lastError string) error {
	if !constants.TerminalJobState(state) {
		return fmt.Errorf("finish job: %s is not terminal", state)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE extraction_jobs SET state = ?, finished_at = ?, last_error = NULLIF(?, '')
		WHERE id = ?`,
		string(state), formatTime(time.Now()), lastError, id.String())
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

func scanSQLiteDocument(row interface{ Scan(dest ...any) error }) (*entity.Document, error) {
	var (
		doc         entity.Document
		idStr       string
		profileStr  string
		docType     string
		status      string
		resultRaw   sql.NullString
		lastError   sql.NullString
		needsReview int
		uploadedAt  string
		extractedAt sql.NullString
	)
	err := row.Scan(&idStr, &profileStr, &doc.SourcePath, &doc.Filename, &doc.FileExt, &docType,
		&doc.ContentHash, &doc.SizeBytes, &status, &resultRaw, &lastError, &needsReview,
		&uploadedAt, &extractedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	if doc.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse document id: %w", err)
	}
	if doc.ProfileID, err = uuid.Parse(profileStr); err != nil {
		return nil, fmt.Errorf("parse profile id: %w", err)
	}
	doc.DocType = constants.DocType(docType)
	doc.Status = constants.DocumentStatus(status)
	doc.NeedsReview = needsReview != 0
	if doc.UploadedAt, err = parseTime(uploadedAt); err != nil {
		return nil, err
	}
	if extractedAt.Valid {
		t, err := parseTime(extractedAt.String)
		if err != nil {
			return nil, err
		}
		doc.ExtractedAt = &t
	}
	if lastError.Valid {
		doc.LastError = &lastError.String
	}
	if resultRaw.Valid && resultRaw.String != "" {
		var res entity.ExtractionResult
		if err := json.Unmarshal([]byte(resultRaw.String), &res); err != nil {
			return nil, fmt.Errorf("decode stored result: %w", err)
		}
		doc.Result = &res
	}
	return &doc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
