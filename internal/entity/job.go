package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/finsight-labs/extractd/constants"
)

// ExtractionJob tracks one asynchronous remote parse job. At most one live
// job exists per document.
type ExtractionJob struct {
	ID           uuid.UUID          `json:"id"`
	DocumentID   uuid.UUID          `json:"document_id"`
	RemoteID     string             `json:"remote_id"`
	State        constants.JobState `json:"state"`
	PollAttempts int                `json:"poll_attempts"`
	SubmittedAt  time.Time          `json:"submitted_at"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
	LastError    *string            `json:"last_error,omitempty"`
}
