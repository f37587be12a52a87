package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/finsight-labs/extractd/constants"
)

// Document represents an ingested financial document for data transfer
// between layers. Status moves forward only: RECEIVED -> EXTRACTING ->
// EXTRACTED | FAILED.
type Document struct {
	ID          uuid.UUID                `json:"id"`
	ProfileID   uuid.UUID                `json:"profile_id"`
	SourcePath  string                   `json:"source_path"`
	Filename    string                   `json:"filename"`
	FileExt     string                   `json:"file_ext"`
	DocType     constants.DocType        `json:"doc_type"`
	ContentHash []byte                   `json:"content_hash"`
	SizeBytes   int64                    `json:"size_bytes"`
	Status      constants.DocumentStatus `json:"status"`
	Result      *ExtractionResult        `json:"result,omitempty"`
	LastError   *string                  `json:"last_error,omitempty"`
	NeedsReview bool                     `json:"needs_review"`
	UploadedAt  time.Time                `json:"uploaded_at"`
	ExtractedAt *time.Time               `json:"extracted_at,omitempty"`
}

// IsArchive reports whether the document is a container to fan out.
func (d *Document) IsArchive() bool {
	return constants.IsArchiveExt(d.FileExt)
}
