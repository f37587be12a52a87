package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/finsight-labs/extractd/internal/entity"
)

// Result is the per-file ingest outcome.
type Result struct {
	Document     *entity.Document
	SourcePath   string
	Deduplicated bool
	HashHex      string
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Ingestor is the behavior the daemon and CLIs depend on.
type Ingestor interface {
	// IngestPath registers a single file.
	IngestPath(ctx context.Context, profileID uuid.UUID, path string) (Result, error)
	// IngestDirectory registers all matching files under root.
	IngestDirectory(ctx context.Context, profileID uuid.UUID, root string, skipHidden bool) ([]Result, DirStats, error)
}

// DefaultProfileID is the stable namespace used when no profile is
// configured, so single-tenant deployments dedupe across restarts.
func DefaultProfileID() uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("extractd://profile/default"))
}
