package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/entity"
	"github.com/finsight-labs/extractd/internal/metrics"
	"github.com/finsight-labs/extractd/internal/repository"
)

// FSIngestor reads from the local filesystem.
type FSIngestor struct {
	docs repository.DocumentStore
	log  *zap.Logger
}

func NewFSIngestor(docs repository.DocumentStore, log *zap.Logger) *FSIngestor {
	if log == nil {
		log = zap.NewNop()
	}
	return &FSIngestor{docs: docs, log: log}
}

// IngestPath hashes one file and registers it as a document. Content seen
// before for the profile comes back with Deduplicated set instead of a new
// row.
func (i *FSIngestor) IngestPath(ctx context.Context, profileID uuid.UUID, path string) (Result, error) {
	var out Result

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !AllowedExt(ext) {
		metrics.IngestedFiles.WithLabelValues("skipped").Inc()
		return out, fmt.Errorf("unsupported or missing extension %q", ext)
	}

	f, err := os.Open(abs)
	if err != nil {
		metrics.IngestedFiles.WithLabelValues("error").Inc()
		return out, fmt.Errorf("open: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			i.log.Warn("close file", zap.String("path", abs), zap.Error(err))
		}
	}()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		metrics.IngestedFiles.WithLabelValues("error").Inc()
		return out, fmt.Errorf("hash: %w", err)
	}
	sum := h.Sum(nil)

	if existing, err := i.docs.GetByHash(ctx, profileID, sum); err == nil {
		metrics.IngestedFiles.WithLabelValues("duplicate").Inc()
		i.log.Debug("duplicate content hash",
			zap.String("path", abs),
			zap.String("document_id", existing.ID.String()))
		return Result{
			Document:     existing,
			SourcePath:   abs,
			Deduplicated: true,
			HashHex:      hex.EncodeToString(sum),
		}, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return out, fmt.Errorf("hash lookup: %w", err)
	}

	base := filepath.Base(abs)
	doc := &entity.Document{
		ID:          uuid.New(),
		ProfileID:   profileID,
		SourcePath:  abs,
		Filename:    base,
		FileExt:     ext,
		DocType:     constants.GuessFromFilename(base),
		ContentHash: sum,
		SizeBytes:   size,
		Status:      constants.DocStatusReceived,
		UploadedAt:  time.Now().UTC(),
	}
	if err := i.docs.CreateDocument(ctx, doc); err != nil {
		if errors.Is(err, repository.ErrDuplicateHash) {
			// Lost a race against a concurrent ingest of the same bytes.
			existing, lookupErr := i.docs.GetByHash(ctx, profileID, sum)
			if lookupErr != nil {
				return out, fmt.Errorf("lookup after duplicate: %w", lookupErr)
			}
			metrics.IngestedFiles.WithLabelValues("duplicate").Inc()
			return Result{
				Document:     existing,
				SourcePath:   abs,
				Deduplicated: true,
				HashHex:      hex.EncodeToString(sum),
			}, nil
		}
		metrics.IngestedFiles.WithLabelValues("error").Inc()
		return out, fmt.Errorf("create document: %w", err)
	}

	metrics.IngestedFiles.WithLabelValues("accepted").Inc()
	i.log.Info("document ingested",
		zap.String("document_id", doc.ID.String()),
		zap.String("filename", base),
		zap.String("doc_type", string(doc.DocType)),
		zap.Int64("size_bytes", size))

	return Result{Document: doc, SourcePath: abs, HashHex: hex.EncodeToString(sum)}, nil
}

// IngestDirectory walks root, skips hidden entries if requested, and calls
// IngestPath for each matching file. Returns per-file results plus aggregate
// stats; individual file failures do not stop the walk.
func (i *FSIngestor) IngestDirectory(
	ctx context.Context,
	profileID uuid.UUID,
	root string,
	skipHidden bool,
) ([]Result, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []Result
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, Result{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}
		ext := constants.NormalizeExt(filepath.Ext(path))
		if !AllowedExt(ext) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, profileID, path)
		if err != nil {
			results = append(results, Result{SourcePath: path, Err: err.Error()})
			stats.Failed++
			return nil
		}

		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})

	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}
