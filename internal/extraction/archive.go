package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/entity"
	"github.com/finsight-labs/extractd/internal/metrics"
)

// DefaultArchiveConcurrency bounds how many members extract at once. It
// matches the executor's connection semaphore so a single archive cannot
// starve everything else.
const DefaultArchiveConcurrency = 20

var (
	// ErrEmptyArchive rejects archives with no extractable members.
	ErrEmptyArchive = errors.New("extraction: archive has no extractable members")
	// ErrAllMembersFailed fails the whole archive when not a single member
	// produced a result.
	ErrAllMembersFailed = errors.New("extraction: all archive members failed")
)

// Expander fans an archive out into per-member extractions. Members succeed
// and fail independently; the outcome of each one lands in the manifest
// under its member name regardless of completion order.
type Expander struct {
	router *Router
	sync   *SyncPath
	async  *AsyncPath
	bound  int
	log    *zap.Logger
}

func NewExpander(router *Router, syncPath *SyncPath, asyncPath *AsyncPath, bound int, log *zap.Logger) *Expander {
	if bound <= 0 {
		bound = DefaultArchiveConcurrency
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Expander{
		router: router,
		sync:   syncPath,
		async:  asyncPath,
		bound:  bound,
		log:    log,
	}
}

// Extract expands the zip payload and extracts every member. The returned
// result carries the manifest; Partial is set when some members failed.
// Only a fully failed archive is an error.
func (e *Expander) Extract(ctx context.Context, doc *entity.Document, payload []byte) (*entity.ExtractionResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", doc.Filename, err)
	}

	var members []*zip.File
	for _, f := range zr.File {
		if skipMember(f) {
			continue
		}
		members = append(members, f)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyArchive, doc.Filename)
	}

	e.log.Info("expanding archive",
		zap.String("filename", doc.Filename),
		zap.Int("members", len(members)))

	entries := make([]entity.ManifestEntry, len(members))
	sem := make(chan struct{}, e.bound)
	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m *zip.File) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				entries[i] = entity.ManifestEntry{Filename: m.Name, Err: ctx.Err().Error()}
				return
			}
			start := time.Now()
			res, err := e.extractOne(ctx, m)
			entries[i] = entity.ManifestEntry{
				Filename: m.Name,
				Result:   res,
				Duration: time.Since(start),
			}
			metrics.RecordArchiveMember(err == nil)
			if err != nil {
				entries[i].Err = err.Error()
				e.log.Warn("archive member failed",
					zap.String("archive", doc.Filename),
					zap.String("member", m.Name),
					zap.Error(err))
			}
		}(i, m)
	}
	wg.Wait()

	manifest := &entity.ArchiveManifest{Entries: entries}
	if manifest.Succeeded() == 0 {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("archive %s: %w", doc.Filename, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s (%d members)", ErrAllMembersFailed, doc.Filename, len(members))
	}
	return mergeManifest(manifest), nil
}

// extractOne reads one member and routes it by its uncompressed size, the
// same way a standalone document of that size would be routed.
func (e *Expander) extractOne(ctx context.Context, m *zip.File) (*entity.ExtractionResult, error) {
	rc, err := m.Open()
	if err != nil {
		return nil, fmt.Errorf("open member: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read member: %w", err)
	}

	name := path.Base(m.Name)
	docType := constants.GuessFromFilename(name)
	if e.router.Choose(int64(m.UncompressedSize64)) == RouteSync {
		return e.sync.Extract(ctx, name, data, docType)
	}
	return e.async.extractMember(ctx, name, data, docType)
}

// skipMember filters out directories and hidden or bookkeeping entries
// (dotfiles, macOS resource forks).
func skipMember(f *zip.File) bool {
	if f.FileInfo().IsDir() {
		return true
	}
	name := f.Name
	if strings.Contains(name, "__MACOSX") {
		return true
	}
	return strings.HasPrefix(path.Base(name), ".")
}

// mergeManifest builds the parent result from the member outcomes. The
// parent carries totals; member detail stays in the manifest.
func mergeManifest(manifest *entity.ArchiveManifest) *entity.ExtractionResult {
	res := &entity.ExtractionResult{
		Manifest: manifest,
		Partial:  manifest.Failed() > 0,
	}
	first := true
	for _, entry := range manifest.Entries {
		if entry.Err != "" || entry.Result == nil {
			continue
		}
		res.PageCount += entry.Result.PageCount
		// The weakest member drives the parent confidence so low-quality
		// members are not hidden by good siblings.
		if first || entry.Result.Confidence < res.Confidence {
			res.Confidence = entry.Result.Confidence
			first = false
		}
	}
	return res
}
