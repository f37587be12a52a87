package export

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/finsight-labs/extractd/constants"
	"github.com/finsight-labs/extractd/internal/entity"
	"github.com/finsight-labs/extractd/internal/repository"
)

// listLimit caps one export. Batch runs stay far below this.
const listLimit = 10000

// Service is a tiny façade over the document store that produces XLSX bytes
// for exports.
type Service struct {
	docs repository.DocumentStore
	log  *zap.Logger
}

func NewService(docs repository.DocumentStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{docs: docs, log: log}
}

// ExportDocumentsXLSX returns an XLSX workbook for the profile's settled
// documents within the upload date window.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all settled documents for the profile.
func (s *Service) ExportDocumentsXLSX(ctx context.Context, profileID uuid.UUID, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	// Normalize dates (date-only, UTC).
	var fromDate, toDate *time.Time
	if from != nil {
		f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		fromDate = &f
	}
	if to != nil {
		t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		today := time.Now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}

	docs, err := s.listSettled(ctx, profileID, fromDate, toDate)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	const sheet = "Documents"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Uploaded",
		"Filename",
		"Document Type",
		"Status",
		"Pages",
		"Confidence",
		"Needs Review",
		"Flags",
		"Key Fields",
		"Source Path",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	var memberRows []memberRow
	for _, d := range docs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, d.UploadedAt.Format("2006-01-02"))
		write(2, d.Filename)
		write(3, string(d.DocType))
		write(4, string(d.Status))

		if res := d.Result; res != nil {
			write(5, res.PageCount)
			write(6, fmt.Sprintf("%.2f", res.Confidence))
			write(8, flagsOf(res))
			write(9, truncate(keyFieldSummary(res), 140))
			memberRows = append(memberRows, manifestRows(d.Filename, res)...)
		} else if d.LastError != nil {
			write(8, truncate(*d.LastError, 140))
		}
		write(7, yesNo(d.NeedsReview))
		write(10, d.SourcePath)

		row++
	}

	// Widen a few columns.
	_ = f.SetColWidth(sheet, "A", "A", 12) // date
	_ = f.SetColWidth(sheet, "B", "B", 32) // filename
	_ = f.SetColWidth(sheet, "C", "D", 16) // type, status
	_ = f.SetColWidth(sheet, "E", "G", 12) // pages, confidence, review
	_ = f.SetColWidth(sheet, "H", "H", 28) // flags
	_ = f.SetColWidth(sheet, "I", "I", 48) // key fields
	_ = f.SetColWidth(sheet, "J", "J", 60) // path

	if len(memberRows) > 0 {
		if err := writeMemberSheet(f, memberRows); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.log.Info("export ok",
		zap.String("profile_id", profileID.String()),
		zap.Int("rows", len(docs)),
		zap.Int("member_rows", len(memberRows)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return buf.Bytes(), nil
}

// listSettled collects extracted and failed documents for the profile within
// the window, oldest upload first.
func (s *Service) listSettled(ctx context.Context, profileID uuid.UUID, fromDate, toDate *time.Time) ([]*entity.Document, error) {
	var docs []*entity.Document
	for _, status := range []constants.DocumentStatus{constants.DocStatusExtracted, constants.DocStatusFailed} {
		batch, err := s.docs.ListByStatus(ctx, status, listLimit)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", status, err)
		}
		docs = append(docs, batch...)
	}

	filtered := docs[:0]
	for _, d := range docs {
		if d.ProfileID != profileID {
			continue
		}
		day := time.Date(d.UploadedAt.Year(), d.UploadedAt.Month(), d.UploadedAt.Day(), 0, 0, 0, 0, time.UTC)
		if fromDate != nil && day.Before(*fromDate) {
			continue
		}
		if toDate != nil && day.After(*toDate) {
			continue
		}
		filtered = append(filtered, d)
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].UploadedAt.Before(filtered[j].UploadedAt)
	})
	return filtered, nil
}

type memberRow struct {
	parent   string
	filename string
	outcome  string
	pages    int
	conf     float32
	errText  string
}

func manifestRows(parent string, res *entity.ExtractionResult) []memberRow {
	if res.Manifest == nil {
		return nil
	}
	rows := make([]memberRow, 0, len(res.Manifest.Entries))
	for _, e := range res.Manifest.Entries {
		r := memberRow{parent: parent, filename: e.Filename}
		if e.Result != nil {
			r.outcome = "ok"
			r.pages = e.Result.PageCount
			r.conf = e.Result.Confidence
		} else {
			r.outcome = "failed"
			r.errText = e.Err
		}
		rows = append(rows, r)
	}
	return rows
}

func writeMemberSheet(f *excelize.File, rows []memberRow) error {
	const sheet = "Archive Members"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := []string{"Archive", "Member", "Outcome", "Pages", "Confidence", "Error"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, r := range rows {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, r.parent)
		write(2, r.filename)
		write(3, r.outcome)
		if r.outcome == "ok" {
			write(4, r.pages)
			write(5, fmt.Sprintf("%.2f", r.conf))
		}
		write(6, truncate(r.errText, 140))
	}

	_ = f.SetColWidth(sheet, "A", "B", 32)
	_ = f.SetColWidth(sheet, "C", "E", 12)
	_ = f.SetColWidth(sheet, "F", "F", 48)
	return nil
}

// flagsOf renders the result's quality flags for one cell.
func flagsOf(res *entity.ExtractionResult) string {
	var flags []string
	if res.Degraded {
		flags = append(flags, "degraded")
	}
	if res.Partial {
		flags = append(flags, "partial")
	}
	return strings.Join(flags, ", ")
}

// keyFieldSummary joins the strongest labeled fields for a summary cell.
func keyFieldSummary(res *entity.ExtractionResult) string {
	kvs := res.KeyValues
	if len(kvs) == 0 {
		return ""
	}
	const maxFields = 4
	parts := make([]string, 0, maxFields)
	for _, kv := range kvs {
		parts = append(parts, fmt.Sprintf("%s=%s", kv.Key, kv.Value))
		if len(parts) == maxFields {
			break
		}
	}
	return strings.Join(parts, "; ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
