package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/entity"
	"github.com/joseph-ayodele/form-filler/internal/repository"
)

const (
	SubmissionsSheet = "Submissions"
	FieldsSheet      = "Fields"
)

// Service renders stored submissions into an XLSX workbook.
type Service struct {
	submissions repository.SubmissionRepository
	proofs      repository.ProofRepository
	logger      *slog.Logger
}

// NewService builds an export service. proofs may be nil, in which case the
// proof columns stay empty.
func NewService(submissions repository.SubmissionRepository, proofs repository.ProofRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{submissions: submissions, proofs: proofs, logger: logger.With("component", "export")}
}

type exportedField struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ExportSubmissionsXLSX returns a workbook with one row per submission and,
// on a second sheet, one row per rendered field.
func (s *Service) ExportSubmissionsXLSX(ctx context.Context, filter repository.SubmissionFilter) ([]byte, error) {
	start := time.Now()

	subs, err := s.submissions.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// the default "Sheet1" is renamed so the workbook opens on submissions
	if err := f.SetSheetName(f.GetSheetName(0), SubmissionsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(FieldsSheet); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	writeRow(f, SubmissionsSheet, 1, []any{
		"Created At",
		"Template",
		"Engine",
		"Document ID",
		"PDF SHA-256",
		"PDF Path",
		"Proof Signature",
		"Explorer Link",
	})
	writeRow(f, FieldsSheet, 1, []any{"Document ID", "Template", "Field ID", "Field", "Value", "Confidence"})

	fieldRow := 2
	for i, sub := range subs {
		sig, link := s.proofFor(ctx, sub)
		writeRow(f, SubmissionsSheet, i+2, []any{
			sub.CreatedAt.UTC().Format(time.RFC3339),
			sub.TemplateName,
			sub.Engine,
			sub.DocumentUUID,
			sub.PDFHash,
			sub.PDFPath,
			sig,
			link,
		})

		for _, fld := range decodeFields(sub.NormalizedJSON) {
			writeRow(f, FieldsSheet, fieldRow, []any{
				sub.DocumentUUID,
				sub.TemplateName,
				fld.ID,
				fld.Name,
				truncate(fld.Value, 500),
				fld.Confidence,
			})
			fieldRow++
		}
	}

	_ = f.SetColWidth(SubmissionsSheet, "A", "A", 22) // created
	_ = f.SetColWidth(SubmissionsSheet, "B", "C", 18)
	_ = f.SetColWidth(SubmissionsSheet, "D", "D", 38) // uuid
	_ = f.SetColWidth(SubmissionsSheet, "E", "E", 66) // sha256
	_ = f.SetColWidth(SubmissionsSheet, "F", "F", 48)
	_ = f.SetColWidth(SubmissionsSheet, "G", "H", 60)
	_ = f.SetColWidth(FieldsSheet, "A", "A", 38)
	_ = f.SetColWidth(FieldsSheet, "B", "D", 20)
	_ = f.SetColWidth(FieldsSheet, "E", "E", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"template", filter.TemplateName,
		"rows", len(subs),
		"fields", fieldRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) proofFor(ctx context.Context, sub entity.FormSubmission) (string, string) {
	if s.proofs == nil || sub.PDFHash == "" {
		return "", ""
	}
	p, err := s.proofs.GetByHash(ctx, sub.PDFHash)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			s.logger.Warn("export.proof.lookup_failed", "pdf_hash", sub.PDFHash, "error", err)
		}
		return "", ""
	}
	return p.TransactionSignature, p.ExplorerLink
}

// decodeFields reads the rendered field list stored with a submission.
// Unreadable payloads yield no rows.
func decodeFields(raw json.RawMessage) []exportedField {
	if len(raw) == 0 {
		return nil
	}
	var out []exportedField
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
