package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/entity"
)

type SubmissionFilter struct {
	TemplateName string // empty matches all
	Limit        int    // <= 0 means no limit
}

type SubmissionRepository interface {
	Create(ctx context.Context, s *entity.FormSubmission) error
	List(ctx context.Context, f SubmissionFilter) ([]entity.FormSubmission, error)
	Count(ctx context.Context) (int, error)
}

type submissionRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewSubmissionRepository(db *DB, logger *slog.Logger) SubmissionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &submissionRepo{db: db, logger: logger}
}

var submissionColumns = []string{
	"id", "template_name", "template_file", "pdf_path", "document_uuid", "pdf_hash",
	"engine", "extraction_json", "normalized_json", "created_at",
}

// Create inserts s, assigning an id and timestamp when unset.
func (r *submissionRepo) Create(ctx context.Context, s *entity.FormSubmission) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	q, args := r.db.builder().Insert(tableFormSubmissions).
		Columns(submissionColumns...).
		Values(
			s.ID.String(), s.TemplateName, s.TemplateFile, s.PDFPath, s.DocumentUUID, s.PDFHash,
			s.Engine, nullableJSON(s.ExtractionJSON), nullableJSON(s.NormalizedJSON), s.CreatedAt,
		).
		Query()
	if _, err := r.db.SQL().ExecContext(ctx, q, args...); err != nil {
		r.logger.Error("failed to create form submission", "template", s.TemplateName, "error", err)
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return nil
}

// List returns submissions newest first.
func (r *submissionRepo) List(ctx context.Context, f SubmissionFilter) ([]entity.FormSubmission, error) {
	b := r.db.builder()
	sel := b.Select(submissionColumns...).
		From(b.Table(tableFormSubmissions)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if f.TemplateName != "" {
		sel = sel.Where(entsql.EQ("template_name", f.TemplateName))
	}
	if f.Limit > 0 {
		sel = sel.Limit(f.Limit)
	}
	q, args := sel.Query()

	rows, err := r.db.SQL().QueryContext(ctx, q, args...)
	if err != nil {
		r.logger.Error("failed to list form submissions", "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.FormSubmission
	for rows.Next() {
		var (
			s             entity.FormSubmission
			id            string
			extraction    sql.NullString
			normalizedOut sql.NullString
		)
		if err := rows.Scan(&id, &s.TemplateName, &s.TemplateFile, &s.PDFPath, &s.DocumentUUID, &s.PDFHash,
			&s.Engine, &extraction, &normalizedOut, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("%w: submission id %q: %v", common.ErrDatabase, id, err)
		}
		if extraction.Valid {
			s.ExtractionJSON = []byte(extraction.String)
		}
		if normalizedOut.Valid {
			s.NormalizedJSON = []byte(normalizedOut.String)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *submissionRepo) Count(ctx context.Context) (int, error) {
	return count(ctx, r.db, tableFormSubmissions)
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
