package repository

import (
	"context"
	"fmt"
	"math"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	tableDocumentProofs   = "document_proofs"
	tableFormSubmissions  = "form_submissions"
	indexProofDocumentID  = "idx_document_proofs_document_uuid"
	indexSubmissionByTmpl = "idx_form_submissions_template_created"

	// postgres maps strings above its varchar limit to text
	textSize = math.MaxInt32
)

var (
	proofSchemaColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt64, Increment: true},
		{Name: "file_hash", Type: field.TypeString, Size: 64, Unique: true},
		{Name: "transaction_signature", Type: field.TypeString, Size: 128},
		{Name: "wallet_address", Type: field.TypeString, Size: 64},
		{Name: "document_uuid", Type: field.TypeString, Size: 36, Nullable: true},
		{Name: "explorer_link", Type: field.TypeString, Size: textSize},
		{Name: "created_at", Type: field.TypeTime},
	}
	proofsTable = &schema.Table{
		Name:       tableDocumentProofs,
		Columns:    proofSchemaColumns,
		PrimaryKey: []*schema.Column{proofSchemaColumns[0]},
		Indexes: []*schema.Index{
			{Name: indexProofDocumentID, Columns: []*schema.Column{proofSchemaColumns[4]}},
		},
	}

	submissionSchemaColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 36},
		{Name: "template_name", Type: field.TypeString, Size: textSize},
		{Name: "template_file", Type: field.TypeString, Size: textSize},
		{Name: "pdf_path", Type: field.TypeString, Size: textSize},
		{Name: "document_uuid", Type: field.TypeString, Size: 36},
		{Name: "pdf_hash", Type: field.TypeString, Size: 64},
		{Name: "engine", Type: field.TypeString, Size: 32},
		{Name: "extraction_json", Type: field.TypeString, Size: textSize, Nullable: true},
		{Name: "normalized_json", Type: field.TypeString, Size: textSize, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	submissionsTable = &schema.Table{
		Name:       tableFormSubmissions,
		Columns:    submissionSchemaColumns,
		PrimaryKey: []*schema.Column{submissionSchemaColumns[0]},
		Indexes: []*schema.Index{
			{Name: indexSubmissionByTmpl, Columns: []*schema.Column{submissionSchemaColumns[1], submissionSchemaColumns[9]}},
		},
	}

	tables = []*schema.Table{proofsTable, submissionsTable}
)

// Migrate creates or updates the proof and submission tables.
func (d *DB) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(d.Driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := m.Create(ctx, tables...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	d.logger.Info("db.migrate.ok", "tables", []string{tableDocumentProofs, tableFormSubmissions})
	return nil
}
