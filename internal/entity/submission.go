package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FormSubmission records one completed extract-and-render run.
type FormSubmission struct {
	ID             uuid.UUID       `json:"id"`
	TemplateName   string          `json:"template_name"`
	TemplateFile   string          `json:"template_file"`
	PDFPath        string          `json:"pdf_path"`
	DocumentUUID   string          `json:"document_uuid"`
	PDFHash        string          `json:"pdf_hash"`
	Engine         string          `json:"engine"`
	ExtractionJSON json.RawMessage `json:"extraction_json,omitempty"`
	NormalizedJSON json.RawMessage `json:"normalized_json,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
