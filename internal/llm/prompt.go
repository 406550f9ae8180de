package llm

import (
	"encoding/json"
	"strings"

	"github.com/joseph-ayodele/form-filler/internal/template"
)

type targetField struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Label        string `json:"label,omitempty"`
	Meaning      string `json:"meaning,omitempty"`
	Type         string `json:"type,omitempty"`
	LanguageHint string `json:"language_hint,omitempty"`
}

type promptDoc struct {
	Task          string            `json:"task"`
	OutputSchema  string            `json:"output_schema"`
	TargetFields  []targetField     `json:"target_fields"`
	NeverFill     []string          `json:"never_fill,omitempty"`
	Examples      map[string]string `json:"examples,omitempty"`
	WorkedExample workedExample     `json:"worked_example"`
}

type exampleMapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Output string `json:"output"`
}

type workedExample struct {
	Document string           `json:"document"`
	Mappings []exampleMapping `json:"mappings"`
}

// sampleExtraction shows the expected mapping on a citizenship certificate.
// Target ids are illustrative; the real ids come from target_fields.
var sampleExtraction = workedExample{
	Document: "citizenship certificate",
	Mappings: []exampleMapping{
		{Source: "नाम थर: हसन गाहा", Target: "owner_name", Output: `{"value": "हसन गाहा", "confidence": 0.95, "notes": "from 'नाम थर'"}`},
		{Source: "बाबुको नाम थर: धन राज गाहा", Target: "father_name", Output: `{"value": "धन राज गाहा", "confidence": 0.93, "notes": "from 'बाबुको नाम थर'"}`},
		{Source: "जिल्ला: स्याङ्जा, गाउँपालिका: कालीगण्डकी", Target: "owner_address", Output: `{"value": "कालीगण्डकी, स्याङ्जा", "confidence": 0.9, "notes": "combined address fields"}`},
		{Source: "जन्म मिति: २०६१-०४-१२", Target: "date", Output: `{"value": "२०६१-०४-१२", "confidence": 0.85, "notes": "digits kept as printed"}`},
		{Source: "(nothing printed)", Target: "land_parcel_no", Output: `{"value": "", "confidence": 0, "notes": "no matching source data"}`},
	},
}

var taskLines = []string{
	"You are extracting data from photographed or scanned Nepali government documents (citizenship certificates, forms, etc.) to fill the target form template.",
	"Use SEMANTIC MAPPING: understand the MEANING of each target field, not just its label.",
	"",
	"Semantic mapping rules:",
	"- A source 'नाम थर' (name) maps to owner-name and submitter-name style targets.",
	"- A source 'बाबुको नाम थर' maps to father/husband name targets.",
	"- District, municipality and ward fields combine into address targets.",
	"- A source 'जन्म मिति' may be used for date targets when nothing better matches.",
	"",
	"IMPORTANT:",
	"- Map fields by meaning, not by exact label match.",
	"- Read ALL legible text from every supplied image.",
	"- If a target has no matching source data, return an empty string with confidence 0.",
	"- Preserve Nepali Unicode text exactly as it appears.",
	"- Dates: keep the calendar shown on the document and write them as YYYY-MM-DD.",
	"- Never fill the fields listed in never_fill; they are assigned by the office.",
	"- Return ONLY a JSON object keyed by field id.",
}

// BuildPrompt renders the instruction document sent alongside the images.
func BuildPrompt(tpl *template.Template) (string, error) {
	doc := promptDoc{
		Task:          strings.Join(taskLines, "\n"),
		OutputSchema:  "{field_id: {value: string, confidence: float (0-1), notes: string}}",
		Examples:      map[string]string{},
		WorkedExample: sampleExtraction,
	}
	for _, f := range tpl.Fields {
		doc.TargetFields = append(doc.TargetFields, targetField{
			ID:           f.ID,
			Name:         f.DisplayName(),
			Label:        f.Label,
			Meaning:      f.Desc,
			Type:         string(f.TypeOrDefault()),
			LanguageHint: f.OCR.Lang,
		})
		if f.OfficeOnly {
			doc.NeverFill = append(doc.NeverFill, f.ID)
		}
		if f.FallbackFrom != "" {
			doc.Examples[f.ID] = "same value as " + f.FallbackFrom + " when the document has no separate entry"
		}
	}
	if len(doc.Examples) == 0 {
		doc.Examples = nil
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
