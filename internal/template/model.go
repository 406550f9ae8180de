package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FieldType is the declared field kind. Unknown values behave as free text.
type FieldType string

const (
	TypeTextLine FieldType = "text_line"
	TypeDate     FieldType = "date"
	TypeTextDate FieldType = "text_date"
	TypePhone    FieldType = "phone"
	TypeEmail    FieldType = "email"
	TypeNumber   FieldType = "number"
	TypeBoxGrid  FieldType = "box_grid"
)

// Default reference resolution that bounding boxes are authored against.
const (
	DefaultReferenceWidth  = 847
	DefaultReferenceHeight = 1197
	DefaultGridBoxes       = 5
	DefaultPSM             = 7
)

// BBox is a bounding box in template-reference pixel space: [x, y, w, h].
// Components may be null in the source JSON, which makes the box invalid.
type BBox struct {
	PX []*float64 `json:"px"`
}

// Rect is an integer rectangle.
type Rect struct {
	X, Y, W, H int
}

// Valid reports whether the box has exactly four non-null components.
func (b BBox) Valid() bool {
	if len(b.PX) != 4 {
		return false
	}
	for _, v := range b.PX {
		if v == nil {
			return false
		}
	}
	return true
}

// Rect truncates the components to ints. ok is false for an invalid box.
func (b BBox) Rect() (Rect, bool) {
	if !b.Valid() {
		return Rect{}, false
	}
	return Rect{X: int(*b.PX[0]), Y: int(*b.PX[1]), W: int(*b.PX[2]), H: int(*b.PX[3])}, true
}

// Style accepts either "uppercase"/"normal" or {"uppercase": true}.
type Style struct {
	Uppercase bool
}

func (s *Style) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = Style{}
		return nil
	}
	switch b[0] {
	case '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s.Uppercase = strings.EqualFold(strings.TrimSpace(str), "uppercase")
		return nil
	case '{':
		var obj struct {
			Uppercase bool `json:"uppercase"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		s.Uppercase = obj.Uppercase
		return nil
	}
	return fmt.Errorf("style: unsupported json %s", string(b))
}

func (s Style) MarshalJSON() ([]byte, error) {
	if s.Uppercase {
		return []byte(`"uppercase"`), nil
	}
	return []byte(`"normal"`), nil
}

type Validation struct {
	Req  bool   `json:"req"`
	Type string `json:"type,omitempty"`
}

type OCRHints struct {
	Lang string `json:"lang,omitempty"`
	PSM  int    `json:"psm,omitempty"`
}

type Grid struct {
	Boxes int `json:"boxes,omitempty"`
}

// Field is one template field definition. Immutable after load.
type Field struct {
	ID           string     `json:"id"`
	Name         string     `json:"name,omitempty"`
	Label        string     `json:"label,omitempty"`
	Desc         string     `json:"desc,omitempty"`
	Type         FieldType  `json:"type,omitempty"`
	BBox         BBox       `json:"bbox"`
	Page         int        `json:"page,omitempty"`
	Style        Style      `json:"style"`
	Validate     Validation `json:"validate"`
	OCR          OCRHints   `json:"ocr"`
	Grid         Grid       `json:"grid"`
	FallbackFrom string     `json:"fallback_from,omitempty"`
	OfficeOnly   bool       `json:"office_only,omitempty"`
}

// DisplayName prefers name, then label, then id.
func (f Field) DisplayName() string {
	switch {
	case f.Name != "":
		return f.Name
	case f.Label != "":
		return f.Label
	}
	return f.ID
}

func (f Field) Required() bool { return f.Validate.Req }

// PageOrDefault returns the 1-based page, defaulting to 1.
func (f Field) PageOrDefault() int {
	if f.Page <= 0 {
		return 1
	}
	return f.Page
}

// TypeOrDefault returns the declared type, defaulting to text_line.
func (f Field) TypeOrDefault() FieldType {
	if f.Type == "" {
		return TypeTextLine
	}
	return f.Type
}

// GridBoxes returns the configured digit-grid box count (default 5).
func (f Field) GridBoxes() int {
	if f.Grid.Boxes <= 0 {
		return DefaultGridBoxes
	}
	return f.Grid.Boxes
}

// PSMOrDefault returns the tesseract page segmentation mode hint (default 7, single line).
func (f Field) PSMOrDefault() int {
	if f.OCR.PSM <= 0 {
		return DefaultPSM
	}
	return f.OCR.PSM
}

type Metadata struct {
	ImageFilename   string `json:"image_filename,omitempty"`
	ReferenceWidth  int    `json:"reference_width,omitempty"`
	ReferenceHeight int    `json:"reference_height,omitempty"`
}

// Template is a loaded, validated document-type definition.
type Template struct {
	Name     string
	File     string
	Fields   []Field
	Metadata Metadata

	hash string
}

// ReferenceSize returns the authoring resolution for bounding boxes.
func (t *Template) ReferenceSize() (int, int) {
	w, h := t.Metadata.ReferenceWidth, t.Metadata.ReferenceHeight
	if w <= 0 {
		w = DefaultReferenceWidth
	}
	if h <= 0 {
		h = DefaultReferenceHeight
	}
	return w, h
}

// Hash is the first 16 hex chars of the sha256 of the template's canonical JSON.
func (t *Template) Hash() string { return t.hash }

// Field returns the field with id.
func (t *Template) Field(id string) (Field, bool) {
	for _, f := range t.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// IDs returns field ids in declaration order.
func (t *Template) IDs() []string {
	out := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		out = append(out, f.ID)
	}
	return out
}
