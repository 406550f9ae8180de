package render

import (
	"github.com/joseph-ayodele/form-filler/internal/template"
)

// Field is a normalized value ready to be drawn. BBox is in template
// reference pixels.
type Field struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Value      string             `json:"value"`
	Confidence float64            `json:"confidence"`
	BBox       []float64          `json:"bbox_px"`
	Page       int                `json:"page"`
	Style      template.Style     `json:"style"`
	Type       template.FieldType `json:"type"`
	GridBoxes  int                `json:"grid_boxes,omitempty"`
}

func (f Field) box() (x, y, w, h int, ok bool) {
	if len(f.BBox) != 4 {
		return 0, 0, 0, 0, false
	}
	return int(f.BBox[0]), int(f.BBox[1]), int(f.BBox[2]), int(f.BBox[3]), true
}

func (f Field) boxes() int {
	if f.GridBoxes > 0 {
		return f.GridBoxes
	}
	return template.DefaultGridBoxes
}
