package pipeline

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/form-filler/internal/entity"
	"github.com/joseph-ayodele/form-filler/internal/llm"
	"github.com/joseph-ayodele/form-filler/internal/normalize"
	"github.com/joseph-ayodele/form-filler/internal/render"
	"github.com/joseph-ayodele/form-filler/internal/template"
)

// PrepareFields turns an extraction into render fields in template order.
// Empty fields with a fallback_from source copy the source value and
// confidence. Fields without a valid bbox are skipped; empty optional
// fields are dropped. The input map is not modified.
func PrepareFields(ext entity.Extraction, tpl *template.Template) []render.Field {
	filled := ApplyFallbacks(ext, tpl)

	out := make([]render.Field, 0, len(tpl.Fields))
	for _, f := range tpl.Fields {
		if !f.BBox.Valid() {
			continue
		}
		res := filled[f.ID]
		value := normalize.Value(f, res.Value)
		if value == "" && !f.Required() {
			continue
		}
		bbox := make([]float64, len(f.BBox.PX))
		for i, v := range f.BBox.PX {
			bbox[i] = *v
		}
		name := f.Name
		if name == "" {
			name = f.ID
		}
		rf := render.Field{
			ID:         f.ID,
			Name:       name,
			Value:      value,
			Confidence: llm.Clamp01(res.Confidence),
			BBox:       bbox,
			Page:       f.PageOrDefault(),
			Style:      f.Style,
			Type:       f.TypeOrDefault(),
		}
		if rf.Type == template.TypeBoxGrid {
			rf.GridBoxes = f.GridBoxes()
		}
		out = append(out, rf)
	}
	return out
}

// ApplyFallbacks returns a copy of ext where every empty field that names a
// fallback_from source carries the source's value and confidence.
func ApplyFallbacks(ext entity.Extraction, tpl *template.Template) entity.Extraction {
	out := ext.Clone()
	for _, f := range tpl.Fields {
		if f.FallbackFrom == "" || strings.TrimSpace(out[f.ID].Value) != "" {
			continue
		}
		src, ok := ext[f.FallbackFrom]
		v := strings.TrimSpace(src.Value)
		if !ok || v == "" {
			continue
		}
		out[f.ID] = entity.FieldResult{
			Value:       v,
			Confidence:  src.Confidence,
			Notes:       fmt.Sprintf("Auto-filled from %s: %s", f.FallbackFrom, v),
			SourceImage: src.SourceImage,
		}
	}
	return out
}
