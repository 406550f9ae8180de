package llm

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/form-filler/internal/entity"
	"github.com/joseph-ayodele/form-filler/internal/template"
)

var errNoJSONObject = errors.New("response contains no JSON object")

// ParseJSON decodes a model reply into an object. When the reply has text
// around the JSON, the outermost {...} span is tried.
func ParseJSON(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	err := json.Unmarshal([]byte(text), &out)
	if err == nil {
		return out, nil
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, errors.Join(err, errNoJSONObject)
	}
	var salvaged map[string]any
	if err2 := json.Unmarshal([]byte(text[start:end+1]), &salvaged); err2 != nil {
		return nil, err
	}
	return salvaged, nil
}

// NormalizeOutput shapes a parsed reply into an Extraction with one entry
// per template field. Entries may be objects {value, confidence|score,
// notes|explanation} or bare strings.
func NormalizeOutput(raw map[string]any, tpl *template.Template) entity.Extraction {
	out := make(entity.Extraction, len(tpl.Fields))
	for _, f := range tpl.Fields {
		var res entity.FieldResult
		switch entry := raw[f.ID].(type) {
		case map[string]any:
			res.Value, _ = entry["value"].(string)
			c, ok := entry["confidence"]
			if !ok {
				c = entry["score"]
			}
			res.Confidence = coerceConfidence(c)
			res.Notes, _ = entry["notes"].(string)
			if res.Notes == "" {
				res.Notes, _ = entry["explanation"].(string)
			}
		case string:
			res.Value = entry
		}
		res.Value = strings.TrimSpace(res.Value)
		out[f.ID] = res
	}
	return out
}

func coerceConfidence(v any) float64 {
	var c float64
	switch t := v.(type) {
	case float64:
		c = t
	case json.Number:
		c, _ = t.Float64()
	case string:
		c, _ = strconv.ParseFloat(strings.TrimSpace(t), 64)
	case bool:
		if t {
			c = 1
		}
	}
	return Clamp01(c)
}

// Clamp01 bounds c to [0, 1]; NaN becomes 0.
func Clamp01(c float64) float64 {
	switch {
	case c != c || c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// snippet truncates s for error messages.
// The cut falls on a rune boundary.
func snippet(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for j := range s {
		if i == n {
			return s[:j] + "...(truncated)"
		}
		i++
	}
	return s
}
