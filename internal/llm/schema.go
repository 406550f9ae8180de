package llm

import "github.com/joseph-ayodele/form-filler/internal/template"

// BuildResponseSchema returns a JSON-Schema for the model reply: one optional
// property per template field, each either a string or a result object.
func BuildResponseSchema(tpl *template.Template) map[string]any {
	entry := map[string]any{
		"anyOf": []any{
			map[string]any{"type": "string"},
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"value":       map[string]any{"type": []any{"string", "null"}},
					"confidence":  map[string]any{"type": []any{"number", "string", "null"}},
					"score":       map[string]any{"type": []any{"number", "string", "null"}},
					"notes":       map[string]any{"type": []any{"string", "null"}},
					"explanation": map[string]any{"type": []any{"string", "null"}},
				},
			},
		},
	}
	props := make(map[string]any, len(tpl.Fields))
	for _, f := range tpl.Fields {
		props[f.ID] = entry
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}
