package template

// documentSchema is the structural JSON-Schema for template files.
// It only checks shapes; per-field semantics (bbox validity, types) are
// tolerated at load and handled by consumers.
func documentSchema() map[string]any {
	field := map[string]any{
		"type": []any{"object", "null"},
		"properties": map[string]any{
			"id":    map[string]any{"type": "string"},
			"name":  map[string]any{"type": "string"},
			"label": map[string]any{"type": "string"},
			"desc":  map[string]any{"type": "string"},
			"type":  map[string]any{"type": "string"},
			"page":  map[string]any{"type": "integer", "minimum": 1},
			"bbox": map[string]any{
				"type": []any{"object", "null"},
				"properties": map[string]any{
					"px": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": []any{"number", "null"}},
					},
				},
			},
			"style":         map[string]any{"type": []any{"string", "object", "null"}},
			"validate":      map[string]any{"type": []any{"object", "null"}},
			"ocr":           map[string]any{"type": []any{"object", "null"}},
			"grid":          map[string]any{"type": []any{"object", "null"}},
			"fallback_from": map[string]any{"type": "string"},
			"office_only":   map[string]any{"type": "boolean"},
		},
	}
	fields := map[string]any{"type": "array", "items": field}
	metadata := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"image_filename":   map[string]any{"type": "string"},
			"reference_width":  map[string]any{"type": "integer", "minimum": 1},
			"reference_height": map[string]any{"type": "integer", "minimum": 1},
		},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":     map[string]any{"type": "string"},
			"fields":   fields,
			"metadata": metadata,
			"forms": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":     map[string]any{"type": "string"},
						"fields":   fields,
						"metadata": metadata,
					},
				},
			},
		},
		"anyOf": []any{
			map[string]any{"required": []any{"fields"}},
			map[string]any{"required": []any{"forms"}},
		},
	}
}
