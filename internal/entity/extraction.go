package entity

// FieldResult is one field's extracted value.
type FieldResult struct {
	Value       string  `json:"value"`
	Confidence  float64 `json:"confidence"`
	Notes       string  `json:"notes"`
	SourceImage int     `json:"source_image,omitempty"`
}

// Extraction maps field id to its result.
type Extraction map[string]FieldResult

// Clone returns a shallow copy safe to mutate.
func (e Extraction) Clone() Extraction {
	out := make(Extraction, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}
