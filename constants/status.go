package constants

// Engine names the extraction strategy that produced a record.
// Stored verbatim in cache entries and submissions.
type Engine string

const (
	EngineGemini       Engine = "gemini"
	EngineOCR          Engine = "ocr"
	EngineCachedGemini Engine = "cached_gemini"
	EngineCachedOCR    Engine = "cached_ocr"
)

// Cached returns the cache-hit variant of a primary engine.
func (e Engine) Cached() Engine {
	switch e {
	case EngineGemini:
		return EngineCachedGemini
	case EngineOCR:
		return EngineCachedOCR
	}
	return e
}

func (e Engine) String() string { return string(e) }
