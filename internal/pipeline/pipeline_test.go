package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/form-filler/constants"
	"github.com/joseph-ayodele/form-filler/internal/cache"
	"github.com/joseph-ayodele/form-filler/internal/entity"
	"github.com/joseph-ayodele/form-filler/internal/template"
)

type stubVision struct {
	available bool
	out       entity.Extraction
	err       error
	calls     int
}

func (s *stubVision) Available() bool { return s.available }

func (s *stubVision) Extract(context.Context, [][]byte, *template.Template) (entity.Extraction, error) {
	s.calls++
	return s.out, s.err
}

type stubOCR struct {
	mu       sync.Mutex
	out      entity.Extraction
	warnings []string
	err      error
	paths    []string
	existed  bool
	calls    int
}

func (s *stubOCR) ExtractMany(_ context.Context, paths []string, _ *template.Template) (entity.Extraction, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.paths = paths
	s.existed = true
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			s.existed = false
		}
	}
	return s.out, s.warnings, s.err
}

func mustTemplate(t *testing.T, body string) *template.Template {
	t.Helper()
	tpl, err := template.Parse([]byte(body), "ward.json")
	require.NoError(t, err)
	return tpl
}

const wardTemplate = `{"fields": [
  {"id": "f1", "name": "Owner", "bbox": {"px": [10, 10, 100, 20]}, "validate": {"req": true}},
  {"id": "f2", "type": "email", "bbox": {"px": [10, 40, 100, 20]}}
]}`

var images = []Image{{Name: "front.png", Data: []byte("front")}, {Name: "back.heic", Data: []byte("back")}}

func visionResult() entity.Extraction {
	return entity.Extraction{"f1": {Value: "Ram", Confidence: 0.9}, "f2": {}}
}

func ocrResult() entity.Extraction {
	return entity.Extraction{"f1": {Value: "Rarn", Confidence: 0.8, Notes: "ocr_fallback"}}
}

func newStore(t *testing.T) cache.Store {
	return cache.NewFileStore(t.TempDir(), time.Hour, nil)
}

func TestExtract_VisionThenCached(t *testing.T) {
	tpl := mustTemplate(t, wardTemplate)
	vision := &stubVision{available: true, out: visionResult()}
	ocr := &stubOCR{}
	o := NewOrchestrator(nil, vision, ocr, newStore(t))

	res, err := o.Extract(context.Background(), images, tpl, false)
	require.NoError(t, err)
	assert.Equal(t, constants.EngineGemini, res.Engine)
	assert.Equal(t, visionResult(), res.Extraction)
	assert.Empty(t, res.Warnings)

	res, err = o.Extract(context.Background(), images, tpl, false)
	require.NoError(t, err)
	assert.Equal(t, constants.EngineCachedGemini, res.Engine)
	assert.Equal(t, visionResult(), res.Extraction)
	assert.Equal(t, 1, vision.calls)

	// image order does not change the cache key
	_, err = o.Extract(context.Background(), []Image{images[1], images[0]}, tpl, false)
	require.NoError(t, err)
	assert.Equal(t, 1, vision.calls)

	res, err = o.Extract(context.Background(), images, tpl, true)
	require.NoError(t, err)
	assert.Equal(t, constants.EngineGemini, res.Engine)
	assert.Equal(t, 2, vision.calls)
	assert.Zero(t, ocr.calls)
}

func TestExtract_FallsBackToOCR(t *testing.T) {
	tpl := mustTemplate(t, wardTemplate)
	vision := &stubVision{available: true, err: errors.New("quota exceeded")}
	ocr := &stubOCR{out: ocrResult(), warnings: []string{"ocr: language \"nep+eng\" partially installed, using \"eng\""}}
	o := NewOrchestrator(nil, vision, ocr, newStore(t))

	res, err := o.Extract(context.Background(), images, tpl, false)
	require.NoError(t, err)
	assert.Equal(t, constants.EngineOCR, res.Engine)
	assert.Equal(t, ocrResult(), res.Extraction)
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, "gemini failed: quota exceeded", res.Warnings[0])
	assert.Contains(t, res.Warnings[1], "partially installed")

	assert.True(t, ocr.existed, "staged files exist during OCR")
	require.Len(t, ocr.paths, 2)
	assert.Equal(t, "image_1.png", filepath.Base(ocr.paths[0]))
	assert.Equal(t, "image_2.heic", filepath.Base(ocr.paths[1]))
	for _, p := range ocr.paths {
		assert.NoFileExists(t, p)
	}

	// vision still failing: the cached OCR result is reused with the warning
	res, err = o.Extract(context.Background(), images, tpl, false)
	require.NoError(t, err)
	assert.Equal(t, constants.EngineCachedOCR, res.Engine)
	assert.Equal(t, []string{"gemini failed: quota exceeded"}, res.Warnings)
	assert.Equal(t, 2, vision.calls, "a cached OCR entry never suppresses a vision retry")
	assert.Equal(t, 1, ocr.calls)

	// vision recovers and replaces the OCR entry
	vision.err, vision.out = nil, visionResult()
	res, err = o.Extract(context.Background(), images, tpl, false)
	require.NoError(t, err)
	assert.Equal(t, constants.EngineGemini, res.Engine)
	res, err = o.Extract(context.Background(), images, tpl, false)
	require.NoError(t, err)
	assert.Equal(t, constants.EngineCachedGemini, res.Engine)
}

func TestExtract_VisionUnavailable(t *testing.T) {
	tpl := mustTemplate(t, wardTemplate)
	vision := &stubVision{available: false}
	ocr := &stubOCR{out: ocrResult()}

	res, err := NewOrchestrator(nil, vision, ocr, nil).Extract(context.Background(), images, tpl, false)
	require.NoError(t, err)
	assert.Equal(t, constants.EngineOCR, res.Engine)
	assert.Zero(t, vision.calls)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "GEMINI_API_KEY")
}

func TestExtract_AllEnginesFail(t *testing.T) {
	tpl := mustTemplate(t, wardTemplate)
	vision := &stubVision{available: true, err: errors.New("503 service unavailable")}
	ocr := &stubOCR{err: errors.New("tesseract not found")}

	_, err := NewOrchestrator(nil, vision, ocr, newStore(t)).Extract(context.Background(), images, tpl, true)
	require.ErrorIs(t, err, ErrAllEnginesFailed)
	assert.Contains(t, err.Error(), "gemini failed: 503 service unavailable; ocr failed: tesseract not found")

	assert.True(t, ocr.existed, "staged files exist during OCR")
	require.NotEmpty(t, ocr.paths)
	for _, p := range ocr.paths {
		assert.NoFileExists(t, p)
	}
	assert.NoDirExists(t, filepath.Dir(ocr.paths[0]))
}

func TestExtract_NoImages(t *testing.T) {
	_, err := NewOrchestrator(nil, nil, nil, nil).Extract(context.Background(), nil, mustTemplate(t, wardTemplate), false)
	assert.Error(t, err)
}

func TestPrepareFields_Scenario(t *testing.T) {
	tpl := mustTemplate(t, wardTemplate)
	ext := entity.Extraction{
		"f1": {Value: "  Hello  ", Confidence: 0.95},
		"f2": {Value: "bad-email", Confidence: 0.5},
	}

	got := PrepareFields(ext, tpl)
	require.Len(t, got, 2)
	assert.Equal(t, "f1", got[0].ID)
	assert.Equal(t, "Owner", got[0].Name)
	assert.Equal(t, "Hello", got[0].Value)
	assert.Equal(t, 0.95, got[0].Confidence)
	assert.Equal(t, []float64{10, 10, 100, 20}, got[0].BBox)
	assert.Equal(t, 1, got[0].Page)

	// malformed but non-empty optional values are kept
	assert.Equal(t, "f2", got[1].ID)
	assert.Equal(t, "bad-email", got[1].Value)
}

func TestPrepareFields_Rules(t *testing.T) {
	tpl := mustTemplate(t, `{"fields": [
	  {"id": "owner", "bbox": {"px": [0, 0, 10, 10]}},
	  {"id": "submitter", "fallback_from": "owner", "bbox": {"px": [0, 20, 10, 10]}},
	  {"id": "required_empty", "bbox": {"px": [0, 40, 10, 10]}, "validate": {"req": true}},
	  {"id": "optional_empty", "bbox": {"px": [0, 60, 10, 10]}},
	  {"id": "no_box", "bbox": {"px": [0, null, 10, 10]}},
	  {"id": "ward", "type": "box_grid", "grid": {"boxes": 2}, "bbox": {"px": [0, 80, 10, 10]}},
	  {"id": "phone", "type": "phone", "bbox": {"px": [0, 100, 10, 10]}}
	]}`)
	ext := entity.Extraction{
		"owner":          {Value: "राम थापा", Confidence: 1.4},
		"submitter":      {Value: " "},
		"optional_empty": {Value: "   "},
		"no_box":         {Value: "lost"},
		"ward":           {Value: "० ५"},
		"phone":          {Value: "+977 ९८४१२३४५६७", Confidence: -1},
	}
	before := ext.Clone()

	got := PrepareFields(ext, tpl)
	byID := map[string]int{}
	for i, f := range got {
		byID[f.ID] = i
	}
	assert.NotContains(t, byID, "optional_empty")
	assert.NotContains(t, byID, "no_box")

	owner := got[byID["owner"]]
	assert.Equal(t, 1.0, owner.Confidence)

	sub := got[byID["submitter"]]
	assert.Equal(t, "राम थापा", sub.Value)
	assert.Equal(t, 1.0, sub.Confidence)

	assert.Equal(t, "", got[byID["required_empty"]].Value)

	ward := got[byID["ward"]]
	assert.Equal(t, "05", ward.Value)
	assert.Equal(t, 2, ward.GridBoxes)

	phone := got[byID["phone"]]
	assert.Equal(t, "9841234567", phone.Value)
	assert.Equal(t, 0.0, phone.Confidence)

	assert.Equal(t, before, ext, "input must not be mutated")
}

func TestApplyFallbacks(t *testing.T) {
	tpl := mustTemplate(t, `{"fields": [
	  {"id": "owner", "bbox": {"px": [0, 0, 10, 10]}},
	  {"id": "submitter", "fallback_from": "owner", "bbox": {"px": [0, 20, 10, 10]}}
	]}`)

	got := ApplyFallbacks(entity.Extraction{"owner": {Value: " Ram ", Confidence: 0.7}}, tpl)
	assert.Equal(t, "Ram", got["submitter"].Value)
	assert.Equal(t, 0.7, got["submitter"].Confidence)
	assert.Equal(t, "Auto-filled from owner: Ram", got["submitter"].Notes)

	got = ApplyFallbacks(entity.Extraction{"owner": {Value: "Ram"}, "submitter": {Value: "Sita"}}, tpl)
	assert.Equal(t, "Sita", got["submitter"].Value)

	got = ApplyFallbacks(entity.Extraction{}, tpl)
	assert.NotContains(t, got, "submitter")
}
