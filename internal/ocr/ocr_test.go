package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/form-filler/internal/template"
)

// stubRunner answers tesseract invocations by field id (the region PNG's base name).
// texts[id] is consumed one entry per call, repeating the last entry.
type stubRunner struct {
	mu       sync.Mutex
	langs    string
	langsErr error
	texts    map[string][]string
	tsv      string
	fail     map[string]bool
	calls    [][]string
	seen     map[string]int
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]string{name}, args...))
	if len(args) > 0 && args[0] == "--list-langs" {
		if s.langsErr != nil {
			return nil, []byte("boom"), s.langsErr
		}
		return []byte(s.langs), nil, nil
	}
	id := strings.TrimSuffix(filepath.Base(args[0]), ".png")
	if s.fail[id] {
		return nil, []byte("tesseract crashed"), errors.New("exit status 1")
	}
	if args[len(args)-1] == "tsv" {
		return []byte(s.tsv), nil, nil
	}
	if s.seen == nil {
		s.seen = map[string]int{}
	}
	seq := s.texts[id]
	if len(seq) == 0 {
		return nil, nil, nil
	}
	n := s.seen[id]
	s.seen[id]++
	if n >= len(seq) {
		n = len(seq) - 1
	}
	return []byte(seq[n] + "\n"), nil, nil
}

func (s *stubRunner) textCalls() [][]string {
	var out [][]string
	for _, c := range s.calls {
		if c[1] != "--list-langs" && c[len(c)-1] != "tsv" {
			out = append(out, c)
		}
	}
	return out
}

const allLangs = "List of available languages in \"/usr/share/tessdata/\" (3):\neng\nnep\nosd\n"

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.White)
		}
	}
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return p
}

func mustTemplate(t *testing.T, body string) *template.Template {
	t.Helper()
	tpl, err := template.Parse([]byte(body), "t.json")
	require.NoError(t, err)
	return tpl
}

const twoFieldTemplate = `{"fields": [
  {"id": "f1", "bbox": {"px": [0, 0, 100, 20]}},
  {"id": "f2", "bbox": {"px": [0, 40, 100, 20]}, "ocr": {"psm": 6}},
  {"id": "nobox", "bbox": {"px": [0, null, 10, 10]}},
  {"id": "outside", "bbox": {"px": [500, 500, 10, 10]}}
]}`

func TestExtractFields(t *testing.T) {
	img := writeImage(t, t.TempDir(), "page.png")
	r := &stubRunner{langs: allLangs, texts: map[string][]string{"f1": {"  Ram Thapa "}}}
	e := NewFieldEngineWithRunner(Config{}, r, nil)

	got, warns, err := e.ExtractFields(context.Background(), img, mustTemplate(t, twoFieldTemplate))
	require.NoError(t, err)
	assert.Empty(t, warns)

	require.Len(t, got, 2)
	assert.Equal(t, "Ram Thapa", got["f1"].Value)
	assert.Equal(t, TextConfidence, got["f1"].Confidence)
	assert.Equal(t, FallbackNotes, got["f1"].Notes)
	assert.Equal(t, "", got["f2"].Value)
	assert.Equal(t, 0.0, got["f2"].Confidence)

	calls := r.textCalls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, "tesseract", c[0])
		assert.Equal(t, "stdout", c[2])
		assert.Subset(t, c, []string{"-l", "nep+eng", "--oem", "3"})
	}
	psms := []string{calls[0][slices.Index(calls[0], "--psm")+1], calls[1][slices.Index(calls[1], "--psm")+1]}
	assert.ElementsMatch(t, []string{"7", "6"}, psms)
}

func TestExtractFields_LanguageSubstitution(t *testing.T) {
	tests := []struct {
		name     string
		langs    string
		langsErr error
		hint     string
		wantLang string
	}{
		{"partial", "eng\n", nil, "nep+eng", "eng"},
		{"none installed", allLangs, nil, "hin", "eng"},
		{"listing fails", "", errors.New("not found"), "nep+eng", "eng"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := writeImage(t, t.TempDir(), "page.png")
			r := &stubRunner{langs: tt.langs, langsErr: tt.langsErr, texts: map[string][]string{"f1": {"x"}}}
			e := NewFieldEngineWithRunner(Config{}, r, nil)
			tpl := mustTemplate(t, `{"fields": [{"id": "f1", "bbox": {"px": [0, 0, 50, 20]}, "ocr": {"lang": "`+tt.hint+`"}}]}`)

			_, warns, err := e.ExtractFields(context.Background(), img, tpl)
			require.NoError(t, err)
			require.Len(t, warns, 1)
			assert.Contains(t, warns[0], tt.hint)

			calls := r.textCalls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantLang, calls[0][slices.Index(calls[0], "-l")+1])
		})
	}
}

func TestExtractFields_TSVConfidence(t *testing.T) {
	img := writeImage(t, t.TempDir(), "page.png")
	tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\tRam\n" +
		"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t80\tThapa\n" +
		"4\t1\t1\t1\t1\t0\t0\t0\t10\t10\t-1\t\n"
	r := &stubRunner{langs: allLangs, tsv: tsv, texts: map[string][]string{"f1": {"Ram Thapa"}}}
	e := NewFieldEngineWithRunner(Config{EnableTSVConfidence: true}, r, nil)

	got, _, err := e.ExtractFields(context.Background(), img, mustTemplate(t, twoFieldTemplate))
	require.NoError(t, err)
	assert.InDelta(t, 0.85, got["f1"].Confidence, 1e-9)
	assert.Equal(t, 0.0, got["f2"].Confidence)
}

func TestExtractFields_Errors(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir, "page.png")

	t.Run("tesseract failure", func(t *testing.T) {
		r := &stubRunner{langs: allLangs, fail: map[string]bool{"f2": true}}
		_, _, err := NewFieldEngineWithRunner(Config{}, r, nil).ExtractFields(context.Background(), img, mustTemplate(t, twoFieldTemplate))
		assert.ErrorIs(t, err, ErrOCRFallback)
	})
	t.Run("no usable boxes", func(t *testing.T) {
		r := &stubRunner{langs: allLangs}
		tpl := mustTemplate(t, `{"fields": [{"id": "a", "bbox": {"px": [1, 2, 3]}}]}`)
		_, _, err := NewFieldEngineWithRunner(Config{}, r, nil).ExtractFields(context.Background(), img, tpl)
		assert.ErrorIs(t, err, ErrNoFields)
	})
	t.Run("unreadable image", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.png")
		require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o644))
		_, _, err := NewFieldEngineWithRunner(Config{}, &stubRunner{}, nil).ExtractFields(context.Background(), bad, mustTemplate(t, twoFieldTemplate))
		assert.ErrorIs(t, err, ErrOCRFallback)
	})
	t.Run("heic without converter", func(t *testing.T) {
		heic := filepath.Join(dir, "photo.heic")
		require.NoError(t, os.WriteFile(heic, []byte("heic"), 0o644))
		_, _, err := NewFieldEngineWithRunner(Config{HeicConverter: "none"}, &stubRunner{}, nil).ExtractFields(context.Background(), heic, mustTemplate(t, twoFieldTemplate))
		assert.ErrorIs(t, err, ErrOCRFallback)
	})
}

func TestExtractMany_MergesByConfidence(t *testing.T) {
	dir := t.TempDir()
	first := writeImage(t, dir, "a.png")
	second := writeImage(t, dir, "b.png")
	missing := filepath.Join(dir, "missing.png")

	// f1 empty on the first image, f2 read on both
	r := &stubRunner{langs: allLangs, texts: map[string][]string{
		"f1": {"", "Sita"},
		"f2": {"first", "second"},
	}}
	e := NewFieldEngineWithRunner(Config{}, r, nil)

	got, _, err := e.ExtractMany(context.Background(), []string{first, missing, second}, mustTemplate(t, twoFieldTemplate))
	require.NoError(t, err)

	assert.Equal(t, "Sita", got["f1"].Value)
	assert.Equal(t, 3, got["f1"].SourceImage)
	assert.Equal(t, "first", got["f2"].Value)
	assert.Equal(t, 1, got["f2"].SourceImage)
}

func TestExtractMany_StartEventsLogAtInfo(t *testing.T) {
	img := writeImage(t, t.TempDir(), "page.png")
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := &stubRunner{langs: allLangs, texts: map[string][]string{"f1": {"Ram"}, "f2": {"12"}}}

	_, _, err := NewFieldEngineWithRunner(Config{}, r, logger).ExtractMany(context.Background(), []string{img}, mustTemplate(t, twoFieldTemplate))
	require.NoError(t, err)

	levels := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec struct {
			Level string `json:"level"`
			Msg   string `json:"msg"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		levels[rec.Msg] = rec.Level
	}
	assert.Equal(t, "INFO", levels["ocr.many.start"])
	assert.Equal(t, "INFO", levels["ocr.extract.start"])
}

func TestExtractMany_AllFail(t *testing.T) {
	dir := t.TempDir()
	_, _, err := NewFieldEngineWithRunner(Config{}, &stubRunner{}, nil).
		ExtractMany(context.Background(), []string{filepath.Join(dir, "x.png"), filepath.Join(dir, "y.png")}, mustTemplate(t, twoFieldTemplate))
	assert.ErrorIs(t, err, ErrAllImagesFailed)
	assert.ErrorIs(t, err, ErrOCRFallback)
}

func TestMeanTSVConfidence(t *testing.T) {
	assert.Equal(t, 0.0, meanTSVConfidence(""))
	assert.Equal(t, 0.0, meanTSVConfidence("header\nshort\trow\n"))
}
