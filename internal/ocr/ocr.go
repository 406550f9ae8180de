package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/joseph-ayodele/form-filler/constants"
	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/entity"
	"github.com/joseph-ayodele/form-filler/internal/imaging"
	"github.com/joseph-ayodele/form-filler/internal/metrics"
	"github.com/joseph-ayodele/form-filler/internal/template"
)

var (
	ErrOCRFallback     = errors.New("ocr fallback failed")
	ErrNoFields        = fmt.Errorf("%w: no fields extracted", ErrOCRFallback)
	ErrAllImagesFailed = fmt.Errorf("%w: all images failed", ErrOCRFallback)
)

const (
	DefaultLang     = "nep+eng"
	FallbackLang    = "eng"
	TextConfidence  = 0.8
	FallbackNotes   = "ocr_fallback"
	defaultHeicConv = "magick"
)

type Config struct {
	Tesseract           string // binary name or absolute path; if empty -> "tesseract"
	TessdataDir         string
	DefaultLang         string // default "nep+eng"
	EnableTSVConfidence bool
	Concurrency         int64 // tesseract processes per image; default 1
	FixedThreshold      bool  // skip blur + adaptive threshold
	HeicConverter       string
}

// FieldEngine reads template field regions out of page images with tesseract.
type FieldEngine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
	sem    *semaphore.Weighted

	langsOnce sync.Once
	langs     map[string]struct{}
	langsErr  error
}

func NewFieldEngine(cfg Config, logger *slog.Logger) *FieldEngine {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ocr")
	return NewFieldEngineWithRunner(cfg, ExecRunner{Logger: logger}, logger)
}

// NewFieldEngineWithRunner is NewFieldEngine with an explicit command runner.
func NewFieldEngineWithRunner(cfg Config, r Runner, logger *slog.Logger) *FieldEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.DefaultLang == "" {
		cfg.DefaultLang = DefaultLang
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.HeicConverter == "" {
		cfg.HeicConverter = defaultHeicConv
	}
	return &FieldEngine{
		cfg:    cfg,
		runner: r,
		logger: logger,
		sem:    semaphore.NewWeighted(cfg.Concurrency),
	}
}

// ExtractFields reads every field with a valid bbox from one image.
// Warnings carry language substitutions.
func (e *FieldEngine) ExtractFields(ctx context.Context, path string, tpl *template.Template) (entity.Extraction, []string, error) {
	start := time.Now()
	reqID := common.RequestIDFromContext(ctx)
	e.logger.Info("ocr.extract.start", "req_id", reqID, "path", path, "template", tpl.Name)

	var warns []string
	if constants.IsHEICExt(filepath.Ext(path)) {
		out, w, cleanup, err := convertHEICtoPNG(ctx, e.runner, e.cfg.HeicConverter, path)
		if cleanup != nil {
			defer cleanup()
		}
		warns = append(warns, w...)
		if err != nil {
			return nil, warns, fmt.Errorf("%w: %v", ErrOCRFallback, err)
		}
		path = out
	}

	img, err := imaging.DecodeFile(path)
	if err != nil {
		return nil, warns, fmt.Errorf("%w: cannot read image %s: %v", ErrOCRFallback, path, err)
	}

	tmpDir, err := os.MkdirTemp("", "formfill-ocr-*")
	if err != nil {
		return nil, warns, err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	var (
		mu        sync.Mutex
		extracted = make(entity.Extraction)
		seenWarn  = make(map[string]struct{})
	)
	addWarn := func(w string) {
		if w == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if _, ok := seenWarn[w]; ok {
			return
		}
		seenWarn[w] = struct{}{}
		warns = append(warns, w)
		e.logger.Warn("ocr.lang.substituted", "req_id", reqID, "detail", w)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range tpl.Fields {
		r, ok := f.BBox.Rect()
		if !ok {
			continue
		}
		region, ok := imaging.Crop(img, image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H).Add(img.Bounds().Min))
		if !ok {
			continue
		}
		if err := e.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer e.sem.Release(1)
			lang, w := e.resolveLang(gctx, f.OCR.Lang)
			addWarn(w)
			res, err := e.readRegion(gctx, tmpDir, f, region, lang)
			if err != nil {
				return err
			}
			mu.Lock()
			extracted[f.ID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, warns, fmt.Errorf("%w: %v", ErrOCRFallback, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, warns, err
	}
	if len(extracted) == 0 {
		return nil, warns, ErrNoFields
	}

	e.logger.Info("ocr.extract.ok",
		"req_id", reqID,
		"path", path,
		"fields", len(extracted),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return extracted, warns, nil
}

func (e *FieldEngine) readRegion(ctx context.Context, dir string, f template.Field, region image.Image, lang string) (entity.FieldResult, error) {
	bin := imaging.Binarize(region, !e.cfg.FixedThreshold)
	png := filepath.Join(dir, f.ID+".png")
	if err := imaging.WritePNG(png, bin); err != nil {
		return entity.FieldResult{}, fmt.Errorf("field %s: %w", f.ID, err)
	}

	text, err := e.tesseractText(ctx, png, lang, f.PSMOrDefault())
	if err != nil {
		return entity.FieldResult{}, fmt.Errorf("field %s: %w", f.ID, err)
	}

	conf := 0.0
	if text != "" {
		conf = TextConfidence
		if e.cfg.EnableTSVConfidence {
			if c, err := e.tesseractTSVConfidence(ctx, png, lang, f.PSMOrDefault()); err != nil {
				e.logger.Debug("ocr.tsv.failed", "field_id", f.ID, "error", err)
			} else if c > 0 {
				conf = c
			}
		}
		metrics.IncOCRField("text")
	} else {
		metrics.IncOCRField("empty")
	}

	e.logger.Debug("ocr.field.ok", "field_id", f.ID, "lang", lang, "chars", len(text), "confidence", conf)
	return entity.FieldResult{Value: text, Confidence: conf, Notes: FallbackNotes}, nil
}

// ExtractMany runs ExtractFields on every image and keeps, per field, the
// entry with strictly higher confidence. Ties keep the earliest image.
// Entries carry the 1-based index of the image they came from.
func (e *FieldEngine) ExtractMany(ctx context.Context, paths []string, tpl *template.Template) (entity.Extraction, []string, error) {
	reqID := common.RequestIDFromContext(ctx)
	e.logger.Info("ocr.many.start", "req_id", reqID, "images", len(paths))

	merged := make(entity.Extraction)
	var (
		warns     []string
		errs      []error
		succeeded int
	)
	for i, p := range paths {
		ext, w, err := e.ExtractFields(ctx, p, tpl)
		warns = appendUnique(warns, w...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, warns, ctxErr
			}
			e.logger.Warn("ocr.image.failed", "req_id", reqID, "image", i+1, "path", p, "error", err)
			errs = append(errs, fmt.Errorf("image %d: %w", i+1, err))
			continue
		}
		succeeded++
		for id, res := range ext {
			res.SourceImage = i + 1
			cur, ok := merged[id]
			if !ok || res.Confidence > cur.Confidence {
				merged[id] = res
			}
		}
	}
	if succeeded == 0 {
		return nil, warns, fmt.Errorf("%w: %v", ErrAllImagesFailed, errors.Join(errs...))
	}

	e.logger.Info("ocr.many.ok", "req_id", reqID, "fields", len(merged), "images_ok", succeeded)
	return merged, warns, nil
}

func appendUnique(dst []string, src ...string) []string {
	for _, s := range src {
		if !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}
