// Package pipeline chooses between the vision and OCR engines, consults the
// extraction cache and prepares results for rendering.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/form-filler/constants"
	"github.com/joseph-ayodele/form-filler/internal/cache"
	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/entity"
	"github.com/joseph-ayodele/form-filler/internal/metrics"
	"github.com/joseph-ayodele/form-filler/internal/template"
)

var ErrAllEnginesFailed = errors.New("all extraction methods failed")

// VisionExtractor reads every template field from whole-document images.
type VisionExtractor interface {
	Available() bool
	Extract(ctx context.Context, images [][]byte, tpl *template.Template) (entity.Extraction, error)
}

// OCRExtractor reads template fields from image files on disk.
type OCRExtractor interface {
	ExtractMany(ctx context.Context, paths []string, tpl *template.Template) (entity.Extraction, []string, error)
}

// Image is one uploaded page. Name is used only for its extension.
type Image struct {
	Name string
	Data []byte
}

type Result struct {
	Extraction entity.Extraction
	Engine     constants.Engine
	Warnings   []string
}

// Orchestrator coordinates cache lookups, vision extraction and the OCR fallback.
type Orchestrator struct {
	Logger *slog.Logger
	Vision VisionExtractor
	OCR    OCRExtractor
	Cache  cache.Store // optional
}

func NewOrchestrator(logger *slog.Logger, vision VisionExtractor, ocr OCRExtractor, store cache.Store) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Logger: logger.With("component", "pipeline"),
		Vision: vision,
		OCR:    ocr,
		Cache:  store,
	}
}

// Extract prefers a cached or fresh vision result and falls back to a
// cached or fresh OCR result. forceRefresh skips both cache reads.
func (o *Orchestrator) Extract(ctx context.Context, images []Image, tpl *template.Template, forceRefresh bool) (Result, error) {
	ctx, reqID := common.EnsureRequestID(ctx)
	start := time.Now()
	if len(images) == 0 {
		return Result{}, common.NewAppError(common.CodeInput, "at least one image is required", common.ErrInvalidInput)
	}

	raw := make([][]byte, len(images))
	for i, img := range images {
		raw[i] = img.Data
	}
	key := cache.NewKey(raw, tpl.Hash())
	o.Logger.Info("pipeline.extract.start",
		"req_id", reqID,
		"template", tpl.Name,
		"images", len(images),
		"force_refresh", forceRefresh,
	)

	if !forceRefresh {
		if ext, ok := o.cacheGet(ctx, key, constants.EngineGemini); ok {
			return o.done(reqID, start, Result{Extraction: ext, Engine: constants.EngineCachedGemini}), nil
		}
	}

	var warnings, failures []string
	if o.Vision != nil && o.Vision.Available() {
		ext, err := o.Vision.Extract(ctx, raw, tpl)
		if err == nil {
			o.cacheSet(ctx, key, ext, constants.EngineGemini)
			return o.done(reqID, start, Result{Extraction: ext, Engine: constants.EngineGemini}), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		msg := fmt.Sprintf("gemini failed: %v", err)
		o.Logger.Warn("pipeline.vision.failed", "req_id", reqID, "error", err)
		warnings = append(warnings, msg)
		failures = append(failures, msg)
	} else {
		msg := "gemini unavailable: GEMINI_API_KEY is not set"
		o.Logger.Warn("pipeline.vision.unavailable", "req_id", reqID)
		warnings = append(warnings, msg)
		failures = append(failures, msg)
	}

	if !forceRefresh {
		if ext, ok := o.cacheGet(ctx, key, constants.EngineOCR); ok {
			return o.done(reqID, start, Result{Extraction: ext, Engine: constants.EngineCachedOCR, Warnings: warnings}), nil
		}
	}

	ext, ocrWarnings, err := o.runOCR(ctx, images, tpl)
	warnings = append(warnings, ocrWarnings...)
	if err != nil {
		msg := fmt.Sprintf("ocr failed: %v", err)
		o.Logger.Error("pipeline.ocr.failed", "req_id", reqID, "error", err)
		failures = append(failures, msg)
		return Result{Warnings: warnings}, fmt.Errorf("%w: %s", ErrAllEnginesFailed, strings.Join(failures, "; "))
	}
	o.cacheSet(ctx, key, ext, constants.EngineOCR)
	return o.done(reqID, start, Result{Extraction: ext, Engine: constants.EngineOCR, Warnings: warnings}), nil
}

// runOCR stages the images in a temp dir that is removed on every path.
func (o *Orchestrator) runOCR(ctx context.Context, images []Image, tpl *template.Template) (entity.Extraction, []string, error) {
	if o.OCR == nil {
		return nil, nil, errors.New("ocr engine not configured")
	}
	dir, err := os.MkdirTemp("", "formfill-stage-*")
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	paths := make([]string, len(images))
	for i, img := range images {
		ext := constants.NormalizeExt(filepath.Ext(img.Name))
		if !constants.IsImageExt(ext) {
			ext = "jpg"
		}
		p := filepath.Join(dir, fmt.Sprintf("image_%d.%s", i+1, ext))
		if err := os.WriteFile(p, img.Data, 0o600); err != nil {
			return nil, nil, fmt.Errorf("stage image %d: %w", i+1, err)
		}
		paths[i] = p
	}
	return o.OCR.ExtractMany(ctx, paths, tpl)
}

func (o *Orchestrator) cacheGet(ctx context.Context, key cache.Key, engine constants.Engine) (entity.Extraction, bool) {
	if o.Cache == nil {
		return nil, false
	}
	return o.Cache.Get(ctx, key, engine)
}

// cacheSet failures are logged only; a result is still returned.
func (o *Orchestrator) cacheSet(ctx context.Context, key cache.Key, ext entity.Extraction, engine constants.Engine) {
	if o.Cache == nil {
		return
	}
	if err := o.Cache.Set(ctx, key, ext, engine); err != nil {
		o.Logger.Warn("pipeline.cache.write_failed", "req_id", common.RequestIDFromContext(ctx), "engine", engine, "error", err)
	}
}

func (o *Orchestrator) done(reqID string, start time.Time, res Result) Result {
	metrics.IncExtraction(res.Engine.String())
	o.Logger.Info("pipeline.extract.ok",
		"req_id", reqID,
		"engine", res.Engine,
		"fields", len(res.Extraction),
		"warnings", len(res.Warnings),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res
}
