package main

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/joseph-ayodele/form-filler/internal/cache"
	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/llm"
	"github.com/joseph-ayodele/form-filler/internal/llm/gemini"
	"github.com/joseph-ayodele/form-filler/internal/ocr"
	"github.com/joseph-ayodele/form-filler/internal/pipeline"
	"github.com/joseph-ayodele/form-filler/internal/proof"
	"github.com/joseph-ayodele/form-filler/internal/repository"
	"github.com/joseph-ayodele/form-filler/internal/template"
)

// extractor is the slice of the orchestrator the extract command needs.
type extractor interface {
	Extract(ctx context.Context, images []pipeline.Image, tpl *template.Template, forceRefresh bool) (pipeline.Result, error)
}

// newExtractor is swapped in tests to avoid tesseract and the model API.
var newExtractor = buildOrchestrator

// newLedger is swapped in tests.
var newLedger = func(cfg *common.Config, logger *slog.Logger) proof.Ledger {
	return proof.NewSolanaLedger(proof.LedgerConfigFrom(cfg.Ledger), logger)
}

type app struct {
	cfg    *common.Config
	logger *slog.Logger
	stdout io.Writer

	dbMu    sync.Mutex
	db      *repository.DB
	closers []func()
}

func newApp(cfg *common.Config, logger *slog.Logger, stdout io.Writer) *app {
	return &app{cfg: cfg, logger: logger, stdout: stdout}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// openDB connects and migrates on first use. Safe for concurrent callers.
func (a *app) openDB(ctx context.Context) (*repository.DB, error) {
	a.dbMu.Lock()
	defer a.dbMu.Unlock()
	if a.db != nil {
		return a.db, nil
	}
	db, err := repository.Open(ctx, repository.ConfigFrom(a.cfg.Database), a.logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *app) templateStore() *template.Store {
	return template.NewStore(a.cfg.Paths.TemplatesDir, a.logger)
}

// buildOrchestrator wires the vision engine, the OCR fallback and the cache.
// A missing API key or an unreachable cache degrades instead of failing.
func buildOrchestrator(ctx context.Context, cfg *common.Config, logger *slog.Logger) (extractor, func(), error) {
	var closers []func()

	var gen llm.Generator
	if cfg.HasVisionCredentials() {
		client, err := gemini.NewClient(ctx, gemini.Config{APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model}, logger)
		if err != nil {
			logger.Warn("vision.client.unavailable", "error", err)
		} else {
			gen = client
		}
	}
	vcfg := llm.DefaultVisionConfig()
	vcfg.Model = cfg.LLM.Model
	vcfg.Temperature = cfg.LLM.Temperature
	vcfg.TopP = cfg.LLM.TopP
	vcfg.TopK = cfg.LLM.TopK
	vcfg.RequestsPerSecond = cfg.LLM.RequestsPerSecond
	vcfg.MaxImageDimension = cfg.LLM.MaxImageDimension
	vcfg.JPEGQuality = cfg.LLM.JPEGQuality
	vision := llm.NewVisionEngine(gen, vcfg, logger)

	fields := ocr.NewFieldEngine(ocr.Config{
		Tesseract:           cfg.OCR.Tesseract,
		TessdataDir:         cfg.OCR.TessdataDir,
		DefaultLang:         cfg.OCR.DefaultLang,
		EnableTSVConfidence: cfg.OCR.EnableTSVConfidence,
		Concurrency:         cfg.OCR.Concurrency,
		FixedThreshold:      cfg.OCR.Preprocess == common.PreprocessFixed,
		HeicConverter:       cfg.OCR.HeicConverter,
	}, logger)

	var store cache.Store
	if s, err := cache.New(ctx, cfg.Cache, logger); err != nil {
		logger.Warn("cache.unavailable", "backend", cfg.Cache.Backend, "error", err)
	} else {
		store = s
		if c, ok := s.(io.Closer); ok {
			closers = append(closers, func() { _ = c.Close() })
		}
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return pipeline.NewOrchestrator(logger, vision, fields, store), closeAll, nil
}
