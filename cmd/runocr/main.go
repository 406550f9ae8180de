package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/ocr"
	"github.com/joseph-ayodele/form-filler/internal/template"
)

// runocr runs only the tesseract fallback for a template and prints the
// merged extraction as JSON.
func main() {
	v := common.NewViper()
	tplName := pflag.String("template", "", "template file name in the templates dir")
	timeout := pflag.Duration("timeout", 2*time.Minute, "overall deadline")
	pflag.Parse()

	cfg := common.LoadConfig(v)
	logger := common.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	images := pflag.Args()
	if *tplName == "" || len(images) == 0 {
		logger.Error("usage", "cmd", "runocr --template <name> <image> [image...]")
		os.Exit(2)
	}

	tpl, err := template.NewStore(cfg.Paths.TemplatesDir, logger).Load(*tplName)
	if err != nil {
		logger.Error("load template", "template", *tplName, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, reqID := common.EnsureRequestID(ctx)

	engine := ocr.NewFieldEngine(ocr.Config{
		Tesseract:           cfg.OCR.Tesseract,
		TessdataDir:         cfg.OCR.TessdataDir,
		DefaultLang:         cfg.OCR.DefaultLang,
		EnableTSVConfidence: cfg.OCR.EnableTSVConfidence,
		Concurrency:         cfg.OCR.Concurrency,
		FixedThreshold:      cfg.OCR.Preprocess == common.PreprocessFixed,
		HeicConverter:       cfg.OCR.HeicConverter,
	}, logger)

	start := time.Now()
	ext, warns, err := engine.ExtractMany(ctx, images, tpl)
	dur := time.Since(start)
	for _, w := range warns {
		logger.Warn("ocr.warning", "req_id", reqID, "detail", w)
	}
	if err != nil {
		logger.Error("ocr extraction failed", "req_id", reqID, "error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}

	out, err := json.MarshalIndent(ext, "", "  ")
	if err != nil {
		logger.Error("marshal extraction", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
	logger.Info("ocr extraction OK",
		"req_id", reqID,
		"template", tpl.Name,
		"fields", len(ext),
		"duration_ms", dur.Milliseconds(),
	)
}
