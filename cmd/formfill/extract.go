package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/joseph-ayodele/form-filler/constants"
	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/entity"
	"github.com/joseph-ayodele/form-filler/internal/pipeline"
	"github.com/joseph-ayodele/form-filler/internal/render"
	"github.com/joseph-ayodele/form-filler/internal/repository"
	"github.com/joseph-ayodele/form-filler/internal/template"
)

func (a *app) extract(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("extract", pflag.ContinueOnError)
	images := fs.StringSlice("images", nil, "input images, in page order (repeat or comma-separate)")
	tplName := fs.String("template", "", "template file name in the templates dir")
	outputName := fs.String("output-name", "", "base name for the JSON and PDF outputs")
	force := fs.Bool("force-refresh", false, "skip cached extractions")
	noDB := fs.Bool("no-db", false, "do not record the submission")
	if err := fs.Parse(args); err != nil {
		return err
	}
	*images = append(*images, fs.Args()...)
	if len(*images) == 0 || *tplName == "" {
		return common.NewAppError(common.CodeInput, "--images and --template are required", common.ErrInvalidInput)
	}

	inputs, err := readImages(*images)
	if err != nil {
		return err
	}
	store := a.templateStore()
	tpl, err := store.Load(*tplName)
	if err != nil {
		return common.NewAppError(common.CodeConfig, "load template", err)
	}

	ex, closeEx, err := newExtractor(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeEx)

	base := *outputName
	if base == "" {
		base = defaultOutputBase(tpl.File, (*images)[0])
	}
	out, err := a.process(ctx, ex, store, tpl, document{
		inputs:     inputs,
		firstImage: (*images)[0],
		base:       base,
		force:      *force,
		record:     !*noDB,
	})
	for _, w := range out.result.Warnings {
		_, _ = fmt.Fprintf(a.stdout, "warning: %s\n", w)
	}
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(a.stdout, "engine:      %s\n", out.result.Engine)
	_, _ = fmt.Fprintf(a.stdout, "fields:      %d\n", out.fields)
	_, _ = fmt.Fprintf(a.stdout, "json:        %s\n", out.jsonPath)
	_, _ = fmt.Fprintf(a.stdout, "pdf:         %s\n", out.pdf.Path)
	_, _ = fmt.Fprintf(a.stdout, "document id: %s\n", out.pdf.DocumentID)
	_, _ = fmt.Fprintf(a.stdout, "sha256:      %s\n", out.pdf.SHA256)
	return nil
}

type document struct {
	inputs     []pipeline.Image
	firstImage string
	base       string
	force      bool
	record     bool
}

type processed struct {
	result   pipeline.Result
	fields   int
	jsonPath string
	pdf      render.RenderResult
}

// process extracts one document, writes its JSON and PDF artifacts and
// records the submission. The result's warnings are set even on error.
func (a *app) process(ctx context.Context, ex extractor, store *template.Store, tpl *template.Template, doc document) (processed, error) {
	var out processed
	res, err := ex.Extract(ctx, doc.inputs, tpl, doc.force)
	out.result = res
	if err != nil {
		return out, common.NewAppError(common.CodeExtraction, "extract fields", err)
	}

	if err := os.MkdirAll(a.cfg.Paths.ArtifactsDir, 0o755); err != nil {
		return out, err
	}
	out.jsonPath = filepath.Join(a.cfg.Paths.ArtifactsDir, doc.base+".json")
	extJSON, err := json.MarshalIndent(res.Extraction, "", "  ")
	if err != nil {
		return out, fmt.Errorf("marshal extraction: %w", err)
	}
	if err := os.WriteFile(out.jsonPath, extJSON, 0o644); err != nil {
		return out, fmt.Errorf("write %s: %w", out.jsonPath, err)
	}

	fields := pipeline.PrepareFields(res.Extraction, tpl)
	out.fields = len(fields)
	bg := backgroundFor(store, tpl, doc.firstImage)
	refW, refH := tpl.ReferenceSize()
	pdfPath := filepath.Join(a.cfg.Paths.ArtifactsDir, doc.base+".pdf")
	out.pdf, err = render.NewRenderer(a.cfg.Render.FontDir, a.logger).Render(ctx, bg, fields, pdfPath, render.RenderOptions{
		ReferenceWidth:  refW,
		ReferenceHeight: refH,
	})
	if err != nil {
		return out, common.NewAppError(common.CodeRender, "render pdf", err)
	}

	if doc.record {
		a.recordSubmission(ctx, tpl, res, out.pdf, extJSON, fields)
	}
	return out, nil
}

// recordSubmission is best effort: the artifacts already exist on disk.
func (a *app) recordSubmission(ctx context.Context, tpl *template.Template, res pipeline.Result, out render.RenderResult, extJSON []byte, fields []render.Field) {
	db, err := a.openDB(ctx)
	if err != nil {
		a.logger.Error("submission.db_unavailable", "error", err)
		return
	}
	normalized, err := json.Marshal(fields)
	if err != nil {
		a.logger.Error("submission.marshal_failed", "error", err)
		return
	}
	sub := &entity.FormSubmission{
		TemplateName:   tpl.Name,
		TemplateFile:   filepath.Base(tpl.File),
		PDFPath:        out.Path,
		DocumentUUID:   out.DocumentID,
		PDFHash:        out.SHA256,
		Engine:         res.Engine.String(),
		ExtractionJSON: extJSON,
		NormalizedJSON: normalized,
	}
	if err := repository.NewSubmissionRepository(db, a.logger).Create(ctx, sub); err != nil {
		a.logger.Error("submission.save_failed", "document_id", out.DocumentID, "error", err)
		return
	}
	a.logger.Info("submission.save.ok", "id", sub.ID, "document_id", sub.DocumentUUID)
}

func readImages(paths []string) ([]pipeline.Image, error) {
	out := make([]pipeline.Image, 0, len(paths))
	for _, p := range paths {
		if !constants.IsImageExt(filepath.Ext(p)) {
			return nil, common.NewAppError(common.CodeInput, fmt.Sprintf("unsupported image type: %s", p), common.ErrInvalidInput)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, common.NewAppError(common.CodeInput, fmt.Sprintf("read image %s", p), err)
		}
		out = append(out, pipeline.Image{Name: filepath.Base(p), Data: data})
	}
	return out, nil
}

// defaultOutputBase is "<template stem>_<first image stem>".
func defaultOutputBase(templateFile, firstImage string) string {
	return stem(templateFile) + "_" + stem(firstImage)
}

func stem(p string) string {
	b := filepath.Base(p)
	return strings.TrimSuffix(b, filepath.Ext(b))
}

// backgroundFor prefers the template's declared image and falls back to the
// first input image.
func backgroundFor(store *template.Store, tpl *template.Template, firstImage string) string {
	if p, ok := store.ImagePath(tpl); ok {
		return p
	}
	return firstImage
}
