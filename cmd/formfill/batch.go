package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/joseph-ayodele/form-filler/internal/async"
	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/ingest"
	"github.com/joseph-ayodele/form-filler/internal/template"
)

type batchOutcome struct {
	name string
	out  processed
	err  error
}

// batch extracts every document found under a directory with a worker pool.
func (a *app) batch(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("batch", pflag.ContinueOnError)
	dir := fs.String("dir", "", "directory of images; each subdirectory is one multi-page document")
	tplName := fs.String("template", "", "template file name in the templates dir")
	workers := fs.Int("workers", 2, "documents processed concurrently")
	jobTimeout := fs.Duration("job-timeout", 5*time.Minute, "deadline per document")
	force := fs.Bool("force-refresh", false, "skip cached extractions")
	noDB := fs.Bool("no-db", false, "do not record submissions")
	hidden := fs.Bool("include-hidden", false, "also pick up dot files and dot directories")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" && fs.NArg() > 0 {
		*dir = fs.Arg(0)
	}
	if *dir == "" || *tplName == "" {
		return common.NewAppError(common.CodeInput, "--dir and --template are required", common.ErrInvalidInput)
	}

	docs, stats, err := ingest.ScanDirectory(*dir, ingest.ScanOptions{IncludeHidden: *hidden})
	if err != nil {
		return common.NewAppError(common.CodeInput, "scan "+*dir, err)
	}
	a.logger.Info("batch.scan.ok", "dir", *dir, "scanned", stats.Scanned, "matched", stats.Matched, "documents", stats.Documents, "failed", stats.Failed)
	if len(docs) == 0 {
		return common.NewAppError(common.CodeInput, "no images found in "+*dir, common.ErrInvalidInput)
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

	var (
		mu       sync.Mutex
		outcomes []batchOutcome
	)
	handle := func(ctx context.Context, job async.Job) error {
		out, err := a.processImages(ctx, ex, store, tpl, job, batchOutputBase(tpl.File, job.Name), !*noDB)
		mu.Lock()
		outcomes = append(outcomes, batchOutcome{name: job.Name, out: out, err: err})
		mu.Unlock()
		return err
	}
	pool := async.NewWorkerPool(ctx, handle, a.logger,
		async.WithWorkers(*workers),
		async.WithQueueSize(len(docs)),
		async.WithJobTimeout(*jobTimeout),
	)
	for _, d := range docs {
		if err := pool.Enqueue(ctx, async.Job{Name: d.Name, Images: d.Images, Force: *force}); err != nil {
			a.logger.Warn("batch.enqueue.failed", "document", d.Name, "error", err)
			mu.Lock()
			outcomes = append(outcomes, batchOutcome{name: d.Name, err: err})
			mu.Unlock()
		}
	}
	pool.Shutdown(ctx)

	mu.Lock()
	defer mu.Unlock()
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].name < outcomes[j].name })
	failed := 0
	for _, o := range outcomes {
		for _, w := range o.out.result.Warnings {
			_, _ = fmt.Fprintf(a.stdout, "warning: %s: %s\n", o.name, w)
		}
		if o.err != nil {
			failed++
			_, _ = fmt.Fprintf(a.stdout, "FAIL %s: %v\n", o.name, o.err)
			continue
		}
		_, _ = fmt.Fprintf(a.stdout, "ok   %s engine=%s fields=%d pdf=%s\n", o.name, o.out.result.Engine, o.out.fields, o.out.pdf.Path)
	}
	ok := len(outcomes) - failed
	_, _ = fmt.Fprintf(a.stdout, "documents: %d ok: %d failed: %d\n", len(docs), ok, len(docs)-ok)

	if err := ctx.Err(); err != nil {
		return errors.Join(errors.New("batch interrupted"), err)
	}
	if ok < len(docs) {
		return fmt.Errorf("%d of %d documents failed", len(docs)-ok, len(docs))
	}
	return nil
}

// batchOutputBase is "<template stem>_<document name>" with dots replaced,
// so "a.png" and "a.jpg" documents do not share artifacts.
func batchOutputBase(templateFile, docName string) string {
	return stem(templateFile) + "_" + strings.ReplaceAll(docName, ".", "_")
}

func (a *app) processImages(ctx context.Context, ex extractor, store *template.Store, tpl *template.Template, job async.Job, base string, record bool) (processed, error) {
	inputs, err := readImages(job.Images)
	if err != nil {
		return processed{}, err
	}
	return a.process(ctx, ex, store, tpl, document{
		inputs:     inputs,
		firstImage: job.Images[0],
		base:       base,
		force:      job.Force,
		record:     record,
	})
}
