package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/metrics"
)

const usage = `Usage: formfill [global flags] <command> [flags]

Commands:
  extract    extract fields from images and render the filled PDF
  batch      extract every document under a directory concurrently
  templates  list available templates
  proof      save or check a document proof (proof save|status)
  inspect    print the metadata and text of a rendered PDF
  export     write stored submissions to an XLSX workbook

Global flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run parses global flags, dispatches the command and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	v := common.NewViper()

	fs := pflag.NewFlagSet("formfill", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(stderr)
	fs.String("templates-dir", v.GetString("templates_dir"), "directory holding template JSON files")
	fs.String("artifacts-dir", v.GetString("artifacts_dir"), "directory for extraction JSON and PDFs")
	fs.String("db-url", v.GetString("db_url"), "proof and submission database (sqlite://… or postgres://…)")
	fs.String("cache-backend", v.GetString("cache_backend"), "extraction cache backend: file or redis")
	fs.String("log-level", v.GetString("log_level"), "log level (debug, info, warn, error)")
	fs.String("log-format", v.GetString("log_format"), "log format (text, json)")
	fs.String("metrics-textfile", v.GetString("metrics_textfile"), "write prometheus metrics here on exit")
	fs.Usage = func() {
		_, _ = fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	for key, flag := range map[string]string{
		"templates_dir":    "templates-dir",
		"artifacts_dir":    "artifacts-dir",
		"db_url":           "db-url",
		"cache_backend":    "cache-backend",
		"log_level":        "log-level",
		"log_format":       "log-format",
		"metrics_textfile": "metrics-textfile",
	} {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	cfg := common.LoadConfig(v)
	logger := common.NewLogger(cfg.Log, stderr)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	a := newApp(cfg, logger, stdout)
	defer a.close()

	var err error
	switch cmd, cmdArgs := rest[0], rest[1:]; cmd {
	case "extract":
		err = a.extract(ctx, cmdArgs)
	case "batch":
		err = a.batch(ctx, cmdArgs)
	case "templates":
		err = a.templates(cmdArgs)
	case "proof":
		err = a.proof(ctx, cmdArgs)
	case "inspect":
		err = a.inspect(cmdArgs)
	case "export":
		err = a.export(ctx, cmdArgs)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		fs.Usage()
		return 2
	}

	if path := cfg.Metrics.Textfile; path != "" {
		if mErr := metrics.WriteTextfile(path); mErr != nil {
			logger.Warn("metrics.textfile.failed", "path", path, "error", mErr)
		}
	}
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
