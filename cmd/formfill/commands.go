package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/export"
	"github.com/joseph-ayodele/form-filler/internal/proof"
	"github.com/joseph-ayodele/form-filler/internal/render"
	"github.com/joseph-ayodele/form-filler/internal/repository"
)

var errNoTemplates = errors.New("no templates found")

func (a *app) templates(args []string) error {
	fs := pflag.NewFlagSet("templates", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	names, err := a.templateStore().List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("%w in %s", errNoTemplates, a.cfg.Paths.TemplatesDir)
	}
	for _, n := range names {
		_, _ = fmt.Fprintln(a.stdout, n)
	}
	return nil
}

func (a *app) inspect(args []string) error {
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	path := fs.String("pdf", "", "PDF to inspect")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" && fs.NArg() > 0 {
		*path = fs.Arg(0)
	}
	if *path == "" {
		return common.NewAppError(common.CodeInput, "--pdf is required", common.ErrInvalidInput)
	}
	info, err := render.Inspect(*path)
	if err != nil {
		return err
	}
	return a.printJSON(info)
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("export", pflag.ContinueOnError)
	out := fs.String("out", "", "output XLSX path (default <artifacts>/submissions.xlsx)")
	tplName := fs.String("template", "", "only export submissions for this template name")
	limit := fs.Int("limit", 0, "maximum rows, newest first (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		*out = filepath.Join(a.cfg.Paths.ArtifactsDir, "submissions.xlsx")
	}

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	svc := export.NewService(
		repository.NewSubmissionRepository(db, a.logger),
		repository.NewProofRepository(db, a.logger),
		a.logger,
	)
	data, err := svc.ExportSubmissionsXLSX(ctx, repository.SubmissionFilter{
		TemplateName: strings.TrimSuffix(*tplName, ".json"),
		Limit:        *limit,
	})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(*out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	_, _ = fmt.Fprintf(a.stdout, "exported: %s\n", *out)
	return nil
}

func (a *app) proof(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return common.NewAppError(common.CodeInput, "proof needs a subcommand: save or status", common.ErrInvalidInput)
	}
	switch args[0] {
	case "save":
		return a.proofSave(ctx, args[1:])
	case "status":
		return a.proofStatus(ctx, args[1:])
	}
	return common.NewAppError(common.CodeInput, fmt.Sprintf("unknown proof subcommand %q", args[0]), common.ErrInvalidInput)
}

func (a *app) verifier(ctx context.Context) (*proof.Verifier, error) {
	db, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}
	ledger := newLedger(a.cfg, a.logger)
	if c, ok := ledger.(io.Closer); ok {
		a.closers = append(a.closers, func() { _ = c.Close() })
	}
	return proof.NewVerifier(
		repository.NewProofRepository(db, a.logger),
		ledger,
		a.cfg.Ledger.Cluster,
		a.logger,
	), nil
}

func (a *app) proofSave(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("proof save", pflag.ContinueOnError)
	file := fs.String("file", "", "rendered PDF to hash")
	hash := fs.String("hash", "", "SHA-256 of the document (instead of --file)")
	sig := fs.String("signature", "", "ledger transaction signature")
	wallet := fs.String("wallet", "", "wallet address that signed the transaction")
	docID := fs.String("document-id", "", "document id (read from the PDF keywords when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fileHash, err := resolveHash(*hash, *file)
	if err != nil {
		return err
	}
	if *docID == "" && *file != "" {
		if info, iErr := render.Inspect(*file); iErr == nil {
			*docID = info.DocumentID
		} else {
			a.logger.Debug("proof.save.no_document_id", "file", *file, "error", iErr)
		}
	}

	if err := common.NewValidator().
		Field("hash", fileHash, common.Required, common.SHA256Hex).
		Field("signature", *sig, common.Required).
		Field("wallet", *wallet, common.Required).
		Field("document-id", *docID, common.UUID).
		Err(); err != nil {
		return err
	}

	v, err := a.verifier(ctx)
	if err != nil {
		return err
	}
	link, err := v.SaveProof(ctx, fileHash, *sig, *wallet, *docID)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.stdout, "hash:     %s\n", fileHash)
	_, _ = fmt.Fprintf(a.stdout, "explorer: %s\n", link)
	return nil
}

func (a *app) proofStatus(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("proof status", pflag.ContinueOnError)
	file := fs.String("file", "", "document to hash and look up")
	hash := fs.String("hash", "", "SHA-256 to look up")
	docID := fs.String("document-id", "", "document id to look up")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := proof.LookupQuery{DocumentUUID: *docID}
	if *hash != "" || *file != "" {
		h, err := resolveHash(*hash, *file)
		if err != nil {
			return err
		}
		q.FileHash = h
	}
	if q.FileHash == "" && q.DocumentUUID == "" {
		return common.NewAppError(common.CodeInput, "one of --hash, --file or --document-id is required", common.ErrInvalidInput)
	}
	if err := common.NewValidator().
		Field("hash", q.FileHash, common.SHA256Hex).
		Field("document-id", q.DocumentUUID, common.UUID).
		Err(); err != nil {
		return err
	}

	v, err := a.verifier(ctx)
	if err != nil {
		return err
	}
	status, p := v.Verify(ctx, q)
	_, _ = fmt.Fprintf(a.stdout, "status:   %s\n", status)
	if p != nil {
		_, _ = fmt.Fprintf(a.stdout, "hash:     %s\n", p.FileHash)
		_, _ = fmt.Fprintf(a.stdout, "tx:       %s\n", p.TransactionSignature)
		_, _ = fmt.Fprintf(a.stdout, "wallet:   %s\n", p.WalletAddress)
		_, _ = fmt.Fprintf(a.stdout, "explorer: %s\n", p.ExplorerLink)
		if p.DocumentUUID != nil {
			_, _ = fmt.Fprintf(a.stdout, "document: %s\n", *p.DocumentUUID)
		}
	}
	return nil
}

// resolveHash prefers an explicit hash over hashing file.
func resolveHash(hash, file string) (string, error) {
	if h := proof.NormalizeHash(hash); h != "" {
		return h, nil
	}
	if file == "" {
		return "", common.NewAppError(common.CodeInput, "--hash or --file is required", common.ErrInvalidInput)
	}
	h, err := proof.HashFile(file)
	if err != nil {
		return "", common.NewAppError(common.CodeInput, "hash file", err)
	}
	return h, nil
}

func (a *app) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, string(b))
	return err
}
