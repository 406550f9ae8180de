// Package proof links rendered documents to ledger transactions and reports
// whether a stored proof is still corroborated by the chain.
package proof

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/entity"
	"github.com/joseph-ayodele/form-filler/internal/repository"
)

type Status string

const (
	StatusNotFound         Status = "NOT_FOUND"
	StatusVerifiedOnChain  Status = "VERIFIED_ON_CHAIN"
	StatusVerifiedDBPruned Status = "VERIFIED_DB_PRUNED"
)

func (s Status) String() string { return string(s) }

// NormalizeHash trims and lower-cases a hex digest.
func NormalizeHash(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashFile streams path through SHA-256.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ExplorerLink is the public explorer URL for signature on cluster.
func ExplorerLink(signature, cluster string) string {
	if cluster == "" {
		cluster = DefaultCluster
	}
	return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=%s", signature, cluster)
}

// LookupQuery selects a proof by file hash or document id. The hash wins
// when both are set.
type LookupQuery struct {
	FileHash     string
	DocumentUUID string
}

type Verifier struct {
	repo    repository.ProofRepository
	ledger  Ledger
	cluster string
	logger  *slog.Logger
}

func NewVerifier(repo repository.ProofRepository, ledger Ledger, cluster string, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cluster == "" {
		cluster = DefaultCluster
	}
	return &Verifier{
		repo:    repo,
		ledger:  ledger,
		cluster: cluster,
		logger:  logger.With("component", "proof"),
	}
}

// SaveProof stores a proof for fileHash and returns its explorer link.
// Saving a hash that already has a proof returns the stored link unchanged.
func (v *Verifier) SaveProof(ctx context.Context, fileHash, signature, wallet, documentUUID string) (string, error) {
	start := time.Now()
	reqID := common.RequestIDFromContext(ctx)
	fileHash = NormalizeHash(fileHash)
	signature = strings.TrimSpace(signature)
	if fileHash == "" || signature == "" {
		return "", common.NewAppError(common.CodeInput, "file hash and transaction signature are required", common.ErrInvalidInput)
	}

	existing, err := v.repo.GetByHash(ctx, fileHash)
	switch {
	case err == nil:
		v.logger.Info("proof.save.exists", "req_id", reqID, "file_hash", fileHash, "id", existing.ID)
		return existing.ExplorerLink, nil
	case !errors.Is(err, common.ErrNotFound):
		return "", common.NewAppError(common.CodeProof, "look up existing proof", err)
	}

	p := &entity.DocumentProof{
		FileHash:             fileHash,
		TransactionSignature: signature,
		WalletAddress:        strings.TrimSpace(wallet),
		ExplorerLink:         ExplorerLink(signature, v.cluster),
	}
	if id := strings.TrimSpace(documentUUID); id != "" {
		p.DocumentUUID = &id
	}
	if err := v.repo.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// lost a race with a concurrent save
			winner, gErr := v.repo.GetByHash(ctx, fileHash)
			if gErr == nil {
				return winner.ExplorerLink, nil
			}
			return "", common.NewAppError(common.CodeProof, "re-read proof after duplicate", gErr)
		}
		return "", common.NewAppError(common.CodeProof, "save proof", err)
	}

	v.logger.Info("proof.save.ok",
		"req_id", reqID,
		"file_hash", fileHash,
		"id", p.ID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return p.ExplorerLink, nil
}

// LookupProof never fails: missing rows and storage errors both yield nil.
func (v *Verifier) LookupProof(ctx context.Context, q LookupQuery) (*entity.DocumentProof, error) {
	reqID := common.RequestIDFromContext(ctx)
	var (
		p   *entity.DocumentProof
		err error
	)
	switch {
	case NormalizeHash(q.FileHash) != "":
		p, err = v.repo.GetByHash(ctx, NormalizeHash(q.FileHash))
	case strings.TrimSpace(q.DocumentUUID) != "":
		p, err = v.repo.GetByDocumentUUID(ctx, strings.TrimSpace(q.DocumentUUID))
	default:
		return nil, nil
	}
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			v.logger.Error("proof.lookup.failed", "req_id", reqID, "error", err)
		}
		return nil, nil
	}
	return p, nil
}

// CheckStatus corroborates p against the ledger. A ledger failure is
// reported as pruned rather than surfaced.
func (v *Verifier) CheckStatus(ctx context.Context, p *entity.DocumentProof) Status {
	if p == nil {
		return StatusNotFound
	}
	if v.ledger == nil {
		return StatusVerifiedDBPruned
	}
	ok, err := v.ledger.TransactionExists(ctx, p.TransactionSignature)
	if err != nil {
		v.logger.Warn("proof.ledger.unavailable",
			"req_id", common.RequestIDFromContext(ctx),
			"signature", p.TransactionSignature,
			"error", err,
		)
		return StatusVerifiedDBPruned
	}
	if ok {
		return StatusVerifiedOnChain
	}
	return StatusVerifiedDBPruned
}

func (v *Verifier) Verify(ctx context.Context, q LookupQuery) (Status, *entity.DocumentProof) {
	p, _ := v.LookupProof(ctx, q)
	return v.CheckStatus(ctx, p), p
}
