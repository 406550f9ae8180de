package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/metrics"
)

// Ledger answers whether a transaction signature is known to the chain.
type Ledger interface {
	TransactionExists(ctx context.Context, signature string) (bool, error)
}

const (
	DefaultRPCURL  = "https://api.devnet.solana.com"
	DefaultCluster = "devnet"
	defaultTimeout = 10 * time.Second
)

type LedgerConfig struct {
	RPCURL            string
	Timeout           time.Duration
	RequestsPerSecond float64 // <= 0 disables limiting
}

// LedgerConfigFrom maps the application ledger section onto LedgerConfig.
func LedgerConfigFrom(c common.LedgerConfig) LedgerConfig {
	return LedgerConfig{
		RPCURL:            c.RPCURL,
		Timeout:           c.Timeout,
		RequestsPerSecond: c.RequestsPerSecond,
	}
}

// SolanaLedger asks a Solana RPC node for a transaction with getTransaction.
type SolanaLedger struct {
	cfg     LedgerConfig
	client  *rpc.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewSolanaLedger(cfg LedgerConfig, logger *slog.Logger) *SolanaLedger {
	if cfg.RPCURL == "" {
		cfg.RPCURL = DefaultRPCURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &SolanaLedger{
		cfg:     cfg,
		client:  rpc.New(cfg.RPCURL),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "ledger"),
	}
}

// TransactionExists reports whether signature resolves to a transaction.
// A null result means the node does not know it.
func (l *SolanaLedger) TransactionExists(ctx context.Context, signature string) (bool, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false, errors.New("empty transaction signature")
	}
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false, fmt.Errorf("invalid transaction signature: %w", err)
	}
	start := time.Now()
	reqID := common.RequestIDFromContext(ctx)

	if err := l.limiter.Wait(ctx); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	maxVersion := uint64(0)
	_, err = l.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	metrics.CaptureDependencyLatency("ledger", time.Since(start))
	switch {
	case errors.Is(err, rpc.ErrNotFound):
		l.logger.Info("ledger.tx.ok", "req_id", reqID, "signature", signature, "found", false,
			"elapsed_ms", time.Since(start).Milliseconds())
		return false, nil
	case err != nil:
		l.logger.Error("ledger.tx.failed", "req_id", reqID, "signature", signature, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return false, fmt.Errorf("get transaction: %w", err)
	}
	l.logger.Info("ledger.tx.ok", "req_id", reqID, "signature", signature, "found", true,
		"elapsed_ms", time.Since(start).Milliseconds())
	return true, nil
}

// Close releases the RPC client's connections.
func (l *SolanaLedger) Close() error { return l.client.Close() }
