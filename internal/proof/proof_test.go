package proof

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/entity"
	"github.com/joseph-ayodele/form-filler/internal/repository"
)

func openRepo(t *testing.T) repository.ProofRepository {
	t.Helper()
	dsn := "sqlite://file:" + filepath.Join(t.TempDir(), "proof.db") + "?_pragma=busy_timeout(5000)"
	db, err := repository.Open(context.Background(), repository.Config{DSN: dsn, DialTimeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(context.Background()))
	return repository.NewProofRepository(db, nil)
}

type fakeLedger struct {
	exists bool
	err    error
	calls  int
}

func (f *fakeLedger) TransactionExists(context.Context, string) (bool, error) {
	f.calls++
	return f.exists, f.err
}

func TestNormalizeAndHash(t *testing.T) {
	assert.Equal(t, "abcdef", NormalizeHash("  ABCdef\n"))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", HashBytes([]byte("hello")))

	p := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o644))
	h, err := HashFile(p)
	require.NoError(t, err)
	assert.Equal(t, HashBytes([]byte("hello")), h)

	_, err = HashFile(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)

	assert.Equal(t, "https://explorer.solana.com/tx/sig?cluster=devnet", ExplorerLink("sig", ""))
	assert.Equal(t, "https://explorer.solana.com/tx/sig?cluster=mainnet-beta", ExplorerLink("sig", "mainnet-beta"))
}

func TestSaveProof_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	v := NewVerifier(repo, &fakeLedger{}, "devnet", nil)

	link, err := v.SaveProof(ctx, "  ABC123 ", "sig-1", "wallet-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "https://explorer.solana.com/tx/sig-1?cluster=devnet", link)

	again, err := v.SaveProof(ctx, "abc123", "sig-2", "wallet-2", "")
	require.NoError(t, err)
	assert.Equal(t, link, again)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := v.LookupProof(ctx, LookupQuery{FileHash: "ABC123"})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "sig-1", p.TransactionSignature)
	assert.Equal(t, "wallet-1", p.WalletAddress)
	require.NotNil(t, p.DocumentUUID)
	assert.Equal(t, "doc-1", *p.DocumentUUID)
}

func TestSaveProof_RequiresHashAndSignature(t *testing.T) {
	v := NewVerifier(openRepo(t), nil, "", nil)
	_, err := v.SaveProof(context.Background(), " ", "sig", "w", "")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = v.SaveProof(context.Background(), "abc", "", "w", "")
	assert.Equal(t, common.CodeInput, common.ErrorCode(err))
}

// racingRepo reports no existing row, then loses the insert to a concurrent writer.
type racingRepo struct {
	reads  atomic.Int32
	winner entity.DocumentProof
	getErr error
	create error
}

func (r *racingRepo) GetByHash(context.Context, string) (*entity.DocumentProof, error) {
	if r.reads.Add(1) == 1 {
		if r.getErr != nil {
			return nil, r.getErr
		}
		return nil, common.ErrNotFound
	}
	w := r.winner
	return &w, nil
}

func (r *racingRepo) GetByDocumentUUID(context.Context, string) (*entity.DocumentProof, error) {
	return nil, r.getErr
}

func (r *racingRepo) Create(context.Context, *entity.DocumentProof) error { return r.create }
func (r *racingRepo) Count(context.Context) (int, error)                 { return 0, nil }

func TestSaveProof_Race(t *testing.T) {
	repo := &racingRepo{
		winner: entity.DocumentProof{ExplorerLink: "https://explorer.solana.com/tx/first?cluster=devnet"},
		create: repository.ErrDuplicate,
	}
	link, err := NewVerifier(repo, nil, "devnet", nil).SaveProof(context.Background(), "abc", "second", "w", "")
	require.NoError(t, err)
	assert.Equal(t, repo.winner.ExplorerLink, link)
}

func TestSaveProof_PropagatesStorageErrors(t *testing.T) {
	repo := &racingRepo{getErr: common.ErrDatabase}
	_, err := NewVerifier(repo, nil, "devnet", nil).SaveProof(context.Background(), "abc", "sig", "w", "")
	assert.ErrorIs(t, err, common.ErrDatabase)
	assert.Equal(t, common.CodeProof, common.ErrorCode(err))

	repo = &racingRepo{create: common.ErrDatabase}
	_, err = NewVerifier(repo, nil, "devnet", nil).SaveProof(context.Background(), "abc", "sig", "w", "")
	assert.ErrorIs(t, err, common.ErrDatabase)
}

func TestLookupProof(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	v := NewVerifier(repo, nil, "devnet", nil)
	_, err := v.SaveProof(ctx, "hash-a", "sig-a", "w", "doc-a")
	require.NoError(t, err)
	_, err = v.SaveProof(ctx, "hash-b", "sig-b", "w", "doc-b")
	require.NoError(t, err)

	p, err := v.LookupProof(ctx, LookupQuery{DocumentUUID: "doc-b"})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "sig-b", p.TransactionSignature)

	// hash wins over document id
	p, _ = v.LookupProof(ctx, LookupQuery{FileHash: "hash-a", DocumentUUID: "doc-b"})
	require.NotNil(t, p)
	assert.Equal(t, "sig-a", p.TransactionSignature)

	p, err = v.LookupProof(ctx, LookupQuery{FileHash: "nope"})
	assert.NoError(t, err)
	assert.Nil(t, p)

	p, err = v.LookupProof(ctx, LookupQuery{})
	assert.NoError(t, err)
	assert.Nil(t, p)

	broken := NewVerifier(&racingRepo{getErr: errors.New("disk on fire")}, nil, "", nil)
	p, err = broken.LookupProof(ctx, LookupQuery{DocumentUUID: "doc-a"})
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestCheckStatus(t *testing.T) {
	ctx := context.Background()
	p := &entity.DocumentProof{TransactionSignature: "sig"}

	tests := []struct {
		name   string
		proof  *entity.DocumentProof
		ledger Ledger
		want   Status
	}{
		{"no proof", nil, &fakeLedger{exists: true}, StatusNotFound},
		{"on chain", p, &fakeLedger{exists: true}, StatusVerifiedOnChain},
		{"pruned", p, &fakeLedger{exists: false}, StatusVerifiedDBPruned},
		{"ledger error", p, &fakeLedger{err: errors.New("timeout")}, StatusVerifiedDBPruned},
		{"no ledger", p, nil, StatusVerifiedDBPruned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewVerifier(nil, tt.ledger, "", nil).CheckStatus(ctx, tt.proof))
		})
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{exists: true}
	v := NewVerifier(openRepo(t), ledger, "devnet", nil)

	status, p := v.Verify(ctx, LookupQuery{FileHash: "abc"})
	assert.Equal(t, StatusNotFound, status)
	assert.Nil(t, p)
	assert.Zero(t, ledger.calls)

	_, err := v.SaveProof(ctx, "abc", "sig", "w", "")
	require.NoError(t, err)
	status, p = v.Verify(ctx, LookupQuery{FileHash: "ABC"})
	assert.Equal(t, StatusVerifiedOnChain, status)
	require.NotNil(t, p)

	ledger.exists = false
	status, _ = v.Verify(ctx, LookupQuery{FileHash: "abc"})
	assert.Equal(t, StatusVerifiedDBPruned, status)
}

func rpcServer(t *testing.T, reply func(req map[string]any) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, err := io.ReadAll(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		var req map[string]any
		if !assert.NoError(t, json.Unmarshal(body, &req)) {
			return
		}
		code, payload := reply(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func rpcResult(req map[string]any, result string) string {
	id, _ := json.Marshal(req["id"])
	return `{"jsonrpc":"2.0","id":` + string(id) + `,"result":` + result + `}`
}

func TestSolanaLedger(t *testing.T) {
	sig := solana.Signature{1, 2, 3, 4}.String()

	var got map[string]any
	found := rpcServer(t, func(req map[string]any) (int, string) {
		got = req
		return http.StatusOK, rpcResult(req, `{"slot":42,"blockTime":null}`)
	})
	l := NewSolanaLedger(LedgerConfig{RPCURL: found.URL, Timeout: time.Second}, nil)
	t.Cleanup(func() { _ = l.Close() })
	ok, err := l.TransactionExists(context.Background(), " "+sig+" ")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "getTransaction", got["method"])
	params, _ := got["params"].([]any)
	require.Len(t, params, 2)
	assert.Equal(t, sig, params[0])
	opts, _ := params[1].(map[string]any)
	assert.Equal(t, float64(0), opts["maxSupportedTransactionVersion"])
	assert.Equal(t, "base64", opts["encoding"])

	t.Run("null result", func(t *testing.T) {
		srv := rpcServer(t, func(req map[string]any) (int, string) {
			return http.StatusOK, rpcResult(req, "null")
		})
		ok, err := NewSolanaLedger(LedgerConfig{RPCURL: srv.URL}, nil).TransactionExists(context.Background(), sig)
		require.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("rpc error", func(t *testing.T) {
		srv := rpcServer(t, func(req map[string]any) (int, string) {
			id, _ := json.Marshal(req["id"])
			return http.StatusOK, `{"jsonrpc":"2.0","id":` + string(id) + `,"error":{"code":-32602,"message":"Invalid param"}}`
		})
		_, err := NewSolanaLedger(LedgerConfig{RPCURL: srv.URL}, nil).TransactionExists(context.Background(), sig)
		assert.ErrorContains(t, err, "Invalid param")
	})
	t.Run("http status", func(t *testing.T) {
		srv := rpcServer(t, func(map[string]any) (int, string) {
			return http.StatusTooManyRequests, "slow down"
		})
		_, err := NewSolanaLedger(LedgerConfig{RPCURL: srv.URL}, nil).TransactionExists(context.Background(), sig)
		assert.Error(t, err)
	})
	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		t.Cleanup(srv.Close)
		_, err := NewSolanaLedger(LedgerConfig{RPCURL: srv.URL, Timeout: 50 * time.Millisecond}, nil).
			TransactionExists(context.Background(), sig)
		assert.Error(t, err)
	})
	t.Run("bad signature", func(t *testing.T) {
		for _, s := range []string{"  ", "not-base58!", "5sig"} {
			_, err := NewSolanaLedger(LedgerConfig{RPCURL: found.URL}, nil).TransactionExists(context.Background(), s)
			assert.Error(t, err, s)
		}
	})
}

func TestLedgerConfigFrom(t *testing.T) {
	c := LedgerConfigFrom(common.LedgerConfig{RPCURL: "http://x", Cluster: "devnet", Timeout: time.Second, RequestsPerSecond: 3})
	assert.Equal(t, LedgerConfig{RPCURL: "http://x", Timeout: time.Second, RequestsPerSecond: 3}, c)
}
