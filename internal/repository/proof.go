package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/entity"
)

// ErrDuplicate is returned when a unique key already exists.
var ErrDuplicate = errors.New("duplicate key")

type ProofRepository interface {
	GetByHash(ctx context.Context, fileHash string) (*entity.DocumentProof, error)
	GetByDocumentUUID(ctx context.Context, documentUUID string) (*entity.DocumentProof, error)
	Create(ctx context.Context, p *entity.DocumentProof) error
	Count(ctx context.Context) (int, error)
}

type proofRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewProofRepository(db *DB, logger *slog.Logger) ProofRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &proofRepo{db: db, logger: logger}
}

var proofColumns = []string{"id", "file_hash", "transaction_signature", "wallet_address", "document_uuid", "explorer_link", "created_at"}

func (r *proofRepo) GetByHash(ctx context.Context, fileHash string) (*entity.DocumentProof, error) {
	return r.getBy(ctx, "file_hash", fileHash)
}

// GetByDocumentUUID returns the most recent proof carrying documentUUID.
func (r *proofRepo) GetByDocumentUUID(ctx context.Context, documentUUID string) (*entity.DocumentProof, error) {
	return r.getBy(ctx, "document_uuid", documentUUID)
}

func (r *proofRepo) getBy(ctx context.Context, column, value string) (*entity.DocumentProof, error) {
	b := r.db.builder()
	q, args := b.Select(proofColumns...).
		From(b.Table(tableDocumentProofs)).
		Where(entsql.EQ(column, value)).
		OrderBy(entsql.Desc("id")).
		Limit(1).
		Query()

	var (
		p       entity.DocumentProof
		docUUID sql.NullString
	)
	err := r.db.SQL().QueryRowContext(ctx, q, args...).Scan(
		&p.ID, &p.FileHash, &p.TransactionSignature, &p.WalletAddress, &docUUID, &p.ExplorerLink, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("proof with %s %q: %w", column, value, common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get document proof", column, value, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	if docUUID.Valid {
		p.DocumentUUID = &docUUID.String
	}
	return &p, nil
}

// Create inserts p and sets its ID. A file hash that already has a proof
// returns ErrDuplicate.
func (r *proofRepo) Create(ctx context.Context, p *entity.DocumentProof) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var docUUID any
	if p.DocumentUUID != nil {
		docUUID = *p.DocumentUUID
	}
	ins := r.db.builder().Insert(tableDocumentProofs).
		Columns(proofColumns[1:]...).
		Values(p.FileHash, p.TransactionSignature, p.WalletAddress, docUUID, p.ExplorerLink, p.CreatedAt)

	var err error
	if r.db.Dialect == dialect.Postgres {
		q, args := ins.Returning("id").Query()
		err = r.db.SQL().QueryRowContext(ctx, q, args...).Scan(&p.ID)
	} else {
		q, args := ins.Query()
		var res sql.Result
		if res, err = r.db.SQL().ExecContext(ctx, q, args...); err == nil {
			p.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("proof for %s: %w", p.FileHash, ErrDuplicate)
		}
		r.logger.Error("failed to create document proof", "file_hash", p.FileHash, "error", err)
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *proofRepo) Count(ctx context.Context) (int, error) {
	return count(ctx, r.db, tableDocumentProofs)
}

func count(ctx context.Context, db *DB, table string) (int, error) {
	b := db.builder()
	q, args := b.Select(entsql.Count("*")).From(b.Table(table)).Query()
	var n int
	if err := db.SQL().QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", common.ErrDatabase, table, err)
	}
	return n, nil
}
