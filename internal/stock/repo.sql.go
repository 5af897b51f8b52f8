package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/garuda-mes/garuda-mes/internal/platform/db"
)

// Repository provides PostgreSQL backed stock persistence for standalone
// adjustments and reads. Transactional adjustments that span other entities
// run through the owning package's TxRepository, which satisfies TxPort.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetStock returns the current counter for a material.
func (r *Repository) GetStock(ctx context.Context, materialID int64) (MaterialStock, error) {
	return scanStock(ctx, r.pool, materialID, false)
}

// WithTx wraps fn in a repeatable-read transaction exposing a TxPort.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxPort) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txPort{tx: tx})
	})
}

type txPort struct {
	tx pgx.Tx
}

func (p *txPort) GetMaterialStockForUpdate(ctx context.Context, materialID int64) (MaterialStock, error) {
	return scanStock(ctx, p.tx, materialID, true)
}

func (p *txPort) SaveMaterialStock(ctx context.Context, s MaterialStock) error {
	tag, err := p.tx.Exec(ctx, `UPDATE material_stocks SET stock_qty=$2, updated_by=$3, updated_at=$4 WHERE material_id=$1`,
		s.MaterialID, s.Qty, s.UpdatedBy, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMaterialNotFound
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanStock(ctx context.Context, q querier, materialID int64, forUpdate bool) (MaterialStock, error) {
	query := `SELECT s.material_id, m.name, s.stock_qty, COALESCE(s.updated_by, 0), s.updated_at
FROM material_stocks s JOIN materials m ON m.id = s.material_id WHERE s.material_id=$1`
	if forUpdate {
		query += ` FOR UPDATE OF s`
	}
	var s MaterialStock
	err := q.QueryRow(ctx, query, materialID).Scan(&s.MaterialID, &s.MaterialName, &s.Qty, &s.UpdatedBy, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MaterialStock{}, ErrMaterialNotFound
		}
		return MaterialStock{}, err
	}
	return s, nil
}
