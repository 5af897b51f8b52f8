package bom

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed BOM and variant lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Resolve returns the materials and per-unit quantities required for one unit
// of the variant. A variant without BOM rows yields an empty slice.
func (r *Repository) Resolve(ctx context.Context, variantID int64) ([]Requirement, error) {
	rows, err := r.pool.Query(ctx, `SELECT material_id, qty_per_unit, COALESCE(waste_pct, 0)
FROM bom_items WHERE product_variant_id=$1 ORDER BY material_id`, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reqs []Requirement
	for rows.Next() {
		var req Requirement
		if err := rows.Scan(&req.MaterialID, &req.QtyPerUnit, &req.WastePct); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reqs, nil
}

// GetVariant returns the variant master row.
func (r *Repository) GetVariant(ctx context.Context, id int64) (Variant, error) {
	var v Variant
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, COALESCE(cost_price, 0)
FROM product_variants WHERE id=$1`, id).Scan(&v.ID, &v.SKU, &v.Name, &v.CostPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Variant{}, ErrVariantNotFound
		}
		return Variant{}, err
	}
	return v, nil
}
