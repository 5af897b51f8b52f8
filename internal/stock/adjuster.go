package stock

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TxPort is the slice of a caller's open transaction the adjuster writes
// through. Implementations must back both methods with the same transaction so
// no commit boundary separates a stock adjustment from the writes that
// justified it.
type TxPort interface {
	GetMaterialStockForUpdate(ctx context.Context, materialID int64) (MaterialStock, error)
	SaveMaterialStock(ctx context.Context, s MaterialStock) error
}

// Adjuster applies signed quantity deltas to material stock counters.
type Adjuster struct{}

// NewAdjuster constructs an Adjuster.
func NewAdjuster() *Adjuster {
	return &Adjuster{}
}

// Apply subtracts delta from the material's counter inside the caller's
// transaction. A positive delta is consumption, a negative delta returns
// stock. The result is rounded to 2 decimals; a result below zero aborts with
// *InsufficientStockError and leaves the counter untouched.
func (a *Adjuster) Apply(ctx context.Context, tx TxPort, materialID int64, delta float64, actorID int64) (MaterialStock, error) {
	cur, err := tx.GetMaterialStockForUpdate(ctx, materialID)
	if err != nil {
		return MaterialStock{}, err
	}

	after := decimal.NewFromFloat(cur.Qty).
		Sub(decimal.NewFromFloat(delta)).
		Round(2)
	if after.IsNegative() {
		return MaterialStock{}, &InsufficientStockError{
			MaterialID:   cur.MaterialID,
			MaterialName: cur.MaterialName,
			Remaining:    cur.Qty,
			Requested:    delta,
		}
	}

	cur.Qty = after.InexactFloat64()
	cur.UpdatedBy = actorID
	cur.UpdatedAt = time.Now().UTC()
	if err := tx.SaveMaterialStock(ctx, cur); err != nil {
		return MaterialStock{}, err
	}
	return cur, nil
}
