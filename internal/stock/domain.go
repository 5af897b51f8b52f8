// Package stock maintains the raw-material stock counters. Each material has a
// single point-in-time quantity adjusted under a guarded read-modify-write
// inside the calling transaction; there is no movement journal.
package stock

import (
	"errors"
	"fmt"
	"time"
)

// MaterialStock is the mutable stock counter for one material.
type MaterialStock struct {
	MaterialID   int64
	MaterialName string
	Qty          float64
	UpdatedBy    int64
	UpdatedAt    time.Time
}

// InsufficientStockError reports a decrement that would drive a material
// negative. The enclosing transaction must abort when it surfaces.
type InsufficientStockError struct {
	MaterialID   int64
	MaterialName string
	Remaining    float64
	Requested    float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock: insufficient stock for %s: remaining %.2f, requested %.2f",
		e.MaterialName, e.Remaining, e.Requested)
}

// ErrMaterialNotFound indicates a missing stock row. Absence of the row is a
// data fault, not a business outcome.
var ErrMaterialNotFound = errors.New("stock: material not found")
