// Package bom resolves bill-of-materials requirements and product-variant
// master data. It is read-only: material usage bookkeeping belongs to the
// callers that consume a resolved BOM.
package bom

import "errors"

// Requirement is one material line of a variant's bill of materials.
type Requirement struct {
	MaterialID int64
	QtyPerUnit float64
	WastePct   float64
}

// Variant carries the product-variant master fields the core needs.
type Variant struct {
	ID        int64
	SKU       string
	Name      string
	CostPrice float64
}

// ErrVariantNotFound indicates a missing product variant.
var ErrVariantNotFound = errors.New("bom: product variant not found")
