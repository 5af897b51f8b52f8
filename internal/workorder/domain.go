// Package workorder manages manufacturing work orders (SPK) from creation
// through production stages. A work order owns details per product variant;
// each detail owns the BOM snapshot captured at order time and an ordered set
// of production stages, the highest-sequence stage being terminal.
package workorder

import (
	"errors"
	"time"
)

// Status values shared by orders, details and stages.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
)

// DefaultStageNames is the fixed pipeline generated for every new detail,
// in sequence order. The last entry is the terminal stage.
var DefaultStageNames = []string{"cutting", "sewing", "finishing", "qc", "packing"}

// WorkOrder is the order header. It owns zero or more details.
type WorkOrder struct {
	ID        int64
	Number    string
	Buyer     string
	OrderDate time.Time
	Deadline  time.Time
	Status    Status
	Notes     string
	CreatedBy int64
	CreatedAt time.Time
	UpdatedBy int64
	UpdatedAt time.Time
	Details   []Detail
}

// Detail is one product-variant line of a work order.
type Detail struct {
	ID          int64
	WorkOrderID int64
	VariantID   int64
	QtyOrder    float64
	QtyDone     float64
	QtyReject   float64
	CostPrice   float64
	Status      Status
	Snapshots   []BomSnapshot
	Stages      []Stage
}

// BomSnapshot freezes one material requirement of a detail at order time.
// Later edits to the BOM master never change the recorded requirement.
type BomSnapshot struct {
	ID          int64
	DetailID    int64
	MaterialID  int64
	QtyPerUnit  float64
	QtyRequired float64
	WastePct    float64
}

// Stage is one step of a detail's production pipeline. Seq is unique within
// the detail; the stage with the highest seq is terminal.
type Stage struct {
	ID             int64
	DetailID       int64
	Name           string
	Seq            int
	QtyIn          float64
	QtyReject      float64
	AssigneeID     int64
	StartedAt      *time.Time
	EndedAt        *time.Time
	Status         Status
	IsApproved     bool
	ApprovalStatus Status
	UpdatedBy      int64
	UpdatedAt      time.Time
}

// Domain errors.
var (
	// ErrNotFound indicates a missing work order.
	ErrNotFound = errors.New("workorder: work order not found")
	// ErrDetailNotFound indicates a missing work order detail.
	ErrDetailNotFound = errors.New("workorder: work order detail not found")
	// ErrStageNotFound indicates a missing production stage.
	ErrStageNotFound = errors.New("workorder: production stage not found")
	// ErrSeqTaken indicates another stage of the same detail already holds
	// the requested sequence. Stage updates never shift siblings.
	ErrSeqTaken = errors.New("workorder: stage sequence already in use")
	// ErrDuplicateNumber indicates the order number is already taken.
	ErrDuplicateNumber = errors.New("workorder: order number already in use")
	// ErrNoDetails indicates an order payload without detail lines.
	ErrNoDetails = errors.New("workorder: minimal 1 detail")
	// ErrInvalidQuantity indicates a non-positive order quantity.
	ErrInvalidQuantity = errors.New("workorder: qty order must be greater than zero")
	// ErrInvalidDecision indicates an unknown approval decision.
	ErrInvalidDecision = errors.New("workorder: decision must be APPROVED or REJECTED")
)

// terminalSeq returns the highest seq among stages, 0 when empty.
func terminalSeq(stages []Stage) int {
	max := 0
	for _, st := range stages {
		if st.Seq > max {
			max = st.Seq
		}
	}
	return max
}

// detailComplete applies the completion rule shared by the stage approval
// cascade and the delivery-note completion scan.
func detailComplete(d Detail) bool {
	return equalQty(d.QtyDone+d.QtyReject, d.QtyOrder)
}

func equalQty(a, b float64) bool {
	diff := a - b
	return diff < 1e-9 && diff > -1e-9
}
