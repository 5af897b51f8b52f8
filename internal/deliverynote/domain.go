// Package deliverynote manages shipment documents (surat jalan) reconciled
// against production output. A shipment-type note may never ship more of a
// work-order detail than its terminal stage has produced.
package deliverynote

import (
	"errors"
	"fmt"
	"time"
)

// NoteType discriminates the movement direction of a note.
type NoteType string

const (
	// TypeShipment moves finished goods out to the buyer. Only this type is
	// reconciled against remaining production output.
	TypeShipment NoteType = "SHIPMENT"
	// TypeTransfer moves goods or materials between internal locations.
	TypeTransfer NoteType = "TRANSFER"
	// TypeReturn receives goods back in.
	TypeReturn NoteType = "RETURN"
)

// Outbound reports whether the note type ships goods out.
func (t NoteType) Outbound() bool {
	return t == TypeShipment
}

// Status values for notes and their lines.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// ItemKind discriminates the two foreign-key spaces a line can point into.
type ItemKind string

const (
	KindProduct  ItemKind = "PRODUCT"
	KindMaterial ItemKind = "MATERIAL"
)

// ItemRef is a tagged reference to either a product variant or a material.
// The zero value is invalid.
type ItemRef struct {
	Kind ItemKind
	ID   int64
}

// ProductRef references a product variant.
func ProductRef(id int64) ItemRef { return ItemRef{Kind: KindProduct, ID: id} }

// MaterialRef references a material.
func MaterialRef(id int64) ItemRef { return ItemRef{Kind: KindMaterial, ID: id} }

// Valid reports whether the reference carries a known kind and a positive id.
func (r ItemRef) Valid() bool {
	return (r.Kind == KindProduct || r.Kind == KindMaterial) && r.ID > 0
}

// DeliveryNote is the shipment document header. It owns zero or more lines.
type DeliveryNote struct {
	ID          int64
	Number      string
	Date        time.Time
	Type        NoteType
	VendorRef   string
	Destination string
	Status      Status
	Notes       string
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedBy   int64
	UpdatedAt   time.Time
	Lines       []Line
}

// Line is one item movement of a note, optionally anchored to a work-order
// detail. PRODUCT lines on shipment notes are the reconciled ones.
type Line struct {
	ID                int64
	NoteID            int64
	WorkOrderID       int64
	WorkOrderDetailID int64
	Item              ItemRef
	QtyOut            float64
	QtyIn             float64
	LaborCost         float64
	Status            Status
}

// DetailRef is the slice of a work-order detail the reconciliation needs.
type DetailRef struct {
	ID          int64
	WorkOrderID int64
	VariantID   int64
}

// Domain errors.
var (
	// ErrNotFound indicates a missing delivery note.
	ErrNotFound = errors.New("deliverynote: delivery note not found")
	// ErrDetailNotFound indicates a missing work-order detail reference.
	ErrDetailNotFound = errors.New("deliverynote: work order detail not found")
	// ErrDuplicateNumber indicates the note number is already taken.
	ErrDuplicateNumber = errors.New("deliverynote: note number already in use")
	// ErrNoLines indicates a note payload without lines.
	ErrNoLines = errors.New("deliverynote: minimal 1 line")
	// ErrInvalidItemRef indicates a line without a usable item reference.
	ErrInvalidItemRef = errors.New("deliverynote: item reference must be PRODUCT or MATERIAL with an id")
	// ErrInvalidDecision indicates an unknown approval decision.
	ErrInvalidDecision = errors.New("deliverynote: decision must be APPROVED or REJECTED")
)

// InsufficientGoodsError rejects a shipment line exceeding the remaining
// production output of its work-order detail.
type InsufficientGoodsError struct {
	WorkOrderDetailID int64
	Remaining         float64
	Requested         float64
}

func (e *InsufficientGoodsError) Error() string {
	return fmt.Sprintf("deliverynote: insufficient goods for detail %d: remaining %.2f, requested %.2f",
		e.WorkOrderDetailID, e.Remaining, e.Requested)
}
