package deliverynote

import "time"

// createRequest is the JSON payload for creating a delivery note.
type createRequest struct {
	Number         string        `json:"number"`
	Date           time.Time     `json:"date" validate:"required"`
	Type           string        `json:"type" validate:"omitempty,oneof=SHIPMENT TRANSFER RETURN"`
	VendorRef      string        `json:"vendor_ref"`
	Destination    string        `json:"destination"`
	Notes          string        `json:"notes"`
	ActorID        int64         `json:"actor_id"`
	IdempotencyKey string        `json:"idempotency_key"`
	Lines          []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type lineRequest struct {
	WorkOrderDetailID int64   `json:"work_order_detail_id" validate:"required"`
	ItemKind          string  `json:"item_kind" validate:"required,oneof=PRODUCT MATERIAL"`
	ItemID            int64   `json:"item_id"`
	QtyOut            float64 `json:"qty_out" validate:"gte=0"`
	QtyIn             float64 `json:"qty_in" validate:"gte=0"`
	LaborCost         float64 `json:"labor_cost" validate:"gte=0"`
	Status            string  `json:"status"`
}

// updateRequest is the JSON payload for the line-matching update.
type updateRequest struct {
	Date        *time.Time          `json:"date"`
	Type        *string             `json:"type" validate:"omitempty,oneof=SHIPMENT TRANSFER RETURN"`
	VendorRef   *string             `json:"vendor_ref"`
	Destination *string             `json:"destination"`
	Status      *string             `json:"status"`
	Notes       *string             `json:"notes"`
	ActorID     int64               `json:"actor_id"`
	Lines       []lineChangeRequest `json:"lines" validate:"dive"`
}

type lineChangeRequest struct {
	WorkOrderDetailID int64    `json:"work_order_detail_id" validate:"required"`
	ItemKind          *string  `json:"item_kind" validate:"omitempty,oneof=PRODUCT MATERIAL"`
	ItemID            *int64   `json:"item_id"`
	QtyOut            *float64 `json:"qty_out"`
	QtyIn             *float64 `json:"qty_in"`
	LaborCost         *float64 `json:"labor_cost"`
	Status            *string  `json:"status"`
}

type updateStatusRequest struct {
	Status  string `json:"status" validate:"required"`
	ActorID int64  `json:"actor_id"`
}

type approveRequest struct {
	Decision string `json:"decision" validate:"required,oneof=APPROVED REJECTED"`
	Note     string `json:"note"`
	ActorID  int64  `json:"actor_id"`
}
