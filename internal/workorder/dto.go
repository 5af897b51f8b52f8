package workorder

import "time"

// createRequest is the JSON payload for creating a work order.
type createRequest struct {
	Number         string          `json:"number"`
	Buyer          string          `json:"buyer" validate:"required"`
	OrderDate      time.Time       `json:"order_date" validate:"required"`
	Deadline       time.Time       `json:"deadline" validate:"required"`
	Notes          string          `json:"notes"`
	ActorID        int64           `json:"actor_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Details        []detailRequest `json:"details" validate:"required,min=1,dive"`
}

type detailRequest struct {
	VariantID int64   `json:"variant_id" validate:"required"`
	QtyOrder  float64 `json:"qty_order" validate:"required,gt=0"`
	CostPrice float64 `json:"cost_price" validate:"gte=0"`
	Status    string  `json:"status"`
}

// updateRequest is the JSON payload for the delta-aware update.
type updateRequest struct {
	Buyer     *string         `json:"buyer"`
	OrderDate *time.Time      `json:"order_date"`
	Deadline  *time.Time      `json:"deadline"`
	Status    *string         `json:"status"`
	Notes     *string         `json:"notes"`
	ActorID   int64           `json:"actor_id"`
	Details   []detailRequest `json:"details" validate:"dive"`
}

type createStageRequest struct {
	DetailID   int64   `json:"detail_id" validate:"required"`
	Name       string  `json:"name" validate:"required"`
	Seq        int     `json:"seq" validate:"required,gt=0"`
	QtyIn      float64 `json:"qty_in" validate:"gte=0"`
	AssigneeID int64   `json:"assignee_id"`
	Status     string  `json:"status"`
	ActorID    int64   `json:"actor_id"`
}

type updateStageRequest struct {
	Name      *string    `json:"name"`
	Seq       *int       `json:"seq"`
	QtyIn     *float64   `json:"qty_in"`
	QtyReject *float64   `json:"qty_reject"`
	Assignee  *int64     `json:"assignee_id"`
	Status    *string    `json:"status"`
	StartedAt *time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
	ActorID   int64      `json:"actor_id"`
}

type approveStageRequest struct {
	Decision string `json:"decision" validate:"required,oneof=APPROVED REJECTED"`
	Note     string `json:"note"`
	ActorID  int64  `json:"actor_id"`
}
