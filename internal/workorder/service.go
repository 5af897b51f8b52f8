package workorder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garuda-mes/garuda-mes/internal/bom"
	"github.com/garuda-mes/garuda-mes/internal/shared"
	"github.com/garuda-mes/garuda-mes/internal/stock"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetWorkOrder(ctx context.Context, id int64) (WorkOrder, error)
	ListWorkOrders(ctx context.Context, limit, offset int) ([]WorkOrder, error)
	GetStage(ctx context.Context, id int64) (Stage, error)
	ListOpenWorkOrderIDs(ctx context.Context) ([]int64, error)
}

// BOMPort exposes BOM master resolution and variant lookups.
type BOMPort interface {
	Resolve(ctx context.Context, variantID int64) ([]bom.Requirement, error)
	GetVariant(ctx context.Context, id int64) (bom.Variant, error)
}

// StockPort applies stock deltas through the caller's transaction.
type StockPort interface {
	Apply(ctx context.Context, tx stock.TxPort, materialID int64, delta float64, actorID int64) (stock.MaterialStock, error)
}

// ApprovalPort appends to and reads from the approval ledger.
type ApprovalPort interface {
	Record(ctx context.Context, rec shared.ApprovalRecord) (int64, error)
	List(ctx context.Context, module string, refID int64) ([]shared.ApprovalRecord, error)
}

// AuditPort records entity mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates work order transactions, stage sequencing and the
// stage approval cascade.
type Service struct {
	repo        RepositoryPort
	boms        BOMPort
	stock       StockPort
	approvals   ApprovalPort
	audit       AuditPort
	actors      *shared.ActorResolver
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
}

// NewService constructs the work order service.
func NewService(repo RepositoryPort, boms BOMPort, stockPort StockPort, approvals ApprovalPort, audit AuditPort, actors *shared.ActorResolver, idem *shared.IdempotencyStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, boms: boms, stock: stockPort, approvals: approvals, audit: audit, actors: actors, idempotency: idem, logger: logger}
}

// DetailInput is one product-variant line of a create/update payload.
// A zero CostPrice falls back to the variant's master cost price; there is no
// way to order at an explicit zero price.
type DetailInput struct {
	VariantID int64
	QtyOrder  float64
	CostPrice float64
	Status    Status
}

// CreateInput describes a work order creation payload.
type CreateInput struct {
	Number         string
	Buyer          string
	OrderDate      time.Time
	Deadline       time.Time
	Notes          string
	ActorID        int64
	IdempotencyKey string
	Details        []DetailInput
}

// UpdateInput describes a delta-aware work order update. Nil header fields are
// left unchanged; details are matched to existing rows by variant.
type UpdateInput struct {
	Buyer     *string
	OrderDate *time.Time
	Deadline  *time.Time
	Status    *Status
	Notes     *string
	ActorID   int64
	Details   []DetailInput
}

// CreateFull persists header, details, BOM snapshots, default stages and the
// accumulated stock decrements as one atomic unit. Any decrement that would
// drive a material negative aborts the whole transaction.
func (s *Service) CreateFull(ctx context.Context, input CreateInput) (*WorkOrder, error) {
	if len(input.Details) == 0 {
		return nil, ErrNoDetails
	}
	for _, din := range input.Details {
		if din.QtyOrder <= 0 {
			return nil, ErrInvalidQuantity
		}
	}
	actor := s.actors.Resolve(input.ActorID)
	if input.Number == "" {
		input.Number = generateNumber("SPK")
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "work_order"); err != nil {
			return nil, err
		}
		insertedKey = true
	}

	now := time.Now().UTC()
	var orderID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header := WorkOrder{
			Number:    input.Number,
			Buyer:     input.Buyer,
			OrderDate: input.OrderDate,
			Deadline:  input.Deadline,
			Status:    StatusPending,
			Notes:     input.Notes,
			CreatedBy: actor,
			CreatedAt: now,
			UpdatedBy: actor,
			UpdatedAt: now,
		}
		id, err := tx.InsertWorkOrder(ctx, header)
		if err != nil {
			return err
		}
		orderID = id

		usage := make(map[int64]decimal.Decimal)
		for _, din := range input.Details {
			detailID, err := s.insertDetail(ctx, tx, id, din, usage)
			if err != nil {
				return err
			}
			if err := s.createDefaultStages(ctx, tx, detailID, actor, now); err != nil {
				return err
			}
		}

		return s.applyUsage(ctx, tx, usage, actor)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey, "work_order")
		}
		return nil, err
	}

	s.recordAudit(ctx, actor, "WO_CREATE", orderID, map[string]any{"number": input.Number, "details": len(input.Details)})
	created, err := s.repo.GetWorkOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateFull applies header changes and detail deltas as one atomic unit.
// Stock is adjusted by the per-material difference between the new and the
// previously snapshotted requirement, never recomputed from zero.
func (s *Service) UpdateFull(ctx context.Context, id int64, input UpdateInput) (*WorkOrder, error) {
	for _, din := range input.Details {
		if din.QtyOrder <= 0 {
			return nil, ErrInvalidQuantity
		}
	}
	actor := s.actors.Resolve(input.ActorID)
	now := time.Now().UTC()

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetWorkOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if input.Buyer != nil {
			header.Buyer = *input.Buyer
		}
		if input.OrderDate != nil {
			header.OrderDate = *input.OrderDate
		}
		if input.Deadline != nil {
			header.Deadline = *input.Deadline
		}
		if input.Status != nil {
			header.Status = *input.Status
		}
		if input.Notes != nil {
			header.Notes = *input.Notes
		}
		header.UpdatedBy = actor
		header.UpdatedAt = now
		if err := tx.UpdateWorkOrderHeader(ctx, header); err != nil {
			return err
		}

		existing, err := tx.ListDetails(ctx, id)
		if err != nil {
			return err
		}
		byVariant := make(map[int64]Detail, len(existing))
		for _, d := range existing {
			byVariant[d.VariantID] = d
		}

		delta := make(map[int64]decimal.Decimal)
		for _, din := range input.Details {
			if matched, ok := byVariant[din.VariantID]; ok {
				if err := s.rebaseDetail(ctx, tx, matched, din, delta); err != nil {
					return err
				}
				continue
			}
			// New variant on this order: old usage is zero.
			detailID, err := s.insertDetail(ctx, tx, id, din, delta)
			if err != nil {
				return err
			}
			if err := s.createDefaultStages(ctx, tx, detailID, actor, now); err != nil {
				return err
			}
		}

		return s.applyUsage(ctx, tx, delta, actor)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "WO_UPDATE", id, map[string]any{"details": len(input.Details)})
	updated, err := s.repo.GetWorkOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// GetWorkOrder returns the full aggregate.
func (s *Service) GetWorkOrder(ctx context.Context, id int64) (*WorkOrder, error) {
	wo, err := s.repo.GetWorkOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return &wo, nil
}

// ScanCompletion flips the work order to DONE when every detail satisfies
// qty_done + qty_reject == qty_order. It is the completion rule shared by the
// stage approval cascade and the delivery-note post-approval scan.
func (s *Service) ScanCompletion(ctx context.Context, workOrderID int64, actorID int64) error {
	actor := s.actors.Resolve(actorID)
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetWorkOrderForUpdate(ctx, workOrderID)
		if err != nil {
			return err
		}
		if header.Status == StatusDone {
			return nil
		}
		details, err := tx.ListDetails(ctx, workOrderID)
		if err != nil {
			return err
		}
		if len(details) == 0 {
			return nil
		}
		for _, d := range details {
			if !detailComplete(d) {
				return nil
			}
		}
		return tx.SetWorkOrderStatus(ctx, workOrderID, StatusDone, actor)
	})
}

// StageApprovals returns the approval ledger entries for one stage.
func (s *Service) StageApprovals(ctx context.Context, stageID int64) ([]shared.ApprovalRecord, error) {
	if _, err := s.repo.GetStage(ctx, stageID); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, "spk_stage", stageID)
}

// ListWorkOrders returns order headers, newest first.
func (s *Service) ListWorkOrders(ctx context.Context, limit, offset int) ([]WorkOrder, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListWorkOrders(ctx, limit, offset)
}

// ListOpenWorkOrderIDs exposes open orders for the reconciliation job.
func (s *Service) ListOpenWorkOrderIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListOpenWorkOrderIDs(ctx)
}

// insertDetail persists a new detail with its live-BOM snapshot and adds the
// snapshot requirements to usage.
func (s *Service) insertDetail(ctx context.Context, tx TxRepository, workOrderID int64, din DetailInput, usage map[int64]decimal.Decimal) (int64, error) {
	variant, err := s.boms.GetVariant(ctx, din.VariantID)
	if err != nil {
		return 0, err
	}
	costPrice := din.CostPrice
	if costPrice == 0 {
		costPrice = variant.CostPrice
	}
	status := din.Status
	if status == "" {
		status = StatusPending
	}
	detailID, err := tx.InsertDetail(ctx, Detail{
		WorkOrderID: workOrderID,
		VariantID:   din.VariantID,
		QtyOrder:    din.QtyOrder,
		CostPrice:   costPrice,
		Status:      status,
	})
	if err != nil {
		return 0, err
	}

	reqs, err := s.boms.Resolve(ctx, din.VariantID)
	if err != nil {
		return 0, err
	}
	for _, req := range reqs {
		required := requiredQty(req.QtyPerUnit, din.QtyOrder)
		if _, err := tx.InsertSnapshot(ctx, BomSnapshot{
			DetailID:    detailID,
			MaterialID:  req.MaterialID,
			QtyPerUnit:  req.QtyPerUnit,
			QtyRequired: required,
			WastePct:    req.WastePct,
		}); err != nil {
			return 0, err
		}
		usage[req.MaterialID] = usage[req.MaterialID].Add(decimal.NewFromFloat(required))
	}
	return detailID, nil
}

// rebaseDetail updates a matched detail and replaces its snapshot, rescaling
// the frozen per-unit figures to the new qty_order. The live BOM master is not
// consulted: the snapshot captured at creation stays authoritative.
func (s *Service) rebaseDetail(ctx context.Context, tx TxRepository, matched Detail, din DetailInput, delta map[int64]decimal.Decimal) error {
	if din.CostPrice != 0 {
		matched.CostPrice = din.CostPrice
	}
	if din.Status != "" {
		matched.Status = din.Status
	}
	matched.QtyOrder = din.QtyOrder
	if err := tx.UpdateDetail(ctx, matched); err != nil {
		return err
	}

	old, err := tx.ListSnapshots(ctx, matched.ID)
	if err != nil {
		return err
	}
	if err := tx.DeleteSnapshots(ctx, matched.ID); err != nil {
		return err
	}
	for _, snap := range old {
		delta[snap.MaterialID] = delta[snap.MaterialID].Sub(decimal.NewFromFloat(snap.QtyRequired))

		required := requiredQty(snap.QtyPerUnit, din.QtyOrder)
		if _, err := tx.InsertSnapshot(ctx, BomSnapshot{
			DetailID:    matched.ID,
			MaterialID:  snap.MaterialID,
			QtyPerUnit:  snap.QtyPerUnit,
			QtyRequired: required,
			WastePct:    snap.WastePct,
		}); err != nil {
			return err
		}
		delta[snap.MaterialID] = delta[snap.MaterialID].Add(decimal.NewFromFloat(required))
	}
	return nil
}

// createDefaultStages generates the fixed pipeline, seq 1..n, all pending.
func (s *Service) createDefaultStages(ctx context.Context, tx TxRepository, detailID int64, actor int64, now time.Time) error {
	for i, name := range DefaultStageNames {
		if _, err := tx.InsertStage(ctx, Stage{
			DetailID:   detailID,
			Name:       name,
			Seq:        i + 1,
			AssigneeID: actor,
			Status:     StatusPending,
			UpdatedBy:  actor,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// applyUsage decrements stock for every material with a nonzero accumulated
// delta, in material order so concurrent transactions lock rows consistently.
func (s *Service) applyUsage(ctx context.Context, tx TxRepository, usage map[int64]decimal.Decimal, actor int64) error {
	materialIDs := make([]int64, 0, len(usage))
	for id := range usage {
		materialIDs = append(materialIDs, id)
	}
	sort.Slice(materialIDs, func(i, j int) bool { return materialIDs[i] < materialIDs[j] })
	for _, id := range materialIDs {
		d := usage[id]
		if d.IsZero() {
			continue
		}
		if _, err := s.stock.Apply(ctx, tx, id, d.InexactFloat64(), actor); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "work_order",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record", slog.Any("error", err))
	}
}

// requiredQty computes qty_per_unit x qty_order rounded to 4 decimals.
func requiredQty(qtyPerUnit, qtyOrder float64) float64 {
	return decimal.NewFromFloat(qtyPerUnit).
		Mul(decimal.NewFromFloat(qtyOrder)).
		Round(4).
		InexactFloat64()
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}
