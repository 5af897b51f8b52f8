package deliverynote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/garuda-mes/garuda-mes/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetNote(ctx context.Context, id int64) (DeliveryNote, error)
	ListNotes(ctx context.Context, limit, offset int) ([]DeliveryNote, error)
	Remaining(ctx context.Context, detailID, excludeNoteID int64) (float64, error)
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

// CompletionScanner re-checks a work order's completion rule. The work order
// service satisfies it.
type CompletionScanner interface {
	ScanCompletion(ctx context.Context, workOrderID int64, actorID int64) error
}

// Service orchestrates delivery note reconciliation against production output.
type Service struct {
	repo        RepositoryPort
	approvals   ApprovalPort
	audit       AuditPort
	completion  CompletionScanner
	actors      *shared.ActorResolver
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
}

// NewService constructs the delivery note service.
func NewService(repo RepositoryPort, approvals ApprovalPort, audit AuditPort, completion CompletionScanner, actors *shared.ActorResolver, idem *shared.IdempotencyStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, approvals: approvals, audit: audit, completion: completion, actors: actors, idempotency: idem, logger: logger}
}

// LineInput is one item movement of a create payload. PRODUCT lines derive
// their item id from the referenced work-order detail's variant.
type LineInput struct {
	WorkOrderDetailID int64
	Item              ItemRef
	QtyOut            float64
	QtyIn             float64
	LaborCost         float64
	Status            Status
}

// CreateInput describes a delivery note creation payload.
type CreateInput struct {
	Number         string
	Date           time.Time
	Type           NoteType
	VendorRef      string
	Destination    string
	Notes          string
	ActorID        int64
	IdempotencyKey string
	Lines          []LineInput
}

// LineChange carries the fields to change on a line matched by work-order
// detail; nil fields are untouched. Unmatched changes insert a new line and
// then require Item.
type LineChange struct {
	WorkOrderDetailID int64
	Item              *ItemRef
	QtyOut            *float64
	QtyIn             *float64
	LaborCost         *float64
	Status            *Status
}

// UpdateInput describes a delivery note update. Nil header fields are left
// unchanged.
type UpdateInput struct {
	Date        *time.Time
	Type        *NoteType
	VendorRef   *string
	Destination *string
	Status      *Status
	Notes       *string
	ActorID     int64
	Lines       []LineChange
}

// ApproveInput carries an approval decision for one note.
type ApproveInput struct {
	NoteID   int64
	Decision shared.Decision
	Note     string
	ActorID  int64
}

// CreateFull persists header and lines as one atomic unit. Every PRODUCT line
// of a shipment-type note is validated against the remaining production output
// of its work-order detail, counting lines already written for this note.
func (s *Service) CreateFull(ctx context.Context, input CreateInput) (*DeliveryNote, error) {
	if len(input.Lines) == 0 {
		return nil, ErrNoLines
	}
	for _, lin := range input.Lines {
		if lin.Item.Kind != KindProduct && lin.Item.Kind != KindMaterial {
			return nil, ErrInvalidItemRef
		}
		if lin.Item.Kind == KindMaterial && lin.Item.ID <= 0 {
			return nil, ErrInvalidItemRef
		}
	}
	actor := s.actors.Resolve(input.ActorID)
	if input.Number == "" {
		input.Number = fmt.Sprintf("DN-%s", uuid.NewString()[:8])
	}
	if input.Type == "" {
		input.Type = TypeShipment
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "delivery_note"); err != nil {
			return nil, err
		}
		insertedKey = true
	}

	now := time.Now().UTC()
	var noteID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header := DeliveryNote{
			Number:      input.Number,
			Date:        input.Date,
			Type:        input.Type,
			VendorRef:   input.VendorRef,
			Destination: input.Destination,
			Status:      StatusPending,
			Notes:       input.Notes,
			CreatedBy:   actor,
			CreatedAt:   now,
			UpdatedBy:   actor,
			UpdatedAt:   now,
		}
		id, err := tx.InsertNote(ctx, header)
		if err != nil {
			return err
		}
		noteID = id

		for _, lin := range input.Lines {
			ref, err := tx.GetWorkOrderDetail(ctx, lin.WorkOrderDetailID)
			if err != nil {
				return err
			}
			if lin.Item.Kind == KindProduct && input.Type.Outbound() {
				if err := s.checkRemaining(ctx, tx, ref.ID, 0, lin.QtyOut); err != nil {
					return err
				}
			}
			status := lin.Status
			if status == "" {
				status = header.Status
			}
			if _, err := tx.InsertLine(ctx, Line{
				NoteID:            id,
				WorkOrderID:       ref.WorkOrderID,
				WorkOrderDetailID: ref.ID,
				Item:              resolveItem(lin.Item, ref),
				QtyOut:            lin.QtyOut,
				QtyIn:             lin.QtyIn,
				LaborCost:         lin.LaborCost,
				Status:            status,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey, "delivery_note")
		}
		return nil, err
	}

	s.recordAudit(ctx, actor, "DN_CREATE", noteID, map[string]any{"number": input.Number, "lines": len(input.Lines)})
	created, err := s.repo.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateFull applies header changes and line changes as one atomic unit. Lines
// are matched by work-order-detail reference; unmatched changes insert new
// lines. Whenever qty_out changes on a PRODUCT line of a shipment-type note,
// the remaining check runs again with this note's own lines excluded.
func (s *Service) UpdateFull(ctx context.Context, id int64, input UpdateInput) (*DeliveryNote, error) {
	actor := s.actors.Resolve(input.ActorID)
	now := time.Now().UTC()

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.GetNoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if input.Date != nil {
			header.Date = *input.Date
		}
		if input.Type != nil {
			header.Type = *input.Type
		}
		if input.VendorRef != nil {
			header.VendorRef = *input.VendorRef
		}
		if input.Destination != nil {
			header.Destination = *input.Destination
		}
		if input.Status != nil {
			header.Status = *input.Status
		}
		if input.Notes != nil {
			header.Notes = *input.Notes
		}
		header.UpdatedBy = actor
		header.UpdatedAt = now
		if err := tx.UpdateNoteHeader(ctx, header); err != nil {
			return err
		}

		existing, err := tx.ListLines(ctx, id)
		if err != nil {
			return err
		}
		byDetail := make(map[int64]Line, len(existing))
		for _, ln := range existing {
			byDetail[ln.WorkOrderDetailID] = ln
		}

		for _, change := range input.Lines {
			matched, ok := byDetail[change.WorkOrderDetailID]
			if !ok {
				if err := s.insertChangedLine(ctx, tx, header, change); err != nil {
					return err
				}
				continue
			}
			prev := matched
			if change.Item != nil {
				if change.Item.Kind != KindProduct && change.Item.Kind != KindMaterial {
					return ErrInvalidItemRef
				}
				if change.Item.Kind == KindMaterial && change.Item.ID <= 0 {
					return ErrInvalidItemRef
				}
				matched.Item = *change.Item
			}
			if change.QtyOut != nil {
				matched.QtyOut = *change.QtyOut
			}
			if change.QtyIn != nil {
				matched.QtyIn = *change.QtyIn
			}
			if change.LaborCost != nil {
				matched.LaborCost = *change.LaborCost
			}
			if change.Status != nil {
				matched.Status = *change.Status
			}
			// The reconciliation guard keys off the line as it will be stored,
			// so a line switched to PRODUCT revalidates its full qty_out.
			if matched.Item.Kind == KindProduct {
				ref, err := tx.GetWorkOrderDetail(ctx, matched.WorkOrderDetailID)
				if err != nil {
					return err
				}
				matched.Item = resolveItem(matched.Item, ref)
				if header.Type.Outbound() && (prev.Item.Kind != KindProduct || matched.QtyOut != prev.QtyOut) {
					if err := s.checkRemaining(ctx, tx, matched.WorkOrderDetailID, id, matched.QtyOut); err != nil {
						return err
					}
				}
			}
			if err := tx.UpdateLine(ctx, matched); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "DN_UPDATE", id, map[string]any{"lines": len(input.Lines)})
	updated, err := s.repo.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// UpdateStatus changes only the note status plus the audit stamp.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status Status, actorID int64) error {
	actor := s.actors.Resolve(actorID)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetNoteStatus(ctx, id, status, actor)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "DN_STATUS", id, map[string]any{"status": string(status)})
	return nil
}

// Approve records the decision in the approval ledger, applies it to the note
// status, then runs the completion scan over every referenced work order. The
// scan is best-effort: its errors are logged and never propagated, so a failed
// scan cannot roll back the approval that triggered it.
func (s *Service) Approve(ctx context.Context, input ApproveInput) (*DeliveryNote, error) {
	if !input.Decision.Valid() {
		return nil, ErrInvalidDecision
	}
	actor := s.actors.Resolve(input.ActorID)

	note, err := s.repo.GetNote(ctx, input.NoteID)
	if err != nil {
		return nil, err
	}

	if s.approvals != nil {
		if _, err := s.approvals.Record(ctx, shared.ApprovalRecord{
			Module:   "delivery_note",
			RefID:    input.NoteID,
			Decision: input.Decision,
			Note:     input.Note,
			ActorID:  actor,
		}); err != nil {
			return nil, err
		}
	}

	if err := s.UpdateStatus(ctx, input.NoteID, Status(input.Decision), actor); err != nil {
		return nil, err
	}

	if s.completion != nil {
		seen := make(map[int64]bool)
		for _, ln := range note.Lines {
			if ln.WorkOrderID == 0 || seen[ln.WorkOrderID] {
				continue
			}
			seen[ln.WorkOrderID] = true
			if err := s.completion.ScanCompletion(ctx, ln.WorkOrderID, actor); err != nil {
				s.logger.Warn("completion scan",
					slog.Int64("work_order_id", ln.WorkOrderID),
					slog.Int64("delivery_note_id", note.ID),
					slog.Any("error", err))
			}
		}
	}

	approved, err := s.repo.GetNote(ctx, input.NoteID)
	if err != nil {
		return nil, err
	}
	return &approved, nil
}

// GetNote returns the full aggregate.
func (s *Service) GetNote(ctx context.Context, id int64) (*DeliveryNote, error) {
	note, err := s.repo.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// ListNotes returns note headers, newest first.
func (s *Service) ListNotes(ctx context.Context, limit, offset int) ([]DeliveryNote, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListNotes(ctx, limit, offset)
}

// Approvals returns the approval ledger entries for one note.
func (s *Service) Approvals(ctx context.Context, noteID int64) ([]shared.ApprovalRecord, error) {
	if _, err := s.repo.GetNote(ctx, noteID); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, "delivery_note", noteID)
}

// Remaining exposes the reconciliation quantity for one work-order detail.
func (s *Service) Remaining(ctx context.Context, detailID, excludeNoteID int64) (float64, error) {
	return s.repo.Remaining(ctx, detailID, excludeNoteID)
}

// insertChangedLine materializes an unmatched update change as a new line.
func (s *Service) insertChangedLine(ctx context.Context, tx TxRepository, header DeliveryNote, change LineChange) error {
	if change.Item == nil {
		return ErrInvalidItemRef
	}
	item := *change.Item
	if item.Kind != KindProduct && item.Kind != KindMaterial {
		return ErrInvalidItemRef
	}
	if item.Kind == KindMaterial && item.ID <= 0 {
		return ErrInvalidItemRef
	}
	ref, err := tx.GetWorkOrderDetail(ctx, change.WorkOrderDetailID)
	if err != nil {
		return err
	}

	var qtyOut, qtyIn, laborCost float64
	if change.QtyOut != nil {
		qtyOut = *change.QtyOut
	}
	if change.QtyIn != nil {
		qtyIn = *change.QtyIn
	}
	if change.LaborCost != nil {
		laborCost = *change.LaborCost
	}
	if item.Kind == KindProduct && header.Type.Outbound() {
		if err := s.checkRemaining(ctx, tx, ref.ID, header.ID, qtyOut); err != nil {
			return err
		}
	}
	status := header.Status
	if change.Status != nil {
		status = *change.Status
	}
	_, err = tx.InsertLine(ctx, Line{
		NoteID:            header.ID,
		WorkOrderID:       ref.WorkOrderID,
		WorkOrderDetailID: ref.ID,
		Item:              resolveItem(item, ref),
		QtyOut:            qtyOut,
		QtyIn:             qtyIn,
		LaborCost:         laborCost,
		Status:            status,
	})
	return err
}

// checkRemaining rejects a requested qty_out exceeding the detail's remaining
// production output.
func (s *Service) checkRemaining(ctx context.Context, tx TxRepository, detailID, excludeNoteID int64, requested float64) error {
	terminal, err := tx.TerminalQtyIn(ctx, detailID)
	if err != nil {
		return err
	}
	shipped, err := tx.ShippedQty(ctx, detailID, excludeNoteID)
	if err != nil {
		return err
	}
	remaining := terminal - shipped
	if requested > remaining {
		return &InsufficientGoodsError{WorkOrderDetailID: detailID, Remaining: remaining, Requested: requested}
	}
	return nil
}

// resolveItem derives the item id for PRODUCT lines from the work-order
// detail's variant.
func resolveItem(item ItemRef, ref DetailRef) ItemRef {
	if item.Kind == KindProduct {
		return ProductRef(ref.VariantID)
	}
	return item
}

func (s *Service) recordAudit(ctx context.Context, actor int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "delivery_note",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record", slog.Any("error", err))
	}
}
