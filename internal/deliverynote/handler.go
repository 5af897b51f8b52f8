package deliverynote

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/garuda-mes/garuda-mes/internal/platform/httpx"
	"github.com/garuda-mes/garuda-mes/internal/shared"
)

// Handler exposes delivery note endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers delivery note routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/delivery-notes", h.create)
	r.Get("/delivery-notes", h.list)
	r.Get("/delivery-notes/{id}", h.get)
	r.Put("/delivery-notes/{id}", h.update)
	r.Put("/delivery-notes/{id}/status", h.updateStatus)
	r.Post("/delivery-notes/{id}/approve", h.approve)
	r.Get("/delivery-notes/{id}/approvals", h.approvals)
	r.Get("/work-order-details/{id}/remaining", h.remaining)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreateInput{
		Number:         req.Number,
		Date:           req.Date,
		Type:           NoteType(req.Type),
		VendorRef:      req.VendorRef,
		Destination:    req.Destination,
		Notes:          req.Notes,
		ActorID:        req.ActorID,
		IdempotencyKey: req.IdempotencyKey,
	}
	for _, ln := range req.Lines {
		input.Lines = append(input.Lines, LineInput{
			WorkOrderDetailID: ln.WorkOrderDetailID,
			Item:              ItemRef{Kind: ItemKind(ln.ItemKind), ID: ln.ItemID},
			QtyOut:            ln.QtyOut,
			QtyIn:             ln.QtyIn,
			LaborCost:         ln.LaborCost,
			Status:            Status(ln.Status),
		})
	}

	note, err := h.service.CreateFull(r.Context(), input)
	if err != nil {
		h.respondError(w, "create delivery note", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, note)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	notes, err := h.service.ListNotes(r.Context(), limit, offset)
	if err != nil {
		h.respondError(w, "list delivery notes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, notes)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	note, err := h.service.GetNote(r.Context(), id)
	if err != nil {
		h.respondError(w, "get delivery note", err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := UpdateInput{
		Date:        req.Date,
		VendorRef:   req.VendorRef,
		Destination: req.Destination,
		Notes:       req.Notes,
		ActorID:     req.ActorID,
	}
	if req.Type != nil {
		noteType := NoteType(*req.Type)
		input.Type = &noteType
	}
	if req.Status != nil {
		status := Status(*req.Status)
		input.Status = &status
	}
	for _, ln := range req.Lines {
		change := LineChange{
			WorkOrderDetailID: ln.WorkOrderDetailID,
			QtyOut:            ln.QtyOut,
			QtyIn:             ln.QtyIn,
			LaborCost:         ln.LaborCost,
		}
		if ln.ItemKind != nil {
			item := ItemRef{Kind: ItemKind(*ln.ItemKind)}
			if ln.ItemID != nil {
				item.ID = *ln.ItemID
			}
			change.Item = &item
		}
		if ln.Status != nil {
			status := Status(*ln.Status)
			change.Status = &status
		}
		input.Lines = append(input.Lines, change)
	}

	note, err := h.service.UpdateFull(r.Context(), id, input)
	if err != nil {
		h.respondError(w, "update delivery note", err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.UpdateStatus(r.Context(), id, Status(req.Status), req.ActorID); err != nil {
		h.respondError(w, "update delivery note status", err)
		return
	}
	note, err := h.service.GetNote(r.Context(), id)
	if err != nil {
		h.respondError(w, "get delivery note", err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req approveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	note, err := h.service.Approve(r.Context(), ApproveInput{
		NoteID:   id,
		Decision: shared.Decision(req.Decision),
		Note:     req.Note,
		ActorID:  req.ActorID,
	})
	if err != nil {
		h.respondError(w, "approve delivery note", err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

func (h *Handler) approvals(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	records, err := h.service.Approvals(r.Context(), id)
	if err != nil {
		h.respondError(w, "delivery note approvals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) remaining(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	excludeNoteID, _ := strconv.ParseInt(r.URL.Query().Get("exclude_note_id"), 10, 64)
	qty, err := h.service.Remaining(r.Context(), id, excludeNoteID)
	if err != nil {
		h.respondError(w, "remaining quantity", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"work_order_detail_id": id, "remaining": qty})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var insufficient *InsufficientGoodsError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDetailNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateNumber), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrNoLines), errors.Is(err, ErrInvalidItemRef), errors.Is(err, ErrInvalidDecision):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Goods", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
