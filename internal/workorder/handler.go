package workorder

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/garuda-mes/garuda-mes/internal/bom"
	"github.com/garuda-mes/garuda-mes/internal/platform/httpx"
	"github.com/garuda-mes/garuda-mes/internal/shared"
	"github.com/garuda-mes/garuda-mes/internal/stock"
)

// Handler exposes work order endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers work order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/work-orders", h.create)
	r.Get("/work-orders", h.list)
	r.Get("/work-orders/{id}", h.get)
	r.Put("/work-orders/{id}", h.update)
	r.Post("/stages", h.createStage)
	r.Put("/stages/{id}", h.updateStage)
	r.Post("/stages/{id}/approve", h.approveStage)
	r.Get("/stages/{id}/approvals", h.stageApprovals)
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
		Buyer:          req.Buyer,
		OrderDate:      req.OrderDate,
		Deadline:       req.Deadline,
		Notes:          req.Notes,
		ActorID:        req.ActorID,
		IdempotencyKey: req.IdempotencyKey,
	}
	for _, d := range req.Details {
		input.Details = append(input.Details, DetailInput{
			VariantID: d.VariantID,
			QtyOrder:  d.QtyOrder,
			CostPrice: d.CostPrice,
			Status:    Status(d.Status),
		})
	}

	wo, err := h.service.CreateFull(r.Context(), input)
	if err != nil {
		h.respondError(w, "create work order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, wo)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	orders, err := h.service.ListWorkOrders(r.Context(), limit, offset)
	if err != nil {
		h.respondError(w, "list work orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	wo, err := h.service.GetWorkOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, "get work order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
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
		Buyer:     req.Buyer,
		OrderDate: req.OrderDate,
		Deadline:  req.Deadline,
		Notes:     req.Notes,
		ActorID:   req.ActorID,
	}
	if req.Status != nil {
		status := Status(*req.Status)
		input.Status = &status
	}
	for _, d := range req.Details {
		input.Details = append(input.Details, DetailInput{
			VariantID: d.VariantID,
			QtyOrder:  d.QtyOrder,
			CostPrice: d.CostPrice,
			Status:    Status(d.Status),
		})
	}

	wo, err := h.service.UpdateFull(r.Context(), id, input)
	if err != nil {
		h.respondError(w, "update work order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

func (h *Handler) createStage(w http.ResponseWriter, r *http.Request) {
	var req createStageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	st, err := h.service.CreateStage(r.Context(), CreateStageInput{
		DetailID:   req.DetailID,
		Name:       req.Name,
		Seq:        req.Seq,
		QtyIn:      req.QtyIn,
		AssigneeID: req.AssigneeID,
		Status:     Status(req.Status),
		ActorID:    req.ActorID,
	})
	if err != nil {
		h.respondError(w, "create stage", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, st)
}

func (h *Handler) updateStage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req updateStageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	input := UpdateStageInput{
		Name:      req.Name,
		Seq:       req.Seq,
		QtyIn:     req.QtyIn,
		QtyReject: req.QtyReject,
		Assignee:  req.Assignee,
		StartedAt: req.StartedAt,
		EndedAt:   req.EndedAt,
		ActorID:   req.ActorID,
	}
	if req.Status != nil {
		status := Status(*req.Status)
		input.Status = &status
	}

	st, err := h.service.UpdateStage(r.Context(), id, input)
	if err != nil {
		h.respondError(w, "update stage", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) approveStage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req approveStageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	st, err := h.service.ApproveStage(r.Context(), ApproveStageInput{
		StageID:  id,
		Decision: shared.Decision(req.Decision),
		Note:     req.Note,
		ActorID:  req.ActorID,
	})
	if err != nil {
		h.respondError(w, "approve stage", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) stageApprovals(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	records, err := h.service.StageApprovals(r.Context(), id)
	if err != nil {
		h.respondError(w, "stage approvals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var insufficient *stock.InsufficientStockError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDetailNotFound), errors.Is(err, ErrStageNotFound),
		errors.Is(err, bom.ErrVariantNotFound), errors.Is(err, stock.ErrMaterialNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSeqTaken), errors.Is(err, ErrDuplicateNumber), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrNoDetails), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidDecision):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
