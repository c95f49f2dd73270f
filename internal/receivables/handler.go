package receivables

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mercurio-pos/mercurio-pos/internal/platform/httpx"
)

// Handler manages receivable endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers receivable routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/payments", h.applyPayment)
	r.Post("/{id}/cancel", h.cancel)
}

type applyPaymentRequest struct {
	Amount      float64 `json:"amount" validate:"required"`
	Method      string  `json:"method" validate:"required"`
	Reference   string  `json:"reference,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	ProcessedBy string  `json:"processedBy,omitempty"`
}

// receivableResponse adds the derived overdue projection next to the stored
// status; the two can legitimately disagree.
type receivableResponse struct {
	ID               string     `json:"id"`
	StoreID          string     `json:"storeId"`
	SaleID           string     `json:"saleId"`
	CustomerID       string     `json:"customerId,omitempty"`
	CustomerName     string     `json:"customerName"`
	OriginalAmount   float64    `json:"originalAmount"`
	PaidAmount       float64    `json:"paidAmount"`
	RemainingBalance float64    `json:"remainingBalance"`
	Status           Status     `json:"status"`
	Overdue          bool       `json:"overdue"`
	SaleDate         time.Time  `json:"saleDate"`
	DueDate          time.Time  `json:"dueDate"`
	CreditDays       int        `json:"creditDays"`
	LastPaymentDate  *time.Time `json:"lastPaymentDate,omitempty"`
	Payments         []Payment  `json:"payments"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "store_id is required")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	recs, pagination, err := h.service.ListByStore(r.Context(), storeID, page, perPage)
	if err != nil {
		h.logger.Error("list receivables", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	now := time.Now()
	out := make([]receivableResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toResponse(rec, now))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":        out,
		"page":        pagination.Page,
		"per_page":    pagination.PerPage,
		"total":       pagination.Total,
		"total_pages": pagination.TotalPages,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondReceivableError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(rec, time.Now()))
}

func (h *Handler) applyPayment(w http.ResponseWriter, r *http.Request) {
	var req applyPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.ApplyPayment(r.Context(), ApplyPaymentInput{
		ReceivableID:  chi.URLParam(r, "id"),
		DisplayAmount: req.Amount,
		Method:        req.Method,
		Reference:     req.Reference,
		Notes:         req.Notes,
		ProcessedBy:   req.ProcessedBy,
	})
	if err != nil {
		h.respondReceivableError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(rec, time.Now()))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UpdatedBy string `json:"updatedBy,omitempty"`
	}
	_ = httpx.DecodeJSON(r, &req)
	rec, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), req.UpdatedBy)
	if err != nil {
		h.respondReceivableError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(rec, time.Now()))
}

func (h *Handler) respondReceivableError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrReferenceRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrExcessPayment), errors.Is(err, ErrClosed):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		h.logger.Error("receivable operation", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toResponse(rec AccountReceivable, now time.Time) receivableResponse {
	payments := rec.Payments
	if payments == nil {
		payments = []Payment{}
	}
	return receivableResponse{
		ID:               rec.ID,
		StoreID:          rec.StoreID,
		SaleID:           rec.SaleID,
		CustomerID:       rec.CustomerID,
		CustomerName:     rec.CustomerName,
		OriginalAmount:   rec.OriginalAmount,
		PaidAmount:       rec.PaidAmount,
		RemainingBalance: rec.RemainingBalance,
		Status:           rec.Status,
		Overdue:          rec.IsOverdue(now),
		SaleDate:         rec.SaleDate,
		DueDate:          rec.DueDate,
		CreditDays:       rec.CreditDays,
		LastPaymentDate:  rec.LastPaymentDate,
		Payments:         payments,
	}
}
