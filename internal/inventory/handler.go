package inventory

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mercurio-pos/mercurio-pos/internal/platform/httpx"
)

// Handler manages inventory endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.recordMovement)
	r.Post("/adjustments", h.recordAdjustment)
	r.Get("/movements", h.listMovements)
	r.Get("/products/{productID}", h.getProduct)
}

type movementRequest struct {
	ProductID     string  `json:"productId"`
	StoreID       string  `json:"storeId"`
	WarehouseID   string  `json:"warehouseId,omitempty"`
	Type          string  `json:"movementType"`
	Quantity      float64 `json:"quantity"`
	UnitCost      float64 `json:"unitCost"`
	ReferenceType string  `json:"referenceType,omitempty"`
	ReferenceID   string  `json:"referenceId,omitempty"`
	UserID        string  `json:"userId,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

type adjustmentRequest struct {
	ProductID   string  `json:"productId"`
	StoreID     string  `json:"storeId"`
	WarehouseID string  `json:"warehouseId,omitempty"`
	NewStock    float64 `json:"newStock"`
	UnitCost    float64 `json:"unitCost"`
	UserID      string  `json:"userId,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	movement, err := h.service.RecordMovement(r.Context(), MovementInput{
		ProductID:     req.ProductID,
		StoreID:       req.StoreID,
		WarehouseID:   req.WarehouseID,
		Type:          MovementType(req.Type),
		Quantity:      req.Quantity,
		UnitCost:      req.UnitCost,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		UserID:        req.UserID,
		Notes:         req.Notes,
	})
	if err != nil {
		h.respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) recordAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	movement, err := h.service.RecordAdjustment(r.Context(), AdjustmentInput{
		ProductID:   req.ProductID,
		StoreID:     req.StoreID,
		WarehouseID: req.WarehouseID,
		NewStock:    req.NewStock,
		UnitCost:    req.UnitCost,
		UserID:      req.UserID,
		Notes:       req.Notes,
	})
	if err != nil {
		h.respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if refID := q.Get("reference_id"); refID != "" {
		movements, err := h.service.MovementsByReference(r.Context(), q.Get("reference_type"), refID)
		if err != nil {
			h.logger.Error("list movements by reference", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, movements)
		return
	}
	movements, err := h.service.ListMovements(r.Context(), MovementFilter{
		ProductID: q.Get("product_id"),
		StoreID:   q.Get("store_id"),
		Type:      MovementType(q.Get("movement_type")),
	})
	if err != nil {
		h.respondMovementError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	storeID := r.URL.Query().Get("store_id")
	product, err := h.service.GetProduct(r.Context(), productID, storeID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get product", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) respondMovementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost), errors.Is(err, ErrInvalidMovementType):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("inventory movement", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
