package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mercurio-pos/mercurio-pos/internal/platform/httpx"
	"github.com/mercurio-pos/mercurio-pos/internal/shared"
)

// Handler manages sale endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers sale routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.settle)
	r.Get("/{id}", h.get)
}

type lineItemRequest struct {
	ProductID   string  `json:"productId" validate:"required"`
	ProductName string  `json:"productName,omitempty"`
	Quantity    int     `json:"quantity" validate:"required,gt=0"`
	Price       float64 `json:"price" validate:"gte=0"`
}

type paymentRequest struct {
	Amount      float64 `json:"amount" validate:"gt=0"`
	Method      string  `json:"method,omitempty"`
	Reference   string  `json:"reference,omitempty"`
	ProcessedBy string  `json:"processedBy,omitempty"`
	Type        string  `json:"type,omitempty"`
}

type settleRequest struct {
	ID              string            `json:"id,omitempty"`
	StoreID         string            `json:"storeId" validate:"required"`
	CustomerID      string            `json:"customerId,omitempty"`
	CustomerName    string            `json:"customerName,omitempty"`
	CustomerPhone   string            `json:"customerPhone,omitempty"`
	CustomerTaxID   string            `json:"customerTaxId,omitempty"`
	Items           []lineItemRequest `json:"items" validate:"required,min=1,dive"`
	Subtotal        float64           `json:"subtotal,omitempty"`
	Tax             float64           `json:"tax,omitempty"`
	Discount        float64           `json:"discount,omitempty"`
	Total           float64           `json:"total" validate:"gte=0"`
	PaymentMethod   string            `json:"paymentMethod,omitempty"`
	Date            *time.Time        `json:"date,omitempty"`
	TransactionType string            `json:"transactionType,omitempty"`
	Status          string            `json:"status,omitempty"`
	PaidAmount      float64           `json:"paidAmount,omitempty"`
	Payments        []paymentRequest  `json:"payments,omitempty" validate:"dive"`
	Series          string            `json:"series,omitempty"`
	UserID          string            `json:"userId,omitempty"`
	CreditDays      int               `json:"creditDays,omitempty"`
}

type saleResponse struct {
	ID              string          `json:"id"`
	StoreID         string          `json:"storeId"`
	CustomerID      string          `json:"customerId,omitempty"`
	CustomerName    string          `json:"customerName"`
	CustomerPhone   string          `json:"customerPhone,omitempty"`
	CustomerTaxID   string          `json:"customerTaxId,omitempty"`
	Items           []LineItem      `json:"items"`
	Subtotal        float64         `json:"subtotal"`
	Tax             float64         `json:"tax"`
	Discount        float64         `json:"discount"`
	Total           float64         `json:"total"`
	PaymentMethod   string          `json:"paymentMethod"`
	Date            time.Time       `json:"date"`
	TransactionType TransactionType `json:"transactionType"`
	Status          Status          `json:"status"`
	PaidAmount      float64         `json:"paidAmount"`
	Payments        []Payment       `json:"payments,omitempty"`
	Series          string          `json:"series,omitempty"`
	UserID          string          `json:"userId,omitempty"`
}

type settleResponse struct {
	Sale saleResponse `json:"sale"`
	// Unpersisted echoes values the store could not keep so the client does
	// not silently lose them. They do not survive a reload.
	Unpersisted  *Unpersisted `json:"unpersisted,omitempty"`
	ReceivableID string       `json:"receivableId,omitempty"`
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := SettleInput{
		ID:              req.ID,
		StoreID:         req.StoreID,
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		CustomerTaxID:   req.CustomerTaxID,
		Subtotal:        req.Subtotal,
		Tax:             req.Tax,
		Discount:        req.Discount,
		Total:           req.Total,
		PaymentMethod:   req.PaymentMethod,
		TransactionType: TransactionType(req.TransactionType),
		Status:          Status(req.Status),
		PaidAmount:      req.PaidAmount,
		Series:          req.Series,
		UserID:          req.UserID,
		CreditDays:      req.CreditDays,
	}
	if req.Date != nil {
		input.Date = *req.Date
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, LineItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}
	for _, p := range req.Payments {
		input.Payments = append(input.Payments, Payment{
			Amount:      p.Amount,
			Method:      p.Method,
			Reference:   p.Reference,
			ProcessedBy: p.ProcessedBy,
			Type:        p.Type,
		})
	}

	result, err := h.service.Settle(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, settleResponse{
		Sale:         toSaleResponse(result.Sale),
		Unpersisted:  result.Unpersisted,
		ReceivableID: result.ReceivableID,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sale, err := h.service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "sale not found")
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrPersistence):
		h.logger.Error("sale persistence failed", "error", err)
		httpx.Problem(w, http.StatusBadGateway, "Storage Failure", "sale could not be persisted")
	default:
		h.logger.Error("sale request failed", "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", shared.UserSafeMessage(err))
	}
}

func toSaleResponse(sale Sale) saleResponse {
	return saleResponse{
		ID:              sale.ID,
		StoreID:         sale.StoreID,
		CustomerID:      sale.CustomerID,
		CustomerName:    sale.CustomerName,
		CustomerPhone:   sale.CustomerPhone,
		CustomerTaxID:   sale.CustomerTaxID,
		Items:           sale.Items,
		Subtotal:        sale.Subtotal,
		Tax:             sale.Tax,
		Discount:        sale.Discount,
		Total:           sale.Total,
		PaymentMethod:   sale.PaymentMethod,
		Date:            sale.Date,
		TransactionType: sale.TransactionType,
		Status:          sale.Status,
		PaidAmount:      sale.PaidAmount,
		Payments:        sale.Payments,
		Series:          sale.Series,
		UserID:          sale.UserID,
	}
}
