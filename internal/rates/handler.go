package rates

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mercurio-pos/mercurio-pos/internal/platform/httpx"
)

// Handler manages rate ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers rate routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.record)
	r.Get("/latest", h.latest)
	r.Get("/", h.history)
}

type recordRateRequest struct {
	StoreID   string  `json:"storeId"`
	Rate      float64 `json:"rate"`
	CreatedBy string  `json:"createdBy"`
}

type rateResponse struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"storeId"`
	Rate      float64   `json:"rate"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	var req recordRateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	rate, err := h.service.Record(r.Context(), RecordInput{
		StoreID:   req.StoreID,
		Rate:      req.Rate,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidRate) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("record rate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRateResponse(rate))
}

func (h *Handler) latest(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "store_id is required")
		return
	}
	rate := h.service.LatestRate(r.Context(), storeID)
	httpx.JSON(w, http.StatusOK, map[string]any{"storeId": storeID, "rate": rate})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "store_id is required")
		return
	}
	entries, err := h.service.History(r.Context(), storeID, 50)
	if err != nil {
		h.logger.Error("list rates", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]rateResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toRateResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func toRateResponse(rate CurrencyRate) rateResponse {
	return rateResponse{
		ID:        rate.ID,
		StoreID:   rate.StoreID,
		Rate:      rate.Rate,
		CreatedAt: rate.CreatedAt,
		CreatedBy: rate.CreatedBy,
	}
}
