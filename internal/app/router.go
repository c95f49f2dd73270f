package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mercurio-pos/mercurio-pos/internal/inventory"
	"github.com/mercurio-pos/mercurio-pos/internal/observability"
	"github.com/mercurio-pos/mercurio-pos/internal/rates"
	"github.com/mercurio-pos/mercurio-pos/internal/receivables"
	"github.com/mercurio-pos/mercurio-pos/internal/sales"
	"github.com/mercurio-pos/mercurio-pos/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SalesHandler       *sales.Handler
	ReceivablesHandler *receivables.Handler
	InventoryHandler   *inventory.Handler
	RatesHandler       *rates.Handler
	JobsHandler        *jobs.Handler
	Pool               *pgxpool.Pool
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Mercurio defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Warn("healthz db ping", slog.Any("error", err))
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		if params.SalesHandler != nil {
			api.Route("/sales", params.SalesHandler.MountRoutes)
		}
		if params.ReceivablesHandler != nil {
			api.Route("/receivables", params.ReceivablesHandler.MountRoutes)
		}
		if params.InventoryHandler != nil {
			api.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.RatesHandler != nil {
			api.Route("/rates", params.RatesHandler.MountRoutes)
		}
		if params.JobsHandler != nil {
			api.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	return r
}
