package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/mercurio-pos/mercurio-pos/internal/jobs"
	"github.com/mercurio-pos/mercurio-pos/internal/sales"
)

// SettlementService is the slice of the sales orchestrator the reconciler
// replays. Both operations are idempotent per sale.
type SettlementService interface {
	IncompleteSettlements(ctx context.Context, since time.Time, limit int) ([]string, error)
	FanOutInventory(ctx context.Context, saleID string) error
	EnsureReceivable(ctx context.Context, saleID string, creditDays int) error
}

// Reconciler sweeps the settlement step log for sales whose saga never
// completed and replays the missing steps.
type Reconciler struct {
	service           SettlementService
	logger            *slog.Logger
	metrics           *jobmetrics.Metrics
	defaultWindow     time.Duration
	defaultCreditDays int
}

// NewReconciler builds Reconciler.
func NewReconciler(service SettlementService, logger *slog.Logger, window time.Duration, creditDays int) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = 72 * time.Hour
	}
	return &Reconciler{
		service:           service,
		logger:            logger,
		metrics:           jobmetrics.NewMetrics(nil),
		defaultWindow:     window,
		defaultCreditDays: creditDays,
	}
}

// Handle processes one TaskSettlementReconcile tick.
func (r *Reconciler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SettlementReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Window <= 0 {
		payload.Window = r.defaultWindow
	}
	if payload.Limit <= 0 {
		payload.Limit = 100
	}
	tracker := r.metrics.Track("settlement_reconcile")
	return tracker.End(r.Sweep(ctx, time.Now().Add(-payload.Window), payload.Limit))
}

// Sweep replays every incomplete settlement committed after since. A sale
// that still fails is logged and left for the next tick.
func (r *Reconciler) Sweep(ctx context.Context, since time.Time, limit int) error {
	ids, err := r.service.IncompleteSettlements(ctx, since, limit)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	r.logger.Info("settlement reconciliation sweep", "count", len(ids))

	for _, saleID := range ids {
		if err := r.service.FanOutInventory(ctx, saleID); err != nil {
			r.logger.Warn("settlement fan-out replay failed", "sale_id", saleID, "error", err)
			r.metrics.AddReplays(sales.StepInventoryFannedOut, "failure", 1)
		} else {
			r.metrics.AddReplays(sales.StepInventoryFannedOut, "success", 1)
		}
		if err := r.service.EnsureReceivable(ctx, saleID, r.defaultCreditDays); err != nil {
			r.logger.Warn("receivable replay failed", "sale_id", saleID, "error", err)
			r.metrics.AddReplays(sales.StepReceivableCreated, "failure", 1)
		} else {
			r.metrics.AddReplays(sales.StepReceivableCreated, "success", 1)
		}
	}
	return nil
}
