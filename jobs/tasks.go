package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSettlementReconcile sweeps for settlements whose fan-out or
	// receivable step never completed and replays them.
	TaskSettlementReconcile = "settlement:reconcile"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// SettlementReconcilePayload carries the sweep window.
type SettlementReconcilePayload struct {
	ScheduledFor time.Time     `json:"scheduled_for"`
	Window       time.Duration `json:"window"`
	Limit        int           `json:"limit"`
}

// NewSettlementReconcileTask constructs the reconciliation task.
func NewSettlementReconcileTask(at time.Time, window time.Duration, limit int) (*asynq.Task, error) {
	body, err := json.Marshal(SettlementReconcilePayload{ScheduledFor: at, Window: window, Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSettlementReconcile, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention cutoff.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleaner prunes stored idempotency keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewIdempotencyCleanupHandler returns the asynq handler for key cleanup.
func NewIdempotencyCleanupHandler(cleaner IdempotencyCleaner) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.OlderThan <= 0 {
			payload.OlderThan = 7 * 24 * time.Hour
		}
		return cleaner.Cleanup(ctx, payload.OlderThan)
	}
}
