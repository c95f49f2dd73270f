package sales

import (
	"context"
	"time"
)

// Settlement step names. Each settled sale accumulates rows in the
// settlement_steps log; a sale whose log is incomplete is picked up by the
// background reconciler and replayed.
const (
	StepSaleCommitted      = "sale_committed"
	StepInventoryFannedOut = "inventory_fanned_out"
	StepReceivableCreated  = "receivable_created"
)

// MarkStep records a completed settlement step. Replays are no-ops.
func (r *Repository) MarkStep(ctx context.Context, saleID, step string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO settlement_steps (sale_id, step, created_at)
VALUES ($1, $2, now()) ON CONFLICT (sale_id, step) DO NOTHING`, saleID, step)
	return err
}

// Steps returns the set of completed steps for a sale.
func (r *Repository) Steps(ctx context.Context, saleID string) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT step FROM settlement_steps WHERE sale_id = $1`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := make(map[string]bool)
	for rows.Next() {
		var step string
		if err := rows.Scan(&step); err != nil {
			return nil, err
		}
		steps[step] = true
	}
	return steps, rows.Err()
}

// IncompleteSettlements lists sales committed after since whose fan-out or
// receivable step never completed.
func (r *Repository) IncompleteSettlements(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.sale_id
FROM settlement_steps s
WHERE s.step = $1
  AND s.created_at >= $2
  AND (NOT EXISTS (SELECT 1 FROM settlement_steps i WHERE i.sale_id = s.sale_id AND i.step = $3)
    OR NOT EXISTS (SELECT 1 FROM settlement_steps c WHERE c.sale_id = s.sale_id AND c.step = $4))
ORDER BY s.created_at
LIMIT $5`, StepSaleCommitted, since, StepInventoryFannedOut, StepReceivableCreated, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
