package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mercurio-pos/mercurio-pos/internal/platform/db"
	"github.com/mercurio-pos/mercurio-pos/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. The
// stock counter, its movement record and the movement's idempotency key are
// written in one transaction so a single item's ledger is always internally
// consistent; separate items stay independent.
type TxRepository interface {
	ApplyStockDelta(ctx context.Context, productID, storeID string, delta float64, allowNegative bool) (float64, error)
	SetStock(ctx context.Context, productID, storeID string, target float64) (float64, error)
	InsertMovement(ctx context.Context, m Movement) error
	ClaimIdempotencyKey(ctx context.Context, key string) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetProduct reads the stock/cost counters for a product in a store.
func (r *Repository) GetProduct(ctx context.Context, productID, storeID string) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, store_id, stock, cost FROM products WHERE id = $1 AND store_id = $2`,
		productID, storeID).Scan(&p.ID, &p.StoreID, &p.Stock, &p.Cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// MovementsByReference returns movements caused by one source document,
// e.g. every movement a sale fanned out.
func (r *Repository) MovementsByReference(ctx context.Context, referenceType, referenceID string) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, store_id, COALESCE(warehouse_id, ''), movement_type, quantity,
previous_stock, new_stock, unit_cost, total_value, reference_type, reference_id, user_id, notes, created_at
FROM inventory_movements WHERE reference_type = $1 AND reference_id = $2 ORDER BY created_at`,
		referenceType, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// ListMovements returns filtered movements, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, store_id, COALESCE(warehouse_id, ''), movement_type, quantity,
previous_stock, new_stock, unit_cost, total_value, reference_type, reference_id, user_id, notes, created_at
FROM inventory_movements
WHERE ($1 = '' OR product_id = $1) AND ($2 = '' OR store_id = $2) AND ($3 = '' OR movement_type = $3)
ORDER BY created_at DESC LIMIT $4`,
		filter.ProductID, filter.StoreID, string(filter.Type), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

func scanMovements(rows pgx.Rows) ([]Movement, error) {
	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.StoreID, &m.WarehouseID, &m.Type, &m.Quantity,
			&m.PreviousStock, &m.NewStock, &m.UnitCost, &m.TotalValue,
			&m.ReferenceType, &m.ReferenceID, &m.UserID, &m.Notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// ApplyStockDelta adds delta to the product's stock counter as a single
// conditional update, so concurrent movements never clobber each other's
// decrement. Returns the resulting stock.
func (r *txRepository) ApplyStockDelta(ctx context.Context, productID, storeID string, delta float64, allowNegative bool) (float64, error) {
	var newStock float64
	query := `UPDATE products SET stock = stock + $3 WHERE id = $1 AND store_id = $2 RETURNING stock`
	if !allowNegative {
		query = `UPDATE products SET stock = stock + $3 WHERE id = $1 AND store_id = $2 AND stock + $3 >= 0 RETURNING stock`
	}
	err := r.tx.QueryRow(ctx, query, productID, storeID, delta).Scan(&newStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if chk := r.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1 AND store_id = $2)`,
				productID, storeID).Scan(&exists); chk == nil && exists {
				return 0, ErrInsufficientStock
			}
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	return newStock, nil
}

// SetStock replaces the stock counter with an absolute target and returns the
// previous value, locking the row so the derived delta stays consistent.
func (r *txRepository) SetStock(ctx context.Context, productID, storeID string, target float64) (float64, error) {
	var previous float64
	err := r.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 AND store_id = $2 FOR UPDATE`,
		productID, storeID).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	if _, err := r.tx.Exec(ctx, `UPDATE products SET stock = $3 WHERE id = $1 AND store_id = $2`,
		productID, storeID, target); err != nil {
		return 0, err
	}
	return previous, nil
}

// ClaimIdempotencyKey records the movement's replay guard on the same
// transaction as the movement itself. The key therefore commits or rolls
// back together with the stock write, so a key never exists without its
// movement.
func (r *txRepository) ClaimIdempotencyKey(ctx context.Context, key string) error {
	return shared.ClaimIdempotencyKey(ctx, r.tx, key, "inventory")
}

// InsertMovement appends one immutable movement record.
func (r *txRepository) InsertMovement(ctx context.Context, m Movement) error {
	var warehouseID any
	if m.WarehouseID != "" {
		warehouseID = m.WarehouseID
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_movements
(id, product_id, store_id, warehouse_id, movement_type, quantity, previous_stock, new_stock, unit_cost, total_value, reference_type, reference_id, user_id, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.ProductID, m.StoreID, warehouseID, string(m.Type), m.Quantity, m.PreviousStock, m.NewStock,
		m.UnitCost, m.TotalValue, m.ReferenceType, m.ReferenceID, m.UserID, m.Notes, m.CreatedAt)
	return err
}
