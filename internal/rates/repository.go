package rates

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoRate indicates no rate entry exists for the store.
var ErrNoRate = errors.New("rates: no rate recorded for store")

// Repository persists currency rates in PostgreSQL. The ledger is
// append-only: entries are inserted and read, never updated or deleted.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends a rate entry.
func (r *Repository) Insert(ctx context.Context, rate CurrencyRate) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO currency_rates (id, store_id, rate, created_at, created_by)
VALUES ($1, $2, $3, $4, $5)`, rate.ID, rate.StoreID, rate.Rate, rate.CreatedAt, rate.CreatedBy)
	return err
}

// Latest returns the most recently created entry for the store.
func (r *Repository) Latest(ctx context.Context, storeID string) (CurrencyRate, error) {
	var rate CurrencyRate
	err := r.pool.QueryRow(ctx, `SELECT id, store_id, rate, created_at, created_by FROM currency_rates
WHERE store_id = $1 ORDER BY created_at DESC LIMIT 1`, storeID).
		Scan(&rate.ID, &rate.StoreID, &rate.Rate, &rate.CreatedAt, &rate.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CurrencyRate{}, ErrNoRate
		}
		return CurrencyRate{}, err
	}
	return rate, nil
}

// List returns entries for a store, newest first.
func (r *Repository) List(ctx context.Context, storeID string, limit int) ([]CurrencyRate, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, store_id, rate, created_at, created_by FROM currency_rates
WHERE store_id = $1 ORDER BY created_at DESC LIMIT $2`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []CurrencyRate
	for rows.Next() {
		var rate CurrencyRate
		if err := rows.Scan(&rate.ID, &rate.StoreID, &rate.Rate, &rate.CreatedAt, &rate.CreatedBy); err != nil {
			return nil, err
		}
		result = append(result, rate)
	}
	return result, rows.Err()
}
