package receivables

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mercurio-pos/mercurio-pos/internal/platform/db"
)

// Repository persists receivables in PostgreSQL. The payment history is
// embedded in the row as JSONB, so each update writes the whole record in
// one statement.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by payment application.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id string) (AccountReceivable, error)
	Update(ctx context.Context, r AccountReceivable) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("receivables repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const receivableColumns = `id, store_id, sale_id, customer_id, customer_name, original_amount, paid_amount,
remaining_balance, status, sale_date, due_date, credit_days, last_payment_date, payments, created_by, updated_by, created_at, updated_at`

// Insert creates the receivable. A unique index on sale_id keeps creation
// at-most-once per sale; duplicates surface as ErrAlreadyExists.
func (r *Repository) Insert(ctx context.Context, rec AccountReceivable) error {
	paymentsJSON, err := json.Marshal(rec.Payments)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO accounts_receivable (`+receivableColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		rec.ID, rec.StoreID, rec.SaleID, rec.CustomerID, rec.CustomerName, rec.OriginalAmount, rec.PaidAmount,
		rec.RemainingBalance, string(rec.Status), rec.SaleDate, rec.DueDate, rec.CreditDays, rec.LastPaymentDate,
		paymentsJSON, rec.CreatedBy, rec.UpdatedBy, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetByID loads one receivable.
func (r *Repository) GetByID(ctx context.Context, id string) (AccountReceivable, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receivableColumns+` FROM accounts_receivable WHERE id = $1`, id)
	return scanReceivable(row)
}

// GetBySaleID loads the receivable created for a sale, if any.
func (r *Repository) GetBySaleID(ctx context.Context, saleID string) (AccountReceivable, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receivableColumns+` FROM accounts_receivable WHERE sale_id = $1`, saleID)
	return scanReceivable(row)
}

// ListByStore returns a page of a store's receivables, most recent sale first.
func (r *Repository) ListByStore(ctx context.Context, storeID string, limit, offset int) ([]AccountReceivable, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx, `SELECT `+receivableColumns+` FROM accounts_receivable
WHERE store_id = $1 ORDER BY sale_date DESC LIMIT $2 OFFSET $3`, storeID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountReceivable
	for rows.Next() {
		rec, err := scanReceivable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByStore returns the store's total receivable count for pagination.
func (r *Repository) CountByStore(ctx context.Context, storeID string) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM accounts_receivable WHERE store_id = $1`, storeID).Scan(&total)
	return total, err
}

// GetForUpdate loads one receivable with a row lock, so two concurrent
// payments serialise instead of racing on the running balance.
func (t *txRepository) GetForUpdate(ctx context.Context, id string) (AccountReceivable, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+receivableColumns+` FROM accounts_receivable WHERE id = $1 FOR UPDATE`, id)
	return scanReceivable(row)
}

// Update rewrites the whole receivable record, payment history included.
func (t *txRepository) Update(ctx context.Context, rec AccountReceivable) error {
	paymentsJSON, err := json.Marshal(rec.Payments)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE accounts_receivable SET
paid_amount = $2, remaining_balance = $3, status = $4, last_payment_date = $5, payments = $6, updated_by = $7, updated_at = $8
WHERE id = $1`,
		rec.ID, rec.PaidAmount, rec.RemainingBalance, string(rec.Status), rec.LastPaymentDate, paymentsJSON,
		rec.UpdatedBy, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanReceivable(row pgx.Row) (AccountReceivable, error) {
	var rec AccountReceivable
	var status string
	var paymentsJSON []byte
	var lastPayment *time.Time
	err := row.Scan(&rec.ID, &rec.StoreID, &rec.SaleID, &rec.CustomerID, &rec.CustomerName,
		&rec.OriginalAmount, &rec.PaidAmount, &rec.RemainingBalance, &status, &rec.SaleDate, &rec.DueDate,
		&rec.CreditDays, &lastPayment, &paymentsJSON, &rec.CreatedBy, &rec.UpdatedBy, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountReceivable{}, ErrNotFound
		}
		return AccountReceivable{}, err
	}
	rec.Status = Status(status)
	rec.LastPaymentDate = lastPayment
	if len(paymentsJSON) > 0 {
		if err := json.Unmarshal(paymentsJSON, &rec.Payments); err != nil {
			return AccountReceivable{}, err
		}
	}
	return rec, nil
}
