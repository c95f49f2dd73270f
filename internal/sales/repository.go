package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaError reports that the store rejected one or more columns the
// record carried. The insert path uses it to decide whether a reduced
// retry can recover the write.
type SchemaError struct {
	Columns []string
	Err     error
}

func (e *SchemaError) Error() string {
	if len(e.Columns) > 0 {
		return fmt.Sprintf("sales: store rejected columns %s: %v", strings.Join(e.Columns, ", "), e.Err)
	}
	return fmt.Sprintf("sales: store rejected record shape: %v", e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// reducedColumns are the known-optional fields the reduced retry drops when
// the store's schema predates them.
var reducedColumns = []string{"customer_phone", "customer_tax_id", "series"}

var legacyColumnPattern = regexp.MustCompile(`column "?([a-zA-Z0-9_]+)"? (of relation "[^"]+" )?does not exist`)

// classifySchemaError maps an insert failure to *SchemaError when it is an
// unknown-column rejection. Postgres reports these as SQLSTATE 42703;
// the text fallbacks cover proxied stores that only relay the message.
func classifySchemaError(err error) *SchemaError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != "42703" {
			return nil
		}
		schemaErr := &SchemaError{Err: err}
		if m := legacyColumnPattern.FindStringSubmatch(pgErr.Message); m != nil {
			schemaErr.Columns = []string{m[1]}
		}
		return schemaErr
	}
	msg := err.Error()
	if strings.Contains(msg, "could not find") {
		return &SchemaError{Err: err}
	}
	if m := legacyColumnPattern.FindStringSubmatch(msg); m != nil {
		return &SchemaError{Columns: []string{m[1]}, Err: err}
	}
	return nil
}

// Repository persists sales in PostgreSQL. Items and payments are embedded
// in the row as JSONB.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type saleColumn struct {
	name  string
	value func(s Sale) any
}

var baseSaleColumns = []saleColumn{
	{"id", func(s Sale) any { return s.ID }},
	{"store_id", func(s Sale) any { return s.StoreID }},
	{"customer_id", func(s Sale) any { return nullable(s.CustomerID) }},
	{"customer_name", func(s Sale) any { return s.CustomerName }},
	{"subtotal", func(s Sale) any { return s.Subtotal }},
	{"tax", func(s Sale) any { return s.Tax }},
	{"discount", func(s Sale) any { return s.Discount }},
	{"total", func(s Sale) any { return s.Total }},
	{"payment_method", func(s Sale) any { return s.PaymentMethod }},
	{"sale_date", func(s Sale) any { return s.Date }},
	{"transaction_type", func(s Sale) any { return string(s.TransactionType) }},
	{"status", func(s Sale) any { return string(s.Status) }},
	{"paid_amount", func(s Sale) any { return s.PaidAmount }},
	{"user_id", func(s Sale) any { return nullable(s.UserID) }},
	{"created_at", func(s Sale) any { return s.CreatedAt }},
}

var fullSaleColumns = append(append([]saleColumn{}, baseSaleColumns...),
	saleColumn{"customer_phone", func(s Sale) any { return nullable(s.CustomerPhone) }},
	saleColumn{"customer_tax_id", func(s Sale) any { return nullable(s.CustomerTaxID) }},
	saleColumn{"series", func(s Sale) any { return nullable(s.Series) }},
)

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertSale writes the full record. A schema rejection comes back as
// *SchemaError so the caller can retry with InsertSaleReduced.
func (r *Repository) InsertSale(ctx context.Context, sale Sale) error {
	if err := r.insert(ctx, sale, fullSaleColumns); err != nil {
		if schemaErr := classifySchemaError(err); schemaErr != nil {
			return schemaErr
		}
		return err
	}
	return nil
}

// InsertSaleReduced writes the record without the known-optional columns
// older store schemas lack.
func (r *Repository) InsertSaleReduced(ctx context.Context, sale Sale) error {
	return r.insert(ctx, sale, baseSaleColumns)
}

func (r *Repository) insert(ctx context.Context, sale Sale, columns []saleColumn) error {
	itemsJSON, err := json.Marshal(sale.Items)
	if err != nil {
		return err
	}
	paymentsJSON, err := json.Marshal(sale.Payments)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(columns)+2)
	placeholders := make([]string, 0, len(columns)+2)
	args := make([]any, 0, len(columns)+2)
	for _, col := range columns {
		names = append(names, col.name)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		args = append(args, col.value(sale))
	}
	for _, extra := range []struct {
		name  string
		value any
	}{{"items", itemsJSON}, {"payments", paymentsJSON}} {
		names = append(names, extra.name)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		args = append(args, extra.value)
	}

	query := fmt.Sprintf("INSERT INTO sales (%s) VALUES (%s)",
		strings.Join(names, ", "), strings.Join(placeholders, ", "))
	_, err = r.pool.Exec(ctx, query, args...)
	return err
}

// GetByID loads one sale. Reads tolerate the same schema drift as writes:
// when the store lacks the optional columns, the reduced retry reads the
// record without them instead of failing every re-fetch.
func (r *Repository) GetByID(ctx context.Context, id string) (Sale, error) {
	sale, err := r.fetch(ctx, id, false)
	if err != nil {
		if schemaErr := classifySchemaError(err); schemaErr != nil {
			return r.fetch(ctx, id, true)
		}
		return Sale{}, err
	}
	return sale, nil
}

// saleSelectQuery builds the sale read. The reduced variant substitutes empty
// literals for the known-optional columns so the scan shape stays identical.
func saleSelectQuery(reduced bool) string {
	phone, taxID, series := `COALESCE(customer_phone, '')`, `COALESCE(customer_tax_id, '')`, `COALESCE(series, '')`
	if reduced {
		phone, taxID, series = `''`, `''`, `''`
	}
	return fmt.Sprintf(`SELECT id, store_id, COALESCE(customer_id, ''), customer_name,
%s, %s, subtotal, tax, discount, total,
payment_method, sale_date, transaction_type, status, paid_amount, %s,
COALESCE(user_id, ''), items, payments, created_at
FROM sales WHERE id = $1`, phone, taxID, series)
}

func (r *Repository) fetch(ctx context.Context, id string, reduced bool) (Sale, error) {
	row := r.pool.QueryRow(ctx, saleSelectQuery(reduced), id)

	var (
		sale         Sale
		txnType      string
		status       string
		itemsJSON    []byte
		paymentsJSON []byte
	)
	err := row.Scan(&sale.ID, &sale.StoreID, &sale.CustomerID, &sale.CustomerName,
		&sale.CustomerPhone, &sale.CustomerTaxID, &sale.Subtotal, &sale.Tax, &sale.Discount, &sale.Total,
		&sale.PaymentMethod, &sale.Date, &txnType, &status, &sale.PaidAmount, &sale.Series,
		&sale.UserID, &itemsJSON, &paymentsJSON, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrNotFound
		}
		return Sale{}, err
	}
	sale.TransactionType = TransactionType(txnType)
	sale.Status = Status(status)
	if err := json.Unmarshal(itemsJSON, &sale.Items); err != nil {
		return Sale{}, err
	}
	if len(paymentsJSON) > 0 {
		if err := json.Unmarshal(paymentsJSON, &sale.Payments); err != nil {
			return Sale{}, err
		}
	}
	return sale, nil
}
