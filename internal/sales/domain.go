package sales

import (
	"errors"
	"time"
)

// TransactionType distinguishes cash sales from credit sales.
type TransactionType string

const (
	TransactionCash   TransactionType = "cash"
	TransactionCredit TransactionType = "credit"
)

// Status tracks how much of the sale was collected at the counter.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusUnpaid  Status = "unpaid"
	StatusPartial Status = "partial"
)

// DefaultCustomerName labels walk-in sales with no identified customer.
const DefaultCustomerName = "Cliente Eventual"

// LineItem is one product position on a sale.
type LineItem struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// Payment is one payment recorded against the sale at the counter. Entries
// are append-only.
type Payment struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount"`
	Method      string    `json:"method"`
	Reference   string    `json:"reference,omitempty"`
	ProcessedBy string    `json:"processed_by,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
	Type        string    `json:"type"`
}

// Sale is the durable sale record. All monetary fields are base currency.
type Sale struct {
	ID              string
	StoreID         string
	CustomerID      string
	CustomerName    string
	CustomerPhone   string
	CustomerTaxID   string
	Items           []LineItem
	Subtotal        float64
	Tax             float64
	Discount        float64
	Total           float64
	PaymentMethod   string
	Date            time.Time
	TransactionType TransactionType
	Status          Status
	PaidAmount      float64
	Payments        []Payment
	Series          string
	UserID          string
	CreatedAt       time.Time
}

// SettleInput is the raw sale request. Only StoreID and Items are required;
// everything else has a documented default.
type SettleInput struct {
	ID              string
	StoreID         string
	CustomerID      string
	CustomerName    string
	CustomerPhone   string
	CustomerTaxID   string
	Items           []LineItem
	Subtotal        float64
	Tax             float64
	Discount        float64
	Total           float64
	PaymentMethod   string
	Date            time.Time
	TransactionType TransactionType
	Status          Status
	PaidAmount      float64
	Payments        []Payment
	Series          string
	UserID          string
	CreditDays      int
}

// Unpersisted carries client-supplied values that were dropped from the
// stored record by the reduced schema retry. They survive only in the
// response, not in the store.
type Unpersisted struct {
	CustomerPhone string `json:"customer_phone,omitempty"`
	CustomerTaxID string `json:"customer_tax_id,omitempty"`
	Series        string `json:"series,omitempty"`
}

// SettlementResult is the merged view returned to the caller: the persisted
// sale plus any values the reduced retry could not store.
type SettlementResult struct {
	Sale         Sale
	Unpersisted  *Unpersisted
	ReceivableID string
}

var (
	// ErrValidation covers bad or missing input. Nothing was written.
	ErrValidation = errors.New("sales: invalid sale request")
	// ErrPersistence means the sale write failed even after the reduced
	// retry. Nothing was committed and no further step ran.
	ErrPersistence = errors.New("sales: sale could not be persisted")
	// ErrNotFound indicates the sale does not exist.
	ErrNotFound = errors.New("sales: sale not found")
)

func (t TransactionType) valid() bool {
	return t == TransactionCash || t == TransactionCredit
}

func (s Status) valid() bool {
	return s == StatusPaid || s == StatusUnpaid || s == StatusPartial
}
