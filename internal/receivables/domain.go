package receivables

import (
	"errors"
	"time"
)

// Status enumerates stored receivable statuses. "overdue" exists as a stored
// value for out-of-band admin flows, but payment application never writes it:
// whether a receivable is overdue is a read-time projection (see IsOverdue),
// and the stored status is allowed to lag behind it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// PaymentType enumerates ledger entry kinds.
type PaymentType string

const (
	PaymentTypePayment    PaymentType = "payment"
	PaymentTypeAdjustment PaymentType = "adjustment"
	PaymentTypeDiscount   PaymentType = "discount"
	PaymentTypeRefund     PaymentType = "refund"
)

// Payment is one immutable entry of a receivable's embedded payment history.
// Amounts are base currency.
type Payment struct {
	ID          string      `json:"id"`
	Amount      float64     `json:"amount"`
	Method      string      `json:"method"`
	Reference   string      `json:"reference,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	ProcessedBy string      `json:"processedBy,omitempty"`
	ProcessedAt time.Time   `json:"processedAt"`
	Type        PaymentType `json:"type"`
}

// AccountReceivable is the credit ledger entry for one sale. OriginalAmount
// is frozen at creation from the persisted sale total; RemainingBalance is
// kept equal to OriginalAmount − PaidAmount and never goes below zero.
type AccountReceivable struct {
	ID               string
	StoreID          string
	SaleID           string
	CustomerID       string
	CustomerName     string
	OriginalAmount   float64
	PaidAmount       float64
	RemainingBalance float64
	Status           Status
	SaleDate         time.Time
	DueDate          time.Time
	CreditDays       int
	LastPaymentDate  *time.Time
	Payments         []Payment
	CreatedBy        string
	UpdatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsOverdue is the read-time overdue projection. It is computed from the due
// date regardless of the stored Status, so a receivable stored as "pending"
// or "partial" can still report overdue here.
func (r AccountReceivable) IsOverdue(now time.Time) bool {
	return r.RemainingBalance > 0 && now.After(r.DueDate)
}

// CreateInput seeds a receivable from a persisted sale.
type CreateInput struct {
	StoreID      string
	SaleID       string
	CustomerID   string
	CustomerName string
	Total        float64
	PaidAmount   float64
	SaleDate     time.Time
	CreditDays   int
	Payments     []Payment
	CreatedBy    string
}

// ApplyPaymentInput applies one display-currency payment to a receivable.
type ApplyPaymentInput struct {
	ReceivableID  string
	DisplayAmount float64
	Method        string
	Reference     string
	Notes         string
	ProcessedBy   string
}

var (
	// ErrNotFound indicates a missing receivable.
	ErrNotFound = errors.New("receivables: not found")
	// ErrAlreadyExists indicates the sale already has a receivable.
	ErrAlreadyExists = errors.New("receivables: receivable already exists for sale")
	// ErrInvalidAmount indicates a non-positive or non-finite payment amount.
	ErrInvalidAmount = errors.New("receivables: invalid payment amount")
	// ErrExcessPayment indicates the payment exceeds the remaining balance.
	ErrExcessPayment = errors.New("receivables: payment exceeds remaining balance")
	// ErrReferenceRequired indicates the chosen method requires a reference.
	ErrReferenceRequired = errors.New("receivables: payment method requires a reference")
	// ErrClosed indicates the receivable accepts no further payments.
	ErrClosed = errors.New("receivables: receivable is settled or cancelled")
)
