package inventory

import (
	"errors"
	"time"
)

// MovementType enumerates the causes of a stock change.
type MovementType string

const (
	MovementSale         MovementType = "sale"
	MovementPurchase     MovementType = "purchase"
	MovementAdjustment   MovementType = "adjustment"
	MovementInitialStock MovementType = "initial_stock"
	MovementTransferIn   MovementType = "transfer_in"
	MovementTransferOut  MovementType = "transfer_out"
	MovementReturn       MovementType = "return"
	MovementDamage       MovementType = "damage"
	MovementExpiry       MovementType = "expiry"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementSale, MovementPurchase, MovementAdjustment, MovementInitialStock,
		MovementTransferIn, MovementTransferOut, MovementReturn, MovementDamage, MovementExpiry:
		return true
	}
	return false
}

// Product is the per-store stock/cost counter pair the ledger mutates.
type Product struct {
	ID      string
	StoreID string
	Stock   float64
	Cost    float64
}

// Movement is an immutable audit record of one stock change. Quantity is
// signed (negative = decrease); NewStock always equals
// PreviousStock + Quantity for the record itself.
type Movement struct {
	ID            string
	ProductID     string
	StoreID       string
	WarehouseID   string
	Type          MovementType
	Quantity      float64
	PreviousStock float64
	NewStock      float64
	UnitCost      float64
	TotalValue    float64
	ReferenceType string
	ReferenceID   string
	UserID        string
	Notes         string
	CreatedAt     time.Time
}

// MovementInput posts an incremental movement (sale, purchase, damage, ...).
// Adjustments take an absolute target instead; see AdjustmentInput.
type MovementInput struct {
	ProductID     string
	StoreID       string
	WarehouseID   string
	Type          MovementType
	Quantity      float64
	UnitCost      float64
	ReferenceType string
	ReferenceID   string
	UserID        string
	Notes         string
	// IdempotencyKey, when set, makes replays of the same logical movement
	// (e.g. a re-run settlement fan-out) no-ops.
	IdempotencyKey string
}

// AdjustmentInput posts an absolute stock correction: the caller supplies the
// target NewStock and the signed delta is derived from the current counter.
type AdjustmentInput struct {
	ProductID   string
	StoreID     string
	WarehouseID string
	NewStock    float64
	UnitCost    float64
	UserID      string
	Notes       string
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	ProductID string
	StoreID   string
	Type      MovementType
	Limit     int
}

var (
	// ErrProductNotFound indicates the product/store pair has no counter row.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrInsufficientStock indicates the movement would drive stock negative.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidQuantity indicates a zero or malformed quantity.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("inventory: invalid unit cost")
	// ErrInvalidMovementType indicates an unknown or disallowed movement type.
	ErrInvalidMovementType = errors.New("inventory: invalid movement type")
)
