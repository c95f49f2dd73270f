package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mercurio-pos/mercurio-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, productID, storeID string) (Product, error)
	MovementsByReference(ctx context.Context, referenceType, referenceID string) ([]Movement, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the movement ledger.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	allowNeg bool
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, allowNeg: cfg.AllowNegativeStock}
}

// RecordMovement appends an incremental movement and applies its stock delta.
// Quantity is signed; sale and outbound types carry negative quantities.
// Adjustments are excluded here: they take an absolute target and go through
// RecordAdjustment instead.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (Movement, error) {
	if input.ProductID == "" || input.StoreID == "" {
		return Movement{}, errors.New("inventory: product and store required")
	}
	if !input.Type.Valid() || input.Type == MovementAdjustment {
		return Movement{}, ErrInvalidMovementType
	}
	if input.Quantity == 0 || math.IsNaN(input.Quantity) || math.IsInf(input.Quantity, 0) {
		return Movement{}, ErrInvalidQuantity
	}
	if input.UnitCost < 0 {
		return Movement{}, ErrInvalidUnitCost
	}

	return s.apply(ctx, appliedMovement{
		productID:      input.ProductID,
		storeID:        input.StoreID,
		warehouseID:    input.WarehouseID,
		movementType:   input.Type,
		delta:          input.Quantity,
		unitCost:       input.UnitCost,
		referenceType:  input.ReferenceType,
		referenceID:    input.ReferenceID,
		userID:         input.UserID,
		notes:          input.Notes,
		idempotencyKey: input.IdempotencyKey,
	})
}

// RecordAdjustment corrects the counter to an absolute target and derives the
// signed delta from the current stock, unlike the incremental movement types.
func (s *Service) RecordAdjustment(ctx context.Context, input AdjustmentInput) (Movement, error) {
	if input.ProductID == "" || input.StoreID == "" {
		return Movement{}, errors.New("inventory: product and store required")
	}
	if math.IsNaN(input.NewStock) || math.IsInf(input.NewStock, 0) {
		return Movement{}, ErrInvalidQuantity
	}
	if !s.allowNeg && input.NewStock < 0 {
		return Movement{}, ErrInsufficientStock
	}
	if input.UnitCost < 0 {
		return Movement{}, ErrInvalidUnitCost
	}

	now := time.Now().UTC()
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		previous, err := tx.SetStock(ctx, input.ProductID, input.StoreID, input.NewStock)
		if err != nil {
			return err
		}
		delta := input.NewStock - previous
		if delta == 0 {
			return ErrInvalidQuantity
		}
		movement = Movement{
			ID:            uuid.NewString(),
			ProductID:     input.ProductID,
			StoreID:       input.StoreID,
			WarehouseID:   input.WarehouseID,
			Type:          MovementAdjustment,
			Quantity:      delta,
			PreviousStock: previous,
			NewStock:      input.NewStock,
			UnitCost:      input.UnitCost,
			TotalValue:    input.UnitCost * math.Abs(delta),
			ReferenceType: "adjustment",
			UserID:        input.UserID,
			Notes:         input.Notes,
			CreatedAt:     now,
		}
		return tx.InsertMovement(ctx, movement)
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, movement)
	return movement, nil
}

// GetProduct exposes the stock/cost counters.
func (s *Service) GetProduct(ctx context.Context, productID, storeID string) (Product, error) {
	if productID == "" || storeID == "" {
		return Product{}, errors.New("inventory: product and store required")
	}
	return s.repo.GetProduct(ctx, productID, storeID)
}

// MovementsByReference lists every movement caused by one source document.
func (s *Service) MovementsByReference(ctx context.Context, referenceType, referenceID string) ([]Movement, error) {
	if referenceType == "" || referenceID == "" {
		return nil, errors.New("inventory: reference type and id required")
	}
	return s.repo.MovementsByReference(ctx, referenceType, referenceID)
}

// ListMovements lists filtered movements, newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, ErrInvalidMovementType
	}
	return s.repo.ListMovements(ctx, filter)
}

type appliedMovement struct {
	productID      string
	storeID        string
	warehouseID    string
	movementType   MovementType
	delta          float64
	unitCost       float64
	referenceType  string
	referenceID    string
	userID         string
	notes          string
	idempotencyKey string
}

// apply writes the stock delta, the movement record and, when present, the
// replay guard key in one transaction. A failure anywhere rolls back all
// three, so a replay after a failed attempt starts from a clean slate.
func (s *Service) apply(ctx context.Context, params appliedMovement) (Movement, error) {
	now := time.Now().UTC()
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if params.idempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, params.idempotencyKey); err != nil {
				return err
			}
		}
		newStock, err := tx.ApplyStockDelta(ctx, params.productID, params.storeID, params.delta, s.allowNeg)
		if err != nil {
			return err
		}
		movement = Movement{
			ID:            uuid.NewString(),
			ProductID:     params.productID,
			StoreID:       params.storeID,
			WarehouseID:   params.warehouseID,
			Type:          params.movementType,
			Quantity:      params.delta,
			PreviousStock: newStock - params.delta,
			NewStock:      newStock,
			UnitCost:      params.unitCost,
			TotalValue:    params.unitCost * math.Abs(params.delta),
			ReferenceType: params.referenceType,
			ReferenceID:   params.referenceID,
			UserID:        params.userID,
			Notes:         params.notes,
			CreatedAt:     now,
		}
		return tx.InsertMovement(ctx, movement)
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, movement)
	return movement, nil
}

func (s *Service) recordAudit(ctx context.Context, movement Movement) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  movement.UserID,
		Action:   fmt.Sprintf("inventory:%s", movement.Type),
		Entity:   "inventory_movement",
		EntityID: movement.ID,
		Meta: map[string]any{
			"product_id":     movement.ProductID,
			"store_id":       movement.StoreID,
			"quantity":       movement.Quantity,
			"previous_stock": movement.PreviousStock,
			"new_stock":      movement.NewStock,
			"reference":      movement.ReferenceType + ":" + movement.ReferenceID,
		},
	})
}
