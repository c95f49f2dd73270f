package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mercurio-pos/mercurio-pos/internal/inventory"
	"github.com/mercurio-pos/mercurio-pos/internal/receivables"
	"github.com/mercurio-pos/mercurio-pos/internal/shared"
)

// RepositoryPort defines the sale store operations the orchestrator uses.
type RepositoryPort interface {
	InsertSale(ctx context.Context, sale Sale) error
	InsertSaleReduced(ctx context.Context, sale Sale) error
	GetByID(ctx context.Context, id string) (Sale, error)
	MarkStep(ctx context.Context, saleID, step string) error
	Steps(ctx context.Context, saleID string) (map[string]bool, error)
	IncompleteSettlements(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// InventoryPort is the slice of the inventory service the fan-out needs.
type InventoryPort interface {
	GetProduct(ctx context.Context, productID, storeID string) (inventory.Product, error)
	RecordMovement(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error)
}

// ReceivablePort is the slice of the receivables service the orchestrator
// needs to open credit ledger entries.
type ReceivablePort interface {
	CreateFromSale(ctx context.Context, input receivables.CreateInput) (receivables.AccountReceivable, error)
	ExistsForSale(ctx context.Context, saleID string) (bool, error)
}

// CachePort signals downstream caches after a settlement.
type CachePort interface {
	Invalidate(ctx context.Context, storeID string)
}

// MetricsPort counts settlement outcomes and absorbed step failures.
type MetricsPort interface {
	ObserveSettlement(outcome string)
	ObserveFanoutFailure()
	ObserveReceivableFailure()
}

// Service coordinates the settlement saga: persist the sale, fan out stock
// movements per line item, conditionally open a receivable, invalidate the
// product cache. Only the sale write is fatal; every later step is absorbed
// and left to the reconciler via the step log.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPort
	receivables ReceivablePort
	cache       CachePort
	metrics     MetricsPort
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, inv InventoryPort, rec ReceivablePort, cache CachePort, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, inventory: inv, receivables: rec, cache: cache, metrics: metrics, logger: logger}
}

// Settle runs the settlement pipeline for one sale request. It returns an
// error only when validation fails or the sale itself cannot be persisted;
// once the sale is committed the call reports success regardless of how the
// remaining steps fared.
func (s *Service) Settle(ctx context.Context, input SettleInput) (SettlementResult, error) {
	sale, err := s.normalize(input)
	if err != nil {
		return SettlementResult{}, err
	}

	unpersisted, err := s.persist(ctx, sale)
	if err != nil {
		s.observeSettlement("failed")
		return SettlementResult{}, err
	}
	if err := s.repo.MarkStep(ctx, sale.ID, StepSaleCommitted); err != nil {
		s.logger.Warn("settlement step log write failed", "sale_id", sale.ID, "step", StepSaleCommitted, "error", err)
	}

	fanoutClean := s.fanOut(ctx, sale)

	receivableID, receivableOK := s.ensureReceivable(ctx, sale, input.CreditDays)

	if s.cache != nil {
		s.cache.Invalidate(ctx, sale.StoreID)
	}

	if fanoutClean && receivableOK {
		s.observeSettlement("settled")
	} else {
		s.observeSettlement("degraded")
	}

	return SettlementResult{Sale: sale, Unpersisted: unpersisted, ReceivableID: receivableID}, nil
}

// normalize validates the request and fills the documented defaults.
func (s *Service) normalize(input SettleInput) (Sale, error) {
	if input.StoreID == "" {
		return Sale{}, fmt.Errorf("%w: store required", ErrValidation)
	}
	if len(input.Items) == 0 {
		return Sale{}, fmt.Errorf("%w: at least one item required", ErrValidation)
	}
	for i, item := range input.Items {
		if item.ProductID == "" {
			return Sale{}, fmt.Errorf("%w: item %d missing product", ErrValidation, i)
		}
		if item.Quantity <= 0 {
			return Sale{}, fmt.Errorf("%w: item %d quantity must be positive", ErrValidation, i)
		}
		if item.Price < 0 || math.IsNaN(item.Price) || math.IsInf(item.Price, 0) {
			return Sale{}, fmt.Errorf("%w: item %d price invalid", ErrValidation, i)
		}
	}
	if input.Total < 0 || math.IsNaN(input.Total) || math.IsInf(input.Total, 0) {
		return Sale{}, fmt.Errorf("%w: total invalid", ErrValidation)
	}

	sale := Sale{
		ID:              input.ID,
		StoreID:         input.StoreID,
		CustomerID:      input.CustomerID,
		CustomerName:    input.CustomerName,
		CustomerPhone:   input.CustomerPhone,
		CustomerTaxID:   input.CustomerTaxID,
		Items:           input.Items,
		Subtotal:        input.Subtotal,
		Tax:             input.Tax,
		Discount:        input.Discount,
		Total:           input.Total,
		PaymentMethod:   input.PaymentMethod,
		Date:            input.Date,
		TransactionType: input.TransactionType,
		Status:          input.Status,
		PaidAmount:      input.PaidAmount,
		Payments:        input.Payments,
		Series:          input.Series,
		UserID:          input.UserID,
		CreatedAt:       time.Now().UTC(),
	}
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	if sale.CustomerName == "" {
		sale.CustomerName = DefaultCustomerName
	}
	if sale.Date.IsZero() {
		sale.Date = sale.CreatedAt
	}
	if sale.TransactionType == "" {
		sale.TransactionType = TransactionCash
	}
	if !sale.TransactionType.valid() {
		return Sale{}, fmt.Errorf("%w: unknown transaction type %q", ErrValidation, sale.TransactionType)
	}
	if sale.Status == "" {
		sale.Status = StatusPaid
	}
	if !sale.Status.valid() {
		return Sale{}, fmt.Errorf("%w: unknown status %q", ErrValidation, sale.Status)
	}
	if sale.PaymentMethod == "" {
		sale.PaymentMethod = "cash"
	}
	for i := range sale.Payments {
		p := &sale.Payments[i]
		if p.Amount <= 0 || math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) {
			return Sale{}, fmt.Errorf("%w: payment %d amount invalid", ErrValidation, i)
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.Method == "" {
			p.Method = sale.PaymentMethod
		}
		if p.ProcessedAt.IsZero() {
			p.ProcessedAt = sale.CreatedAt
		}
		if p.Type == "" {
			p.Type = "payment"
		}
	}
	return sale, nil
}

// persist writes the sale, retrying once with the reduced column set when
// the store rejects columns it does not know. The dropped values come back
// in Unpersisted so the response does not silently lose them.
func (s *Service) persist(ctx context.Context, sale Sale) (*Unpersisted, error) {
	err := s.repo.InsertSale(ctx, sale)
	if err == nil {
		return nil, nil
	}

	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.logger.Warn("sale store rejected record shape, retrying reduced",
		"sale_id", sale.ID, "columns", schemaErr.Columns)
	if err := s.repo.InsertSaleReduced(ctx, sale); err != nil {
		return nil, fmt.Errorf("%w: reduced retry: %v", ErrPersistence, err)
	}

	unpersisted := &Unpersisted{
		CustomerPhone: sale.CustomerPhone,
		CustomerTaxID: sale.CustomerTaxID,
		Series:        sale.Series,
	}
	if *unpersisted == (Unpersisted{}) {
		return nil, nil
	}
	return unpersisted, nil
}

// fanOut records one sale movement per line item. Items are independent: a
// failed item is counted and logged, the rest proceed. The fan-out step is
// marked complete only when every item succeeded, so the reconciler replays
// the sale otherwise.
func (s *Service) fanOut(ctx context.Context, sale Sale) bool {
	var failures atomic.Int64
	g := new(errgroup.Group)
	for _, item := range sale.Items {
		item := item
		g.Go(func() error {
			if err := s.moveStock(ctx, sale, item); err != nil {
				failures.Add(1)
				s.logger.Error("inventory fan-out item failed",
					"sale_id", sale.ID, "product_id", item.ProductID, "error", err)
				if s.metrics != nil {
					s.metrics.ObserveFanoutFailure()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if failures.Load() > 0 {
		return false
	}
	if err := s.repo.MarkStep(ctx, sale.ID, StepInventoryFannedOut); err != nil {
		s.logger.Warn("settlement step log write failed", "sale_id", sale.ID, "step", StepInventoryFannedOut, "error", err)
	}
	return true
}

func (s *Service) moveStock(ctx context.Context, sale Sale, item LineItem) error {
	product, err := s.inventory.GetProduct(ctx, item.ProductID, sale.StoreID)
	if err != nil {
		return err
	}

	_, err = s.inventory.RecordMovement(ctx, inventory.MovementInput{
		ProductID:      item.ProductID,
		StoreID:        sale.StoreID,
		Type:           inventory.MovementSale,
		Quantity:       -float64(item.Quantity),
		UnitCost:       product.Cost,
		ReferenceType:  "sale",
		ReferenceID:    sale.ID,
		UserID:         sale.UserID,
		IdempotencyKey: movementKey(sale.ID, item.ProductID),
	})
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		// Already applied by an earlier attempt.
		return nil
	}
	return err
}

// movementKey makes the per-item movement replay-safe across reconciler runs.
func movementKey(saleID, productID string) string {
	return "sale:" + saleID + ":" + productID
}

// ensureReceivable opens the credit ledger entry when the sale is a credit
// sale or left unpaid. Failure is absorbed: the sale is already durable and
// the reconciler retries from the step log.
func (s *Service) ensureReceivable(ctx context.Context, sale Sale, creditDays int) (string, bool) {
	if !isCredit(sale) {
		if err := s.repo.MarkStep(ctx, sale.ID, StepReceivableCreated); err != nil {
			s.logger.Warn("settlement step log write failed", "sale_id", sale.ID, "step", StepReceivableCreated, "error", err)
		}
		return "", true
	}

	rec, err := s.receivables.CreateFromSale(ctx, receivables.CreateInput{
		StoreID:      sale.StoreID,
		SaleID:       sale.ID,
		CustomerID:   sale.CustomerID,
		CustomerName: sale.CustomerName,
		Total:        sale.Total,
		PaidAmount:   sale.PaidAmount,
		SaleDate:     sale.Date,
		CreditDays:   creditDays,
		Payments:     receivablePayments(sale.Payments),
		CreatedBy:    sale.UserID,
	})
	if err != nil {
		if errors.Is(err, receivables.ErrAlreadyExists) {
			if markErr := s.repo.MarkStep(ctx, sale.ID, StepReceivableCreated); markErr != nil {
				s.logger.Warn("settlement step log write failed", "sale_id", sale.ID, "step", StepReceivableCreated, "error", markErr)
			}
			return "", true
		}
		s.logger.Error("receivable creation failed", "sale_id", sale.ID, "error", err)
		if s.metrics != nil {
			s.metrics.ObserveReceivableFailure()
		}
		return "", false
	}

	if err := s.repo.MarkStep(ctx, sale.ID, StepReceivableCreated); err != nil {
		s.logger.Warn("settlement step log write failed", "sale_id", sale.ID, "step", StepReceivableCreated, "error", err)
	}
	return rec.ID, true
}

// receivablePayments carries the counter payments into the receivable so its
// ledger starts from the sale's payment sequence instead of empty.
func receivablePayments(payments []Payment) []receivables.Payment {
	if len(payments) == 0 {
		return nil
	}
	out := make([]receivables.Payment, 0, len(payments))
	for _, p := range payments {
		out = append(out, receivables.Payment{
			ID:          p.ID,
			Amount:      p.Amount,
			Method:      p.Method,
			Reference:   p.Reference,
			ProcessedBy: p.ProcessedBy,
			ProcessedAt: p.ProcessedAt,
			Type:        receivables.PaymentType(p.Type),
		})
	}
	return out
}

// isCredit evaluates the persisted sale, not the raw request, so the ledger
// follows what was actually stored.
func isCredit(sale Sale) bool {
	return sale.TransactionType == TransactionCredit || sale.Status == StatusUnpaid
}

// GetByID loads one sale.
func (s *Service) GetByID(ctx context.Context, id string) (Sale, error) {
	if id == "" {
		return Sale{}, fmt.Errorf("%w: sale id required", ErrValidation)
	}
	return s.repo.GetByID(ctx, id)
}

// FanOutInventory replays the inventory step for a committed sale. The
// per-item idempotency keys make already-applied movements no-ops.
func (s *Service) FanOutInventory(ctx context.Context, saleID string) error {
	sale, err := s.repo.GetByID(ctx, saleID)
	if err != nil {
		return err
	}
	if !s.fanOut(ctx, sale) {
		return fmt.Errorf("sales: inventory fan-out for %s still incomplete", saleID)
	}
	return nil
}

// EnsureReceivable replays the receivable step for a committed sale. Credit
// days cannot be recovered from the stored sale, so replays fall back to the
// configured default supplied by the caller.
func (s *Service) EnsureReceivable(ctx context.Context, saleID string, creditDays int) error {
	sale, err := s.repo.GetByID(ctx, saleID)
	if err != nil {
		return err
	}
	if isCredit(sale) {
		exists, err := s.receivables.ExistsForSale(ctx, sale.ID)
		if err != nil {
			return err
		}
		if exists {
			if err := s.repo.MarkStep(ctx, sale.ID, StepReceivableCreated); err != nil {
				s.logger.Warn("settlement step log write failed", "sale_id", sale.ID, "step", StepReceivableCreated, "error", err)
			}
			return nil
		}
	}
	if _, ok := s.ensureReceivable(ctx, sale, creditDays); !ok {
		return fmt.Errorf("sales: receivable for %s still missing", saleID)
	}
	return nil
}

// IncompleteSettlements lists sales whose saga never completed, for the
// reconciler sweep.
func (s *Service) IncompleteSettlements(ctx context.Context, since time.Time, limit int) ([]string, error) {
	return s.repo.IncompleteSettlements(ctx, since, limit)
}

func (s *Service) observeSettlement(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveSettlement(outcome)
	}
}
