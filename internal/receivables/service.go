package receivables

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mercurio-pos/mercurio-pos/internal/shared"
)

// excessTolerance absorbs floating rounding drift across display/base
// currency round-trips. Full settlements computed from a converted display
// amount can overshoot the stored balance by a fraction of a cent; tightening
// this constant makes those legitimate payments fail.
const excessTolerance = 0.01

// RepositoryPort defines data access methods for receivables.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Insert(ctx context.Context, rec AccountReceivable) error
	GetByID(ctx context.Context, id string) (AccountReceivable, error)
	GetBySaleID(ctx context.Context, saleID string) (AccountReceivable, error)
	ListByStore(ctx context.Context, storeID string, limit, offset int) ([]AccountReceivable, error)
	CountByStore(ctx context.Context, storeID string) (int, error)
}

// RatePort resolves the current display-to-base conversion rate for a store.
type RatePort interface {
	LatestRate(ctx context.Context, storeID string) float64
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles the receivable lifecycle and payment application.
type Service struct {
	repo             RepositoryPort
	ratePort         RatePort
	audit            AuditPort
	logger           *slog.Logger
	referenceMethods map[string]bool
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// ReferenceRequiredMethods lists payment methods that must carry a
	// reference (e.g. bank transfers, cheques).
	ReferenceRequiredMethods []string
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, ratePort RatePort, audit AuditPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	methods := make(map[string]bool, len(cfg.ReferenceRequiredMethods))
	for _, m := range cfg.ReferenceRequiredMethods {
		methods[m] = true
	}
	return &Service{repo: repo, ratePort: ratePort, audit: audit, logger: logger, referenceMethods: methods}
}

// CreateFromSale opens the credit ledger entry for a persisted sale. Creation
// is at-most-once per sale: a duplicate surfaces ErrAlreadyExists, which
// callers replaying the settlement treat as success.
func (s *Service) CreateFromSale(ctx context.Context, input CreateInput) (AccountReceivable, error) {
	if input.StoreID == "" || input.SaleID == "" {
		return AccountReceivable{}, errors.New("receivables: store and sale required")
	}
	if input.Total <= 0 {
		return AccountReceivable{}, errors.New("receivables: total must be positive")
	}
	now := time.Now().UTC()
	saleDate := input.SaleDate
	if saleDate.IsZero() {
		saleDate = now
	}
	creditDays := input.CreditDays
	if creditDays < 0 {
		creditDays = 0
	}
	paid := input.PaidAmount
	if paid < 0 {
		paid = 0
	}
	status := StatusPending
	if paid >= input.Total {
		status = StatusPaid
	}
	remaining := input.Total - paid
	if remaining < 0 {
		remaining = 0
	}
	rec := AccountReceivable{
		ID:               uuid.NewString(),
		StoreID:          input.StoreID,
		SaleID:           input.SaleID,
		CustomerID:       input.CustomerID,
		CustomerName:     input.CustomerName,
		OriginalAmount:   input.Total,
		PaidAmount:       paid,
		RemainingBalance: remaining,
		Status:           status,
		SaleDate:         saleDate,
		DueDate:          saleDate.AddDate(0, 0, creditDays),
		CreditDays:       creditDays,
		Payments:         input.Payments,
		CreatedBy:        input.CreatedBy,
		UpdatedBy:        input.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return AccountReceivable{}, err
	}
	s.recordAudit(ctx, input.CreatedBy, "receivables:create", rec.ID, map[string]any{
		"sale_id":         rec.SaleID,
		"original_amount": rec.OriginalAmount,
		"due_date":        rec.DueDate,
	})
	return rec, nil
}

// ApplyPayment converts a display-currency amount to base currency, validates
// it against the remaining balance and appends it to the payment history. The
// whole updated receivable persists as one write inside a row-locked
// transaction.
func (s *Service) ApplyPayment(ctx context.Context, input ApplyPaymentInput) (AccountReceivable, error) {
	if input.ReceivableID == "" {
		return AccountReceivable{}, errors.New("receivables: receivable id required")
	}

	var updated AccountReceivable
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetForUpdate(ctx, input.ReceivableID)
		if err != nil {
			return err
		}
		if rec.Status == StatusCancelled || rec.RemainingBalance <= 0 {
			return ErrClosed
		}

		rate := s.ratePort.LatestRate(ctx, rec.StoreID)
		if rate <= 0 {
			rate = 1
		}
		baseAmount := input.DisplayAmount / rate
		if baseAmount <= 0 || math.IsNaN(baseAmount) || math.IsInf(baseAmount, 0) {
			return ErrInvalidAmount
		}
		if baseAmount > rec.RemainingBalance+excessTolerance {
			return fmt.Errorf("%w: %s over balance %s", ErrExcessPayment,
				shared.FormatAmount(baseAmount), shared.FormatAmount(rec.RemainingBalance))
		}
		if s.referenceMethods[input.Method] && input.Reference == "" {
			return ErrReferenceRequired
		}

		now := time.Now().UTC()
		rec.Payments = append(rec.Payments, Payment{
			ID:          uuid.NewString(),
			Amount:      baseAmount,
			Method:      input.Method,
			Reference:   input.Reference,
			Notes:       input.Notes,
			ProcessedBy: input.ProcessedBy,
			ProcessedAt: now,
			Type:        PaymentTypePayment,
		})
		rec.PaidAmount += baseAmount
		rec.RemainingBalance = rec.OriginalAmount - rec.PaidAmount
		if rec.RemainingBalance < 0 {
			// Within tolerance only; the balance never goes negative.
			rec.RemainingBalance = 0
		}
		rec.Status = statusAfterPayment(rec)
		rec.LastPaymentDate = &now
		rec.UpdatedBy = input.ProcessedBy
		rec.UpdatedAt = now

		if err := tx.Update(ctx, rec); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return AccountReceivable{}, err
	}
	s.recordAudit(ctx, input.ProcessedBy, "receivables:payment", updated.ID, map[string]any{
		"method":    input.Method,
		"remaining": updated.RemainingBalance,
		"status":    string(updated.Status),
	})
	return updated, nil
}

// Cancel marks a receivable cancelled. This is the out-of-band admin
// transition; settled entries stay paid.
func (s *Service) Cancel(ctx context.Context, id, updatedBy string) (AccountReceivable, error) {
	var updated AccountReceivable
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if rec.Status == StatusPaid || rec.Status == StatusCancelled {
			return ErrClosed
		}
		rec.Status = StatusCancelled
		rec.UpdatedBy = updatedBy
		rec.UpdatedAt = time.Now().UTC()
		if err := tx.Update(ctx, rec); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return AccountReceivable{}, err
	}
	s.recordAudit(ctx, updatedBy, "receivables:cancel", updated.ID, nil)
	return updated, nil
}

// GetByID loads one receivable.
func (s *Service) GetByID(ctx context.Context, id string) (AccountReceivable, error) {
	if id == "" {
		return AccountReceivable{}, errors.New("receivables: receivable id required")
	}
	return s.repo.GetByID(ctx, id)
}

// ExistsForSale reports whether the sale already has a receivable.
func (s *Service) ExistsForSale(ctx context.Context, saleID string) (bool, error) {
	_, err := s.repo.GetBySaleID(ctx, saleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListByStore lists one page of a store's receivables.
func (s *Service) ListByStore(ctx context.Context, storeID string, page, perPage int) ([]AccountReceivable, shared.Pagination, error) {
	if storeID == "" {
		return nil, shared.Pagination{}, errors.New("receivables: store required")
	}
	total, err := s.repo.CountByStore(ctx, storeID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	pagination := shared.NewPagination(page, perPage, total)
	recs, err := s.repo.ListByStore(ctx, storeID, pagination.PerPage, (pagination.Page-1)*pagination.PerPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return recs, pagination, nil
}

// statusAfterPayment applies the stored transition rules. The overdue state
// is deliberately absent: it is derived at read time, never written here.
func statusAfterPayment(rec AccountReceivable) Status {
	switch {
	case rec.RemainingBalance <= 0:
		return StatusPaid
	case rec.RemainingBalance < rec.OriginalAmount:
		return StatusPartial
	default:
		return StatusPending
	}
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "account_receivable",
		EntityID: entityID,
		Meta:     meta,
	})
}
