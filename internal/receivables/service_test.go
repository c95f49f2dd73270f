package receivables

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	records map[string]AccountReceivable
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[string]AccountReceivable)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Insert(ctx context.Context, rec AccountReceivable) error {
	for _, existing := range r.records {
		if existing.SaleID == rec.SaleID {
			return ErrAlreadyExists
		}
	}
	r.records[rec.ID] = rec
	return nil
}

func (r *memoryRepo) GetByID(ctx context.Context, id string) (AccountReceivable, error) {
	if rec, ok := r.records[id]; ok {
		return rec, nil
	}
	return AccountReceivable{}, ErrNotFound
}

func (r *memoryRepo) GetBySaleID(ctx context.Context, saleID string) (AccountReceivable, error) {
	for _, rec := range r.records {
		if rec.SaleID == saleID {
			return rec, nil
		}
	}
	return AccountReceivable{}, ErrNotFound
}

func (r *memoryRepo) ListByStore(ctx context.Context, storeID string, limit, offset int) ([]AccountReceivable, error) {
	var out []AccountReceivable
	for _, rec := range r.records {
		if rec.StoreID == storeID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryRepo) CountByStore(ctx context.Context, storeID string) (int, error) {
	count := 0
	for _, rec := range r.records {
		if rec.StoreID == storeID {
			count++
		}
	}
	return count, nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id string) (AccountReceivable, error) {
	return t.repo.GetByID(ctx, id)
}

func (t *memoryTx) Update(ctx context.Context, rec AccountReceivable) error {
	if _, ok := t.repo.records[rec.ID]; !ok {
		return ErrNotFound
	}
	t.repo.records[rec.ID] = rec
	return nil
}

type fixedRate struct {
	rate float64
}

func (f fixedRate) LatestRate(ctx context.Context, storeID string) float64 {
	return f.rate
}

func newTestService(rate float64, refMethods ...string) (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	svc := NewService(repo, fixedRate{rate: rate}, nil, ServiceConfig{ReferenceRequiredMethods: refMethods}, nil)
	return svc, repo
}

func createCreditReceivable(t *testing.T, svc *Service, total float64, creditDays int) AccountReceivable {
	t.Helper()
	rec, err := svc.CreateFromSale(context.Background(), CreateInput{
		StoreID:      "s1",
		SaleID:       "sale-1",
		CustomerName: "Cliente Eventual",
		Total:        total,
		SaleDate:     time.Now(),
		CreditDays:   creditDays,
	})
	require.NoError(t, err)
	return rec
}

func TestCreateFromSaleSeedsPendingLedger(t *testing.T) {
	svc, _ := newTestService(1)
	saleDate := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	rec, err := svc.CreateFromSale(context.Background(), CreateInput{
		StoreID:    "s1",
		SaleID:     "sale-1",
		Total:      100,
		SaleDate:   saleDate,
		CreditDays: 30,
	})
	require.NoError(t, err)
	require.Equal(t, 100.0, rec.OriginalAmount)
	require.Equal(t, 100.0, rec.RemainingBalance)
	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, saleDate.AddDate(0, 0, 30), rec.DueDate)
}

func TestCreateFromSaleFullyPaidSeedsPaid(t *testing.T) {
	svc, _ := newTestService(1)
	rec, err := svc.CreateFromSale(context.Background(), CreateInput{
		StoreID: "s1", SaleID: "sale-1", Total: 50, PaidAmount: 50, SaleDate: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, rec.Status)
	require.Equal(t, 0.0, rec.RemainingBalance)
}

func TestCreateFromSaleIsAtMostOncePerSale(t *testing.T) {
	svc, _ := newTestService(1)
	createCreditReceivable(t, svc, 100, 0)

	_, err := svc.CreateFromSale(context.Background(), CreateInput{
		StoreID: "s1", SaleID: "sale-1", Total: 100, SaleDate: time.Now(),
	})
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestApplyPaymentPartial(t *testing.T) {
	svc, _ := newTestService(1)
	rec := createCreditReceivable(t, svc, 100, 30)

	updated, err := svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		ReceivableID: rec.ID, DisplayAmount: 55, Method: "cash",
	})
	require.NoError(t, err)
	require.InDelta(t, 45.0, updated.RemainingBalance, 1e-9)
	require.Equal(t, StatusPartial, updated.Status)
	require.Len(t, updated.Payments, 1)
	require.Equal(t, PaymentTypePayment, updated.Payments[0].Type)
	require.NotEmpty(t, updated.Payments[0].ID)
	require.NotNil(t, updated.LastPaymentDate)
}

func TestApplyPaymentConvertsDisplayCurrency(t *testing.T) {
	svc, _ := newTestService(100)
	rec := createCreditReceivable(t, svc, 45, 30)

	// 4500 display units at rate 100 settle exactly 45 in base currency.
	updated, err := svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		ReceivableID: rec.ID, DisplayAmount: 4500, Method: "cash",
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, updated.RemainingBalance)
	require.Equal(t, StatusPaid, updated.Status)
	require.InDelta(t, 45.0, updated.Payments[0].Amount, 1e-9)
}

func TestApplyPaymentExcessTolerance(t *testing.T) {
	svc, _ := newTestService(1)
	rec := createCreditReceivable(t, svc, 100, 30)

	// 0.005 over the balance sits inside the rounding tolerance.
	updated, err := svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		ReceivableID: rec.ID, DisplayAmount: 100.005, Method: "cash",
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, updated.RemainingBalance)
	require.Equal(t, StatusPaid, updated.Status)
}

func TestApplyPaymentRejectsExcess(t *testing.T) {
	svc, _ := newTestService(1)
	rec := createCreditReceivable(t, svc, 100, 30)

	_, err := svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		ReceivableID: rec.ID, DisplayAmount: 100.02, Method: "cash",
	})
	require.ErrorIs(t, err, ErrExcessPayment)

	// Nothing changed on the stored record.
	current, err := svc.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, 100.0, current.RemainingBalance)
	require.Empty(t, current.Payments)
}

func TestApplyPaymentRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newTestService(1)
	rec := createCreditReceivable(t, svc, 100, 30)

	for _, amount := range []float64{0, -10} {
		_, err := svc.ApplyPayment(context.Background(), ApplyPaymentInput{
			ReceivableID: rec.ID, DisplayAmount: amount, Method: "cash",
		})
		require.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestApplyPaymentRequiresReferenceForConfiguredMethods(t *testing.T) {
	svc, _ := newTestService(1, "transfer", "cheque")
	rec := createCreditReceivable(t, svc, 100, 30)

	_, err := svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		ReceivableID: rec.ID, DisplayAmount: 10, Method: "transfer",
	})
	require.ErrorIs(t, err, ErrReferenceRequired)

	updated, err := svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		ReceivableID: rec.ID, DisplayAmount: 10, Method: "transfer", Reference: "TRX-991",
	})
	require.NoError(t, err)
	require.Equal(t, "TRX-991", updated.Payments[0].Reference)
}

func TestApplyPaymentZeroRateFallsBackToOne(t *testing.T) {
	svc, _ := newTestService(0)
	rec := createCreditReceivable(t, svc, 100, 30)

	updated, err := svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		ReceivableID: rec.ID, DisplayAmount: 40, Method: "cash",
	})
	require.NoError(t, err)
	require.InDelta(t, 60.0, updated.RemainingBalance, 1e-9)
}

func TestApplyPaymentOnClosedReceivable(t *testing.T) {
	svc, _ := newTestService(1)
	rec := createCreditReceivable(t, svc, 100, 30)

	_, err := svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		ReceivableID: rec.ID, DisplayAmount: 100, Method: "cash",
	})
	require.NoError(t, err)

	_, err = svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		ReceivableID: rec.ID, DisplayAmount: 1, Method: "cash",
	})
	require.ErrorIs(t, err, ErrClosed)
}

func TestOverdueIsDerivedNotStored(t *testing.T) {
	svc, repo := newTestService(1)
	rec := createCreditReceivable(t, svc, 100, 30)

	updated, err := svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		ReceivableID: rec.ID, DisplayAmount: 55, Method: "cash",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPartial, updated.Status)

	// Age the entry past its due date; the stored status stays partial while
	// the projection reports overdue.
	aged := repo.records[rec.ID]
	aged.DueDate = time.Now().Add(-24 * time.Hour)
	repo.records[rec.ID] = aged

	current, err := svc.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, current.Status)
	require.True(t, current.IsOverdue(time.Now()))
}

func TestCancelTransition(t *testing.T) {
	svc, _ := newTestService(1)
	rec := createCreditReceivable(t, svc, 100, 30)

	cancelled, err := svc.Cancel(context.Background(), rec.ID, "admin")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		ReceivableID: rec.ID, DisplayAmount: 10, Method: "cash",
	})
	require.ErrorIs(t, err, ErrClosed)
}

func TestExistsForSale(t *testing.T) {
	svc, _ := newTestService(1)
	exists, err := svc.ExistsForSale(context.Background(), "sale-1")
	require.NoError(t, err)
	require.False(t, exists)

	createCreditReceivable(t, svc, 100, 0)

	exists, err = svc.ExistsForSale(context.Background(), "sale-1")
	require.NoError(t, err)
	require.True(t, exists)
}
