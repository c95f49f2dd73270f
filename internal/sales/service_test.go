package sales

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mercurio-pos/mercurio-pos/internal/inventory"
	"github.com/mercurio-pos/mercurio-pos/internal/receivables"
	"github.com/mercurio-pos/mercurio-pos/internal/shared"
)

type memoryRepo struct {
	mu             sync.Mutex
	sales          map[string]Sale
	steps          map[string]map[string]bool
	reducedInserts int
	failFull       error
	failReduced    error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sales: make(map[string]Sale), steps: make(map[string]map[string]bool)}
}

func (r *memoryRepo) InsertSale(ctx context.Context, sale Sale) error {
	if r.failFull != nil {
		return r.failFull
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sales[sale.ID] = sale
	return nil
}

func (r *memoryRepo) InsertSaleReduced(ctx context.Context, sale Sale) error {
	if r.failReduced != nil {
		return r.failReduced
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reducedInserts++
	sale.CustomerPhone = ""
	sale.CustomerTaxID = ""
	sale.Series = ""
	r.sales[sale.ID] = sale
	return nil
}

func (r *memoryRepo) GetByID(ctx context.Context, id string) (Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sale, ok := r.sales[id]; ok {
		return sale, nil
	}
	return Sale{}, ErrNotFound
}

func (r *memoryRepo) MarkStep(ctx context.Context, saleID, step string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.steps[saleID] == nil {
		r.steps[saleID] = make(map[string]bool)
	}
	r.steps[saleID][step] = true
	return nil
}

func (r *memoryRepo) Steps(ctx context.Context, saleID string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.steps[saleID], nil
}

func (r *memoryRepo) IncompleteSettlements(ctx context.Context, since time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, steps := range r.steps {
		if steps[StepSaleCommitted] && (!steps[StepInventoryFannedOut] || !steps[StepReceivableCreated]) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memoryRepo) marked(saleID, step string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.steps[saleID][step]
}

type fakeInventory struct {
	mu        sync.Mutex
	products  map[string]inventory.Product
	movements []inventory.MovementInput
	seenKeys  map[string]bool
	failFor   map[string]error
}

func newFakeInventory(products ...inventory.Product) *fakeInventory {
	f := &fakeInventory{
		products: make(map[string]inventory.Product),
		seenKeys: make(map[string]bool),
		failFor:  make(map[string]error),
	}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeInventory) GetProduct(ctx context.Context, productID, storeID string) (inventory.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.products[productID]; ok {
		return p, nil
	}
	return inventory.Product{}, inventory.ErrProductNotFound
}

func (f *fakeInventory) RecordMovement(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[input.ProductID]; err != nil {
		return inventory.Movement{}, err
	}
	if input.IdempotencyKey != "" && f.seenKeys[input.IdempotencyKey] {
		return inventory.Movement{}, shared.ErrIdempotencyConflict
	}
	f.seenKeys[input.IdempotencyKey] = true
	f.movements = append(f.movements, input)
	return inventory.Movement{ProductID: input.ProductID, Quantity: input.Quantity}, nil
}

func (f *fakeInventory) movementCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.movements)
}

type fakeReceivables struct {
	created []receivables.CreateInput
	fail    error
}

func (f *fakeReceivables) CreateFromSale(ctx context.Context, input receivables.CreateInput) (receivables.AccountReceivable, error) {
	if f.fail != nil {
		return receivables.AccountReceivable{}, f.fail
	}
	for _, existing := range f.created {
		if existing.SaleID == input.SaleID {
			return receivables.AccountReceivable{}, receivables.ErrAlreadyExists
		}
	}
	f.created = append(f.created, input)
	return receivables.AccountReceivable{ID: "rec-" + input.SaleID, SaleID: input.SaleID}, nil
}

func (f *fakeReceivables) ExistsForSale(ctx context.Context, saleID string) (bool, error) {
	for _, existing := range f.created {
		if existing.SaleID == saleID {
			return true, nil
		}
	}
	return false, nil
}

type fakeCache struct {
	invalidated []string
}

func (f *fakeCache) Invalidate(ctx context.Context, storeID string) {
	f.invalidated = append(f.invalidated, storeID)
}

type fakeMetrics struct {
	mu          sync.Mutex
	settlements map[string]int
	fanout      int
	receivable  int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{settlements: make(map[string]int)}
}

func (f *fakeMetrics) ObserveSettlement(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlements[outcome]++
}

func (f *fakeMetrics) ObserveFanoutFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fanout++
}

func (f *fakeMetrics) ObserveReceivableFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receivable++
}

type fixture struct {
	service     *Service
	repo        *memoryRepo
	inventory   *fakeInventory
	receivables *fakeReceivables
	cache       *fakeCache
	metrics     *fakeMetrics
}

func newFixture(products ...inventory.Product) *fixture {
	f := &fixture{
		repo:        newMemoryRepo(),
		inventory:   newFakeInventory(products...),
		receivables: &fakeReceivables{},
		cache:       &fakeCache{},
		metrics:     newFakeMetrics(),
	}
	f.service = NewService(f.repo, f.inventory, f.receivables, f.cache, f.metrics, nil)
	return f
}

func cashSaleInput() SettleInput {
	return SettleInput{
		StoreID: "s1",
		Items:   []LineItem{{ProductID: "p1", ProductName: "Cafe", Quantity: 2, Price: 10}},
		Total:   20,
	}
}

func TestSettleAppliesDefaults(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})

	result, err := f.service.Settle(context.Background(), cashSaleInput())
	require.NoError(t, err)
	require.NotEmpty(t, result.Sale.ID)
	require.Equal(t, DefaultCustomerName, result.Sale.CustomerName)
	require.Equal(t, TransactionCash, result.Sale.TransactionType)
	require.Equal(t, StatusPaid, result.Sale.Status)
	require.Equal(t, "cash", result.Sale.PaymentMethod)
	require.False(t, result.Sale.Date.IsZero())
	require.Nil(t, result.Unpersisted)
	require.True(t, f.repo.marked(result.Sale.ID, StepSaleCommitted))
}

func TestSettleValidation(t *testing.T) {
	f := newFixture()

	cases := []SettleInput{
		{Items: []LineItem{{ProductID: "p1", Quantity: 1}}},
		{StoreID: "s1"},
		{StoreID: "s1", Items: []LineItem{{ProductID: "p1", Quantity: 0}}},
		{StoreID: "s1", Items: []LineItem{{Quantity: 1}}},
		{StoreID: "s1", Items: []LineItem{{ProductID: "p1", Quantity: 1}}, TransactionType: "barter"},
	}
	for _, input := range cases {
		_, err := f.service.Settle(context.Background(), input)
		require.ErrorIs(t, err, ErrValidation)
	}
	require.Empty(t, f.repo.sales)
	require.Zero(t, f.inventory.movementCount())
}

func TestSettleSchemaRetryCarriesDroppedFields(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})
	f.repo.failFull = &SchemaError{Columns: []string{"customer_phone"}, Err: errors.New(`column "customer_phone" does not exist`)}

	input := cashSaleInput()
	input.CustomerPhone = "555-0101"
	input.CustomerTaxID = "J-12345"
	input.Series = "A"

	result, err := f.service.Settle(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 1, f.repo.reducedInserts)
	require.NotNil(t, result.Unpersisted)
	require.Equal(t, "555-0101", result.Unpersisted.CustomerPhone)
	require.Equal(t, "J-12345", result.Unpersisted.CustomerTaxID)
	require.Equal(t, "A", result.Unpersisted.Series)

	// The persisted record dropped the values.
	stored, err := f.repo.GetByID(context.Background(), result.Sale.ID)
	require.NoError(t, err)
	require.Empty(t, stored.CustomerPhone)
	require.Empty(t, stored.CustomerTaxID)
	require.Empty(t, stored.Series)
}

func TestSettlePersistenceFailureIsFatal(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})
	f.repo.failFull = errors.New("connection refused")

	_, err := f.service.Settle(context.Background(), cashSaleInput())
	require.ErrorIs(t, err, ErrPersistence)
	require.Zero(t, f.inventory.movementCount())
	require.Empty(t, f.receivables.created)
	require.Empty(t, f.cache.invalidated)
}

func TestSettleReducedRetryFailureIsFatal(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})
	f.repo.failFull = &SchemaError{Err: errors.New("could not find customer_phone")}
	f.repo.failReduced = errors.New("connection refused")

	_, err := f.service.Settle(context.Background(), cashSaleInput())
	require.ErrorIs(t, err, ErrPersistence)
	require.Zero(t, f.inventory.movementCount())
}

func TestSettleFansOutPerItem(t *testing.T) {
	f := newFixture(
		inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6},
		inventory.Product{ID: "p2", StoreID: "s1", Stock: 4, Cost: 2},
	)

	input := cashSaleInput()
	input.Items = append(input.Items, LineItem{ProductID: "p2", ProductName: "Pan", Quantity: 1, Price: 3})

	result, err := f.service.Settle(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 2, f.inventory.movementCount())
	require.True(t, f.repo.marked(result.Sale.ID, StepInventoryFannedOut))

	for _, m := range f.inventory.movements {
		require.Equal(t, inventory.MovementSale, m.Type)
		require.Negative(t, m.Quantity)
		require.Equal(t, "sale", m.ReferenceType)
		require.Equal(t, result.Sale.ID, m.ReferenceID)
	}
}

func TestSettleAbsorbsFanoutFailure(t *testing.T) {
	f := newFixture(
		inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6},
		inventory.Product{ID: "p2", StoreID: "s1", Stock: 4, Cost: 2},
	)
	f.inventory.failFor["p2"] = errors.New("timeout")

	input := cashSaleInput()
	input.Items = append(input.Items, LineItem{ProductID: "p2", Quantity: 1, Price: 3})

	result, err := f.service.Settle(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 1, f.inventory.movementCount())
	require.False(t, f.repo.marked(result.Sale.ID, StepInventoryFannedOut))
	require.Equal(t, 1, f.metrics.fanout)
	require.Equal(t, 1, f.metrics.settlements["degraded"])
}

func TestSettleUnknownProductIsSkipped(t *testing.T) {
	f := newFixture()

	result, err := f.service.Settle(context.Background(), cashSaleInput())
	require.NoError(t, err)
	require.NotEmpty(t, result.Sale.ID)
	require.Zero(t, f.inventory.movementCount())
	require.False(t, f.repo.marked(result.Sale.ID, StepInventoryFannedOut))
}

func TestSettleCreditCreatesReceivableFromPersistedSale(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})

	saleDate := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	input := cashSaleInput()
	input.TransactionType = TransactionCredit
	input.Total = 100
	input.Date = saleDate
	input.CreditDays = 30

	result, err := f.service.Settle(context.Background(), input)
	require.NoError(t, err)
	require.NotEmpty(t, result.ReceivableID)
	require.Len(t, f.receivables.created, 1)

	created := f.receivables.created[0]
	require.Equal(t, result.Sale.ID, created.SaleID)
	require.Equal(t, 100.0, created.Total)
	require.Equal(t, 30, created.CreditDays)
	require.Equal(t, saleDate, created.SaleDate)
	require.Equal(t, DefaultCustomerName, created.CustomerName)
	require.True(t, f.repo.marked(result.Sale.ID, StepReceivableCreated))
}

func TestSettleCreditMirrorsPaymentsIntoReceivable(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})

	input := cashSaleInput()
	input.TransactionType = TransactionCredit
	input.Total = 100
	input.PaidAmount = 40
	input.Payments = []Payment{{Amount: 40, Method: "cash"}}

	result, err := f.service.Settle(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, f.receivables.created, 1)

	created := f.receivables.created[0]
	require.Len(t, created.Payments, 1)
	require.Equal(t, 40.0, created.Payments[0].Amount)
	require.Equal(t, "cash", created.Payments[0].Method)
	require.Equal(t, receivables.PaymentTypePayment, created.Payments[0].Type)
	require.NotEmpty(t, created.Payments[0].ID)
	require.False(t, created.Payments[0].ProcessedAt.IsZero())

	// The stored sale carries the same normalized entries.
	stored, err := f.repo.GetByID(context.Background(), result.Sale.ID)
	require.NoError(t, err)
	require.Len(t, stored.Payments, 1)
	require.Equal(t, created.Payments[0].ID, stored.Payments[0].ID)
}

func TestSettleRejectsNonPositivePayment(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})

	input := cashSaleInput()
	input.Payments = []Payment{{Amount: 0}}

	_, err := f.service.Settle(context.Background(), input)
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, f.repo.sales)
}

func TestSettleUnpaidStatusAlsoOpensReceivable(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})

	input := cashSaleInput()
	input.Status = StatusUnpaid

	_, err := f.service.Settle(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, f.receivables.created, 1)
}

func TestSettleCashSkipsReceivable(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})

	result, err := f.service.Settle(context.Background(), cashSaleInput())
	require.NoError(t, err)
	require.Empty(t, f.receivables.created)
	require.True(t, f.repo.marked(result.Sale.ID, StepReceivableCreated))
}

func TestSettleAbsorbsReceivableFailure(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})
	f.receivables.fail = errors.New("timeout")

	input := cashSaleInput()
	input.TransactionType = TransactionCredit

	result, err := f.service.Settle(context.Background(), input)
	require.NoError(t, err)
	require.NotEmpty(t, result.Sale.ID)
	require.False(t, f.repo.marked(result.Sale.ID, StepReceivableCreated))
	require.Equal(t, 1, f.metrics.receivable)
	require.Equal(t, 1, f.metrics.settlements["degraded"])
}

func TestSettleInvalidatesProductCache(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})

	_, err := f.service.Settle(context.Background(), cashSaleInput())
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, f.cache.invalidated)
}

func TestFanOutInventoryReplayIsIdempotent(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})

	result, err := f.service.Settle(context.Background(), cashSaleInput())
	require.NoError(t, err)
	require.Equal(t, 1, f.inventory.movementCount())

	require.NoError(t, f.service.FanOutInventory(context.Background(), result.Sale.ID))
	require.Equal(t, 1, f.inventory.movementCount())
}

func TestFanOutReplayRecoversFailedItem(t *testing.T) {
	f := newFixture(
		inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6},
		inventory.Product{ID: "p2", StoreID: "s1", Stock: 4, Cost: 2},
	)
	f.inventory.failFor["p2"] = errors.New("timeout")

	input := cashSaleInput()
	input.Items = append(input.Items, LineItem{ProductID: "p2", Quantity: 1, Price: 3})

	result, err := f.service.Settle(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 1, f.inventory.movementCount())
	require.False(t, f.repo.marked(result.Sale.ID, StepInventoryFannedOut))

	// A failed item leaves no replay guard behind, so the reconciler's
	// replay records the missing movement instead of treating it as applied.
	delete(f.inventory.failFor, "p2")
	require.NoError(t, f.service.FanOutInventory(context.Background(), result.Sale.ID))
	require.Equal(t, 2, f.inventory.movementCount())
	require.True(t, f.repo.marked(result.Sale.ID, StepInventoryFannedOut))
}

func TestEnsureReceivableRepairsMissingLedger(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})
	f.receivables.fail = errors.New("timeout")

	input := cashSaleInput()
	input.TransactionType = TransactionCredit

	result, err := f.service.Settle(context.Background(), input)
	require.NoError(t, err)
	require.Empty(t, f.receivables.created)

	f.receivables.fail = nil
	require.NoError(t, f.service.EnsureReceivable(context.Background(), result.Sale.ID, 0))
	require.Len(t, f.receivables.created, 1)
	require.True(t, f.repo.marked(result.Sale.ID, StepReceivableCreated))

	// Replaying again is a no-op.
	require.NoError(t, f.service.EnsureReceivable(context.Background(), result.Sale.ID, 0))
	require.Len(t, f.receivables.created, 1)
}

func TestIncompleteSettlementsListsDegradedSales(t *testing.T) {
	f := newFixture(inventory.Product{ID: "p1", StoreID: "s1", Stock: 10, Cost: 6})
	f.receivables.fail = errors.New("timeout")

	input := cashSaleInput()
	input.TransactionType = TransactionCredit

	result, err := f.service.Settle(context.Background(), input)
	require.NoError(t, err)

	ids, err := f.service.IncompleteSettlements(context.Background(), time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Contains(t, ids, result.Sale.ID)
}
