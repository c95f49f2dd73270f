package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSettlements struct {
	incomplete  []string
	fannedOut   []string
	ensured     []string
	fanOutErrs  map[string]error
	receivErrs  map[string]error
	listFailure error
}

func (f *fakeSettlements) IncompleteSettlements(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if f.listFailure != nil {
		return nil, f.listFailure
	}
	return f.incomplete, nil
}

func (f *fakeSettlements) FanOutInventory(ctx context.Context, saleID string) error {
	if err := f.fanOutErrs[saleID]; err != nil {
		return err
	}
	f.fannedOut = append(f.fannedOut, saleID)
	return nil
}

func (f *fakeSettlements) EnsureReceivable(ctx context.Context, saleID string, creditDays int) error {
	if err := f.receivErrs[saleID]; err != nil {
		return err
	}
	f.ensured = append(f.ensured, saleID)
	return nil
}

func TestSweepReplaysIncompleteSettlements(t *testing.T) {
	svc := &fakeSettlements{incomplete: []string{"sale-1", "sale-2"}}
	r := NewReconciler(svc, nil, time.Hour, 0)

	require.NoError(t, r.Sweep(context.Background(), time.Now().Add(-time.Hour), 10))
	require.Equal(t, []string{"sale-1", "sale-2"}, svc.fannedOut)
	require.Equal(t, []string{"sale-1", "sale-2"}, svc.ensured)
}

func TestSweepContinuesPastFailingSale(t *testing.T) {
	svc := &fakeSettlements{
		incomplete: []string{"sale-1", "sale-2"},
		fanOutErrs: map[string]error{"sale-1": errors.New("still failing")},
	}
	r := NewReconciler(svc, nil, time.Hour, 0)

	require.NoError(t, r.Sweep(context.Background(), time.Now().Add(-time.Hour), 10))
	require.Equal(t, []string{"sale-2"}, svc.fannedOut)
	// The receivable replay still ran for both sales.
	require.Equal(t, []string{"sale-1", "sale-2"}, svc.ensured)
}

func TestSweepSurfacesListFailure(t *testing.T) {
	svc := &fakeSettlements{listFailure: errors.New("db down")}
	r := NewReconciler(svc, nil, time.Hour, 0)

	require.Error(t, r.Sweep(context.Background(), time.Now(), 10))
}
