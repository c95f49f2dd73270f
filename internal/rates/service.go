package rates

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RepositoryPort defines data access methods for the rate ledger.
type RepositoryPort interface {
	Insert(ctx context.Context, rate CurrencyRate) error
	Latest(ctx context.Context, storeID string) (CurrencyRate, error)
	List(ctx context.Context, storeID string, limit int) ([]CurrencyRate, error)
}

// ErrInvalidRate indicates a non-positive rate submission.
var ErrInvalidRate = errors.New("rates: rate must be positive")

// Service handles rate ledger business logic.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Record appends a new rate entry for a store.
func (s *Service) Record(ctx context.Context, input RecordInput) (CurrencyRate, error) {
	if input.StoreID == "" {
		return CurrencyRate{}, errors.New("rates: store required")
	}
	if input.Rate <= 0 {
		return CurrencyRate{}, ErrInvalidRate
	}
	rate := CurrencyRate{
		ID:        uuid.NewString(),
		StoreID:   input.StoreID,
		Rate:      input.Rate,
		CreatedAt: time.Now().UTC(),
		CreatedBy: input.CreatedBy,
	}
	if err := s.repo.Insert(ctx, rate); err != nil {
		return CurrencyRate{}, err
	}
	return rate, nil
}

// LatestRate returns the current conversion rate for the store. When no
// entry exists, or the lookup fails, the rate falls back to 1 so that
// display amounts pass through unconverted.
func (s *Service) LatestRate(ctx context.Context, storeID string) float64 {
	rate, err := s.repo.Latest(ctx, storeID)
	if err != nil {
		if !errors.Is(err, ErrNoRate) {
			s.logger.Warn("latest rate lookup failed", slog.String("store_id", storeID), slog.Any("error", err))
		}
		return 1
	}
	if rate.Rate <= 0 {
		return 1
	}
	return rate.Rate
}

// History lists recent entries, newest first.
func (s *Service) History(ctx context.Context, storeID string, limit int) ([]CurrencyRate, error) {
	if storeID == "" {
		return nil, errors.New("rates: store required")
	}
	return s.repo.List(ctx, storeID, limit)
}
