package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type productRepository struct {
	store *Store
}

func (r productRepository) FindByID(_ context.Context, productID int64) (domain.Product, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.state.products[productID]
	if !ok {
		return domain.Product{}, notFound("products.get", "product %d", productID)
	}
	return product, nil
}

// FindByIDForUpdate relies on RunInTx serialising transactions for isolation.
func (r productRepository) FindByIDForUpdate(ctx context.Context, productID int64) (domain.Product, error) {
	return r.FindByID(ctx, productID)
}

func (r productRepository) UpdateStock(_ context.Context, productID int64, quantity int, updatedAt time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.state.products[productID]
	if !ok {
		return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, "product not found", nil)
	}
	if quantity < 0 {
		return repositories.NewStockError(repositories.StockErrorNegative, productID, fmt.Sprintf("stock quantity %d is negative", quantity), nil)
	}
	product.StockQuantity = quantity
	product.UpdatedAt = updatedAt
	s.state.products[productID] = product
	return nil
}

type userRepository struct {
	store *Store
}

func (r userRepository) Exists(_ context.Context, userID int64) (bool, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state.users[userID]
	return ok, nil
}

type counterRepository struct {
	store *Store
}

func (r counterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "", "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, id, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	counter := s.state.counters[id]
	increment := step
	if increment == 0 {
		increment = counter.step
	}
	if increment <= 0 {
		increment = 1
	}
	next := counter.current + increment
	if counter.max != nil && next > *counter.max {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, id, fmt.Sprintf("exceeded max value %d", *counter.max), nil)
	}
	counter.current = next
	counter.step = increment
	s.state.counters[id] = counter
	return next, nil
}

func (r counterRepository) Configure(_ context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "", "counter id is required", nil)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	counter := s.state.counters[id]
	if cfg.Step > 0 {
		counter.step = cfg.Step
	}
	if cfg.MaxValue != nil {
		limit := *cfg.MaxValue
		counter.max = &limit
	}
	if cfg.InitialValue != nil {
		counter.current = *cfg.InitialValue
	}
	s.state.counters[id] = counter
	return nil
}
