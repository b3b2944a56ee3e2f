package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hanko-field/orders/internal/repositories"
)

const (
	stockMovementReserve = "reserve"
	stockMovementRelease = "release"
)

// StockMovement records the stock levels touched by a reserve or release.
type StockMovement struct {
	Kind       string
	Changes    []StockChange
	OccurredAt time.Time
}

// StockChange captures one product's quantity before and after a movement.
type StockChange struct {
	ProductID int64
	Quantity  int
	Before    int
	After     int
}

// StockLedgerDeps bundles collaborators required to construct the stock ledger.
type StockLedgerDeps struct {
	Products   repositories.ProductRepository
	UnitOfWork repositories.UnitOfWork
	Metrics    OrderMetrics
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type stockLedger struct {
	products   repositories.ProductRepository
	unitOfWork repositories.UnitOfWork
	metrics    OrderMetrics
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewStockLedger wires dependencies into a concrete StockLedger implementation.
func NewStockLedger(deps StockLedgerDeps) (StockLedger, error) {
	if deps.Products == nil {
		return nil, errors.New("stock ledger: product repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopOrderMetrics{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &stockLedger{
		products:   deps.Products,
		unitOfWork: unit,
		metrics:    metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CheckAvailability fails closed: a missing product or a storage failure reports false.
func (l *stockLedger) CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error) {
	if productID <= 0 {
		return false, fmt.Errorf("%w: product id must be positive", ErrStockInvalidInput)
	}
	if quantity <= 0 {
		return false, fmt.Errorf("%w: quantity must be positive", ErrStockInvalidInput)
	}

	product, err := l.products.FindByID(ctx, productID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return false, nil
		}
		return false, l.mapRepositoryError(err)
	}
	return product.StockQuantity >= quantity, nil
}

func (l *stockLedger) Reserve(ctx context.Context, lines []StockLine) (StockMovement, error) {
	aggregated, order, err := aggregateStockLines(lines)
	if err != nil {
		return StockMovement{}, err
	}

	now := l.clock()
	movement := StockMovement{Kind: stockMovementReserve, OccurredAt: now}

	err = l.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		levels := make(map[int64]int, len(order))
		var shortages []StockShortage
		for _, productID := range order {
			product, err := l.products.FindByIDForUpdate(txCtx, productID)
			if err != nil {
				if isRepositoryNotFound(err) {
					return fmt.Errorf("%w: product %d", ErrProductNotFound, productID)
				}
				return l.mapRepositoryError(err)
			}
			levels[productID] = product.StockQuantity
			if requested := aggregated[productID]; product.StockQuantity < requested {
				shortages = append(shortages, StockShortage{
					ProductID: productID,
					Requested: requested,
					Available: product.StockQuantity,
				})
			}
		}
		if len(shortages) > 0 {
			return &InsufficientStockError{Shortages: shortages}
		}

		changes := make([]StockChange, 0, len(order))
		for _, productID := range order {
			requested := aggregated[productID]
			before := levels[productID]
			after := before - requested
			if err := l.products.UpdateStock(txCtx, productID, after, now); err != nil {
				return l.mapRepositoryError(err)
			}
			changes = append(changes, StockChange{ProductID: productID, Quantity: requested, Before: before, After: after})
		}
		movement.Changes = changes
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			l.metrics.StockRejected()
			l.logger(ctx, "stock.reserve.rejected", map[string]any{
				"error": err.Error(),
			})
		}
		return StockMovement{}, err
	}

	return movement, nil
}

func (l *stockLedger) Release(ctx context.Context, lines []StockLine) (StockMovement, error) {
	aggregated, order, err := aggregateStockLines(lines)
	if err != nil {
		return StockMovement{}, err
	}

	now := l.clock()
	movement := StockMovement{Kind: stockMovementRelease, OccurredAt: now}

	err = l.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		changes := make([]StockChange, 0, len(order))
		for _, productID := range order {
			product, err := l.products.FindByIDForUpdate(txCtx, productID)
			if err != nil {
				if isRepositoryNotFound(err) {
					return fmt.Errorf("%w: product %d", ErrProductNotFound, productID)
				}
				return l.mapRepositoryError(err)
			}
			released := aggregated[productID]
			after := product.StockQuantity + released
			if err := l.products.UpdateStock(txCtx, productID, after, now); err != nil {
				return l.mapRepositoryError(err)
			}
			changes = append(changes, StockChange{ProductID: productID, Quantity: released, Before: product.StockQuantity, After: after})
		}
		movement.Changes = changes
		return nil
	})
	if err != nil {
		return StockMovement{}, err
	}

	return movement, nil
}

func (l *stockLedger) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repositories.StockErrorNegative:
			return fmt.Errorf("%w: %v", ErrInsufficientStock, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

// aggregateStockLines sums quantities per product and returns product ids in ascending order so
// row locks are always taken in the same sequence.
func aggregateStockLines(lines []StockLine) (map[int64]int, []int64, error) {
	if len(lines) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one line is required", ErrStockInvalidInput)
	}

	aggregated := make(map[int64]int, len(lines))
	for i, line := range lines {
		if line.ProductID <= 0 {
			return nil, nil, fmt.Errorf("%w: lines[%d] product id must be positive", ErrStockInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return nil, nil, fmt.Errorf("%w: lines[%d] quantity must be positive", ErrStockInvalidInput, i)
		}
		aggregated[line.ProductID] += line.Quantity
	}

	order := make([]int64, 0, len(aggregated))
	for productID := range aggregated {
		order = append(order, productID)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return aggregated, order, nil
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
