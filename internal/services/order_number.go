package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanko-field/orders/internal/repositories"
)

const (
	// OrderNumberStrategyCount derives the sequence from the number of orders placed this month.
	OrderNumberStrategyCount = "count"
	// OrderNumberStrategyCounter draws the sequence from an atomic per-month counter.
	OrderNumberStrategyCounter = "counter"

	defaultOrderNumberMaxAttempts = 50
	orderNumberCounterPrefix      = "order-number:"
)

// FormatOrderNumber renders ORD-{yyyy}{mm}-{seq} using the UTC month of placedAt.
func FormatOrderNumber(placedAt time.Time, sequence int64) string {
	utc := placedAt.UTC()
	return fmt.Sprintf("ORD-%04d%02d-%04d", utc.Year(), int(utc.Month()), sequence)
}

// OrderNumberCounterID names the counter backing the given month.
func OrderNumberCounterID(placedAt time.Time) string {
	utc := placedAt.UTC()
	return fmt.Sprintf("%s%04d%02d", orderNumberCounterPrefix, utc.Year(), int(utc.Month()))
}

func monthBounds(t time.Time) (time.Time, time.Time) {
	utc := t.UTC()
	start := time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// OrderNumberGeneratorDeps bundles collaborators required to construct an order number generator.
type OrderNumberGeneratorDeps struct {
	Strategy    string
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	MaxAttempts int
	Metrics     OrderMetrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderNumberGenerator returns the generator selected by deps.Strategy (count by default).
func NewOrderNumberGenerator(deps OrderNumberGeneratorDeps) (OrderNumberGenerator, error) {
	if deps.Orders == nil {
		return nil, errors.New("order number generator: order repository is required")
	}

	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultOrderNumberMaxAttempts
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopOrderMetrics{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	switch deps.Strategy {
	case "", OrderNumberStrategyCount:
		return &countingOrderNumberGenerator{
			orders:      deps.Orders,
			maxAttempts: attempts,
			metrics:     metrics,
			logger:      logger,
		}, nil
	case OrderNumberStrategyCounter:
		if deps.Counters == nil {
			return nil, errors.New("order number generator: counter repository is required for the counter strategy")
		}
		return &counterOrderNumberGenerator{
			orders:      deps.Orders,
			counters:    deps.Counters,
			maxAttempts: attempts,
			metrics:     metrics,
			logger:      logger,
		}, nil
	default:
		return nil, fmt.Errorf("order number generator: unknown strategy %q", deps.Strategy)
	}
}

// countingOrderNumberGenerator probes count+1, count+2, ... until a free number is found. Two
// concurrent callers can still pick the same candidate; the unique constraint on insert catches
// that and the caller retries.
type countingOrderNumberGenerator struct {
	orders      repositories.OrderRepository
	maxAttempts int
	metrics     OrderMetrics
	logger      func(context.Context, string, map[string]any)
}

func (g *countingOrderNumberGenerator) Next(ctx context.Context, placedAt time.Time) (string, error) {
	start, end := monthBounds(placedAt)
	count, err := g.orders.CountPlacedBetween(ctx, start, end)
	if err != nil {
		return "", fmt.Errorf("order number: count orders: %w", err)
	}

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		candidate := FormatOrderNumber(placedAt, count+1+int64(attempt))
		exists, err := g.orders.NumberExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("order number: probe %s: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
		g.metrics.OrderNumberRetried(OrderNumberStrategyCount)
	}

	g.logger(ctx, "order.number.exhausted", map[string]any{
		"strategy": OrderNumberStrategyCount,
		"month":    start.Format("200601"),
		"attempts": g.maxAttempts,
	})
	return "", fmt.Errorf("%w: no free number after %d attempts", ErrOrderNumberExhausted, g.maxAttempts)
}

type counterOrderNumberGenerator struct {
	orders      repositories.OrderRepository
	counters    repositories.CounterRepository
	maxAttempts int
	metrics     OrderMetrics
	logger      func(context.Context, string, map[string]any)
}

// Next skips numbers already held by orders created before the counter existed.
func (g *counterOrderNumberGenerator) Next(ctx context.Context, placedAt time.Time) (string, error) {
	counterID := OrderNumberCounterID(placedAt)

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		seq, err := g.counters.Next(ctx, counterID, 1)
		if err != nil {
			var counterErr *repositories.CounterError
			if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorExhausted {
				return "", fmt.Errorf("%w: %v", ErrOrderNumberExhausted, err)
			}
			return "", fmt.Errorf("order number: advance counter %s: %w", counterID, err)
		}

		candidate := FormatOrderNumber(placedAt, seq)
		exists, err := g.orders.NumberExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("order number: probe %s: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
		g.metrics.OrderNumberRetried(OrderNumberStrategyCounter)
	}

	g.logger(ctx, "order.number.exhausted", map[string]any{
		"strategy": OrderNumberStrategyCounter,
		"counter":  counterID,
		"attempts": g.maxAttempts,
	})
	return "", fmt.Errorf("%w: no free number after %d attempts", ErrOrderNumberExhausted, g.maxAttempts)
}
