package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

func (s *orderService) GetOrder(ctx context.Context, orderID int64, opts OrderReadOptions) (Order, bool, error) {
	if orderID <= 0 {
		return Order{}, false, nil
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Order{}, false, nil
		}
		return Order{}, false, s.mapRepositoryError(err)
	}
	return s.withItems(ctx, order, opts)
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string, opts OrderReadOptions) (Order, bool, error) {
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return Order{}, false, nil
	}
	order, err := s.orders.FindByNumber(ctx, number)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Order{}, false, nil
		}
		return Order{}, false, s.mapRepositoryError(err)
	}
	return s.withItems(ctx, order, opts)
}

func (s *orderService) ListOrdersByUser(ctx context.Context, userID int64) ([]Order, error) {
	return s.listAll(ctx, OrderListFilter{UserID: &userID})
}

func (s *orderService) ListOrdersByStatus(ctx context.Context, status OrderStatus) ([]Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrOrderValidation, status)
	}
	return s.listAll(ctx, OrderListFilter{Status: &status})
}

// ListOrdersByDateRange returns orders placed in [from, to).
func (s *orderService) ListOrdersByDateRange(ctx context.Context, from, to time.Time) ([]Order, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: range end must be after start", ErrOrderValidation)
	}
	from, to = from.UTC(), to.UTC()
	return s.listAll(ctx, OrderListFilter{PlacedFrom: &from, PlacedTo: &to})
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error) {
	if filter.PageSize < 0 || filter.Page < 0 {
		return domain.Page[Order]{}, fmt.Errorf("%w: page and page size must not be negative", ErrOrderValidation)
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return domain.Page[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderValidation, *filter.Status)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.Page[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) listAll(ctx context.Context, filter OrderListFilter) ([]Order, error) {
	filter.Page, filter.PageSize = 0, 0
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if page.Items == nil {
		return []Order{}, nil
	}
	return page.Items, nil
}

func (s *orderService) withItems(ctx context.Context, order Order, opts OrderReadOptions) (Order, bool, error) {
	if !opts.IncludeItems {
		return order, true, nil
	}
	items, err := s.items.ListByOrder(ctx, order.ID)
	if err != nil {
		return Order{}, false, s.mapRepositoryError(err)
	}
	order.Items = items
	return order, true, nil
}
