package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type orderRepository struct {
	store *Store
}

func (r orderRepository) Insert(_ context.Context, order domain.Order) (domain.Order, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	number := strings.TrimSpace(order.OrderNumber)
	for _, existing := range s.state.orders {
		if existing.OrderNumber == number {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorDuplicateNumber, "order number "+number+" already exists", nil)
		}
	}
	if _, ok := s.state.users[order.UserID]; !ok {
		return domain.Order{}, conflict("orders.insert", "user %d does not exist", order.UserID)
	}

	s.state.nextOrderID++
	order.ID = s.state.nextOrderID
	order.OrderNumber = number
	s.state.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (r orderRepository) Update(_ context.Context, order domain.Order) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.state.orders[order.ID]
	if !ok {
		return notFound("orders.update", "order %d", order.ID)
	}
	order.OrderNumber = current.OrderNumber
	order.UserID = current.UserID
	order.OrderDate = current.OrderDate
	s.state.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) Delete(_ context.Context, orderID int64) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.orders[orderID]; !ok {
		return notFound("orders.delete", "order %d", orderID)
	}
	delete(s.state.orders, orderID)
	for id, item := range s.state.items {
		if item.OrderID == orderID {
			delete(s.state.items, id)
		}
	}
	return nil
}

func (r orderRepository) FindByID(_ context.Context, orderID int64) (domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.state.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.get", "order %d", orderID)
	}
	return cloneOrder(order), nil
}

// FindByIDForUpdate relies on RunInTx serialising transactions for isolation.
func (r orderRepository) FindByIDForUpdate(ctx context.Context, orderID int64) (domain.Order, error) {
	return r.FindByID(ctx, orderID)
}

func (r orderRepository) FindByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	number := strings.TrimSpace(orderNumber)
	for _, order := range s.state.orders {
		if order.OrderNumber == number {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, notFound("orders.get_by_number", "order %s", number)
}

func (r orderRepository) NumberExists(ctx context.Context, orderNumber string) (bool, error) {
	_, err := r.FindByNumber(ctx, orderNumber)
	if err == nil {
		return true, nil
	}
	var repoErr *Error
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return false, nil
	}
	return false, err
}

func (r orderRepository) CountPlacedBetween(_ context.Context, from, to time.Time) (int64, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, order := range s.state.orders {
		if !order.OrderDate.Before(from) && order.OrderDate.Before(to) {
			count++
		}
	}
	return count, nil
}

func (r orderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	s := r.store
	s.mu.RLock()
	matches := make([]domain.Order, 0)
	for _, order := range s.state.orders {
		if filter.UserID != nil && order.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		if filter.PlacedFrom != nil && order.OrderDate.Before(*filter.PlacedFrom) {
			continue
		}
		if filter.PlacedTo != nil && !order.OrderDate.Before(*filter.PlacedTo) {
			continue
		}
		matches = append(matches, cloneOrder(order))
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].OrderDate.Equal(matches[j].OrderDate) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].OrderDate.After(matches[j].OrderDate)
	})

	page := domain.Page[domain.Order]{Total: int64(len(matches)), Page: 1, PageSize: filter.PageSize}
	if filter.PageSize <= 0 {
		page.Items = matches
		page.PageSize = len(matches)
		return page, nil
	}

	pageNumber := filter.Page
	if pageNumber < 1 {
		pageNumber = 1
	}
	page.Page = pageNumber
	start := (pageNumber - 1) * filter.PageSize
	if start >= len(matches) {
		page.Items = []domain.Order{}
		return page, nil
	}
	end := start + filter.PageSize
	if end > len(matches) {
		end = len(matches)
	}
	page.Items = matches[start:end]
	return page, nil
}

type orderItemRepository struct {
	store *Store
}

func (r orderItemRepository) Insert(_ context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.orders[item.OrderID]; !ok {
		return domain.OrderItem{}, notFound("order_items.insert", "order %d", item.OrderID)
	}
	if _, ok := s.state.products[item.ProductID]; !ok {
		return domain.OrderItem{}, repositories.NewOrderError(repositories.OrderErrorProductReferenced, "product does not exist", nil)
	}
	for _, existing := range s.state.items {
		if existing.OrderID == item.OrderID && existing.ProductID == item.ProductID {
			return domain.OrderItem{}, repositories.NewOrderError(repositories.OrderErrorDuplicateItem, "order already lists the product", nil)
		}
	}

	s.state.nextItemID++
	item.ID = s.state.nextItemID
	s.state.items[item.ID] = item
	return item, nil
}

func (r orderItemRepository) Update(_ context.Context, item domain.OrderItem) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.state.items[item.ID]
	if !ok || current.OrderID != item.OrderID {
		return notFound("order_items.update", "item %d on order %d", item.ID, item.OrderID)
	}
	item.ProductID = current.ProductID
	s.state.items[item.ID] = item
	return nil
}

func (r orderItemRepository) Delete(_ context.Context, orderID, itemID int64) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.state.items[itemID]
	if !ok || current.OrderID != orderID {
		return notFound("order_items.delete", "item %d on order %d", itemID, orderID)
	}
	delete(s.state.items, itemID)
	return nil
}

func (r orderItemRepository) DeleteByOrder(_ context.Context, orderID int64) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, item := range s.state.items {
		if item.OrderID == orderID {
			delete(s.state.items, id)
		}
	}
	return nil
}

func (r orderItemRepository) FindByID(_ context.Context, orderID, itemID int64) (domain.OrderItem, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.state.items[itemID]
	if !ok || item.OrderID != orderID {
		return domain.OrderItem{}, notFound("order_items.get", "item %d on order %d", itemID, orderID)
	}
	return item, nil
}

func (r orderItemRepository) ListByOrder(_ context.Context, orderID int64) ([]domain.OrderItem, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.OrderItem, 0)
	for _, item := range s.state.items {
		if item.OrderID == orderID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}
