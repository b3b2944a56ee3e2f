package services

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

func (s *orderService) UpdateOrderDetails(ctx context.Context, cmd UpdateOrderDetailsCommand) (found bool, err error) {
	ctx, finish := s.startOperation(ctx, "order.update_details", attribute.Int64("order.id", cmd.OrderID))
	defer func() { finish(err) }()

	if cmd.OrderID <= 0 {
		return false, fmt.Errorf("%w: order id is required", ErrOrderValidation)
	}
	if cmd.ShippingAddress == nil && cmd.Notes == nil && cmd.DiscountAmount == nil {
		return false, fmt.Errorf("%w: nothing to update", ErrOrderValidation)
	}

	var address string
	if cmd.ShippingAddress != nil {
		address = s.sanitize(*cmd.ShippingAddress)
		if address == "" {
			return false, fmt.Errorf("%w: shipping address must not be blank", ErrOrderValidation)
		}
	}
	if cmd.DiscountAmount != nil && *cmd.DiscountAmount < 0 {
		return false, fmt.Errorf("%w: discount must not be negative", ErrOrderValidation)
	}

	var order Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, ok, err := s.lockModifiableOrder(txCtx, cmd.OrderID)
		if err != nil || !ok {
			return err
		}
		found = true

		if cmd.ShippingAddress != nil {
			current.ShippingAddress = address
		}
		if cmd.Notes != nil {
			current.Notes = s.sanitize(*cmd.Notes)
		}
		if cmd.DiscountAmount != nil {
			current.DiscountAmount = *cmd.DiscountAmount
		}

		items, err := s.items.ListByOrder(txCtx, current.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if subtotal := itemsSubtotal(items); current.DiscountAmount > subtotal {
			return fmt.Errorf("%w: discount %d exceeds item subtotal %d", ErrOrderValidation, current.DiscountAmount, subtotal)
		}

		order, err = s.persistTotals(txCtx, current, items)
		return err
	})
	if err != nil || !found {
		return false, err
	}

	s.publishItemsEvent(ctx, order, "update_details", cmd.ActorID, nil)
	return true, nil
}

func (s *orderService) AddOrderItem(ctx context.Context, cmd AddOrderItemCommand) (added OrderItem, found bool, err error) {
	ctx, finish := s.startOperation(ctx, "order.add_item",
		attribute.Int64("order.id", cmd.OrderID),
		attribute.Int64("order.product_id", cmd.Item.ProductID),
	)
	defer func() { finish(err) }()

	if cmd.OrderID <= 0 {
		return OrderItem{}, false, fmt.Errorf("%w: order id is required", ErrOrderValidation)
	}
	item, err := buildOrderItem(cmd.Item, "item")
	if err != nil {
		return OrderItem{}, false, err
	}

	var order Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, ok, err := s.lockModifiableOrder(txCtx, cmd.OrderID)
		if err != nil || !ok {
			return err
		}
		found = true

		if _, err := s.products.FindByID(txCtx, item.ProductID); err != nil {
			if isRepositoryNotFound(err) {
				return fmt.Errorf("%w: product %d", ErrProductNotFound, item.ProductID)
			}
			return s.mapRepositoryError(err)
		}

		items, err := s.items.ListByOrder(txCtx, current.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		for _, existing := range items {
			if existing.ProductID == item.ProductID {
				return fmt.Errorf("%w: product %d is already on order %d", ErrOrderItemDuplicate, item.ProductID, current.ID)
			}
		}

		item.OrderID = current.ID
		stored, err := s.items.Insert(txCtx, item)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if _, err := s.ledger.Reserve(txCtx, []StockLine{{ProductID: stored.ProductID, Quantity: stored.Quantity}}); err != nil {
			return err
		}

		order, err = s.persistTotals(txCtx, current, append(items, stored))
		if err != nil {
			return err
		}
		added = stored
		return nil
	})
	if err != nil || !found {
		return OrderItem{}, false, err
	}

	s.publishItemsEvent(ctx, order, "add_item", cmd.ActorID, map[string]any{
		"itemId":    added.ID,
		"productId": added.ProductID,
		"quantity":  added.Quantity,
	})
	return added, true, nil
}

func (s *orderService) UpdateOrderItem(ctx context.Context, cmd UpdateOrderItemCommand) (updated OrderItem, found bool, err error) {
	ctx, finish := s.startOperation(ctx, "order.update_item",
		attribute.Int64("order.id", cmd.OrderID),
		attribute.Int64("order.item_id", cmd.ItemID),
	)
	defer func() { finish(err) }()

	if cmd.OrderID <= 0 || cmd.ItemID <= 0 {
		return OrderItem{}, false, fmt.Errorf("%w: order id and item id are required", ErrOrderValidation)
	}

	var (
		order Order
		delta int
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, ok, err := s.lockModifiableOrder(txCtx, cmd.OrderID)
		if err != nil || !ok {
			return err
		}

		items, err := s.items.ListByOrder(txCtx, current.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		idx := indexOfItem(items, cmd.ItemID)
		if idx < 0 {
			return nil
		}
		found = true
		existing := items[idx]

		next, err := buildOrderItem(OrderItemInput{
			ProductID:      existing.ProductID,
			Quantity:       cmd.Quantity,
			UnitPrice:      cmd.UnitPrice,
			DiscountAmount: cmd.DiscountAmount,
		}, "item")
		if err != nil {
			return err
		}
		next.ID = existing.ID
		next.OrderID = existing.OrderID

		delta = next.Quantity - existing.Quantity
		switch {
		case delta > 0:
			if _, err := s.ledger.Reserve(txCtx, []StockLine{{ProductID: next.ProductID, Quantity: delta}}); err != nil {
				return err
			}
		case delta < 0:
			if _, err := s.ledger.Release(txCtx, []StockLine{{ProductID: next.ProductID, Quantity: -delta}}); err != nil {
				return err
			}
		}

		if err := s.items.Update(txCtx, next); err != nil {
			return s.mapRepositoryError(err)
		}
		items[idx] = next
		if subtotal := itemsSubtotal(items); current.DiscountAmount > subtotal {
			return fmt.Errorf("%w: order discount %d exceeds item subtotal %d", ErrOrderValidation, current.DiscountAmount, subtotal)
		}

		order, err = s.persistTotals(txCtx, current, items)
		if err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil || !found {
		return OrderItem{}, false, err
	}

	s.publishItemsEvent(ctx, order, "update_item", cmd.ActorID, map[string]any{
		"itemId":        updated.ID,
		"productId":     updated.ProductID,
		"quantity":      updated.Quantity,
		"quantityDelta": delta,
	})
	return updated, true, nil
}

func (s *orderService) RemoveOrderItem(ctx context.Context, cmd RemoveOrderItemCommand) (found bool, err error) {
	ctx, finish := s.startOperation(ctx, "order.remove_item",
		attribute.Int64("order.id", cmd.OrderID),
		attribute.Int64("order.item_id", cmd.ItemID),
	)
	defer func() { finish(err) }()

	if cmd.OrderID <= 0 || cmd.ItemID <= 0 {
		return false, fmt.Errorf("%w: order id and item id are required", ErrOrderValidation)
	}

	var (
		order   Order
		removed OrderItem
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, ok, err := s.lockModifiableOrder(txCtx, cmd.OrderID)
		if err != nil || !ok {
			return err
		}

		items, err := s.items.ListByOrder(txCtx, current.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		idx := indexOfItem(items, cmd.ItemID)
		if idx < 0 {
			return nil
		}
		found = true
		if len(items) == 1 {
			return fmt.Errorf("%w: cannot remove the last item; cancel the order instead", ErrOrderValidation)
		}
		removed = items[idx]

		if err := s.items.Delete(txCtx, current.ID, removed.ID); err != nil {
			return s.mapRepositoryError(err)
		}
		if _, err := s.ledger.Release(txCtx, []StockLine{{ProductID: removed.ProductID, Quantity: removed.Quantity}}); err != nil {
			return err
		}

		remaining := append(items[:idx:idx], items[idx+1:]...)
		if subtotal := itemsSubtotal(remaining); current.DiscountAmount > subtotal {
			return fmt.Errorf("%w: order discount %d exceeds remaining item subtotal %d", ErrOrderValidation, current.DiscountAmount, subtotal)
		}
		order, err = s.persistTotals(txCtx, current, remaining)
		return err
	})
	if err != nil || !found {
		return false, err
	}

	s.publishItemsEvent(ctx, order, "remove_item", cmd.ActorID, map[string]any{
		"itemId":    removed.ID,
		"productId": removed.ProductID,
		"quantity":  removed.Quantity,
	})
	return true, nil
}

// RecalculateOrderTotals rewrites TotalAmount and TaxAmount from the persisted items. It is safe to
// call in any status and repeated calls leave the order unchanged.
func (s *orderService) RecalculateOrderTotals(ctx context.Context, orderID int64) (recalculated Order, found bool, err error) {
	ctx, finish := s.startOperation(ctx, "order.recalculate", attribute.Int64("order.id", orderID))
	defer func() { finish(err) }()

	if orderID <= 0 {
		return Order{}, false, fmt.Errorf("%w: order id is required", ErrOrderValidation)
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, ok, err := s.lockOrder(txCtx, orderID)
		if err != nil || !ok {
			return err
		}
		found = true

		items, err := s.items.ListByOrder(txCtx, current.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		next, _ := s.pricing.Recalculate(current, items)
		if next.TotalAmount != current.TotalAmount || next.TaxAmount != current.TaxAmount {
			next.UpdatedAt = s.now()
			if err := s.orders.Update(txCtx, next); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		next.Items = items
		recalculated = next
		return nil
	})
	if err != nil || !found {
		return Order{}, false, err
	}
	return recalculated, true, nil
}

// lockModifiableOrder locks the order and rejects it unless it is still pending.
func (s *orderService) lockModifiableOrder(txCtx context.Context, orderID int64) (Order, bool, error) {
	order, ok, err := s.lockOrder(txCtx, orderID)
	if err != nil || !ok {
		return Order{}, ok, err
	}
	if !IsModifiable(order.Status) {
		return Order{}, true, fmt.Errorf("%w: order %d is %s", ErrOrderNotModifiable, order.ID, order.Status)
	}
	return order, true, nil
}

// persistTotals recalculates the order against items and writes it back.
func (s *orderService) persistTotals(txCtx context.Context, order Order, items []OrderItem) (Order, error) {
	next, _ := s.pricing.Recalculate(order, items)
	next.UpdatedAt = s.now()
	if err := s.orders.Update(txCtx, next); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	next.Items = items
	return next, nil
}

func (s *orderService) publishItemsEvent(ctx context.Context, order Order, action, actorID string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["action"] = action
	metadata["itemCount"] = len(order.Items)
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventItemsChanged,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		TotalAmount:   order.TotalAmount,
		ActorID:       s.actor(ctx, actorID),
		OccurredAt:    order.UpdatedAt,
		Metadata:      metadata,
	})
}

func indexOfItem(items []OrderItem, itemID int64) int {
	for i, item := range items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

func itemsSubtotal(items []OrderItem) int64 {
	var subtotal int64
	for _, item := range items {
		subtotal += item.TotalPrice()
	}
	return subtotal
}
