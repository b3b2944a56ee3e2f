package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/platform/textutil"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"
	orderEventDeleted       = "order.deleted"
	orderEventItemsChanged  = "order.items.changed"

	defaultCreateMaxAttempts = 5

	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

var tracer = otel.Tracer("github.com/hanko-field/orders/internal/services")

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Items      repositories.OrderItemRepository
	Products   repositories.ProductRepository
	Users      UserDirectory
	Ledger     StockLedger
	Numbers    OrderNumberGenerator
	Pricing    *PricingEngine
	UnitOfWork repositories.UnitOfWork
	Events     OrderEventPublisher
	Metrics    OrderMetrics
	// CreateMaxAttempts bounds how often creation is retried after an order number collision.
	CreateMaxAttempts int
	Sanitize          func(string) string
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders         repositories.OrderRepository
	items          repositories.OrderItemRepository
	products       repositories.ProductRepository
	users          UserDirectory
	ledger         StockLedger
	numbers        OrderNumberGenerator
	pricing        *PricingEngine
	unitOfWork     repositories.UnitOfWork
	events         OrderEventPublisher
	metrics        OrderMetrics
	createAttempts int
	sanitize       func(string) string
	clock          func() time.Time
	newID          func() string
	logger         func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Items == nil {
		return nil, errors.New("order service: order item repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("order service: user directory is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order service: stock ledger is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("order service: order number generator is required")
	}

	pricing := deps.Pricing
	if pricing == nil {
		pricing = DefaultPricingEngine()
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopOrderMetrics{}
	}

	attempts := deps.CreateMaxAttempts
	if attempts <= 0 {
		attempts = defaultCreateMaxAttempts
	}

	sanitize := deps.Sanitize
	if sanitize == nil {
		sanitize = textutil.SanitizePlainText
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:         deps.Orders,
		items:          deps.Items,
		products:       deps.Products,
		users:          deps.Users,
		ledger:         deps.Ledger,
		numbers:        deps.Numbers,
		pricing:        pricing,
		unitOfWork:     unit,
		events:         deps.Events,
		metrics:        metrics,
		createAttempts: attempts,
		sanitize:       sanitize,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

type createOrderInput struct {
	userID   int64
	items    []OrderItem
	address  string
	notes    string
	discount int64
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (created Order, err error) {
	ctx, finish := s.startOperation(ctx, "order.create", attribute.Int64("order.user_id", cmd.UserID))
	defer func() { finish(err) }()

	input, err := s.validateCreate(ctx, cmd)
	if err != nil {
		return Order{}, err
	}
	if err := s.precheckAvailability(ctx, input.items); err != nil {
		return Order{}, err
	}

	for attempt := 1; ; attempt++ {
		created, err = s.createOnce(ctx, input)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateOrderNumber) || attempt >= s.createAttempts {
			return Order{}, err
		}
		s.metrics.OrderNumberRetried("insert")
		s.logger(ctx, "order.create.number_collision", map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       created.ID,
		OrderNumber:   created.OrderNumber,
		UserID:        created.UserID,
		CurrentStatus: string(created.Status),
		TotalAmount:   created.TotalAmount,
		ActorID:       s.actor(ctx, cmd.ActorID),
		OccurredAt:    created.OrderDate,
		Metadata: map[string]any{
			"itemCount": len(created.Items),
			"tax":       created.TaxAmount,
			"discount":  created.DiscountAmount,
		},
	})

	return created, nil
}

func (s *orderService) createOnce(ctx context.Context, input createOrderInput) (Order, error) {
	var created Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		now := s.now()
		number, err := s.numbers.Next(txCtx, now)
		if err != nil {
			return err
		}

		order := Order{
			OrderNumber:     number,
			UserID:          input.userID,
			Status:          domain.OrderStatusPending,
			DiscountAmount:  input.discount,
			OrderDate:       now,
			Notes:           input.notes,
			ShippingAddress: input.address,
			UpdatedAt:       now,
		}
		order, _ = s.pricing.Recalculate(order, input.items)

		inserted, err := s.orders.Insert(txCtx, order)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		items := make([]OrderItem, 0, len(input.items))
		for _, item := range input.items {
			item.OrderID = inserted.ID
			stored, err := s.items.Insert(txCtx, item)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			items = append(items, stored)
		}

		if _, err := s.ledger.Reserve(txCtx, domain.StockLinesFromItems(items)); err != nil {
			return err
		}

		inserted.Items = items
		created = inserted
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return created, nil
}

func (s *orderService) validateCreate(ctx context.Context, cmd CreateOrderCommand) (createOrderInput, error) {
	if cmd.UserID <= 0 {
		return createOrderInput{}, fmt.Errorf("%w: user id is required", ErrOrderValidation)
	}
	if len(cmd.Items) == 0 {
		return createOrderInput{}, fmt.Errorf("%w: at least one item is required", ErrOrderValidation)
	}
	address := s.sanitize(cmd.ShippingAddress)
	if address == "" {
		return createOrderInput{}, fmt.Errorf("%w: shipping address is required", ErrOrderValidation)
	}
	if cmd.DiscountAmount < 0 {
		return createOrderInput{}, fmt.Errorf("%w: discount must not be negative", ErrOrderValidation)
	}

	seen := make(map[int64]struct{}, len(cmd.Items))
	items := make([]OrderItem, 0, len(cmd.Items))
	var subtotal int64
	for i, in := range cmd.Items {
		item, err := buildOrderItem(in, fmt.Sprintf("items[%d]", i))
		if err != nil {
			return createOrderInput{}, err
		}
		if _, dup := seen[item.ProductID]; dup {
			return createOrderInput{}, fmt.Errorf("%w: items[%d] product %d listed more than once", ErrOrderValidation, i, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
		subtotal += item.TotalPrice()
		items = append(items, item)
	}
	if cmd.DiscountAmount > subtotal {
		return createOrderInput{}, fmt.Errorf("%w: discount %d exceeds item subtotal %d", ErrOrderValidation, cmd.DiscountAmount, subtotal)
	}

	exists, err := s.users.UserExists(ctx, cmd.UserID)
	if err != nil {
		return createOrderInput{}, fmt.Errorf("order: check user %d: %w", cmd.UserID, err)
	}
	if !exists {
		return createOrderInput{}, fmt.Errorf("%w: user %d", ErrUserNotFound, cmd.UserID)
	}

	for _, item := range items {
		if _, err := s.products.FindByID(ctx, item.ProductID); err != nil {
			if isRepositoryNotFound(err) {
				return createOrderInput{}, fmt.Errorf("%w: product %d", ErrProductNotFound, item.ProductID)
			}
			return createOrderInput{}, s.mapRepositoryError(err)
		}
	}

	return createOrderInput{
		userID:   cmd.UserID,
		items:    items,
		address:  address,
		notes:    s.sanitize(cmd.Notes),
		discount: cmd.DiscountAmount,
	}, nil
}

// precheckAvailability rejects the order before any transaction starts. Reserve re-checks under
// row locks, so a concurrent order can still win the race.
func (s *orderService) precheckAvailability(ctx context.Context, items []OrderItem) error {
	var shortages []StockShortage
	for _, item := range items {
		ok, err := s.ledger.CheckAvailability(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		shortage := StockShortage{ProductID: item.ProductID, Requested: item.Quantity}
		if product, err := s.products.FindByID(ctx, item.ProductID); err == nil {
			shortage.Available = product.StockQuantity
		}
		shortages = append(shortages, shortage)
	}
	if len(shortages) > 0 {
		s.metrics.StockRejected()
		return &InsufficientStockError{Shortages: shortages}
	}
	return nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (found bool, err error) {
	ctx, finish := s.startOperation(ctx, "order.cancel", attribute.Int64("order.id", cmd.OrderID))
	defer func() { finish(err) }()

	if cmd.OrderID <= 0 {
		return false, fmt.Errorf("%w: order id is required", ErrOrderValidation)
	}

	note := cancellationNote(s.sanitize(cmd.Reason))
	var (
		order    Order
		previous OrderStatus
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, ok, err := s.lockOrder(txCtx, cmd.OrderID)
		if err != nil || !ok {
			return err
		}
		found = true
		if !IsCancellable(current.Status) {
			return fmt.Errorf("%w: order %d in status %s cannot be cancelled", ErrOrderInvalidTransition, current.ID, current.Status)
		}
		previous = current.Status
		if err := s.cancelLocked(txCtx, &current, note); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil || !found {
		return false, err
	}

	s.publishStatusEvent(ctx, orderEventCancelled, order, previous, cmd.ActorID, map[string]any{
		"reason": strings.TrimSpace(cmd.Reason),
	})
	return true, nil
}

// cancelLocked moves a locked order to cancelled and returns every item's quantity to stock.
func (s *orderService) cancelLocked(txCtx context.Context, order *Order, note string) error {
	items, err := s.items.ListByOrder(txCtx, order.ID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if _, _, err := applyStatusTransition(order, domain.OrderStatusCancelled, note, s.now()); err != nil {
		return err
	}
	if len(items) > 0 {
		if _, err := s.ledger.Release(txCtx, domain.StockLinesFromItems(items)); err != nil {
			return err
		}
	}
	if err := s.orders.Update(txCtx, *order); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) (found bool, err error) {
	ctx, finish := s.startOperation(ctx, "order.delete", attribute.Int64("order.id", cmd.OrderID))
	defer func() { finish(err) }()

	if cmd.OrderID <= 0 {
		return false, fmt.Errorf("%w: order id is required", ErrOrderValidation)
	}

	var order Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, ok, err := s.lockOrder(txCtx, cmd.OrderID)
		if err != nil || !ok {
			return err
		}
		found = true
		if !IsCancellable(current.Status) {
			return fmt.Errorf("%w: order %d in status %s cannot be deleted", ErrOrderInvalidTransition, current.ID, current.Status)
		}

		items, err := s.items.ListByOrder(txCtx, current.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if len(items) > 0 {
			if _, err := s.ledger.Release(txCtx, domain.StockLinesFromItems(items)); err != nil {
				return err
			}
		}
		if err := s.items.DeleteByOrder(txCtx, current.ID); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Delete(txCtx, current.ID); err != nil {
			return s.mapRepositoryError(err)
		}
		order = current
		return nil
	})
	if err != nil || !found {
		return false, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventDeleted,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(order.Status),
		TotalAmount:    order.TotalAmount,
		ActorID:        s.actor(ctx, cmd.ActorID),
		OccurredAt:     s.now(),
	})
	return true, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (found bool, err error) {
	ctx, finish := s.startOperation(ctx, "order.update_status",
		attribute.Int64("order.id", cmd.OrderID),
		attribute.String("order.target_status", string(cmd.Status)),
	)
	defer func() { finish(err) }()

	if cmd.OrderID <= 0 {
		return false, fmt.Errorf("%w: order id is required", ErrOrderValidation)
	}
	if !cmd.Status.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", ErrOrderValidation, cmd.Status)
	}

	notes := s.sanitize(cmd.Notes)
	var (
		order    Order
		previous OrderStatus
		changed  bool
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, ok, err := s.lockOrder(txCtx, cmd.OrderID)
		if err != nil || !ok {
			return err
		}
		found = true
		previous = current.Status

		if cmd.Status == domain.OrderStatusCancelled && current.Status != domain.OrderStatusCancelled {
			if !IsCancellable(current.Status) {
				return fmt.Errorf("%w: order %d in status %s cannot be cancelled", ErrOrderInvalidTransition, current.ID, current.Status)
			}
			if err := s.cancelLocked(txCtx, &current, notes); err != nil {
				return err
			}
			order, changed = current, true
			return nil
		}

		_, changed, err = applyStatusTransition(&current, cmd.Status, notes, s.now())
		if err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, current); err != nil {
			return s.mapRepositoryError(err)
		}
		order = current
		return nil
	})
	if err != nil || !found {
		return false, err
	}

	if changed {
		eventType := orderEventStatusChanged
		if order.Status == domain.OrderStatusCancelled {
			eventType = orderEventCancelled
		}
		s.publishStatusEvent(ctx, eventType, order, previous, cmd.ActorID, nil)
	}
	return true, nil
}

func (s *orderService) ProcessOrder(ctx context.Context, orderID int64, notes string) (bool, error) {
	return s.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: orderID, Status: domain.OrderStatusProcessing, Notes: notes})
}

func (s *orderService) ShipOrder(ctx context.Context, orderID int64, notes string) (bool, error) {
	return s.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: orderID, Status: domain.OrderStatusShipped, Notes: notes})
}

func (s *orderService) DeliverOrder(ctx context.Context, orderID int64, notes string) (bool, error) {
	return s.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: orderID, Status: domain.OrderStatusDelivered, Notes: notes})
}

func (s *orderService) ReturnOrder(ctx context.Context, orderID int64, notes string) (bool, error) {
	return s.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: orderID, Status: domain.OrderStatusReturned, Notes: notes})
}

func (s *orderService) RefundOrder(ctx context.Context, orderID int64, notes string) (bool, error) {
	return s.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: orderID, Status: domain.OrderStatusRefunded, Notes: notes})
}

// BulkUpdateOrderStatus applies the change to each order in its own transaction. A failure on one
// order never rolls back another.
func (s *orderService) BulkUpdateOrderStatus(ctx context.Context, cmd BulkUpdateOrderStatusCommand) (BulkResult, error) {
	if len(cmd.OrderIDs) == 0 {
		return BulkResult{}, fmt.Errorf("%w: at least one order id is required", ErrOrderValidation)
	}
	if !cmd.Status.Valid() {
		return BulkResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderValidation, cmd.Status)
	}
	return s.runBulk(ctx, "order.bulk_update_status", cmd.OrderIDs, func(ctx context.Context, orderID int64) (bool, error) {
		return s.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{
			OrderID: orderID,
			Status:  cmd.Status,
			Notes:   cmd.Notes,
			ActorID: cmd.ActorID,
		})
	}), nil
}

// BulkCancelOrders cancels each order in its own transaction.
func (s *orderService) BulkCancelOrders(ctx context.Context, cmd BulkCancelOrdersCommand) (BulkResult, error) {
	if len(cmd.OrderIDs) == 0 {
		return BulkResult{}, fmt.Errorf("%w: at least one order id is required", ErrOrderValidation)
	}
	return s.runBulk(ctx, "order.bulk_cancel", cmd.OrderIDs, func(ctx context.Context, orderID int64) (bool, error) {
		return s.CancelOrder(ctx, CancelOrderCommand{
			OrderID: orderID,
			Reason:  cmd.Reason,
			ActorID: cmd.ActorID,
		})
	}), nil
}

func (s *orderService) runBulk(ctx context.Context, operation string, orderIDs []int64, apply func(context.Context, int64) (bool, error)) BulkResult {
	ctx, span := tracer.Start(ctx, operation, trace.WithAttributes(attribute.Int("order.count", len(orderIDs))))
	defer span.End()

	result := BulkResult{Results: make([]BulkItemResult, 0, len(orderIDs))}
	seen := make(map[int64]struct{}, len(orderIDs))
	for _, orderID := range orderIDs {
		if _, dup := seen[orderID]; dup {
			continue
		}
		seen[orderID] = struct{}{}

		item := BulkItemResult{OrderID: orderID}
		found, err := apply(ctx, orderID)
		switch {
		case err == nil && found:
			item.Outcome = BulkOutcomeApplied
		case err == nil:
			item.Outcome = BulkOutcomeNotFound
		case isBusinessRejection(err):
			item.Outcome = BulkOutcomeRejected
			item.Reason = err.Error()
		default:
			item.Outcome = BulkOutcomeFailed
			item.Reason = err.Error()
			s.logger(ctx, operation+".failed", map[string]any{
				"orderId": orderID,
				"error":   err.Error(),
			})
		}
		if item.Outcome == BulkOutcomeApplied {
			result.Succeeded++
		} else {
			result.Failed++
		}
		result.Results = append(result.Results, item)
	}

	span.SetAttributes(
		attribute.Int("order.succeeded", result.Succeeded),
		attribute.Int("order.failed", result.Failed),
	)
	return result
}

func (s *orderService) startOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		outcome := operationOutcome(err)
		span.SetAttributes(attribute.String("order.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			if outcome == outcomeError {
				span.SetStatus(codes.Error, err.Error())
			}
		}
		span.End()
		s.metrics.ObserveOperation(name, outcome, time.Since(started))
	}
}

// lockOrder loads the order under a row lock. Absence is reported through the bool, not an error.
func (s *orderService) lockOrder(txCtx context.Context, orderID int64) (Order, bool, error) {
	order, err := s.orders.FindByIDForUpdate(txCtx, orderID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Order{}, false, nil
		}
		return Order{}, false, s.mapRepositoryError(err)
	}
	return order, true, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorDuplicateNumber:
			return fmt.Errorf("%w: %v", ErrDuplicateOrderNumber, err)
		case repositories.OrderErrorDuplicateItem:
			return fmt.Errorf("%w: %v", ErrOrderItemDuplicate, err)
		case repositories.OrderErrorProductReferenced:
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		}
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
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) actor(ctx context.Context, explicit string) string {
	if actor := strings.TrimSpace(explicit); actor != "" {
		return actor
	}
	return requestctx.Actor(ctx)
}

func (s *orderService) publishStatusEvent(ctx context.Context, eventType string, order Order, previous OrderStatus, actorID string, metadata map[string]any) {
	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		TotalAmount:    order.TotalAmount,
		ActorID:        s.actor(ctx, actorID),
		OccurredAt:     order.UpdatedAt,
		Metadata:       metadata,
	})
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = s.newID()
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func buildOrderItem(in OrderItemInput, field string) (OrderItem, error) {
	if in.ProductID <= 0 {
		return OrderItem{}, fmt.Errorf("%w: %s product id is required", ErrOrderValidation, field)
	}
	if in.Quantity <= 0 {
		return OrderItem{}, fmt.Errorf("%w: %s quantity must be positive", ErrOrderValidation, field)
	}
	if in.UnitPrice <= 0 {
		return OrderItem{}, fmt.Errorf("%w: %s unit price must be positive", ErrOrderValidation, field)
	}
	item := OrderItem{
		ProductID:      in.ProductID,
		Quantity:       in.Quantity,
		UnitPrice:      in.UnitPrice,
		DiscountAmount: in.DiscountAmount,
	}
	if item.DiscountAmount < 0 || item.DiscountAmount > item.GrossPrice() {
		return OrderItem{}, fmt.Errorf("%w: %s discount must be between 0 and %d", ErrOrderValidation, field, item.GrossPrice())
	}
	return item, nil
}

func cancellationNote(reason string) string {
	if reason == "" {
		return ""
	}
	return "Cancelled: " + reason
}

func isBusinessRejection(err error) bool {
	return errors.Is(err, ErrOrderInvalidTransition) ||
		errors.Is(err, ErrOrderNotModifiable) ||
		errors.Is(err, ErrOrderValidation) ||
		errors.Is(err, ErrInsufficientStock)
}

func operationOutcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case isBusinessRejection(err),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrOrderItemDuplicate):
		return outcomeRejected
	default:
		return outcomeError
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type noopOrderMetrics struct{}

func (noopOrderMetrics) ObserveOperation(string, string, time.Duration) {}
func (noopOrderMetrics) OrderNumberRetried(string)                      {}
func (noopOrderMetrics) StockRejected()                                 {}
