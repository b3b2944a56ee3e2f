package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/repositories/memory"
)

var fixtureNow = time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureOrderEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

func (c *captureOrderEvents) last() OrderEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return OrderEvent{}
	}
	return c.events[len(c.events)-1]
}

type stubUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type orderFixture struct {
	store  *memory.Store
	ledger StockLedger
	svc    OrderService
	events *captureOrderEvents
	logs   []string
}

func newOrderFixture(t *testing.T, customise ...func(*OrderServiceDeps)) *orderFixture {
	t.Helper()

	store := memory.NewStore(memory.WithClock(func() time.Time { return fixtureNow }))
	store.AddUser(domain.User{ID: 1, Email: "tanaka@example.com"})
	store.AddProduct(domain.Product{ID: 10, Name: "Round seal", Price: 5000, StockQuantity: 10})
	store.AddProduct(domain.Product{ID: 20, Name: "Seal case", Price: 3000, StockQuantity: 5})
	store.AddProduct(domain.Product{ID: 30, Name: "Ink pad", Price: 1000, StockQuantity: 1})

	clock := func() time.Time { return fixtureNow }
	ledger, err := NewStockLedger(StockLedgerDeps{Products: store.Products(), UnitOfWork: store, Clock: clock})
	if err != nil {
		t.Fatalf("NewStockLedger error: %v", err)
	}
	numbers, err := NewOrderNumberGenerator(OrderNumberGeneratorDeps{Orders: store.Orders()})
	if err != nil {
		t.Fatalf("NewOrderNumberGenerator error: %v", err)
	}

	fx := &orderFixture{store: store, ledger: ledger, events: &captureOrderEvents{}}
	deps := OrderServiceDeps{
		Orders:     store.Orders(),
		Items:      store.OrderItems(),
		Products:   store.Products(),
		Users:      NewRepositoryUserDirectory(store.Users()),
		Ledger:     ledger,
		Numbers:    numbers,
		UnitOfWork: store,
		Events:     fx.events,
		Clock:      clock,
		IDGenerator: func() string {
			return "evt_test"
		},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			fx.logs = append(fx.logs, event)
		},
	}
	for _, fn := range customise {
		fn(&deps)
	}

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService error: %v", err)
	}
	fx.svc = svc
	return fx
}

func (fx *orderFixture) create(t *testing.T, items ...OrderItemInput) Order {
	t.Helper()
	order, err := fx.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:          1,
		Items:           items,
		ShippingAddress: "1-2-3 Chiyoda, Tokyo",
	})
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	return order
}

func (fx *orderFixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	return stockOf(t, fx.store, productID)
}

func (fx *orderFixture) order(t *testing.T, orderID int64) Order {
	t.Helper()
	order, ok, err := fx.svc.GetOrder(context.Background(), orderID, OrderReadOptions{IncludeItems: true})
	if err != nil || !ok {
		t.Fatalf("GetOrder(%d) = ok %v err %v", orderID, ok, err)
	}
	return order
}

func TestOrderServiceCreateOrder(t *testing.T) {
	fx := newOrderFixture(t)

	order := fx.create(t, OrderItemInput{ProductID: 10, Quantity: 2, UnitPrice: 5000})

	if order.ID == 0 {
		t.Fatalf("expected order id to be assigned")
	}
	if order.OrderNumber != "ORD-202410-0001" {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if order.TotalAmount != 11000 || order.TaxAmount != 1000 {
		t.Fatalf("expected total 11000 tax 1000, got %d/%d", order.TotalAmount, order.TaxAmount)
	}
	if !order.OrderDate.Equal(fixtureNow) {
		t.Fatalf("unexpected order date %v", order.OrderDate)
	}
	if len(order.Items) != 1 || order.Items[0].ID == 0 || order.Items[0].OrderID != order.ID {
		t.Fatalf("unexpected items %+v", order.Items)
	}
	if fx.stock(t, 10) != 8 {
		t.Fatalf("expected stock 8 after reservation, got %d", fx.stock(t, 10))
	}

	if got := fx.events.types(); len(got) != 1 || got[0] != orderEventCreated {
		t.Fatalf("expected order.created event, got %v", got)
	}
	event := fx.events.last()
	if event.ID != "evt_test" || event.OrderNumber != order.OrderNumber || event.TotalAmount != 11000 {
		t.Fatalf("unexpected event %+v", event)
	}

	second := fx.create(t, OrderItemInput{ProductID: 20, Quantity: 1, UnitPrice: 3000})
	if second.OrderNumber != "ORD-202410-0002" {
		t.Fatalf("expected sequential number, got %q", second.OrderNumber)
	}
	if second.TotalAmount != 4800 {
		t.Fatalf("expected total 4800 below free shipping, got %d", second.TotalAmount)
	}
}

func TestOrderServiceCreateOrderSanitisesFreeText(t *testing.T) {
	fx := newOrderFixture(t)

	order, err := fx.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:          1,
		Items:           []OrderItemInput{{ProductID: 10, Quantity: 1, UnitPrice: 5000}},
		ShippingAddress: "  <b>1-2-3</b> Chiyoda  ",
		Notes:           "<script>x</script>Ring twice",
	})
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if order.ShippingAddress != "1-2-3 Chiyoda" {
		t.Fatalf("unexpected address %q", order.ShippingAddress)
	}
	if order.Notes != "Ring twice" {
		t.Fatalf("unexpected notes %q", order.Notes)
	}
}

func TestOrderServiceCreateOrderValidation(t *testing.T) {
	valid := []OrderItemInput{{ProductID: 10, Quantity: 1, UnitPrice: 5000}}

	cases := []struct {
		name string
		cmd  CreateOrderCommand
		want error
	}{
		{name: "missing user", cmd: CreateOrderCommand{Items: valid, ShippingAddress: "Tokyo"}, want: ErrOrderValidation},
		{name: "no items", cmd: CreateOrderCommand{UserID: 1, ShippingAddress: "Tokyo"}, want: ErrOrderValidation},
		{name: "blank address", cmd: CreateOrderCommand{UserID: 1, Items: valid, ShippingAddress: "  <br> "}, want: ErrOrderValidation},
		{name: "zero quantity", cmd: CreateOrderCommand{UserID: 1, Items: []OrderItemInput{{ProductID: 10, Quantity: 0, UnitPrice: 5000}}, ShippingAddress: "Tokyo"}, want: ErrOrderValidation},
		{name: "zero price", cmd: CreateOrderCommand{UserID: 1, Items: []OrderItemInput{{ProductID: 10, Quantity: 1}}, ShippingAddress: "Tokyo"}, want: ErrOrderValidation},
		{name: "item discount above gross", cmd: CreateOrderCommand{UserID: 1, Items: []OrderItemInput{{ProductID: 10, Quantity: 1, UnitPrice: 5000, DiscountAmount: 5001}}, ShippingAddress: "Tokyo"}, want: ErrOrderValidation},
		{name: "duplicate product", cmd: CreateOrderCommand{UserID: 1, Items: []OrderItemInput{valid[0], valid[0]}, ShippingAddress: "Tokyo"}, want: ErrOrderValidation},
		{name: "negative discount", cmd: CreateOrderCommand{UserID: 1, Items: valid, ShippingAddress: "Tokyo", DiscountAmount: -1}, want: ErrOrderValidation},
		{name: "discount above subtotal", cmd: CreateOrderCommand{UserID: 1, Items: valid, ShippingAddress: "Tokyo", DiscountAmount: 5001}, want: ErrOrderValidation},
		{name: "unknown user", cmd: CreateOrderCommand{UserID: 404, Items: valid, ShippingAddress: "Tokyo"}, want: ErrUserNotFound},
		{name: "unknown product", cmd: CreateOrderCommand{UserID: 1, Items: []OrderItemInput{{ProductID: 99, Quantity: 1, UnitPrice: 100}}, ShippingAddress: "Tokyo"}, want: ErrProductNotFound},
		{name: "insufficient stock", cmd: CreateOrderCommand{UserID: 1, Items: []OrderItemInput{{ProductID: 30, Quantity: 2, UnitPrice: 1000}}, ShippingAddress: "Tokyo"}, want: ErrInsufficientStock},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newOrderFixture(t)
			_, err := fx.svc.CreateOrder(context.Background(), tc.cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if fx.store.OrderCount() != 0 || fx.store.ItemCount() != 0 {
				t.Fatalf("rejected create must not persist anything")
			}
			if len(fx.events.types()) != 0 {
				t.Fatalf("rejected create must not publish events")
			}
		})
	}
}

func TestOrderServiceCreateOrderInsufficientStockReportsShortage(t *testing.T) {
	fx := newOrderFixture(t)
	_, err := fx.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:          1,
		Items:           []OrderItemInput{{ProductID: 10, Quantity: 1, UnitPrice: 5000}, {ProductID: 30, Quantity: 3, UnitPrice: 1000}},
		ShippingAddress: "Tokyo",
	})
	var shortage *InsufficientStockError
	if !errors.As(err, &shortage) {
		t.Fatalf("expected *InsufficientStockError, got %v", err)
	}
	if len(shortage.Shortages) != 1 || shortage.Shortages[0] != (StockShortage{ProductID: 30, Requested: 3, Available: 1}) {
		t.Fatalf("unexpected shortages %+v", shortage.Shortages)
	}
}

// racingLedger passes the pre-check but lets the real ledger decide inside the transaction, as when
// another order takes the stock between the check and the reservation.
type racingLedger struct {
	StockLedger
}

func (racingLedger) CheckAvailability(context.Context, int64, int) (bool, error) { return true, nil }

func TestOrderServiceCreateOrderRollsBackOnReservationFailure(t *testing.T) {
	fx := newOrderFixture(t, func(deps *OrderServiceDeps) {
		deps.Ledger = racingLedger{StockLedger: deps.Ledger}
	})

	_, err := fx.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID: 1,
		Items: []OrderItemInput{
			{ProductID: 10, Quantity: 2, UnitPrice: 5000},
			{ProductID: 20, Quantity: 1, UnitPrice: 3000},
			{ProductID: 30, Quantity: 5, UnitPrice: 1000},
		},
		ShippingAddress: "Tokyo",
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if fx.store.OrderCount() != 0 || fx.store.ItemCount() != 0 {
		t.Fatalf("expected no order rows, got %d orders %d items", fx.store.OrderCount(), fx.store.ItemCount())
	}
	if fx.stock(t, 10) != 10 || fx.stock(t, 20) != 5 || fx.stock(t, 30) != 1 {
		t.Fatalf("expected stock untouched, got %d/%d/%d", fx.stock(t, 10), fx.stock(t, 20), fx.stock(t, 30))
	}
	if len(fx.events.types()) != 0 {
		t.Fatalf("failed create must not publish events")
	}
}

// collidingNumbers hands out a number that is already taken before falling back to the real generator.
type collidingNumbers struct {
	taken     string
	collide   int
	next      OrderNumberGenerator
	callCount int
}

func (c *collidingNumbers) Next(ctx context.Context, placedAt time.Time) (string, error) {
	c.callCount++
	if c.callCount <= c.collide {
		return c.taken, nil
	}
	return c.next.Next(ctx, placedAt)
}

func TestOrderServiceCreateOrderRetriesOnDuplicateNumber(t *testing.T) {
	var numbers *collidingNumbers
	fx := newOrderFixture(t, func(deps *OrderServiceDeps) {
		numbers = &collidingNumbers{taken: "ORD-202410-0001", collide: 2, next: deps.Numbers}
		deps.Numbers = numbers
	})
	first := fx.create(t, OrderItemInput{ProductID: 10, Quantity: 1, UnitPrice: 5000})
	if first.OrderNumber != "ORD-202410-0001" {
		t.Fatalf("unexpected first number %q", first.OrderNumber)
	}

	numbers.callCount = 0
	second := fx.create(t, OrderItemInput{ProductID: 20, Quantity: 1, UnitPrice: 3000})
	if second.OrderNumber != "ORD-202410-0002" {
		t.Fatalf("expected retry to land on a fresh number, got %q", second.OrderNumber)
	}
	if numbers.callCount != 3 {
		t.Fatalf("expected 3 generator calls, got %d", numbers.callCount)
	}
	if fx.stock(t, 20) != 4 {
		t.Fatalf("collided attempts must not leak reservations, stock = %d", fx.stock(t, 20))
	}
}

func TestOrderServiceCreateOrderGivesUpAfterMaxAttempts(t *testing.T) {
	var numbers *collidingNumbers
	fx := newOrderFixture(t, func(deps *OrderServiceDeps) {
		numbers = &collidingNumbers{taken: "ORD-202410-0001", collide: 100, next: deps.Numbers}
		deps.Numbers = numbers
		deps.CreateMaxAttempts = 3
	})
	numbers.collide = 0
	fx.create(t, OrderItemInput{ProductID: 10, Quantity: 1, UnitPrice: 5000})

	numbers.collide, numbers.callCount = 100, 0
	_, err := fx.svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:          1,
		Items:           []OrderItemInput{{ProductID: 20, Quantity: 1, UnitPrice: 3000}},
		ShippingAddress: "Tokyo",
	})
	if !errors.Is(err, ErrDuplicateOrderNumber) {
		t.Fatalf("expected ErrDuplicateOrderNumber, got %v", err)
	}
	if numbers.callCount != 3 {
		t.Fatalf("expected 3 attempts, got %d", numbers.callCount)
	}
}

func TestOrderServiceCreateOrderConcurrentNumbersAreUnique(t *testing.T) {
	fx := newOrderFixture(t)
	fx.store.AddProduct(domain.Product{ID: 40, Name: "Stamp", Price: 500, StockQuantity: 1000})

	const workers = 25
	var wg sync.WaitGroup
	numbers := make(chan string, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := fx.svc.CreateOrder(context.Background(), CreateOrderCommand{
				UserID:          1,
				Items:           []OrderItemInput{{ProductID: 40, Quantity: 1, UnitPrice: 500}},
				ShippingAddress: "Tokyo",
			})
			if err != nil {
				errs <- err
				return
			}
			numbers <- order.OrderNumber
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		t.Fatalf("CreateOrder error: %v", err)
	}
	seen := map[string]bool{}
	for number := range numbers {
		if seen[number] {
			t.Fatalf("duplicate order number %s", number)
		}
		seen[number] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d orders, got %d", workers, len(seen))
	}
	if fx.stock(t, 40) != 1000-workers {
		t.Fatalf("unexpected stock %d", fx.stock(t, 40))
	}
}

func TestOrderServiceCancelOrderReleasesStock(t *testing.T) {
	for _, status := range []OrderStatus{domain.OrderStatusPending, domain.OrderStatusProcessing} {
		t.Run(string(status), func(t *testing.T) {
			fx := newOrderFixture(t)
			order := fx.create(t,
				OrderItemInput{ProductID: 10, Quantity: 3, UnitPrice: 5000},
				OrderItemInput{ProductID: 20, Quantity: 2, UnitPrice: 3000},
			)
			if status == domain.OrderStatusProcessing {
				if ok, err := fx.svc.ProcessOrder(context.Background(), order.ID, ""); err != nil || !ok {
					t.Fatalf("ProcessOrder = %v, %v", ok, err)
				}
			}

			ok, err := fx.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: order.ID, Reason: "customer request", ActorID: "staff-1"})
			if err != nil || !ok {
				t.Fatalf("CancelOrder = %v, %v", ok, err)
			}
			if fx.stock(t, 10) != 10 || fx.stock(t, 20) != 5 {
				t.Fatalf("expected full release, got %d/%d", fx.stock(t, 10), fx.stock(t, 20))
			}

			cancelled := fx.order(t, order.ID)
			if cancelled.Status != domain.OrderStatusCancelled {
				t.Fatalf("expected cancelled, got %s", cancelled.Status)
			}
			if !strings.Contains(cancelled.Notes, "Cancelled: customer request") {
				t.Fatalf("expected cancellation reason in notes, got %q", cancelled.Notes)
			}
			event := fx.events.last()
			if event.Type != orderEventCancelled || event.PreviousStatus != string(status) || event.ActorID != "staff-1" {
				t.Fatalf("unexpected event %+v", event)
			}
		})
	}
}

func TestOrderServiceCancelOrderRejectsDelivered(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.create(t, OrderItemInput{ProductID: 10, Quantity: 1, UnitPrice: 5000})
	ctx := context.Background()
	for _, step := range []func(context.Context, int64, string) (bool, error){fx.svc.ShipOrder, fx.svc.DeliverOrder} {
		if ok, err := step(ctx, order.ID, ""); err != nil || !ok {
			t.Fatalf("transition = %v, %v", ok, err)
		}
	}

	ok, err := fx.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}
	if ok {
		t.Fatalf("expected false on rejection")
	}
	if fx.stock(t, 10) != 9 {
		t.Fatalf("rejected cancel must not release stock, got %d", fx.stock(t, 10))
	}
}

func TestOrderServiceCancelOrderMissing(t *testing.T) {
	fx := newOrderFixture(t)
	ok, err := fx.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: 404})
	if err != nil || ok {
		t.Fatalf("expected (false, nil) for missing order, got (%v, %v)", ok, err)
	}
}

func TestOrderServiceDeleteOrder(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.create(t, OrderItemInput{ProductID: 20, Quantity: 4, UnitPrice: 3000})

	ok, err := fx.svc.DeleteOrder(context.Background(), DeleteOrderCommand{OrderID: order.ID})
	if err != nil || !ok {
		t.Fatalf("DeleteOrder = %v, %v", ok, err)
	}
	if fx.store.OrderCount() != 0 || fx.store.ItemCount() != 0 {
		t.Fatalf("expected order and items deleted")
	}
	if fx.stock(t, 20) != 5 {
		t.Fatalf("expected stock restored to 5, got %d", fx.stock(t, 20))
	}
	if _, ok, _ := fx.svc.GetOrder(context.Background(), order.ID, OrderReadOptions{}); ok {
		t.Fatalf("expected deleted order to be absent")
	}
	if fx.events.last().Type != orderEventDeleted {
		t.Fatalf("expected order.deleted event, got %s", fx.events.last().Type)
	}

	ok, err = fx.svc.DeleteOrder(context.Background(), DeleteOrderCommand{OrderID: order.ID})
	if err != nil || ok {
		t.Fatalf("expected (false, nil) deleting a missing order, got (%v, %v)", ok, err)
	}
}

func TestOrderServiceDeleteOrderRejectsShipped(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.create(t, OrderItemInput{ProductID: 20, Quantity: 1, UnitPrice: 3000})
	if _, err := fx.svc.ShipOrder(context.Background(), order.ID, ""); err != nil {
		t.Fatalf("ShipOrder error: %v", err)
	}
	if _, err := fx.svc.DeleteOrder(context.Background(), DeleteOrderCommand{OrderID: order.ID}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}
	if fx.store.OrderCount() != 1 {
		t.Fatalf("rejected delete must keep the order")
	}
}

func TestOrderServiceUpdateOrderStatus(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.create(t, OrderItemInput{ProductID: 10, Quantity: 1, UnitPrice: 5000})
	ctx := context.Background()

	if ok, err := fx.svc.ShipOrder(ctx, order.ID, "tracking 123"); err != nil || !ok {
		t.Fatalf("ShipOrder = %v, %v", ok, err)
	}
	shipped := fx.order(t, order.ID)
	if shipped.Status != domain.OrderStatusShipped || shipped.ShippedDate == nil || !shipped.ShippedDate.Equal(fixtureNow) {
		t.Fatalf("unexpected shipped order %+v", shipped)
	}
	event := fx.events.last()
	if event.Type != orderEventStatusChanged || event.PreviousStatus != "pending" || event.CurrentStatus != "shipped" {
		t.Fatalf("unexpected event %+v", event)
	}

	if _, err := fx.svc.ProcessOrder(ctx, order.ID, ""); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition moving shipped back to processing, got %v", err)
	}

	eventsBefore := len(fx.events.types())
	if ok, err := fx.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: order.ID, Status: domain.OrderStatusShipped, Notes: "left depot"}); err != nil || !ok {
		t.Fatalf("same-status update = %v, %v", ok, err)
	}
	if len(fx.events.types()) != eventsBefore {
		t.Fatalf("same-status update must not publish an event")
	}
	if notes := fx.order(t, order.ID).Notes; notes != "tracking 123\nleft depot" {
		t.Fatalf("unexpected notes %q", notes)
	}

	if ok, err := fx.svc.DeliverOrder(ctx, order.ID, ""); err != nil || !ok {
		t.Fatalf("DeliverOrder = %v, %v", ok, err)
	}
	if ok, err := fx.svc.RefundOrder(ctx, order.ID, ""); err != nil || !ok {
		t.Fatalf("RefundOrder = %v, %v", ok, err)
	}
	if fx.stock(t, 10) != 9 {
		t.Fatalf("refund must not restock, got %d", fx.stock(t, 10))
	}
	if _, err := fx.svc.ReturnOrder(ctx, order.ID, ""); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition from refunded, got %v", err)
	}

	if _, err := fx.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: order.ID, Status: "archived"}); !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected ErrOrderValidation for unknown status, got %v", err)
	}
	if ok, err := fx.svc.ShipOrder(ctx, 404, ""); err != nil || ok {
		t.Fatalf("expected (false, nil) for missing order, got (%v, %v)", ok, err)
	}
}

func TestOrderServiceUpdateOrderStatusToCancelledReleasesStock(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.create(t, OrderItemInput{ProductID: 10, Quantity: 4, UnitPrice: 5000})

	ok, err := fx.svc.UpdateOrderStatus(context.Background(), UpdateOrderStatusCommand{OrderID: order.ID, Status: domain.OrderStatusCancelled, Notes: "duplicate order"})
	if err != nil || !ok {
		t.Fatalf("UpdateOrderStatus = %v, %v", ok, err)
	}
	if fx.stock(t, 10) != 10 {
		t.Fatalf("expected stock released, got %d", fx.stock(t, 10))
	}
	if fx.events.last().Type != orderEventCancelled {
		t.Fatalf("expected order.cancelled event, got %s", fx.events.last().Type)
	}

	ok, err = fx.svc.UpdateOrderStatus(context.Background(), UpdateOrderStatusCommand{OrderID: order.ID, Status: domain.OrderStatusCancelled})
	if err != nil || !ok {
		t.Fatalf("repeat cancel should be a no-op, got %v, %v", ok, err)
	}
	if fx.stock(t, 10) != 10 {
		t.Fatalf("repeat cancel must not release twice, got %d", fx.stock(t, 10))
	}
}

func TestOrderServiceBulkOperations(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()
	pending := fx.create(t, OrderItemInput{ProductID: 10, Quantity: 1, UnitPrice: 5000})
	processing := fx.create(t, OrderItemInput{ProductID: 20, Quantity: 1, UnitPrice: 3000})
	delivered := fx.create(t, OrderItemInput{ProductID: 30, Quantity: 1, UnitPrice: 1000})
	if _, err := fx.svc.ProcessOrder(ctx, processing.ID, ""); err != nil {
		t.Fatalf("ProcessOrder error: %v", err)
	}
	for _, step := range []func(context.Context, int64, string) (bool, error){fx.svc.ShipOrder, fx.svc.DeliverOrder} {
		if _, err := step(ctx, delivered.ID, ""); err != nil {
			t.Fatalf("transition error: %v", err)
		}
	}

	result, err := fx.svc.BulkCancelOrders(ctx, BulkCancelOrdersCommand{
		OrderIDs: []int64{pending.ID, delivered.ID, 404, processing.ID, pending.ID},
		Reason:   "warehouse closed",
	})
	if err != nil {
		t.Fatalf("BulkCancelOrders error: %v", err)
	}
	if result.Succeeded != 2 || result.Failed != 2 || len(result.Results) != 4 {
		t.Fatalf("unexpected bulk result %+v", result)
	}
	want := []BulkOutcome{BulkOutcomeApplied, BulkOutcomeRejected, BulkOutcomeNotFound, BulkOutcomeApplied}
	for i, outcome := range want {
		if result.Results[i].Outcome != outcome {
			t.Fatalf("result %d: expected %s, got %+v", i, outcome, result.Results[i])
		}
	}
	if result.Results[1].Reason == "" {
		t.Fatalf("expected rejection reason")
	}
	if fx.stock(t, 10) != 10 || fx.stock(t, 20) != 5 || fx.stock(t, 30) != 0 {
		t.Fatalf("unexpected stock after bulk cancel: %d/%d/%d", fx.stock(t, 10), fx.stock(t, 20), fx.stock(t, 30))
	}

	statusResult, err := fx.svc.BulkUpdateOrderStatus(ctx, BulkUpdateOrderStatusCommand{
		OrderIDs: []int64{delivered.ID, pending.ID},
		Status:   domain.OrderStatusReturned,
	})
	if err != nil {
		t.Fatalf("BulkUpdateOrderStatus error: %v", err)
	}
	if statusResult.Results[0].Outcome != BulkOutcomeApplied || statusResult.Results[1].Outcome != BulkOutcomeRejected {
		t.Fatalf("unexpected bulk status result %+v", statusResult)
	}

	if _, err := fx.svc.BulkCancelOrders(ctx, BulkCancelOrdersCommand{}); !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected ErrOrderValidation for empty bulk, got %v", err)
	}
}

func TestOrderServiceBulkReportsStorageFailures(t *testing.T) {
	boom := errors.New("disk full")
	fx := newOrderFixture(t)
	order := fx.create(t, OrderItemInput{ProductID: 10, Quantity: 1, UnitPrice: 5000})

	failing := newOrderFixture(t, func(deps *OrderServiceDeps) {
		deps.UnitOfWork = &stubUnitOfWork{runFn: func(context.Context, func(context.Context) error) error { return boom }}
	})
	result, err := failing.svc.BulkUpdateOrderStatus(context.Background(), BulkUpdateOrderStatusCommand{
		OrderIDs: []int64{order.ID},
		Status:   domain.OrderStatusProcessing,
	})
	if err != nil {
		t.Fatalf("BulkUpdateOrderStatus error: %v", err)
	}
	if result.Results[0].Outcome != BulkOutcomeFailed || !strings.Contains(result.Results[0].Reason, "disk full") {
		t.Fatalf("unexpected result %+v", result.Results[0])
	}
	if len(failing.logs) == 0 || failing.logs[len(failing.logs)-1] != "order.bulk_update_status.failed" {
		t.Fatalf("expected failure to be logged, got %v", failing.logs)
	}
}

func TestOrderServiceItemManagement(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()
	order := fx.create(t, OrderItemInput{ProductID: 20, Quantity: 1, UnitPrice: 3000})
	if order.TotalAmount != 4800 {
		t.Fatalf("unexpected starting total %d", order.TotalAmount)
	}

	added, ok, err := fx.svc.AddOrderItem(ctx, AddOrderItemCommand{OrderID: order.ID, Item: OrderItemInput{ProductID: 10, Quantity: 2, UnitPrice: 5000}})
	if err != nil || !ok {
		t.Fatalf("AddOrderItem = %v, %v", ok, err)
	}
	if fx.stock(t, 10) != 8 {
		t.Fatalf("expected add to reserve stock, got %d", fx.stock(t, 10))
	}
	if got := fx.order(t, order.ID).TotalAmount; got != 13000+1300 {
		t.Fatalf("expected total 14300 after add, got %d", got)
	}

	if _, _, err := fx.svc.AddOrderItem(ctx, AddOrderItemCommand{OrderID: order.ID, Item: OrderItemInput{ProductID: 10, Quantity: 1, UnitPrice: 5000}}); !errors.Is(err, ErrOrderItemDuplicate) {
		t.Fatalf("expected ErrOrderItemDuplicate, got %v", err)
	}
	if _, _, err := fx.svc.AddOrderItem(ctx, AddOrderItemCommand{OrderID: order.ID, Item: OrderItemInput{ProductID: 30, Quantity: 2, UnitPrice: 1000}}); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if fx.store.ItemCount() != 2 {
		t.Fatalf("failed add must roll back the item insert, items = %d", fx.store.ItemCount())
	}

	updated, ok, err := fx.svc.UpdateOrderItem(ctx, UpdateOrderItemCommand{OrderID: order.ID, ItemID: added.ID, Quantity: 5, UnitPrice: 5000, DiscountAmount: 1000})
	if err != nil || !ok {
		t.Fatalf("UpdateOrderItem = %v, %v", ok, err)
	}
	if updated.Quantity != 5 || fx.stock(t, 10) != 5 {
		t.Fatalf("expected delta reservation, quantity %d stock %d", updated.Quantity, fx.stock(t, 10))
	}
	if got := fx.order(t, order.ID).TotalAmount; got != 27000+2700 {
		t.Fatalf("expected total 29700 after update, got %d", got)
	}

	if _, _, err := fx.svc.UpdateOrderItem(ctx, UpdateOrderItemCommand{OrderID: order.ID, ItemID: added.ID, Quantity: 1, UnitPrice: 5000}); err != nil {
		t.Fatalf("UpdateOrderItem shrink error: %v", err)
	}
	if fx.stock(t, 10) != 9 {
		t.Fatalf("expected shrink to release stock, got %d", fx.stock(t, 10))
	}

	if ok, err := fx.svc.RemoveOrderItem(ctx, RemoveOrderItemCommand{OrderID: order.ID, ItemID: added.ID}); err != nil || !ok {
		t.Fatalf("RemoveOrderItem = %v, %v", ok, err)
	}
	if fx.stock(t, 10) != 10 {
		t.Fatalf("expected remove to release stock, got %d", fx.stock(t, 10))
	}
	current := fx.order(t, order.ID)
	if current.TotalAmount != 4800 || len(current.Items) != 1 {
		t.Fatalf("expected original total and single item, got %d with %d items", current.TotalAmount, len(current.Items))
	}

	if _, err := fx.svc.RemoveOrderItem(ctx, RemoveOrderItemCommand{OrderID: order.ID, ItemID: current.Items[0].ID}); !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected removing the last item to fail validation, got %v", err)
	}
	if ok, err := fx.svc.RemoveOrderItem(ctx, RemoveOrderItemCommand{OrderID: order.ID, ItemID: 999}); err != nil || ok {
		t.Fatalf("expected (false, nil) for missing item, got (%v, %v)", ok, err)
	}

	types := fx.events.types()
	itemEvents := 0
	for _, eventType := range types {
		if eventType == orderEventItemsChanged {
			itemEvents++
		}
	}
	if itemEvents != 4 {
		t.Fatalf("expected 4 item events, got %d (%v)", itemEvents, types)
	}
}

func TestOrderServiceModifiabilityGate(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()
	order := fx.create(t,
		OrderItemInput{ProductID: 10, Quantity: 1, UnitPrice: 5000},
		OrderItemInput{ProductID: 20, Quantity: 1, UnitPrice: 3000},
	)
	if _, err := fx.svc.ProcessOrder(ctx, order.ID, ""); err != nil {
		t.Fatalf("ProcessOrder error: %v", err)
	}

	if _, _, err := fx.svc.AddOrderItem(ctx, AddOrderItemCommand{OrderID: order.ID, Item: OrderItemInput{ProductID: 30, Quantity: 1, UnitPrice: 1000}}); !errors.Is(err, ErrOrderNotModifiable) {
		t.Fatalf("expected ErrOrderNotModifiable on add, got %v", err)
	}
	if _, err := fx.svc.RemoveOrderItem(ctx, RemoveOrderItemCommand{OrderID: order.ID, ItemID: order.Items[0].ID}); !errors.Is(err, ErrOrderNotModifiable) {
		t.Fatalf("expected ErrOrderNotModifiable on remove, got %v", err)
	}
	if _, _, err := fx.svc.UpdateOrderItem(ctx, UpdateOrderItemCommand{OrderID: order.ID, ItemID: order.Items[0].ID, Quantity: 2, UnitPrice: 5000}); !errors.Is(err, ErrOrderNotModifiable) {
		t.Fatalf("expected ErrOrderNotModifiable on update, got %v", err)
	}
	notes := "new notes"
	if _, err := fx.svc.UpdateOrderDetails(ctx, UpdateOrderDetailsCommand{OrderID: order.ID, Notes: &notes}); !errors.Is(err, ErrOrderNotModifiable) {
		t.Fatalf("expected ErrOrderNotModifiable on details, got %v", err)
	}
	if fx.stock(t, 30) != 1 {
		t.Fatalf("gated add must not reserve stock")
	}
}

func TestOrderServiceUpdateOrderDetails(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()
	order := fx.create(t, OrderItemInput{ProductID: 10, Quantity: 3, UnitPrice: 5000})

	address := "4-5-6 Shibuya, Tokyo"
	discount := int64(1500)
	ok, err := fx.svc.UpdateOrderDetails(ctx, UpdateOrderDetailsCommand{OrderID: order.ID, ShippingAddress: &address, DiscountAmount: &discount})
	if err != nil || !ok {
		t.Fatalf("UpdateOrderDetails = %v, %v", ok, err)
	}
	updated := fx.order(t, order.ID)
	if updated.ShippingAddress != address || updated.DiscountAmount != 1500 {
		t.Fatalf("unexpected order %+v", updated)
	}
	if updated.TotalAmount != 15000+1500-1500 {
		t.Fatalf("expected recalculated total 15000, got %d", updated.TotalAmount)
	}

	blank := "   "
	if _, err := fx.svc.UpdateOrderDetails(ctx, UpdateOrderDetailsCommand{OrderID: order.ID, ShippingAddress: &blank}); !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected ErrOrderValidation for blank address, got %v", err)
	}
	tooMuch := int64(15001)
	if _, err := fx.svc.UpdateOrderDetails(ctx, UpdateOrderDetailsCommand{OrderID: order.ID, DiscountAmount: &tooMuch}); !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected ErrOrderValidation for oversized discount, got %v", err)
	}
	if _, err := fx.svc.UpdateOrderDetails(ctx, UpdateOrderDetailsCommand{OrderID: order.ID}); !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected ErrOrderValidation for empty update, got %v", err)
	}
}

func TestOrderServiceRecalculateOrderTotalsIsIdempotent(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.create(t, OrderItemInput{ProductID: 10, Quantity: 2, UnitPrice: 5000, DiscountAmount: 500})

	first, ok, err := fx.svc.RecalculateOrderTotals(context.Background(), order.ID)
	if err != nil || !ok {
		t.Fatalf("RecalculateOrderTotals = %v, %v", ok, err)
	}
	second, _, err := fx.svc.RecalculateOrderTotals(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("RecalculateOrderTotals error: %v", err)
	}
	if first.TotalAmount != second.TotalAmount || first.TotalAmount != order.TotalAmount {
		t.Fatalf("expected stable totals, got %d, %d, %d", order.TotalAmount, first.TotalAmount, second.TotalAmount)
	}
	if first.TotalAmount != 9500+950+1500 {
		t.Fatalf("expected item discount netted before tax, got %d", first.TotalAmount)
	}

	if _, ok, err := fx.svc.RecalculateOrderTotals(context.Background(), 404); err != nil || ok {
		t.Fatalf("expected (false, nil) for missing order, got (%v, %v)", ok, err)
	}
}

func TestOrderServiceReads(t *testing.T) {
	fx := newOrderFixture(t)
	fx.store.AddUser(domain.User{ID: 2, Email: "sato@example.com"})
	ctx := context.Background()

	first := fx.create(t, OrderItemInput{ProductID: 10, Quantity: 1, UnitPrice: 5000})
	second, err := fx.svc.CreateOrder(ctx, CreateOrderCommand{UserID: 2, Items: []OrderItemInput{{ProductID: 20, Quantity: 1, UnitPrice: 3000}}, ShippingAddress: "Osaka"})
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if _, err := fx.svc.ShipOrder(ctx, second.ID, ""); err != nil {
		t.Fatalf("ShipOrder error: %v", err)
	}

	got, ok, err := fx.svc.GetOrderByNumber(ctx, " "+first.OrderNumber+" ", OrderReadOptions{})
	if err != nil || !ok || got.ID != first.ID {
		t.Fatalf("GetOrderByNumber = %+v, %v, %v", got, ok, err)
	}
	if got.Items != nil {
		t.Fatalf("items must not load without IncludeItems")
	}
	if _, ok, err := fx.svc.GetOrderByNumber(ctx, "ORD-209901-0001", OrderReadOptions{}); err != nil || ok {
		t.Fatalf("expected absence without error, got %v, %v", ok, err)
	}

	byUser, err := fx.svc.ListOrdersByUser(ctx, 2)
	if err != nil || len(byUser) != 1 || byUser[0].ID != second.ID {
		t.Fatalf("ListOrdersByUser = %+v, %v", byUser, err)
	}
	byStatus, err := fx.svc.ListOrdersByStatus(ctx, domain.OrderStatusPending)
	if err != nil || len(byStatus) != 1 || byStatus[0].ID != first.ID {
		t.Fatalf("ListOrdersByStatus = %+v, %v", byStatus, err)
	}
	inRange, err := fx.svc.ListOrdersByDateRange(ctx, fixtureNow, fixtureNow.Add(time.Second))
	if err != nil || len(inRange) != 2 {
		t.Fatalf("ListOrdersByDateRange = %d orders, %v", len(inRange), err)
	}
	empty, err := fx.svc.ListOrdersByDateRange(ctx, fixtureNow.Add(time.Second), fixtureNow.Add(time.Hour))
	if err != nil || len(empty) != 0 || empty == nil {
		t.Fatalf("expected empty non-nil slice, got %v, %v", empty, err)
	}
	if _, err := fx.svc.ListOrdersByDateRange(ctx, fixtureNow, fixtureNow); !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected ErrOrderValidation for empty range, got %v", err)
	}

	page, err := fx.svc.ListOrders(ctx, OrderListFilter{Page: 2, PageSize: 1})
	if err != nil {
		t.Fatalf("ListOrders error: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 1 || page.Items[0].ID != first.ID {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestOrderServicePublishFailureIsLoggedOnly(t *testing.T) {
	fx := newOrderFixture(t)
	fx.events.err = errors.New("broker down")

	order := fx.create(t, OrderItemInput{ProductID: 10, Quantity: 1, UnitPrice: 5000})
	if order.ID == 0 {
		t.Fatalf("expected order to be created despite publish failure")
	}
	if len(fx.logs) == 0 || fx.logs[len(fx.logs)-1] != "order.event.publish.failed" {
		t.Fatalf("expected publish failure to be logged, got %v", fx.logs)
	}
}

func TestOrderServiceActorFallsBackToContext(t *testing.T) {
	fx := newOrderFixture(t)
	order := fx.create(t, OrderItemInput{ProductID: 10, Quantity: 1, UnitPrice: 5000})

	ctx := requestctx.WithActor(context.Background(), "ops-bot")
	if _, err := fx.svc.ProcessOrder(ctx, order.ID, ""); err != nil {
		t.Fatalf("ProcessOrder error: %v", err)
	}
	if actor := fx.events.last().ActorID; actor != "ops-bot" {
		t.Fatalf("expected actor from context, got %q", actor)
	}
}

func TestOrderServiceMapsRepositoryErrors(t *testing.T) {
	svc := &orderService{}
	cases := []struct {
		err  error
		want error
	}{
		{err: repositories.NewOrderError(repositories.OrderErrorDuplicateNumber, "dup", nil), want: ErrDuplicateOrderNumber},
		{err: repositories.NewOrderError(repositories.OrderErrorDuplicateItem, "dup", nil), want: ErrOrderItemDuplicate},
		{err: repositories.NewOrderError(repositories.OrderErrorProductReferenced, "fk", nil), want: ErrProductNotFound},
		{err: repositories.NewStockError(repositories.StockErrorNegative, 1, "neg", nil), want: ErrInsufficientStock},
		{err: fmt.Errorf("wrapped: %w", repositories.NewStockError(repositories.StockErrorProductNotFound, 1, "missing", nil)), want: ErrProductNotFound},
	}
	for _, tc := range cases {
		if got := svc.mapRepositoryError(tc.err); !errors.Is(got, tc.want) {
			t.Fatalf("mapRepositoryError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestNewOrderServiceRequiresCollaborators(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected error without repositories")
	}
}
