package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order         = domain.Order
	OrderItem     = domain.OrderItem
	OrderStatus   = domain.OrderStatus
	OrderTotals   = domain.OrderTotals
	Product       = domain.Product
	StockLine     = domain.StockLine
	PriceLine     = domain.PriceLine
	PricingPolicy = domain.PricingPolicy
)

// StockLedger maintains non-negative stock levels and the reserve/release primitives used by orders.
type StockLedger interface {
	CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error)
	Reserve(ctx context.Context, lines []StockLine) (StockMovement, error)
	Release(ctx context.Context, lines []StockLine) (StockMovement, error)
}

// OrderNumberGenerator allocates human readable order numbers.
type OrderNumberGenerator interface {
	Next(ctx context.Context, placedAt time.Time) (string, error)
}

// UserDirectory answers whether a user exists. It is the only identity question the workflow asks.
type UserDirectory interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
}

// UserDirectoryFunc adapts ordinary functions to UserDirectory.
type UserDirectoryFunc func(ctx context.Context, userID int64) (bool, error)

// UserExists implements UserDirectory.
func (f UserDirectoryFunc) UserExists(ctx context.Context, userID int64) (bool, error) {
	return f(ctx, userID)
}

// NewRepositoryUserDirectory answers existence questions from the store's users table.
func NewRepositoryUserDirectory(users repositories.UserRepository) UserDirectory {
	return UserDirectoryFunc(users.Exists)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrderID        int64          `json:"orderId"`
	OrderNumber    string         `json:"orderNumber"`
	UserID         int64          `json:"userId"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	TotalAmount    int64          `json:"totalAmount"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// OrderMetrics records workflow outcomes. Implementations must be safe for concurrent use.
type OrderMetrics interface {
	ObserveOperation(operation string, outcome string, elapsed time.Duration)
	OrderNumberRetried(strategy string)
	StockRejected()
}

// OrderService orchestrates the order lifecycle over the stock ledger, pricing engine and store.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (bool, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) (bool, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (bool, error)
	ProcessOrder(ctx context.Context, orderID int64, notes string) (bool, error)
	ShipOrder(ctx context.Context, orderID int64, notes string) (bool, error)
	DeliverOrder(ctx context.Context, orderID int64, notes string) (bool, error)
	ReturnOrder(ctx context.Context, orderID int64, notes string) (bool, error)
	RefundOrder(ctx context.Context, orderID int64, notes string) (bool, error)
	BulkUpdateOrderStatus(ctx context.Context, cmd BulkUpdateOrderStatusCommand) (BulkResult, error)
	BulkCancelOrders(ctx context.Context, cmd BulkCancelOrdersCommand) (BulkResult, error)

	UpdateOrderDetails(ctx context.Context, cmd UpdateOrderDetailsCommand) (bool, error)
	AddOrderItem(ctx context.Context, cmd AddOrderItemCommand) (OrderItem, bool, error)
	UpdateOrderItem(ctx context.Context, cmd UpdateOrderItemCommand) (OrderItem, bool, error)
	RemoveOrderItem(ctx context.Context, cmd RemoveOrderItemCommand) (bool, error)
	RecalculateOrderTotals(ctx context.Context, orderID int64) (Order, bool, error)

	GetOrder(ctx context.Context, orderID int64, opts OrderReadOptions) (Order, bool, error)
	GetOrderByNumber(ctx context.Context, orderNumber string, opts OrderReadOptions) (Order, bool, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]Order, error)
	ListOrdersByStatus(ctx context.Context, status OrderStatus) ([]Order, error)
	ListOrdersByDateRange(ctx context.Context, from, to time.Time) ([]Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error)
}

// OrderListFilter narrows paged order listings.
type OrderListFilter = repositories.OrderListFilter

// OrderReadOptions toggles explicit loading of related records.
type OrderReadOptions struct {
	IncludeItems bool
}

// OrderItemInput describes a requested order line.
type OrderItemInput struct {
	ProductID      int64
	Quantity       int
	UnitPrice      int64
	DiscountAmount int64
}

// CreateOrderCommand captures the inputs for placing an order.
type CreateOrderCommand struct {
	UserID          int64
	Items           []OrderItemInput
	ShippingAddress string
	Notes           string
	DiscountAmount  int64
	ActorID         string
}

// CancelOrderCommand cancels a pending or processing order.
type CancelOrderCommand struct {
	OrderID int64
	Reason  string
	ActorID string
}

// DeleteOrderCommand removes a cancellable order and restores its stock.
type DeleteOrderCommand struct {
	OrderID int64
	ActorID string
}

// UpdateOrderStatusCommand moves an order along the lifecycle.
type UpdateOrderStatusCommand struct {
	OrderID int64
	Status  OrderStatus
	Notes   string
	ActorID string
}

// BulkUpdateOrderStatusCommand applies one status change to many orders independently.
type BulkUpdateOrderStatusCommand struct {
	OrderIDs []int64
	Status   OrderStatus
	Notes    string
	ActorID  string
}

// BulkCancelOrdersCommand cancels many orders independently.
type BulkCancelOrdersCommand struct {
	OrderIDs []int64
	Reason   string
	ActorID  string
}

// BulkOutcome classifies the result for one order in a bulk operation.
type BulkOutcome string

const (
	BulkOutcomeApplied  BulkOutcome = "applied"
	BulkOutcomeNotFound BulkOutcome = "not_found"
	BulkOutcomeRejected BulkOutcome = "rejected"
	BulkOutcomeFailed   BulkOutcome = "failed"
)

// BulkItemResult reports the outcome for one order.
type BulkItemResult struct {
	OrderID int64
	Outcome BulkOutcome
	Reason  string
}

// BulkResult aggregates per-order outcomes of a best-effort bulk operation.
type BulkResult struct {
	Results   []BulkItemResult
	Succeeded int
	Failed    int
}

// UpdateOrderDetailsCommand edits the order's own fields while it is pending. Nil fields are left untouched.
type UpdateOrderDetailsCommand struct {
	OrderID         int64
	ShippingAddress *string
	Notes           *string
	DiscountAmount  *int64
	ActorID         string
}

// AddOrderItemCommand appends a product line to a pending order.
type AddOrderItemCommand struct {
	OrderID int64
	Item    OrderItemInput
	ActorID string
}

// UpdateOrderItemCommand changes quantity, price or discount of a line on a pending order.
type UpdateOrderItemCommand struct {
	OrderID        int64
	ItemID         int64
	Quantity       int
	UnitPrice      int64
	DiscountAmount int64
	ActorID        string
}

// RemoveOrderItemCommand drops a line from a pending order.
type RemoveOrderItemCommand struct {
	OrderID int64
	ItemID  int64
	ActorID string
}
