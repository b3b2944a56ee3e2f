package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderItems() OrderItemRepository
	Products() ProductRepository
	Users() UserRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Calls made with a context
// that already carries a transaction join it instead of opening a new one.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order headers.
type OrderRepository interface {
	// Insert stores the order and returns it with the assigned ID. A clashing order number yields an
	// *OrderError with OrderErrorDuplicateNumber.
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID int64) error
	FindByID(ctx context.Context, orderID int64) (domain.Order, error)
	// FindByIDForUpdate loads the order and locks it for the remainder of the current transaction.
	FindByIDForUpdate(ctx context.Context, orderID int64) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	NumberExists(ctx context.Context, orderNumber string) (bool, error)
	// CountPlacedBetween counts orders whose OrderDate falls in [from, to).
	CountPlacedBetween(ctx context.Context, from, to time.Time) (int64, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
}

// OrderItemRepository persists order lines.
type OrderItemRepository interface {
	// Insert stores a line and returns it with the assigned ID. A second line for the same product on
	// the same order yields an *OrderError with OrderErrorDuplicateItem.
	Insert(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error)
	Update(ctx context.Context, item domain.OrderItem) error
	Delete(ctx context.Context, orderID, itemID int64) error
	DeleteByOrder(ctx context.Context, orderID int64) error
	FindByID(ctx context.Context, orderID, itemID int64) (domain.OrderItem, error)
	ListByOrder(ctx context.Context, orderID int64) ([]domain.OrderItem, error)
}

// ProductRepository exposes the stock-relevant view of products.
type ProductRepository interface {
	FindByID(ctx context.Context, productID int64) (domain.Product, error)
	// FindByIDForUpdate loads the product and locks its row for the remainder of the current transaction.
	FindByIDForUpdate(ctx context.Context, productID int64) (domain.Product, error)
	// UpdateStock overwrites the stock quantity. Negative quantities yield an *StockError.
	UpdateStock(ctx context.Context, productID int64, quantity int, updatedAt time.Time) error
}

// UserRepository answers identity questions for the order workflow.
type UserRepository interface {
	Exists(ctx context.Context, userID int64) (bool, error)
}

// CounterRepository provides atomic sequences keyed by name.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// OrderListFilter narrows order listings. A zero PageSize returns every match.
type OrderListFilter struct {
	UserID     *int64
	Status     *domain.OrderStatus
	PlacedFrom *time.Time
	PlacedTo   *time.Time
	Page       int
	PageSize   int
}
