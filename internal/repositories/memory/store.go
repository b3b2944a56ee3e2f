package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type txKey struct{}

// Store is an in-memory repositories.Registry useful for tests and local development. Transactions
// are serialised and roll back by restoring a snapshot taken when they began; writes issued outside
// RunInTx while a transaction is rolling back are lost.
type Store struct {
	txMu sync.Mutex

	mu    sync.RWMutex
	state state
	now   func() time.Time
}

type state struct {
	users    map[int64]domain.User
	products map[int64]domain.Product
	orders   map[int64]domain.Order
	items    map[int64]domain.OrderItem
	counters map[string]counterState

	nextUserID    int64
	nextProductID int64
	nextOrderID   int64
	nextItemID    int64
}

type counterState struct {
	current int64
	step    int64
	max     *int64
}

var _ repositories.Registry = (*Store)(nil)

// Option customises the Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps written by the store itself.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: state{
			users:    make(map[int64]domain.User),
			products: make(map[int64]domain.Product),
			orders:   make(map[int64]domain.Order),
			items:    make(map[int64]domain.OrderItem),
			counters: make(map[string]counterState),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return nil }

// Orders implements repositories.Registry.
func (s *Store) Orders() repositories.OrderRepository { return orderRepository{store: s} }

// OrderItems implements repositories.Registry.
func (s *Store) OrderItems() repositories.OrderItemRepository { return orderItemRepository{store: s} }

// Products implements repositories.Registry.
func (s *Store) Products() repositories.ProductRepository { return productRepository{store: s} }

// Users implements repositories.Registry.
func (s *Store) Users() repositories.UserRepository { return userRepository{store: s} }

// Counters implements repositories.Registry.
func (s *Store) Counters() repositories.CounterRepository { return counterRepository{store: s} }

// RunInTx implements repositories.UnitOfWork.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			s.restore(snapshot)
			panic(r)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, s))
}

// Ping reports readiness; the memory store is always ready.
func (s *Store) Ping(context.Context) error { return nil }

// AddUser seeds a user, assigning an ID when absent.
func (s *Store) AddUser(user domain.User) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == 0 {
		s.state.nextUserID++
		user.ID = s.state.nextUserID
	} else if user.ID > s.state.nextUserID {
		s.state.nextUserID = user.ID
	}
	s.state.users[user.ID] = user
	return user
}

// AddProduct seeds a product, assigning an ID when absent.
func (s *Store) AddProduct(product domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if product.ID == 0 {
		s.state.nextProductID++
		product.ID = s.state.nextProductID
	} else if product.ID > s.state.nextProductID {
		s.state.nextProductID = product.ID
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = s.now().UTC()
	}
	s.state.products[product.ID] = product
	return product
}

// Product returns the stored product.
func (s *Store) Product(productID int64) (domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.state.products[productID]
	return product, ok
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.orders)
}

// ItemCount returns the number of stored order items across all orders.
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.items)
}

func (s *Store) restore(snapshot state) {
	s.mu.Lock()
	s.state = snapshot
	s.mu.Unlock()
}

func inTx(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.Value(txKey{}).(*Store)
	return ok
}

func (st state) clone() state {
	out := state{
		users:         make(map[int64]domain.User, len(st.users)),
		products:      make(map[int64]domain.Product, len(st.products)),
		orders:        make(map[int64]domain.Order, len(st.orders)),
		items:         make(map[int64]domain.OrderItem, len(st.items)),
		counters:      make(map[string]counterState, len(st.counters)),
		nextUserID:    st.nextUserID,
		nextProductID: st.nextProductID,
		nextOrderID:   st.nextOrderID,
		nextItemID:    st.nextItemID,
	}
	for id, user := range st.users {
		out.users[id] = user
	}
	for id, product := range st.products {
		out.products[id] = product
	}
	for id, order := range st.orders {
		out.orders[id] = cloneOrder(order)
	}
	for id, item := range st.items {
		out.items[id] = item
	}
	for name, counter := range st.counters {
		if counter.max != nil {
			limit := *counter.max
			counter.max = &limit
		}
		out.counters[name] = counter
	}
	return out
}

func cloneOrder(order domain.Order) domain.Order {
	order.ShippedDate = cloneTime(order.ShippedDate)
	order.DeliveredDate = cloneTime(order.DeliveredDate)
	order.Items = nil
	return order
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
