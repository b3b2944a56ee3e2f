//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/testcontainer"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/services"
)

const postgresImage = "postgres:16-alpine"

func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	container := testcontainer.Start(t, testcontainer.Spec{
		Image:         postgresImage,
		ContainerPort: 5432,
		Env: map[string]string{
			"POSTGRES_USER":     "orders",
			"POSTGRES_PASSWORD": "orders",
			"POSTGRES_DB":       "orders",
		},
		ReadyTimeout: 60 * time.Second,
	})

	dsn := fmt.Sprintf("postgres://orders:orders@%s/orders?sslmode=disable", container.Endpoint())
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	var (
		store *Store
		err   error
	)
	// The port accepts connections before initdb finishes.
	for ctx.Err() == nil {
		store, err = Open(ctx, Config{DSN: dsn, MaxConns: 20})
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "schema must be re-runnable")
	return store
}

func TestStoreIntegration(t *testing.T) {
	store := openIntegrationStore(t)
	ctx := context.Background()

	user, err := store.InsertUser(ctx, domain.User{Email: "sato@example.com"})
	require.NoError(t, err)
	product, err := store.InsertProduct(ctx, domain.Product{Name: "Square seal", Price: 5000, StockQuantity: 3})
	require.NoError(t, err)

	t.Run("transaction rolls back every write", func(t *testing.T) {
		err := store.RunInTx(ctx, func(txCtx context.Context) error {
			order, err := store.Orders().Insert(txCtx, domain.Order{
				OrderNumber: "ORD-209901-0001",
				UserID:      user.ID,
				Status:      domain.OrderStatusPending,
				OrderDate:   time.Now().UTC(),
			})
			require.NoError(t, err)
			_, err = store.OrderItems().Insert(txCtx, domain.OrderItem{OrderID: order.ID, ProductID: product.ID, Quantity: 1, UnitPrice: 5000})
			require.NoError(t, err)
			require.NoError(t, store.Products().UpdateStock(txCtx, product.ID, 2, time.Now().UTC()))
			return fmt.Errorf("abort")
		})
		require.Error(t, err)

		exists, err := store.Orders().NumberExists(ctx, "ORD-209901-0001")
		require.NoError(t, err)
		assert.False(t, exists)
		reloaded, err := store.Products().FindByID(ctx, product.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, reloaded.StockQuantity)
	})

	t.Run("constraints map to typed errors", func(t *testing.T) {
		placed := time.Date(2099, 2, 1, 0, 0, 0, 0, time.UTC)
		order, err := store.Orders().Insert(ctx, domain.Order{OrderNumber: "ORD-209902-0001", UserID: user.ID, Status: domain.OrderStatusPending, OrderDate: placed})
		require.NoError(t, err)

		_, err = store.Orders().Insert(ctx, domain.Order{OrderNumber: "ORD-209902-0001", UserID: user.ID, Status: domain.OrderStatusPending, OrderDate: placed})
		var orderErr *repositories.OrderError
		require.ErrorAs(t, err, &orderErr)
		assert.Equal(t, repositories.OrderErrorDuplicateNumber, orderErr.Code)

		_, err = store.OrderItems().Insert(ctx, domain.OrderItem{OrderID: order.ID, ProductID: product.ID, Quantity: 1, UnitPrice: 5000})
		require.NoError(t, err)
		_, err = store.OrderItems().Insert(ctx, domain.OrderItem{OrderID: order.ID, ProductID: product.ID, Quantity: 1, UnitPrice: 5000})
		require.ErrorAs(t, err, &orderErr)
		assert.Equal(t, repositories.OrderErrorDuplicateItem, orderErr.Code)

		err = store.Products().UpdateStock(ctx, 999999, 1, time.Now())
		var stockErr *repositories.StockError
		require.ErrorAs(t, err, &stockErr)
		assert.True(t, stockErr.IsNotFound())

		_, err = store.Orders().FindByID(ctx, 999999)
		var repoErr repositories.RepositoryError
		require.ErrorAs(t, err, &repoErr)
		assert.True(t, repoErr.IsNotFound())

		count, err := store.Orders().CountPlacedBetween(ctx, placed, placed.AddDate(0, 1, 0))
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		require.NoError(t, store.Orders().Delete(ctx, order.ID))
		items, err := store.OrderItems().ListByOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Empty(t, items, "items cascade with their order")
	})

	t.Run("counters are atomic and bounded", func(t *testing.T) {
		counters := store.Counters()
		limit := int64(40)
		require.NoError(t, counters.Configure(ctx, "order-number:209903", repositories.CounterConfig{MaxValue: &limit}))

		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		seen := map[int64]bool{}
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				value, err := counters.Next(ctx, "order-number:209903", 1)
				assert.NoError(t, err)
				mu.Lock()
				seen[value] = true
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 40)

		_, err := counters.Next(ctx, "order-number:209903", 1)
		var counterErr *repositories.CounterError
		require.ErrorAs(t, err, &counterErr)
		assert.Equal(t, repositories.CounterErrorExhausted, counterErr.Code)
	})
}

func TestOrderWorkflowIntegration(t *testing.T) {
	store := openIntegrationStore(t)
	ctx := context.Background()

	user, err := store.InsertUser(ctx, domain.User{Email: "suzuki@example.com"})
	require.NoError(t, err)
	product, err := store.InsertProduct(ctx, domain.Product{Name: "Bank seal", Price: 1000, StockQuantity: 100})
	require.NoError(t, err)

	ledger, err := services.NewStockLedger(services.StockLedgerDeps{Products: store.Products(), UnitOfWork: store})
	require.NoError(t, err)
	numbers, err := services.NewOrderNumberGenerator(services.OrderNumberGeneratorDeps{Orders: store.Orders()})
	require.NoError(t, err)
	svc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:            store.Orders(),
		Items:             store.OrderItems(),
		Products:          store.Products(),
		Users:             services.NewRepositoryUserDirectory(store.Users()),
		Ledger:            ledger,
		Numbers:           numbers,
		UnitOfWork:        store,
		CreateMaxAttempts: 20,
	})
	require.NoError(t, err)

	const workers = 30
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	numbersSeen := map[string]bool{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := svc.CreateOrder(ctx, services.CreateOrderCommand{
				UserID:          user.ID,
				Items:           []services.OrderItemInput{{ProductID: product.ID, Quantity: 2, UnitPrice: 1000}},
				ShippingAddress: "4-5-6 Umeda, Osaka",
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbersSeen[order.OrderNumber] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, numbersSeen, workers, "order numbers must be unique")
	reloaded, err := store.Products().FindByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 100-2*workers, reloaded.StockQuantity)
}
