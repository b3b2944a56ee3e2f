package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type productRepository struct {
	store *Store
}

const productColumns = `id, name, price, stock_quantity, updated_at`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var product domain.Product
	if err := row.Scan(&product.ID, &product.Name, &product.Price, &product.StockQuantity, &product.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, nil
}

func (r productRepository) FindByID(ctx context.Context, productID int64) (domain.Product, error) {
	product, err := scanProduct(r.store.q(ctx).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID))
	if err != nil {
		return domain.Product{}, wrapError("products.get", err)
	}
	return product, nil
}

func (r productRepository) FindByIDForUpdate(ctx context.Context, productID int64) (domain.Product, error) {
	product, err := scanProduct(r.store.q(ctx).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, productID))
	if err != nil {
		return domain.Product{}, wrapError("products.get_for_update", err)
	}
	return product, nil
}

func (r productRepository) UpdateStock(ctx context.Context, productID int64, quantity int, updatedAt time.Time) error {
	if quantity < 0 {
		return repositories.NewStockError(repositories.StockErrorNegative, productID, fmt.Sprintf("stock quantity %d is negative", quantity), nil)
	}
	tag, err := r.store.q(ctx).Exec(ctx, `UPDATE products SET stock_quantity = $2, updated_at = $3 WHERE id = $1`, productID, quantity, updatedAt)
	if err != nil {
		if isStockCheckViolation(err) {
			return repositories.NewStockError(repositories.StockErrorNegative, productID, "stock would go negative", err)
		}
		return wrapError("products.update_stock", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, "product not found", nil)
	}
	return nil
}

// InsertProduct seeds a product row. It backs fixtures and local bootstrap only.
func (s *Store) InsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	stored, err := scanProduct(s.q(ctx).QueryRow(ctx, `
		INSERT INTO products (name, price, stock_quantity)
		VALUES ($1, $2, $3)
		RETURNING `+productColumns,
		product.Name, product.Price, product.StockQuantity,
	))
	if err != nil {
		return domain.Product{}, wrapError("products.insert", err)
	}
	return stored, nil
}

// InsertUser seeds a user row. It backs fixtures and local bootstrap only.
func (s *Store) InsertUser(ctx context.Context, user domain.User) (domain.User, error) {
	err := s.q(ctx).QueryRow(ctx, `INSERT INTO users (email) VALUES ($1) RETURNING id, email`, user.Email).Scan(&user.ID, &user.Email)
	if err != nil {
		return domain.User{}, wrapError("users.insert", err)
	}
	return user, nil
}

type userRepository struct {
	store *Store
}

func (r userRepository) Exists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	if err := r.store.q(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return false, wrapError("users.exists", err)
	}
	return exists, nil
}

type counterRepository struct {
	store *Store
}

// Next increments atomically through an upsert. The conditional update leaves the row untouched when
// the increment would pass max_value, which surfaces as no returned row.
func (r counterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "", "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, id, fmt.Sprintf("step must be positive, got %d", step), nil)
	}
	initial := step
	if initial == 0 {
		initial = 1
	}

	var value int64
	err := r.store.q(ctx).QueryRow(ctx, `
		INSERT INTO counters (id, current_value, step) VALUES ($1, $2, $2)
		ON CONFLICT (id) DO UPDATE
			SET current_value = counters.current_value + COALESCE(NULLIF($3::bigint, 0), counters.step),
				updated_at = now()
			WHERE counters.max_value IS NULL
				OR counters.current_value + COALESCE(NULLIF($3::bigint, 0), counters.step) <= counters.max_value
		RETURNING current_value`,
		id, initial, step,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, id, "counter reached its max value", nil)
	}
	if err != nil {
		return 0, repositories.NewCounterError(repositories.CounterErrorUnknown, id, "increment counter", wrapError("counters.next", err))
	}
	return value, nil
}

func (r counterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "", "counter id is required", nil)
	}
	if cfg.Step < 0 {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, id, fmt.Sprintf("step must be positive, got %d", cfg.Step), nil)
	}

	_, err := r.store.q(ctx).Exec(ctx, `
		INSERT INTO counters (id, current_value, step, max_value)
		VALUES ($1, COALESCE($2::bigint, 0), COALESCE(NULLIF($3::bigint, 0), 1), $4::bigint)
		ON CONFLICT (id) DO UPDATE SET
			current_value = COALESCE($2::bigint, counters.current_value),
			step = COALESCE(NULLIF($3::bigint, 0), counters.step),
			max_value = COALESCE($4::bigint, counters.max_value),
			updated_at = now()`,
		id, cfg.InitialValue, cfg.Step, cfg.MaxValue,
	)
	if err != nil {
		return repositories.NewCounterError(repositories.CounterErrorUnknown, id, "configure counter", wrapError("counters.configure", err))
	}
	return nil
}
