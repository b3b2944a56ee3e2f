package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

const orderColumns = `id, order_number, user_id, status, total_amount, discount_amount, tax_amount,
	order_date, shipped_date, delivered_date, notes, shipping_address, updated_at`

type orderRepository struct {
	store *Store
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&status,
		&order.TotalAmount,
		&order.DiscountAmount,
		&order.TaxAmount,
		&order.OrderDate,
		&order.ShippedDate,
		&order.DeliveredDate,
		&order.Notes,
		&order.ShippingAddress,
		&order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.OrderDate = order.OrderDate.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func (r orderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	order.OrderNumber = strings.TrimSpace(order.OrderNumber)
	updatedAt := order.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = order.OrderDate
	}
	row := r.store.q(ctx).QueryRow(ctx, `
		INSERT INTO orders (order_number, user_id, status, total_amount, discount_amount, tax_amount,
			order_date, shipped_date, delivered_date, notes, shipping_address, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+orderColumns,
		order.OrderNumber,
		order.UserID,
		string(order.Status),
		order.TotalAmount,
		order.DiscountAmount,
		order.TaxAmount,
		order.OrderDate,
		order.ShippedDate,
		order.DeliveredDate,
		order.Notes,
		order.ShippingAddress,
		updatedAt,
	)
	stored, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, wrapError("orders.insert", err)
	}
	return stored, nil
}

func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	tag, err := r.store.q(ctx).Exec(ctx, `
		UPDATE orders SET
			status = $2,
			total_amount = $3,
			discount_amount = $4,
			tax_amount = $5,
			shipped_date = $6,
			delivered_date = $7,
			notes = $8,
			shipping_address = $9,
			updated_at = $10
		WHERE id = $1`,
		order.ID,
		string(order.Status),
		order.TotalAmount,
		order.DiscountAmount,
		order.TaxAmount,
		order.ShippedDate,
		order.DeliveredDate,
		order.Notes,
		order.ShippingAddress,
		order.UpdatedAt,
	)
	if err != nil {
		return wrapError("orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("orders.update", "order %d", order.ID)
	}
	return nil
}

func (r orderRepository) Delete(ctx context.Context, orderID int64) error {
	tag, err := r.store.q(ctx).Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return wrapError("orders.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("orders.delete", "order %d", orderID)
	}
	return nil
}

func (r orderRepository) FindByID(ctx context.Context, orderID int64) (domain.Order, error) {
	order, err := scanOrder(r.store.q(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return domain.Order{}, wrapError("orders.get", err)
	}
	return order, nil
}

func (r orderRepository) FindByIDForUpdate(ctx context.Context, orderID int64) (domain.Order, error) {
	order, err := scanOrder(r.store.q(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return domain.Order{}, wrapError("orders.get_for_update", err)
	}
	return order, nil
}

func (r orderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	order, err := scanOrder(r.store.q(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, strings.TrimSpace(orderNumber)))
	if err != nil {
		return domain.Order{}, wrapError("orders.get_by_number", err)
	}
	return order, nil
}

func (r orderRepository) NumberExists(ctx context.Context, orderNumber string) (bool, error) {
	var exists bool
	err := r.store.q(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)`, strings.TrimSpace(orderNumber)).Scan(&exists)
	if err != nil {
		return false, wrapError("orders.number_exists", err)
	}
	return exists, nil
}

func (r orderRepository) CountPlacedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := r.store.q(ctx).QueryRow(ctx, `SELECT count(*) FROM orders WHERE order_date >= $1 AND order_date < $2`, from, to).Scan(&count)
	if err != nil {
		return 0, wrapError("orders.count_placed_between", err)
	}
	return count, nil
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	var (
		conditions []string
		args       []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.PlacedFrom != nil {
		add("order_date >= $%d", *filter.PlacedFrom)
	}
	if filter.PlacedTo != nil {
		add("order_date < $%d", *filter.PlacedTo)
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	q := r.store.q(ctx)
	page := domain.Page[domain.Order]{Page: 1, PageSize: filter.PageSize}
	if err := q.QueryRow(ctx, `SELECT count(*) FROM orders`+where, args...).Scan(&page.Total); err != nil {
		return domain.Page[domain.Order]{}, wrapError("orders.list", err)
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where + ` ORDER BY order_date DESC, id DESC`
	if filter.PageSize > 0 {
		if filter.Page > 1 {
			page.Page = filter.Page
		}
		args = append(args, filter.PageSize, (page.Page-1)*filter.PageSize)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.Order]{}, wrapError("orders.list", err)
	}
	defer rows.Close()

	page.Items = make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.Page[domain.Order]{}, wrapError("orders.list", err)
		}
		page.Items = append(page.Items, order)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Order]{}, wrapError("orders.list", err)
	}
	if filter.PageSize <= 0 {
		page.PageSize = len(page.Items)
	}
	return page, nil
}

type orderItemRepository struct {
	store *Store
}

const itemColumns = `id, order_id, product_id, unit_price, quantity, discount_amount`

func scanItem(row pgx.Row) (domain.OrderItem, error) {
	var item domain.OrderItem
	err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.UnitPrice, &item.Quantity, &item.DiscountAmount)
	return item, err
}

func (r orderItemRepository) Insert(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	stored, err := scanItem(r.store.q(ctx).QueryRow(ctx, `
		INSERT INTO order_items (order_id, product_id, unit_price, quantity, discount_amount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+itemColumns,
		item.OrderID, item.ProductID, item.UnitPrice, item.Quantity, item.DiscountAmount,
	))
	if err != nil {
		return domain.OrderItem{}, wrapError("order_items.insert", err)
	}
	return stored, nil
}

func (r orderItemRepository) Update(ctx context.Context, item domain.OrderItem) error {
	tag, err := r.store.q(ctx).Exec(ctx, `
		UPDATE order_items SET unit_price = $3, quantity = $4, discount_amount = $5
		WHERE id = $1 AND order_id = $2`,
		item.ID, item.OrderID, item.UnitPrice, item.Quantity, item.DiscountAmount,
	)
	if err != nil {
		return wrapError("order_items.update", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("order_items.update", "item %d on order %d", item.ID, item.OrderID)
	}
	return nil
}

func (r orderItemRepository) Delete(ctx context.Context, orderID, itemID int64) error {
	tag, err := r.store.q(ctx).Exec(ctx, `DELETE FROM order_items WHERE id = $1 AND order_id = $2`, itemID, orderID)
	if err != nil {
		return wrapError("order_items.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("order_items.delete", "item %d on order %d", itemID, orderID)
	}
	return nil
}

func (r orderItemRepository) DeleteByOrder(ctx context.Context, orderID int64) error {
	if _, err := r.store.q(ctx).Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return wrapError("order_items.delete_by_order", err)
	}
	return nil
}

func (r orderItemRepository) FindByID(ctx context.Context, orderID, itemID int64) (domain.OrderItem, error) {
	item, err := scanItem(r.store.q(ctx).QueryRow(ctx, `SELECT `+itemColumns+` FROM order_items WHERE id = $1 AND order_id = $2`, itemID, orderID))
	if err != nil {
		return domain.OrderItem{}, wrapError("order_items.get", err)
	}
	return item, nil
}

func (r orderItemRepository) ListByOrder(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	rows, err := r.store.q(ctx).Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, wrapError("order_items.list", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		return scanItem(row)
	})
	if err != nil {
		return nil, wrapError("order_items.list", err)
	}
	return items, nil
}
