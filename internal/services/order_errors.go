package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOrderValidation signals the caller provided invalid data.
	ErrOrderValidation = errors.New("order: validation failed")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderItemDuplicate indicates the order already lists the product.
	ErrOrderItemDuplicate = errors.New("order: product already on order")
	// ErrProductNotFound indicates a referenced product does not exist.
	ErrProductNotFound = errors.New("order: product not found")
	// ErrUserNotFound indicates the ordering user does not exist.
	ErrUserNotFound = errors.New("order: user not found")
	// ErrOrderInvalidTransition indicates the lifecycle does not allow the requested status change.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderNotModifiable indicates the order has left the pending state and can no longer be edited.
	ErrOrderNotModifiable = errors.New("order: not modifiable")
	// ErrOrderConflict indicates a concurrent write or constraint violation.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrDuplicateOrderNumber indicates the generated order number is already taken.
	ErrDuplicateOrderNumber = errors.New("order: duplicate order number")
	// ErrOrderNumberExhausted indicates no free order number was found within the attempt budget.
	ErrOrderNumberExhausted = errors.New("order: order number space exhausted")
	// ErrOrderUnavailable indicates the backing store could not be reached.
	ErrOrderUnavailable = errors.New("order: repository unavailable")

	// ErrStockInvalidInput signals a non-positive quantity or an empty line set.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrInsufficientStock indicates a reservation would drive stock below zero.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
)

// StockShortage describes a single product that could not satisfy a reservation.
type StockShortage struct {
	ProductID int64
	Requested int
	Available int
}

// InsufficientStockError lists every shortage found while validating a reservation. It matches
// ErrInsufficientStock via errors.Is.
type InsufficientStockError struct {
	Shortages []StockShortage
}

// Error implements the error interface.
func (e *InsufficientStockError) Error() string {
	if e == nil || len(e.Shortages) == 0 {
		return ErrInsufficientStock.Error()
	}
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("product %d requested %d available %d", s.ProductID, s.Requested, s.Available))
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock.Error(), strings.Join(parts, "; "))
}

// Is reports whether target is ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
