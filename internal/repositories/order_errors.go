package repositories

import "fmt"

// OrderErrorCode enumerates constraint failures reported by order repositories.
type OrderErrorCode string

const (
	// OrderErrorDuplicateNumber indicates another order already holds the order number.
	OrderErrorDuplicateNumber OrderErrorCode = "order_duplicate_number"
	// OrderErrorDuplicateItem indicates the order already lists the product.
	OrderErrorDuplicateItem OrderErrorCode = "order_duplicate_item"
	// OrderErrorProductReferenced indicates a line points at a product that cannot be used.
	OrderErrorProductReferenced OrderErrorCode = "order_product_reference"
)

// OrderError reports unique and foreign-key violations on orders and order items.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound is always false for constraint failures.
func (e *OrderError) IsNotFound() bool { return false }

// IsConflict reports true; every order error is a constraint conflict.
func (e *OrderError) IsConflict() bool { return e != nil }

// IsUnavailable is always false for constraint failures.
func (e *OrderError) IsUnavailable() bool { return false }

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{Code: code, Message: message, Err: err}
}
