package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock mutations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorProductNotFound indicates the product row does not exist.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorNegative indicates a write would have driven the stock quantity below zero.
	StockErrorNegative StockErrorCode = "stock_negative"
)

// StockError wraps stock-specific failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID int64
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.ProductID != 0 {
		msg = fmt.Sprintf("%s (product %d)", msg, e.ProductID)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the product was missing.
func (e *StockError) IsNotFound() bool { return e != nil && e.Code == StockErrorProductNotFound }

// IsConflict reports whether the write violated the non-negative stock constraint.
func (e *StockError) IsConflict() bool { return e != nil && e.Code == StockErrorNegative }

// IsUnavailable is always false; transport failures surface as backend errors.
func (e *StockError) IsUnavailable() bool { return false }

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, productID int64, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:      code,
		ProductID: productID,
		Message:   message,
		Err:       err,
	}
}
