package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hanko-field/orders/internal/repositories"
)

// SQLSTATE codes the repositories translate.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

const (
	constraintOrderNumber      = "orders_order_number_key"
	constraintItemProduct      = "order_items_order_product_key"
	constraintItemOrderFK      = "order_items_order_id_fkey"
	constraintItemProductFK    = "order_items_product_id_fkey"
	constraintStockNonNegative = "products_stock_quantity_check"
)

// Error implements repositories.RepositoryError for the Postgres backend.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

var _ repositories.RepositoryError = (*Error)(nil)

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("postgres %s: %v", e.op, e.err)
}

// Unwrap returns the underlying driver error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the row did not exist.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the statement violated a constraint or lost a concurrency race.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports whether the database could not be reached in time.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

func notFoundError(op string, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), notFound: true}
}

// wrapError categorises driver failures. Constraint violations that the services treat specially
// are returned as typed repository errors instead.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{op: op, err: err, notFound: true}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{op: op, err: err, unavailable: true}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			switch pgErr.ConstraintName {
			case constraintOrderNumber:
				return repositories.NewOrderError(repositories.OrderErrorDuplicateNumber, "order number already exists", err)
			case constraintItemProduct:
				return repositories.NewOrderError(repositories.OrderErrorDuplicateItem, "order already lists the product", err)
			}
			return &Error{op: op, err: err, conflict: true}
		case codeForeignKeyViolation:
			switch pgErr.ConstraintName {
			case constraintItemProductFK:
				return repositories.NewOrderError(repositories.OrderErrorProductReferenced, "product is referenced by order items or does not exist", err)
			case constraintItemOrderFK:
				return &Error{op: op, err: err, notFound: true}
			}
			return &Error{op: op, err: err, conflict: true}
		case codeCheckViolation:
			return &Error{op: op, err: err, conflict: true}
		case codeSerializationFailure, codeDeadlockDetected:
			return &Error{op: op, err: err, conflict: true}
		}
		return &Error{op: op, err: err}
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) {
		return &Error{op: op, err: err, unavailable: true}
	}
	return &Error{op: op, err: err}
}

// isStockCheckViolation reports whether err came from the non-negative stock constraint.
func isStockCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeCheckViolation && pgErr.ConstraintName == constraintStockNonNegative
}
