package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InsufficientFundsError is returned when an operation would commit more of a
// currency than the user has available (balance minus active allocations).
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
	Currency  string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s %s, available %s", e.Required, e.Currency, e.Available)
}

// InvalidStateError is returned when an order or position is not in a state
// that permits the attempted operation.
type InvalidStateError struct {
	Status    string
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: current status is %s", e.Operation, e.Status)
}

// InvalidQuantityError covers non-positive amounts and fills exceeding the
// remaining quantity.
type InvalidQuantityError struct {
	Reason string
}

func (e *InvalidQuantityError) Error() string {
	return "invalid quantity: " + e.Reason
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found: " + e.ID
}

// StorageError wraps unexpected persistence failures so callers can
// distinguish them from domain errors.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
