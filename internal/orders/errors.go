package orders

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinels for errors.Is; the typed errors below carry the details.
var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrSlotUnavailable     = errors.New("pickup slot unavailable")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state transition")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrPersistence         = errors.New("persistence failure")

	// ErrDuplicateOrderNumber is returned by Tx.InsertOrder on a unique
	// violation; the transaction stays usable so the caller can retry.
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type InsufficientStockError struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type SlotUnavailableError struct {
	SlotID string `json:"slot_id"`
}

func (e *SlotUnavailableError) Error() string {
	return "pickup slot unavailable: " + e.SlotID
}

func (e *SlotUnavailableError) Is(target error) bool { return target == ErrSlotUnavailable }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

type InvalidStateError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// ConflictError means a lock wait timed out or the store aborted the
// transaction to break a deadlock. Callers may retry.
type ConflictError struct {
	Op  string
	Err error
}

func (e *ConflictError) Error() string {
	if e.Err == nil {
		return "concurrency conflict: " + e.Op
	}
	return fmt.Sprintf("concurrency conflict: %s: %v", e.Op, e.Err)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

func (e *ConflictError) Unwrap() error { return e.Err }

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *PersistenceError) Unwrap() error { return e.Err }
