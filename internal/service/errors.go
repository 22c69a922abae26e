package service

import (
	"errors"
	"fmt"

	"pharmacy/internal/repository"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrAlreadyCompleted  = errors.New("prescription already completed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidStatus     = errors.New("invalid status")
)

// InsufficientStockError names the first item whose stock no longer covers the order.
type InsufficientStockError struct {
	Item      string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Item, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return repository.ErrInsufficientStock }

// invalidInput wraps ErrInvalidInput with the offending field.
func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
