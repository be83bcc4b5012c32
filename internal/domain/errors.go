package domain

import (
	"errors"
	"fmt"
)

var (
	ErrResourceNotFound     = errors.New("resource not found")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrInvalidQuantity      = errors.New("quantity must be a positive integer")
	ErrConcurrencyConflict  = errors.New("concurrency conflict; retry the operation")
	ErrResourceInUse        = errors.New("resource is referenced by tasks")
)

// InsufficientQuantityError reports a reduction larger than what remains.
type InsufficientQuantityError struct {
	ResourceID   string
	ResourceName string
	Available    int
	Requested    int
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient quantity for resource %s: available %d, requested %d", e.ResourceName, e.Available, e.Requested)
}

func (e *InsufficientQuantityError) Is(target error) bool {
	return target == ErrInsufficientQuantity
}

// ValidationError flags a bad field value supplied by the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
