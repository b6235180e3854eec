package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrExpired          = errors.New("link expired")
	ErrAlreadyCompleted = errors.New("already completed")
	ErrCancelled        = errors.New("booking cancelled")
	ErrQrAlreadyUsed    = errors.New("qr code already used")
	ErrInternal         = errors.New("internal error")
	ErrInvalidState     = errors.New("invalid state")
)

// IncompleteError lists identity fields that still hold no usable value.
type IncompleteError struct {
	MissingFields []string
}

func (e *IncompleteError) Error() string {
	return "incomplete information: " + strings.Join(e.MissingFields, ", ")
}

// CapacityError carries the seats still free in the requested slot.
type CapacityError struct {
	Requested      int
	RemainingSlots int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("slot capacity exceeded: requested %d, %d remaining", e.Requested, e.RemainingSlots)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
