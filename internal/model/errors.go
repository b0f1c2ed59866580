package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNoTransaction    = errors.New("event must be recorded inside the mutation transaction")
	ErrInvalidEventType = errors.New("invalid event type")
	ErrInvalidTenant    = errors.New("tenant id is required")
	ErrNoEventTypes     = errors.New("at least one event type is required")
	ErrInvalidURL       = errors.New("invalid webhook url")
	ErrInvalidName      = errors.New("name is required")
	ErrNotRetryable     = errors.New("only failed deliveries can be retried")
	ErrLeaseLost        = errors.New("delivery lease lost")
)

// InvalidEventTypeError names the offending event type.
type InvalidEventTypeError struct {
	Name string
}

func (e *InvalidEventTypeError) Error() string {
	return fmt.Sprintf("unsupported event type %q", e.Name)
}

func (e *InvalidEventTypeError) Unwrap() error { return ErrInvalidEventType }
