package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrSlotAlreadyTaken   = errors.New("slot already taken")
	ErrValidationFailed   = errors.New("validation failed")
	ErrNotificationFailed = errors.New("notification failed")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrNotFound           = errors.New("not found")
)

// ValidationError carries per-field messages. It matches ErrValidationFailed via errors.Is.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns an empty ValidationError ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a message for field, keeping the first one.
func (e *ValidationError) Add(field, msg string) {
	if _, ok := e.Fields[field]; ok {
		return
	}
	e.Fields[field] = msg
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

// OrNil returns nil when there are no field errors.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

var errEmptyWindow = errors.New("start time must be before end time")

// Unavailable wraps a storage failure so callers can match ErrStoreUnavailable
// while the driver error stays reachable through errors.As.
func Unavailable(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
