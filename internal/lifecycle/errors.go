package lifecycle

import (
	"errors"
	"fmt"

	"github.com/safar/dental-lab-orders/internal/models"
)

// ErrForbidden is returned when the acting user may not perform the operation.
var ErrForbidden = errors.New("forbidden")

// ValidationError rejects malformed or missing input before any state change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransitionError rejects a status change the state machine does not allow.
type TransitionError struct {
	From   models.OrderStatus
	To     models.OrderStatus
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("transition from %q to %q not allowed", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}
