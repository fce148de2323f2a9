package domain

import (
	"errors"
	"fmt"
)

// ValidationError is returned when local input is rejected before it reaches the queue
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// QueueFullError is returned when the offline queue is at capacity
type QueueFullError struct {
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("offline queue is full (%d pending updates)", e.Capacity)
}

// TemplateInvalidError is returned when a milestone template fails validation
type TemplateInvalidError struct {
	Template string
	Sum      int
	Reason   string
}

func (e *TemplateInvalidError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("template %q is invalid: %s", e.Template, e.Reason)
	}
	return fmt.Sprintf("template %q is invalid: weights sum to %d, want 100", e.Template, e.Sum)
}

// ConflictError is returned by the gateway when the remote state is
// authoritative and the local update must be discarded.
type ConflictError struct {
	TargetID      string
	MilestoneName string
	Reason        string
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("conflict on %s/%s", e.TargetID, e.MilestoneName)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// AuthError is returned by the gateway when credentials are no longer valid
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "authentication required"
	}
	return "authentication required: " + e.Message
}

// TransientError wraps a retryable gateway failure (server error, timeout, network)
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient gateway failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient gateway failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is or wraps a ConflictError
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsAuth reports whether err is or wraps an AuthError
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransient reports whether err is or wraps a TransientError
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsQueueFull reports whether err is or wraps a QueueFullError
func IsQueueFull(err error) bool {
	var qe *QueueFullError
	return errors.As(err, &qe)
}

// IsTemplateInvalid reports whether err is or wraps a TemplateInvalidError
func IsTemplateInvalid(err error) bool {
	var te *TemplateInvalidError
	return errors.As(err, &te)
}
