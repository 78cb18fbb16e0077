package datamodel

import "fmt"

// Returned when a VLAN id, a port index or storm parameters are out of
// the configured range.
type ValidationError struct {
	Field  string
	Reason string
}

// Creates the validation error for the field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Returned when the address pool of a VLAN is full or the session limit is
// reached.
type ResourceExhaustedError struct {
	Resource string
	Limit    int
}

// Returns the error message.
func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("%s exhausted (limit %d)", e.Resource, e.Limit)
}

// Returned when a session is added with a hardware address or a
// transaction id that is already in use.
type DuplicateIdentityError struct {
	Kind  string
	Value string
}

// Returns the error message.
func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.Value)
}

// Returned when a frame cannot be decoded.
type MalformedFrameError struct {
	Reason string
}

// Returns the error message.
func (e *MalformedFrameError) Error() string {
	return "malformed frame: " + e.Reason
}

// Returned when no session is correlated with the transaction id.
type UnknownSessionError struct {
	XID uint32
}

// Returns the error message.
func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("no session for transaction id %d", e.XID)
}

// Returned when a storm is started while another one is running.
type ConflictingOperationError struct {
	Operation string
}

// Returns the error message.
func (e *ConflictingOperationError) Error() string {
	return e.Operation + " is already in progress"
}

// Returned when a frame cannot be delivered to a subscriber.
type TransportFailureError struct {
	Subscriber string
	Cause      error
}

// Returns the error message.
func (e *TransportFailureError) Error() string {
	return fmt.Sprintf("cannot send to subscriber %s: %v", e.Subscriber, e.Cause)
}

// Returns the cause of the failure.
func (e *TransportFailureError) Unwrap() error {
	return e.Cause
}
