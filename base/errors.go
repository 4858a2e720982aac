package base

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes contract failures so the gateway can map them to a
// stable response class.
type ErrorKind string

const (
	ErrValidation         ErrorKind = "validation"
	ErrNotFound           ErrorKind = "not_found"
	ErrDuplicateID        ErrorKind = "duplicate_id"
	ErrInvalidTransition  ErrorKind = "invalid_transition"
	ErrSchedulingConflict ErrorKind = "scheduling_conflict"
	ErrBusinessRule       ErrorKind = "business_rule"
)

// Error is the typed failure raised by contract code. Raising one aborts the
// whole transaction; no partial writes are ever committed. Read-set conflicts
// at commit time are detected by the peer's validator and never surface
// through this type.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError reports a malformed or missing input value.
func NewValidationError(code, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports an absent key.
func NewNotFoundError(code, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewDuplicateIDError reports a unique-key collision on create.
func NewDuplicateIDError(code, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrDuplicateID, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidTransitionError reports an illegal state-machine move.
func NewInvalidTransitionError(code, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrInvalidTransition, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewSchedulingConflictError reports an appointment slot overlap.
func NewSchedulingConflictError(code, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrSchedulingConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewBusinessRuleError reports a domain rule rejection such as an exhausted
// refill or an expired prescription.
func NewBusinessRuleError(code, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrBusinessRule, Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a contract error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// CodeOf returns the machine code of a contract error, or "" for other errors.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
