// Package apperr is the error taxonomy shared by the booking engine. Expected
// outcomes carry a stable code and a message that is safe to show callers;
// internal errors keep the cause for logs and expose a generic message.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindForbidden  Kind = "forbidden"
	KindInternal   Kind = "internal"
)

// Stable machine-readable codes.
const (
	CodeValidation        = "validation_failed"
	CodeNotFound          = "not_found"
	CodeSlotNotAvailable  = "slot_not_available"
	CodePaymentExists     = "payment_exists"
	CodeAppointmentLocked = "appointment_has_payment"
	CodeNoSlots           = "no_slots_generated"
	CodeInvalidTransition = "invalid_transition"
	CodeForbidden         = "forbidden"
	CodeInternal          = "internal_error"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Fields maps input field names to problems for validation errors.
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: message, Fields: fields}
}

// Field is shorthand for a validation error on a single input field.
func Field(field, problem string) *Error {
	return Validation(field+": "+problem, map[string]string{field: problem})
}

func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: entity + " not found"}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func SlotNotAvailable() *Error {
	return Conflict(CodeSlotNotAvailable, "time slot is not available")
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: message}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// As returns err as *Error, wrapping unknown errors as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
