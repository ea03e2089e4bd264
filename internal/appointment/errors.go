package appointment

import (
	"errors"
	"fmt"
)

// Kind classifies failures so the transport can pick a status code and
// clients can tell "refresh availability" apart from "pick something else".
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindSlotUnavailable Kind = "SLOT_UNAVAILABLE"
	KindInvalidInput    Kind = "INVALID_INPUT"
	KindUnauthorized    Kind = "UNAUTHORIZED"
	KindInternal        Kind = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrDoctorNotFound             = &Error{Kind: KindNotFound, Message: "doctor not found"}
	ErrUserNotFound               = &Error{Kind: KindNotFound, Message: "user not found"}
	ErrAppointmentNotFound        = &Error{Kind: KindNotFound, Message: "appointment not found"}
	ErrDateNotFound               = &Error{Kind: KindNotFound, Message: "no availability for the selected date"}
	ErrNoDoctorsForSpecialization = &Error{Kind: KindNotFound, Message: "no doctors found for this specialization"}
	ErrSlotUnavailable            = &Error{Kind: KindSlotUnavailable, Message: "selected slot is not available"}
	ErrNotAppointmentOwner        = &Error{Kind: KindUnauthorized, Message: "appointment belongs to another doctor"}
	ErrInvalidChoice              = &Error{Kind: KindInvalidInput, Message: "choice does not match the previous selection"}
)

// InvalidInput builds a validation failure with a caller-facing message.
func InvalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps a persistence or transport fault.
func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf classifies err. Anything not produced by this package is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
