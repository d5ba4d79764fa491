package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure. The string form is what API callers see.
type Kind string

const (
	KindInvalidArgument     Kind = "InvalidArgument"
	KindNotFound            Kind = "NotFound"
	KindInvalidState        Kind = "InvalidState"
	KindInsufficientBalance Kind = "InsufficientBalance"
	KindBalanceCheckFailed  Kind = "BalanceCheckFailed"
	KindAlreadyPaid         Kind = "AlreadyPaid"
	KindAuthentication      Kind = "AuthenticationError"
	KindTransport           Kind = "TransportError"
	KindAddressInvalid      Kind = "AddressInvalid"
	KindInternal            Kind = "Internal"
)

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrBalanceCheckFailed  = &Error{Kind: KindBalanceCheckFailed}
	ErrAlreadyPaid         = &Error{Kind: KindAlreadyPaid}
	ErrAuthentication      = &Error{Kind: KindAuthentication}
	ErrTransport           = &Error{Kind: KindTransport}
	ErrAddressInvalid      = &Error{Kind: KindAddressInvalid}
)

// Error is a classified failure with a human readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	case e.Message != "":
		return e.Message
	case e.Cause != nil:
		return e.Cause.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func InvalidArgument(format string, args ...interface{}) *Error {
	return New(KindInvalidArgument, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func InvalidState(format string, args ...interface{}) *Error {
	return New(KindInvalidState, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf returns the message of the first *Error in err's chain, falling back to err.Error().
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
