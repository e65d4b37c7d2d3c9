package model

import (
	"errors"
	"time"
)

// ErrorKind is the stable, caller-facing classification of a failure.
type ErrorKind string

const (
	KindValidation                 ErrorKind = "ValidationError"
	KindNotFound                   ErrorKind = "NotFound"
	KindForbidden                  ErrorKind = "Forbidden"
	KindEventNotActive             ErrorKind = "EventNotActive"
	KindRegistrationClosed         ErrorKind = "RegistrationClosed"
	KindDuplicateRegistration      ErrorKind = "DuplicateRegistration"
	KindEventFull                  ErrorKind = "EventFull"
	KindInvalidRegistrationState   ErrorKind = "InvalidRegistrationState"
	KindInvalidPaymentState        ErrorKind = "InvalidPaymentState"
	KindPaymentNotCaptured         ErrorKind = "PaymentNotCaptured"
	KindGatewayTimeout             ErrorKind = "GatewayTimeout"
	KindGatewayUnavailable         ErrorKind = "GatewayUnavailable"
	KindAccountLocked              ErrorKind = "AccountLocked"
	KindInvalidCredentials         ErrorKind = "InvalidCredentials"
	KindTokenInvalidOrExpired      ErrorKind = "TokenInvalidOrExpired"
	KindNotificationChannelFailure ErrorKind = "NotificationChannelFailure"
	KindInternal                   ErrorKind = "Internal"
)

// Error carries a stable Kind alongside a human-readable message.
// Two Errors match under errors.Is when their kinds are equal.
type Error struct {
	Kind    ErrorKind
	Message string
	// RetryAfter is a hint for AccountLocked.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel errors for errors.Is checks.
var (
	ErrNotFound                 = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden                = &Error{Kind: KindForbidden, Message: "not allowed"}
	ErrEventNotActive           = &Error{Kind: KindEventNotActive, Message: "event is not open for registration"}
	ErrRegistrationClosed       = &Error{Kind: KindRegistrationClosed, Message: "registration deadline has passed"}
	ErrDuplicateRegistration    = &Error{Kind: KindDuplicateRegistration, Message: "student is already registered for this event"}
	ErrEventFull                = &Error{Kind: KindEventFull, Message: "event is fully booked"}
	ErrInvalidRegistrationState = &Error{Kind: KindInvalidRegistrationState, Message: "registration cannot change from its current state"}
	ErrInvalidPaymentState      = &Error{Kind: KindInvalidPaymentState, Message: "payment cannot change from its current state"}
	ErrPaymentNotCaptured       = &Error{Kind: KindPaymentNotCaptured, Message: "gateway has not captured the payment"}
	ErrGatewayTimeout           = &Error{Kind: KindGatewayTimeout, Message: "payment gateway did not answer in time"}
	ErrGatewayUnavailable       = &Error{Kind: KindGatewayUnavailable, Message: "payment gateway is unavailable"}
	ErrAccountLocked            = &Error{Kind: KindAccountLocked, Message: "account is temporarily locked"}
	ErrInvalidCredentials       = &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}
	ErrTokenInvalidOrExpired    = &Error{Kind: KindTokenInvalidOrExpired, Message: "token is invalid or expired"}
)

// NewError builds an Error of the given kind wrapping cause.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Validation builds a ValidationError with the given message.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Locked builds an AccountLocked error carrying the remaining lock time.
func Locked(remaining time.Duration) *Error {
	return &Error{Kind: KindAccountLocked, Message: ErrAccountLocked.Message, RetryAfter: remaining}
}

// KindOf returns the stable kind of err, or KindInternal for anything
// that is not a *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
