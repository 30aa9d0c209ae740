// Package apperr defines the error taxonomy shared by the engine's components.
//
// Every error that crosses a component boundary is classified into a Kind so
// callers can decide between retrying, surfacing to the client, or failing the
// source row. Preflight errors additionally carry a machine-readable code the
// client uses to self-heal (e.g. trigger an app opt-in).
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient covers HTTP 5xx and timeouts; retry with backoff.
	KindTransient
	// KindRateLimited covers HTTP 429; stop the loop, resume next tick.
	KindRateLimited
	// KindPreflight covers validation failures detected before submission.
	KindPreflight
	// KindFatal covers malformed input and invariant violations; the source
	// row is marked FAILED and the error bubbles up.
	KindFatal
	// KindNotFound covers missing rows and unknown references.
	KindNotFound
	// KindConflict covers idempotency collisions.
	KindConflict
)

// Machine-readable preflight codes returned over the session channel.
const (
	CodeUserNotOptedIntoApp   = "USER_NOT_OPTED_INTO_APP"
	CodeUserNotOptedIntoAsset = "USER_NOT_OPTED_INTO_ASSET"
	CodeAlreadyOptedIn        = "ALREADY_OPTED_IN"
	CodeInsufficientBalance   = "INSUFFICIENT_BALANCE"
	CodeSponsorUnavailable    = "SPONSOR_UNAVAILABLE"
	CodeInvalidAddress        = "INVALID_ADDRESS"
	CodeInvalidAmount         = "INVALID_AMOUNT"
	CodeInvalidPhone          = "INVALID_PHONE"
	CodeMessageTooLong        = "MESSAGE_TOO_LONG"
	CodeInviteNotFound        = "INVITE_NOT_FOUND"
	CodeInviteAlreadyClaimed  = "INVITE_ALREADY_CLAIMED"
	CodeGroupShapeMismatch    = "GROUP_SHAPE_MISMATCH"
	CodeExpiredGroup          = "EXPIRED_GROUP"
)

// Error is the engine's structured error.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	// RequiresAppOptIn hints the client must opt the account into AppID first.
	RequiresAppOptIn bool
	AppID            uint64
	Err              error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs an Error.
func E(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap constructs an Error around an underlying cause.
func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

// Transient wraps err as a retryable failure.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

// RateLimited wraps err as a 429-style failure.
func RateLimited(msg string, err error) *Error {
	return &Error{Kind: KindRateLimited, Msg: msg, Err: err}
}

// Preflight constructs a client-visible validation failure.
func Preflight(code, msg string) *Error {
	return &Error{Kind: KindPreflight, Code: code, Msg: msg}
}

// PreflightAppOptIn constructs the opt-in-required preflight error.
func PreflightAppOptIn(appID uint64) *Error {
	return &Error{
		Kind:             KindPreflight,
		Code:             CodeUserNotOptedIntoApp,
		Msg:              "account is not opted into the application",
		RequiresAppOptIn: true,
		AppID:            appID,
	}
}

// Fatal constructs a non-retryable failure.
func Fatal(msg string, err error) *Error {
	return &Error{Kind: KindFatal, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the machine code of err, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsRateLimited reports whether err is a stop-and-resume condition.
func IsRateLimited(err error) bool { return KindOf(err) == KindRateLimited }

// IsPreflight reports whether err is a client-visible validation failure.
func IsPreflight(err error) bool { return KindOf(err) == KindPreflight }
