// Package errors provides kinded error handling for the settlement core.
// Every failure the engine can surface carries a Kind so callers and the
// operator API can branch on the taxonomy without string matching.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error kinds raised by the settlement pipeline. Kinds under ValidationError
// are surfaced before any balance-mutating call.
const (
	KindValidation              = "ValidationError"
	KindBadSignature            = "BadSignature"
	KindExpiredOrder            = "ExpiredOrder"
	KindReplayedOrder           = "ReplayedOrder"
	KindCurrencyNotWhitelisted  = "CurrencyNotWhitelisted"
	KindStrategyNotWhitelisted  = "StrategyNotWhitelisted"
	KindStrategyExecutionFailed = "StrategyExecutionFailed"
	KindInsufficientValue       = "InsufficientValue"
	KindInsufficientBridgeFee   = "InsufficientBridgeFee"
	KindTransferRejected        = "TransferRejected"
	KindFeesExceedPrice         = "FeesExceedPrice"
	KindUntrustedRemote         = "UntrustedRemote"
	KindRemoteBindingMissing    = "RemoteBindingMissing"
	KindConfig                  = "ConfigError"
	KindNotFound                = "NotFound"
	KindInternal                = "Internal"
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicates the error
	Message string `json:"message"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

// Wrap annotates err without losing its kind: a wrapped kinded error keeps
// its kind, anything else becomes Internal.
func Wrap(err error) *Error {
	kind := KindInternal
	var e *Error
	if As(err, &e) {
		kind = e.Kind
	}
	return &Error{Kind: kind, cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	if len(e.trace) > 0 {
		str = str + fmt.Sprintf("\n\nTrace: %s", string(e.trace))
	}
	return str
}

// Reason returns a copy of the error with kind set to given value
func (e *Error) Reason(kind string) *Error {
	err := *e
	err.Kind = kind
	return &err
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap sets the error cause
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Trace sets the error stack trace
func (e *Error) Trace() *Error {
	stack := make([]byte, 2048)
	n := runtime.Stack(stack, false)
	e.trace = stack[:n]
	return e
}

// Is implements the needed interface for errors.Is; kinds compare equal.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// MarshalJSON renders the error for API responses.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}{Kind: e.Kind, Message: e.Message})
}

// KindOf reports the kind of err, or KindInternal when err carries none.
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind string) bool {
	var e *Error
	if As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Validation constructs a validation error with the given detail. Validation
// failures are always pre-mutation and recoverable by resubmitting.
func Validation(message string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(message, args...)}
}
