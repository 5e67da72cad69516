// Package status defines the fixed set of status codes returned by the responder
// and the error type carrying them.
package status

import (
	"errors"
	"fmt"
)

// Code is a responder status code. Every failure maps to exactly one code.
type Code uint32

const (
	// Success indicates the operation completed.
	Success Code = iota
	// InvalidParameter indicates a nil, out-of-region or malformed input.
	InvalidParameter
	// InvalidState indicates the operation was invoked outside its required preceding state.
	InvalidState
	// CryptoFailure indicates key generation, agreement or derivation failed.
	CryptoFailure
	// ReportMismatch indicates the attested report does not match the requested one.
	ReportMismatch
	// InvalidQuote indicates a quote length outside the configured bounds, or an unparsable quote.
	InvalidQuote
	// SizeMismatch indicates a declared variable-length size does not match the delivered buffer.
	SizeMismatch
	// MacMismatch indicates the echoed public key in message 3 differs from the one of message 1.
	MacMismatch
	// MacVerifyFailed indicates the message 3 MAC did not verify.
	MacVerifyFailed
	// QuoteNotTrusted indicates the quote verification result was rejected by policy.
	QuoteNotTrusted
	// QuoteExpired indicates the verification result or its collateral has expired.
	QuoteExpired
	// BindingMismatch indicates the quote's report data is not bound to the exchanged keys.
	BindingMismatch
	// OutOfMemory indicates the session table is full.
	OutOfMemory
	// Unexpected indicates an error that carries no status code.
	Unexpected
)

var codeNames = map[Code]string{
	Success:          "Success",
	InvalidParameter: "InvalidParameter",
	InvalidState:     "InvalidState",
	CryptoFailure:    "CryptoFailure",
	ReportMismatch:   "ReportMismatch",
	InvalidQuote:     "InvalidQuote",
	SizeMismatch:     "SizeMismatch",
	MacMismatch:      "MacMismatch",
	MacVerifyFailed:  "MacVerifyFailed",
	QuoteNotTrusted:  "QuoteNotTrusted",
	QuoteExpired:     "QuoteExpired",
	BindingMismatch:  "BindingMismatch",
	OutOfMemory:      "OutOfMemory",
	Unexpected:       "Unexpected",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// Category groups status codes into the error taxonomy.
type Category int

const (
	// NoError is the category of Success.
	NoError Category = iota
	// ParameterError covers malformed, out-of-region or size-mismatched input.
	ParameterError
	// StateError covers operations invoked in the wrong protocol state.
	StateError
	// CryptoError covers key generation, agreement and derivation failures.
	CryptoError
	// TrustError covers rejected, expired or unbound quotes and reports.
	TrustError
	// IntegrityError covers MAC verification failures.
	IntegrityError
	// ResourceError covers exhaustion of the session table.
	ResourceError
	// UnknownError covers everything else.
	UnknownError
)

func (c Category) String() string {
	switch c {
	case NoError:
		return "NoError"
	case ParameterError:
		return "ParameterError"
	case StateError:
		return "StateError"
	case CryptoError:
		return "CryptoError"
	case TrustError:
		return "TrustError"
	case IntegrityError:
		return "IntegrityError"
	case ResourceError:
		return "ResourceError"
	default:
		return "UnknownError"
	}
}

// Category returns the taxonomy category of the code.
func (c Code) Category() Category {
	switch c {
	case Success:
		return NoError
	case InvalidParameter, InvalidQuote, SizeMismatch:
		return ParameterError
	case InvalidState:
		return StateError
	case CryptoFailure:
		return CryptoError
	case ReportMismatch, QuoteNotTrusted, QuoteExpired, BindingMismatch:
		return TrustError
	case MacMismatch, MacVerifyFailed:
		return IntegrityError
	case OutOfMemory:
		return ResourceError
	default:
		return UnknownError
	}
}

// Error is an error carrying a status code.
// Messages must never contain key material.
type Error struct {
	Code Code
	msg  string
	err  error
}

// Errorf creates an *Error with the given code and a formatted message.
// A %w verb in format is unwrapped like with fmt.Errorf.
func Errorf(code Code, format string, args ...any) error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{
		Code: code,
		msg:  wrapped.Error(),
		err:  errors.Unwrap(wrapped),
	}
}

// New creates an *Error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, msg: msg}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.msg == "" || t.msg == e.msg)
}

// FromError returns the status code carried by err.
// A nil error maps to Success, an error without a code to Unexpected.
func FromError(err error) Code {
	if err == nil {
		return Success
	}
	var statusErr *Error
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return Unexpected
}
