package types

import (
	"errors"
	"fmt"
)

// Domain errors for input validation
var (
	ErrEmptyItems        = errors.New("at least one item is required")
	ErrMissingAddress    = errors.New("delivery address is required")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrMissingProductID  = errors.New("product id is required")
	ErrInvalidPhone      = errors.New("invalid phone number")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrMissingIdentity   = errors.New("authenticated identity is required")
	ErrNegativeUnitPrice = errors.New("unit price cannot be negative")
)

// Kind classifies an error for callers that need to react to it
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindGateway
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindGateway:
		return "gateway"
	default:
		return "internal"
	}
}

// Error is a classified service error
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message == "" {
			return e.Err.Error()
		}
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a classified error with a formatted message
func E(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err, keeping it available to errors.Is and errors.As
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
