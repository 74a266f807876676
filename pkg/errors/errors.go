// Package errors defines the classified error taxonomy shared by the index
// stores, the query executor and the maintenance coordinator.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("item not found")
	ErrStaleIndexReference = errors.New("stale index reference")
	ErrMaintenanceWrite    = errors.New("maintenance write failed")
	ErrInvalidQuery        = errors.New("invalid query")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// Kind classifies an Error for callers that switch on failure class rather
// than on a specific sentinel.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindStaleIndexReference
	KindMaintenanceWrite
	KindInvalidQuery
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindStaleIndexReference:
		return "stale_index_reference"
	case KindMaintenanceWrite:
		return "maintenance_write_failure"
	case KindInvalidQuery:
		return "invalid_query"
	case KindStoreUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindStaleIndexReference:
		return ErrStaleIndexReference
	case KindMaintenanceWrite:
		return ErrMaintenanceWrite
	case KindInvalidQuery:
		return ErrInvalidQuery
	case KindStoreUnavailable:
		return ErrStoreUnavailable
	default:
		return nil
	}
}

// Error is a classified failure. Op names the operation that failed and Err,
// when set, is the underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func New(kind Kind, op string, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the classification of err, looking through wrapping.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStaleIndexReference):
		return KindStaleIndexReference
	case errors.Is(err, ErrMaintenanceWrite):
		return KindMaintenanceWrite
	case errors.Is(err, ErrInvalidQuery):
		return KindInvalidQuery
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	default:
		return KindUnknown
	}
}

func IsNotFound(err error) bool         { return errors.Is(err, ErrNotFound) }
func IsInvalidQuery(err error) bool     { return errors.Is(err, ErrInvalidQuery) }
func IsStoreUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }
