package ledger

import (
	"errors"
	"fmt"

	"agentledger/internal/storage"
)

// Kind classifies a ledger failure. The string value is the error name
// reported to tool callers.
type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindNotFound       Kind = "NotFoundError"
	KindState          Kind = "StateError"
	KindIO             Kind = "IOError"
	KindStorage        Kind = "StorageError"
	KindMissingContent Kind = "MissingContent"
)

// Sentinels for errors.Is. ErrMissingContent also matches ErrIO.
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrState          = errors.New("invalid state")
	ErrIO             = errors.New("io error")
	ErrStorage        = errors.New("storage error")
	ErrMissingContent = fmt.Errorf("missing content: %w", ErrIO)
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindState:
		return ErrState
	case KindIO:
		return ErrIO
	case KindMissingContent:
		return ErrMissingContent
	default:
		return ErrStorage
	}
}

// Error is the structured failure returned by every ledger operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Name reports the error kind as shown to tool callers.
func (e *Error) Name() string {
	return string(e.Kind)
}

func newError(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

func validationErr(op, format string, args ...any) error {
	return newError(KindValidation, op, nil, format, args...)
}

func notFoundErr(op, format string, args ...any) error {
	return newError(KindNotFound, op, nil, format, args...)
}

func stateErr(op, format string, args ...any) error {
	return newError(KindState, op, nil, format, args...)
}

func ioErr(op string, err error, format string, args ...any) error {
	return newError(KindIO, op, err, format, args...)
}

// storageErr maps a Store failure onto the ledger error kinds.
func storageErr(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return newError(KindNotFound, op, err, "record not found")
	case errors.Is(err, storage.ErrChangeCommitted):
		return newError(KindState, op, err, "change already belongs to a commit")
	default:
		return newError(KindStorage, op, err, "storage failure")
	}
}

// AsError extracts a *Error from err, wrapping foreign errors as StorageError.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	return &Error{Kind: KindStorage, Message: err.Error()}
}
