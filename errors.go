package authcore

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed caller input. It is safe to say which field failed.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated is returned for every refused credential, session, state,
	// or lockout. The message never changes with the cause.
	ErrUnauthenticated = errors.New("invalid credentials")
	// ErrConflict is returned when registering an email that already exists.
	ErrConflict = errors.New("email already registered")
	// ErrServiceUnavailable means a backing store or the identity provider failed
	// or timed out. Callers may retry.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrInternal is a signing, hashing, or encoding fault. Details are logged,
	// never returned.
	ErrInternal = errors.New("internal error")
	// ErrInvalidConfig is returned by Config.Validate and Builder.Build.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrEngineNotReady is returned when a required collaborator is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ValidationError names the input field that failed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func validationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ErrorKind is the taxonomy class of an error returned by Engine.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindValidation
	KindUnauthenticated
	KindConflict
	KindServiceUnavailable
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindConflict:
		return "conflict"
	case KindServiceUnavailable:
		return "service_unavailable"
	default:
		return "internal"
	}
}

// Kind classifies err. Errors outside the taxonomy are KindInternal.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrServiceUnavailable):
		return KindServiceUnavailable
	default:
		return KindInternal
	}
}

// taxonomyError pairs a public taxonomy error with its internal cause. Error
// reports only the public message; errors.Is matches both.
type taxonomyError struct {
	kind  error
	cause error
}

func (e *taxonomyError) Error() string {
	return e.kind.Error()
}

func (e *taxonomyError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

func wrapKind(kind, cause error) error {
	return &taxonomyError{kind: kind, cause: cause}
}
