package storage

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies every error the stores return.
type Kind int

const (
	KindStorageFailure Kind = iota
	KindNotFound
	KindAlreadyExists
	KindValidation
	KindUnsupportedBackend
	KindTimeout
	KindMigrationFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindValidation:
		return "validation error"
	case KindUnsupportedBackend:
		return "unsupported backend"
	case KindTimeout:
		return "timeout"
	case KindMigrationFailure:
		return "migration failure"
	default:
		return "storage failure"
	}
}

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrAlreadyExists      = &Error{Kind: KindAlreadyExists}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrUnsupportedBackend = &Error{Kind: KindUnsupportedBackend}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrStorageFailure     = &Error{Kind: KindStorageFailure}
	ErrMigrationFailure   = &Error{Kind: KindMigrationFailure}
)

// Error is the error type returned by stores, the migration manager and the
// resolver. Op names the failed operation. For not-found and validation
// errors Msg is the whole caller-facing message and the wrapped Err is
// never rendered, so schema and driver details do not leak.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil && e.Kind != KindNotFound && e.Kind != KindValidation && e.Kind != KindAlreadyExists {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NotFound builds a not-found error.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// AlreadyExists builds an already-exists error.
func AlreadyExists(op, format string, args ...any) error {
	return &Error{Kind: KindAlreadyExists, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Invalid wraps a validation failure.
func Invalid(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Msg: err.Error(), Err: err}
}

// Unsupported builds an unsupported-backend error.
func Unsupported(op, format string, args ...any) error {
	return &Error{Kind: KindUnsupportedBackend, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Failure wraps an underlying storage error. Context cancellation and
// deadline expiry become timeouts. Errors that are already classified are
// returned unchanged.
func Failure(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return timeout(op, err)
	}
	return &Error{Kind: KindStorageFailure, Op: op, Msg: "storage failure", Err: err}
}

// FailureCtx is Failure for an operation bound to ctx. Once ctx has ended,
// an unclassified error or storage failure is reported as a timeout
// wrapping ctx.Err(), and the driver's own message is dropped.
func FailureCtx(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		var se *Error
		if !errors.As(err, &se) || se.Kind == KindStorageFailure {
			return timeout(op, cerr)
		}
	}
	return Failure(op, err)
}

func timeout(op string, err error) error {
	return &Error{Kind: KindTimeout, Op: op, Msg: "operation did not complete in time", Err: err}
}

// MigrationFailed wraps an error raised while applying the named migration.
func MigrationFailed(version string, err error) error {
	return &Error{Kind: KindMigrationFailure, Op: "migrate", Msg: "migration " + version + " failed", Err: err}
}

// KindOf returns the Kind of err, or KindStorageFailure for foreign errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindStorageFailure
}
