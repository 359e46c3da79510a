package remote

import (
	"context"
	"errors"
	"fmt"
)

// Persistence errors, one per Kind.
//
// Store implementations wrap these so the client can classify failures:
//
//	return fmt.Errorf("note %s: %w", id, remote.ErrNotFound)
//
// Callers match them with errors.Is:
//
//	if errors.Is(err, remote.ErrNotFound) {
//	    // record was deleted
//	}
var (
	// ErrNotFound is returned when the record no longer exists.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the session is missing, expired,
	// or not allowed to touch the record.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict is returned when the store rejects a write because of a
	// competing change.
	ErrConflict = errors.New("conflict")

	// ErrTransient is returned for failures that may succeed if the
	// caller tries again (lock contention, dropped connection, timeout).
	ErrTransient = errors.New("transient failure")

	// ErrUnknown is returned for failures that fit no other kind.
	ErrUnknown = errors.New("unknown failure")
)

// Kind classifies a persistence failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindUnauthorized
	KindConflict
	KindTransient
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindUnauthorized:
		return ErrUnauthorized
	case KindConflict:
		return ErrConflict
	case KindTransient:
		return ErrTransient
	default:
		return ErrUnknown
	}
}

// Error is a classified failure from a Client operation.
type Error struct {
	Kind Kind
	Op   string // create, get, update, delete, list, search, subscribe
	ID   string // note or owner ID the operation targeted
	Err  error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.ID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Classify wraps err in an *Error. Errors that are already classified keep
// their kind.
func Classify(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return &Error{Kind: kindFor(err), Op: op, ID: id, Err: err}
}

func kindFor(err error) Kind {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindUnknown
	}
}

// KindOf returns the kind of err, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return kindFor(err)
}

// IsNotFound reports whether err means the record no longer exists.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsRetryable returns true if the error is likely to succeed on retry.
// The sync core never retries; this is for callers that own a retry policy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindTransient
}
