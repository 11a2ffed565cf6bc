package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the stable, machine-readable category of an Error.
type Kind string

// Error kinds surfaced to callers of the core.
const (
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindConflict         Kind = "conflict"
	KindValidation       Kind = "validation"
	KindLastOwner        Kind = "last_owner"
	KindTranslationFault Kind = "translation_fault"
	KindUnauthorized     Kind = "unauthorized"
	KindInternal         Kind = "internal"
)

// ErrTransient marks provider failures that may succeed when repeated.
// Providers wrap it; the query translator retries reads that carry it.
var ErrTransient = errors.New("transient provider error")

// Error is the typed error raised by core components.
//
// Kind targets automated handlers, Msg is the human readable reason,
// Op names the operation that raised it and Err carries the cause.
// Details holds per-field information for validation failures.
type Error struct {
	Kind    Kind
	Msg     string
	Op      string
	Err     error
	Details []string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// NotFound returns an error for an unknown definition or record.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Forbidden returns an access-control denial carrying its reason.
func Forbidden(op, reason string) *Error {
	return &Error{Kind: KindForbidden, Op: op, Msg: reason}
}

// Unauthorized returns an error for a missing or invalid identity.
func Unauthorized(op, reason string) *Error {
	return &Error{Kind: KindUnauthorized, Op: op, Msg: reason}
}

// Conflict returns an error for a duplicate or divergent registration.
func Conflict(op, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Invalid returns a validation error with optional per-field details.
func Invalid(op, msg string, details ...string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg, Details: details}
}

// LastOwner returns the rejection for a role mutation that would leave an
// organization without an owner.
func LastOwner(op, scopeID string) *Error {
	return &Error{
		Kind: KindLastOwner,
		Op:   op,
		Msg:  fmt.Sprintf("organization %s must keep at least one owner", scopeID),
	}
}

// TranslationFault returns an error for an inconsistent provider response.
func TranslationFault(op, format string, args ...any) *Error {
	return &Error{Kind: KindTranslationFault, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Internal hides err behind a generic message. The cause stays reachable
// through Unwrap for logging.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Msg: "internal error", Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsTransient reports whether err is marked as retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
