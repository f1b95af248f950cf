// Package fault defines the closed error taxonomy shared by every weald
// service.
//
// Errors that cross a service boundary (bus, storage, pipeline stages,
// adjudication) carry a [Kind] so that consumers can react programmatically
// and the Inbox can render a human sentence without string matching. Errors
// that stay inside one package keep using plain sentinel errors; wrap them
// with [Wrap] at the boundary.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The set is closed: new kinds require a
// corresponding user sentence in [Sentence] and handling in every consumer.
type Kind string

const (
	InvalidTransition Kind = "invalid_transition"
	NotFound          Kind = "not_found"
	Ambiguous         Kind = "ambiguous"
	OutOfRange        Kind = "out_of_range"
	NotVisible        Kind = "not_visible"
	Blocked           Kind = "blocked"
	RequiresKey       Kind = "requires_key"
	ParseError        Kind = "parse_error"
	UnhandledEffect   Kind = "unhandled_effect"
	SessionMismatch   Kind = "session_mismatch"
	LockTimeout       Kind = "lock_timeout"
	Timeout           Kind = "timeout"
	Internal          Kind = "internal"
)

// IsValid reports whether k is a recognised fault kind.
func (k Kind) IsValid() bool {
	switch k {
	case InvalidTransition, NotFound, Ambiguous, OutOfRange, NotVisible,
		Blocked, RequiresKey, ParseError, UnhandledEffect, SessionMismatch,
		LockTimeout, Timeout, Internal:
		return true
	}
	return false
}

// Error is a classified failure. Op names the operation that failed
// ("bus: update status", "resolve: name mention"), Msg carries detail for
// logs, and Err is the wrapped cause if any.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, string(e.Kind))
	}
}

// Unwrap returns the wrapped cause for use with [errors.Is] and [errors.As].
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a log message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf creates a classified error with a formatted log message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields a nil result so call
// sites can wrap unconditionally.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, walking the wrap chain. Unclassified
// errors report [Internal]; a nil error reports the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// sentences maps each kind to the human sentence shown on the Inbox when an
// intent fails. Keep these short and free of internal identifiers.
var sentences = map[Kind]string{
	InvalidTransition: "That can't happen right now.",
	NotFound:          "No such target.",
	Ambiguous:         "More than one match — be more specific.",
	OutOfRange:        "Target out of range.",
	NotVisible:        "You can't see the target.",
	Blocked:           "The way is blocked.",
	RequiresKey:       "It's locked.",
	ParseError:        "That made no sense.",
	UnhandledEffect:   "Nothing happens.",
	SessionMismatch:   "Stale request ignored.",
	LockTimeout:       "The world is busy — try again.",
	Timeout:           "Too slow.",
	Internal:          "Something went wrong.",
}

// Sentence returns the user-facing sentence for a kind. Unknown kinds fall
// back to the [Internal] sentence.
func Sentence(kind Kind) string {
	if s, ok := sentences[kind]; ok {
		return s
	}
	return sentences[Internal]
}

// UserMessage renders err as an Inbox-safe sentence.
func UserMessage(err error) string {
	return Sentence(KindOf(err))
}
