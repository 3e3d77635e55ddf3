// Package apperror defines the error taxonomy shared by the client core.
// Every failure that leaves the HTTP client, the session or the cart store
// matches exactly one of the sentinel kinds below via errors.Is, so callers
// can decide between "redirect to login", "show field errors" and "show a
// toast" without inspecting status codes.
package apperror

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnauthenticated is returned when an action requires a logged-in user.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrValidation is returned for bad form input; Error.Fields holds the details.
	ErrValidation = errors.New("validation error")
	// ErrAuthorizationExpired is returned when the server rejected the bearer
	// token and a refresh did not fix it.
	ErrAuthorizationExpired = errors.New("authorization expired")
	// ErrNetworkFailure covers timeouts and unreachable servers.
	ErrNetworkFailure = errors.New("network failure")
	// ErrServerRejected is returned when the server refused a well-formed
	// request (stock exceeded, empty cart, forbidden).
	ErrServerRejected = errors.New("server rejected request")
	// ErrNotFound is returned for missing products, orders, cart lines.
	ErrNotFound = errors.New("not found")
)

// Error carries the kind plus whatever the server told us.
type Error struct {
	Kind    error               // one of the sentinels above
	Status  int                 // HTTP status, 0 when no response was received
	Message string              // human readable message
	Fields  map[string][]string // field-level validation messages
	Err     error               // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "; %s: %s", k, strings.Join(e.Fields[k], ", "))
		}
	}
	if e.Err != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an Error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds an Error of the given kind around cause.
func Wrap(kind error, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Message returns the user-facing text for err: the server message when
// there is one, otherwise err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// FieldErrors returns the validation details carried by err, if any.
func FieldErrors(err error) map[string][]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
