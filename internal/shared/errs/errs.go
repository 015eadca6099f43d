// Package errs defines the error taxonomy shared by every host component.
//
// Errors carry a Kind so callers branch on category rather than message text:
//
//	if errors.Is(err, errs.ErrStateConflict) { ... }
//
// Anything that crosses the bridge is flattened to a message with Message.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind uint8

const (
	KindInternal Kind = iota
	KindNotFound
	KindMalformedInput
	KindStateConflict
	KindResourceExhausted
	KindTransport
	KindDenied
)

var kindNames = [...]string{
	KindInternal:          "internal",
	KindNotFound:          "not-found",
	KindMalformedInput:    "malformed-input",
	KindStateConflict:     "state-conflict",
	KindResourceExhausted: "resource-exhaustion",
	KindTransport:         "transport",
	KindDenied:            "denied",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is a classified error raised by operation Op.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Kind sentinels, matched by errors.Is on Kind alone.
var (
	ErrInternal          = &Error{Kind: KindInternal}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrMalformedInput    = &Error{Kind: KindMalformedInput}
	ErrStateConflict     = &Error{Kind: KindStateConflict}
	ErrResourceExhausted = &Error{Kind: KindResourceExhausted}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrDenied            = &Error{Kind: KindDenied}
)

// New creates a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	var s string
	switch {
	case e.Msg != "" && e.Err != nil:
		s = e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		s = e.Msg
	case e.Err != nil:
		s = e.Err.Error()
	default:
		s = e.Kind.String()
	}
	if e.Op != "" {
		return e.Op + ": " + s
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels (errors with only Kind set).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message renders err for the wire. Classified errors drop the operation
// prefix so apps see a stable, short reason.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		switch {
		case e.Msg != "" && e.Err != nil:
			return e.Msg + ": " + e.Err.Error()
		case e.Msg != "":
			return e.Msg
		case e.Err != nil:
			return e.Err.Error()
		}
		return e.Kind.String()
	}
	return err.Error()
}
