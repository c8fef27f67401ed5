package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindUpstream
	KindUnconfigured
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindUpstream:
		return "upstream"
	case KindUnconfigured:
		return "unconfigured"
	default:
		return "internal"
	}
}

// Error carries a client-safe message in Msg. Err holds the underlying cause
// and is only ever logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Msg: msg}
}

func Auth(msg string) error {
	return &Error{Kind: KindAuth, Msg: msg}
}

func Upstream(msg string, err error) error {
	return &Error{Kind: KindUpstream, Msg: msg, Err: err}
}

func Unconfigured(msg string) error {
	return &Error{Kind: KindUnconfigured, Msg: msg}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the text that may be shown to a client.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Msg
	}
	return "Unexpected server error"
}

func Status(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindUpstream:
		return http.StatusBadGateway
	case KindUnconfigured:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
