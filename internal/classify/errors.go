package classify

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindUnavailable ErrorKind = "unavailable"
	KindMalformed   ErrorKind = "malformed"
)

// Sentinels for errors.Is against an *Error of the matching kind.
var (
	ErrTimeout     = errors.New("classifier timed out")
	ErrUnavailable = errors.New("classifier unavailable")
	ErrMalformed   = errors.New("classifier returned malformed output")
)

// Error is returned by providers and the adapter for every failed completion.
type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrMalformed:
		return e.Kind == KindMalformed
	}
	return false
}

// KindOf reports the error kind of err; errors that are not *Error count as unavailable.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnavailable
}

func asError(provider string, err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Provider == "" {
			ce.Provider = provider
		}
		return ce
	}
	kind := KindUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Provider: provider, Err: err}
}
