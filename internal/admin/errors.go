package admin

import (
	"errors"
	"fmt"

	"github.com/opsforge/hiera-registry/internal/engine"
)

// Kind classifies an admin operation failure for callers that translate
// errors into exit codes or statuses.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindDuplicate    Kind = "duplicate"
	KindInvalidInput Kind = "invalid_input"
	KindInUse        Kind = "in_use"
	KindUnavailable  Kind = "unavailable"
	KindInternal     Kind = "internal"
)

// Error is an admin-surface failure: a kind tag plus a human-readable
// message. No stack traces.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// Is lets callers match on a kind-tagged prototype.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

func invalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// wrap classifies an engine error into an admin error. nil passes through.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var kind Kind
	switch {
	case errors.Is(err, engine.ErrNoDataFound),
		errors.Is(err, engine.ErrKeyNotFound),
		errors.Is(err, engine.ErrKeyModelNotFound),
		errors.Is(err, engine.ErrLevelNotFound),
		errors.Is(err, engine.ErrDataNotFound):
		kind = KindNotFound
	case errors.Is(err, engine.ErrDuplicate):
		kind = KindDuplicate
	case errors.Is(err, engine.ErrInvalidData):
		kind = KindInvalidInput
	case errors.Is(err, engine.ErrModelInUse):
		kind = KindInUse
	case errors.Is(err, engine.ErrBackendUnavailable):
		kind = KindUnavailable
	default:
		kind = KindInternal
	}
	return &Error{Kind: kind, Message: err.Error(), err: err}
}
