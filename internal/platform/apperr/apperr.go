// Package apperr defines the error taxonomy shared by the record store, the
// lifecycle services and the HTTP layer. Every error that crosses a package
// boundary is either an *Error or is treated as an internal fault.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable error class surfaced to API clients.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInvalidState Kind = "invalid_state"
	KindValidation   Kind = "validation"
	KindExternal     Kind = "external"
	KindInternal     Kind = "internal"
)

// Error carries a Kind plus enough context to build a useful message.
type Error struct {
	Kind         Kind
	Entity       string
	Collaborator string
	Message      string
	Err          error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Entity when the target names one, so that
// errors.Is(err, apperr.ErrNotFound) works regardless of the entity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Entity == "" || t.Entity == e.Entity
}

// Sentinels for errors.Is.
var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrExternal     = &Error{Kind: KindExternal}
)

func NotFound(entity string, id any) *Error {
	return &Error{
		Kind:    KindNotFound,
		Entity:  entity,
		Message: fmt.Sprintf("%s %v not found", entity, id),
	}
}

func Conflict(entity, field string, value any) *Error {
	return &Error{
		Kind:    KindConflict,
		Entity:  entity,
		Message: fmt.Sprintf("%s with %s %q already exists", entity, field, fmt.Sprint(value)),
	}
}

func InvalidState(entity, msg string) *Error {
	return &Error{Kind: KindInvalidState, Entity: entity, Message: msg}
}

// Validation wraps a field-level validation failure (typically an errsx.Map).
func Validation(entity string, err error) *Error {
	return &Error{
		Kind:    KindValidation,
		Entity:  entity,
		Message: fmt.Sprintf("invalid %s", entity),
		Err:     err,
	}
}

// External reports a failure of an out-of-process collaborator such as the
// file store, OCR engine, summarizer or anchoring service.
func External(collaborator string, err error) *Error {
	return &Error{
		Kind:         KindExternal,
		Collaborator: collaborator,
		Message:      fmt.Sprintf("%s failed", collaborator),
		Err:          err,
	}
}

// KindOf classifies err. Unclassified errors are internal; nil has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CollaboratorOf returns the failing collaborator for external errors.
func CollaboratorOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Collaborator
	}
	return ""
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
