package shared

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so transports can map them consistently.
type Kind int

const (
	// KindStorage is the zero value: anything not classified is a storage failure.
	KindStorage Kind = iota
	// KindValidation marks malformed input the caller can correct.
	KindValidation
	// KindBusinessRule marks a well-formed request the domain refuses.
	KindBusinessRule
	// KindConflict marks a stale-version write.
	KindConflict
	// KindNotFound marks a missing or soft-deleted record.
	KindNotFound
	// KindForbidden marks an actor lacking the privilege for an operation.
	KindForbidden
)

// Sentinels usable with errors.Is for each kind.
var (
	ErrValidation   = errors.New("validation failed")
	ErrBusinessRule = errors.New("business rule violated")
	ErrConflict     = errors.New("stale write: reload and retry")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage unavailable")
	ErrForbidden    = errors.New("not permitted")
)

// Error is the typed error returned by every engine operation.
type Error struct {
	Kind    Kind
	Entity  string
	ID      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.sentinel().Error()
	}
	if e.Entity != "" {
		if e.ID != "" {
			msg = fmt.Sprintf("%s %s: %s", e.Entity, e.ID, msg)
		} else {
			msg = fmt.Sprintf("%s: %s", e.Entity, msg)
		}
	}
	if e.Err != nil && e.Kind == KindStorage {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindValidation:
		return ErrValidation
	case KindBusinessRule:
		return ErrBusinessRule
	case KindConflict:
		return ErrConflict
	case KindNotFound:
		return ErrNotFound
	case KindForbidden:
		return ErrForbidden
	default:
		return ErrStorage
	}
}

// Validation builds a ValidationError.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// BusinessRule builds a BusinessRuleError naming the offending entity.
func BusinessRule(entity, id, format string, args ...any) error {
	return &Error{Kind: KindBusinessRule, Entity: entity, ID: id, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a ConflictError for a stale version.
func Conflict(entity, id string) error {
	return &Error{Kind: KindConflict, Entity: entity, ID: id, Message: ErrConflict.Error()}
}

// NotFound builds a NotFoundError.
func NotFound(entity, id string) error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Message: ErrNotFound.Error()}
}

// Forbidden builds an error for an actor without the required role.
func Forbidden(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps an unexpected infrastructure failure.
func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// KindOf reports the kind of err; unclassified errors are storage failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// IsClassified reports whether err already carries a domain kind.
func IsClassified(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
