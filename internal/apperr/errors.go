// Package apperr defines the error taxonomy shared by the checkout and
// payment confirmation paths. Handlers translate a Kind into an HTTP status;
// services only classify.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller should react to it.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindDependency   Kind = "dependency"
	KindAuthenticity Kind = "authenticity"
	KindPartialWrite Kind = "partial_write"
)

// Problem reasons reported in a conflict.
const (
	ReasonNotFound          = "not_found"
	ReasonInsufficientStock = "insufficient_stock"
)

// Problem describes one cart line that cannot be fulfilled.
type Problem struct {
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
	Requested int    `json:"requested,omitempty"`
	Available int    `json:"available,omitempty"`
}

// Error is a classified error. Problems is only populated for conflicts.
type Error struct {
	Kind     Kind
	Message  string
	Problems []Problem
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, apperr.ErrConflict)
// works for any conflict.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrDependency   = &Error{Kind: KindDependency}
	ErrAuthenticity = &Error{Kind: KindAuthenticity}
	ErrPartialWrite = &Error{Kind: KindPartialWrite}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(message string, problems []Problem) *Error {
	return &Error{Kind: KindConflict, Message: message, Problems: problems}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Dependency(message string, err error) *Error {
	return &Error{Kind: KindDependency, Message: message, Err: err}
}

func Authenticity(message string, err error) *Error {
	return &Error{Kind: KindAuthenticity, Message: message, Err: err}
}

func PartialWrite(message string, err error) *Error {
	return &Error{Kind: KindPartialWrite, Message: message, Err: err}
}

// KindOf returns the kind of the first classified error in the chain.
// Unclassified errors are treated as dependency failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependency
}

// ProblemsOf returns the conflict problems carried by err, if any.
func ProblemsOf(err error) []Problem {
	var e *Error
	if errors.As(err, &e) {
		return e.Problems
	}
	return nil
}
