// Package apperr defines the error kinds returned by the order core and how
// they map onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindNotEligible       Kind = "NOT_ELIGIBLE"
	KindDuplicateReview   Kind = "DUPLICATE_REVIEW"
	KindPersistence       Kind = "PERSISTENCE"
	KindNotFound          Kind = "NOT_FOUND"
	KindForbidden         Kind = "FORBIDDEN"
	KindConflict          Kind = "CONFLICT"
)

// Sentinels match any *Error of the same kind through errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNotEligible       = &Error{Kind: KindNotEligible}
	ErrDuplicateReview   = &Error{Kind: KindDuplicateReview}
	ErrPersistence       = &Error{Kind: KindPersistence}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrConflict          = &Error{Kind: KindConflict}
)

var httpStatus = map[Kind]int{
	KindValidation:        http.StatusBadRequest,
	KindInvalidTransition: http.StatusConflict,
	KindNotEligible:       http.StatusForbidden,
	KindDuplicateReview:   http.StatusConflict,
	KindPersistence:       http.StatusInternalServerError,
	KindNotFound:          http.StatusNotFound,
	KindForbidden:         http.StatusForbidden,
	KindConflict:          http.StatusConflict,
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
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

// Is reports kind equality against a sentinel (an *Error without a message).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err. A nil err stays nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

// Persistence wraps a store failure. Errors that already carry a kind are
// returned unchanged so a NOT_FOUND raised inside a transaction survives.
func Persistence(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return Wrap(KindPersistence, err, format, args...)
}

// KindOf returns the kind of the outermost *Error in the chain, or
// KindPersistence for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindPersistence
}

func HTTPStatus(err error) int {
	if s, ok := httpStatus[KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// LogError logs err with its kind attached.
func LogError(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if err == nil {
		return
	}
	all := make([]zap.Field, 0, len(fields)+2)
	all = append(all, zap.Error(err), zap.String("error_kind", string(KindOf(err))))
	all = append(all, fields...)
	logger.Error(msg, all...)
}
