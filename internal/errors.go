package internal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lib/pq"
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field" msgpack:"field"`
	Message string `json:"error" msgpack:"error"`
}

func (f FieldError) Error() string {
	return f.Message
}

func NewFieldError(field, message string) FieldError {
	return FieldError{
		Field:   field,
		Message: message,
	}
}

// ValidationError carries every field violation collected for a request. The
// engine never fails on the first bad field; it gathers all of them.
type ValidationError struct {
	Fields []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field != "" {
			msgs = append(msgs, f.Field+": "+f.Message)
		} else {
			msgs = append(msgs, f.Message)
		}
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// NewValidationError builds a ValidationError from one or more field errors.
func NewValidationError(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}

// NotFoundError indicates an absent table or record.
type NotFoundError struct {
	Resource string `json:"resource"`
	Key      string `json:"key"`
}

func (e *NotFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
	}
	return e.Resource + " not found"
}

func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

func NewNotFoundError(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

// AuthorizationError indicates the caller does not own the tenant it is
// trying to touch.
type AuthorizationError struct {
	Message string `json:"message"`
}

func (e *AuthorizationError) Error() string {
	if e.Message == "" {
		return "not authorized"
	}
	return e.Message
}

func (e *AuthorizationError) StatusCode() int { return http.StatusForbidden }

func NewAuthorizationError(message string) *AuthorizationError {
	return &AuthorizationError{Message: message}
}

// ConflictError indicates a duplicate table name or a unique constraint
// violation.
type ConflictError struct {
	Message string `json:"message"`
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) StatusCode() int { return http.StatusConflict }

func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// InternalError wraps an unexpected database or system failure. The message
// is surfaced; the wrapped cause and stack are not.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return "internal error"
	}
	return e.Err.Error()
}

func (e *InternalError) Unwrap() error { return e.Err }

func (e *InternalError) StatusCode() int { return http.StatusInternalServerError }

func NewInternalError(err error) *InternalError {
	return &InternalError{Err: err}
}

// statusCoder is implemented by every error in the taxonomy.
type statusCoder interface {
	StatusCode() int
}

// ErrorStatusCode maps an error to its HTTP status. Unknown errors are
// treated as internal.
func ErrorStatusCode(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// AsValidation returns the ValidationError wrapped by err, if any.
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// postgres error classes we translate instead of surfacing raw
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgDuplicateTable      = "42P07"
	pgUndefinedTable      = "42P01"
	pgUndefinedColumn     = "42703"
	pgInvalidTextRep      = "22P02"
)

// TranslateDatabaseError converts driver errors into the typed taxonomy so
// callers never match on message strings. Two concurrent creates for the same
// table race past the advisory existence check and land here as a conflict.
func TranslateDatabaseError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation:
			return NewConflictError("duplicate value violates unique constraint %s", pqErr.Constraint)
		case pgDuplicateTable:
			return NewConflictError("table already exists")
		case pgUndefinedTable:
			return NewNotFoundError("table", pqErr.Table)
		case pgUndefinedColumn:
			return NewValidationError(NewFieldError(pqErr.Column, "column does not exist"))
		case pgForeignKeyViolation:
			return NewValidationError(NewFieldError(pqErr.Column, "referenced record does not exist"))
		case pgInvalidTextRep:
			return NewValidationError(NewFieldError(pqErr.Column, "value has the wrong type for this column"))
		}
	}
	return NewInternalError(err)
}
