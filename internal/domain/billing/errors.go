// Package billing holds the pieces shared by the ledger, claims, payments,
// and balance domains: the error taxonomy, domain events, and reference
// number generation.
package billing

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

// ValidationError reports a bad amount, date, or missing field. The
// operation was rejected before any write happened.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validationf builds a ValidationError for the given field.
func Validationf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateTransitionError reports a disallowed status change.
type InvalidStateTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("%s cannot transition from %s to %s", e.Entity, e.From, e.To)
}

// NotFoundError reports a missing entity. Cross-practice lookups resolve to
// this same error so existence in another practice never leaks.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// RetryableConflictError reports version or ledger-serialization contention.
// The caller should retry with backoff.
type RetryableConflictError struct {
	Resource string
	ID       string
}

func (e *RetryableConflictError) Error() string {
	return fmt.Sprintf("concurrent modification of %s %s, retry", e.Resource, e.ID)
}

// IntegrityViolationError reports a reference-number collision that survived
// the bounded regeneration attempts, or a failed reconciliation cross-check.
type IntegrityViolationError struct {
	Msg string
}

func (e *IntegrityViolationError) Error() string { return e.Msg }

// HTTPStatus maps a domain error to the status code the API edge returns.
// Unknown errors are treated as internal.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		te *InvalidStateTransitionError
		ne *NotFoundError
		ce *RetryableConflictError
		ie *IntegrityViolationError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &te):
		return http.StatusBadRequest
	case errors.As(err, &ne):
		return http.StatusNotFound
	case errors.As(err, &ce), errors.As(err, &ie):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation, optionally on the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
