package car

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized signals a missing or mismatched admin token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAdminTokenMissing signals the server has no admin token configured.
	ErrAdminTokenMissing = errors.New("server is missing admin token")
	// ErrNoRows signals that a statement matched nothing.
	ErrNoRows = errors.New("no rows matched")
	// ErrNotFound signals that the requested car does not exist.
	ErrNotFound = errors.New("car not found")
)

// ValidationError reports a missing or malformed field in submitted data.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// MissingField builds the error for an absent required field.
func MissingField(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "missing required field in description: " + field}
}

// InvalidNumber builds the error for an unparsable numeric field.
func InvalidNumber(field, raw string) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf("invalid numeric value for %s: %s", field, raw)}
}

// Invalid builds a generic validation error.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SchemaMismatchError reports a column the backend does not recognize.
type SchemaMismatchError struct {
	Table  string
	Column string
	Err    error
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("table %s has no column %q", e.Table, e.Column)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Err }

// TableMissingError reports that a table does not exist.
type TableMissingError struct {
	Table string
	Err   error
}

func (e *TableMissingError) Error() string {
	return fmt.Sprintf("relation %q does not exist", e.Table)
}

func (e *TableMissingError) Unwrap() error { return e.Err }

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Table      string
	Constraint string
	Columns    []string
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("duplicate key value violates unique constraint %q on %s (%s)",
		e.Constraint, e.Table, strings.Join(e.Columns, ", "))
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Involves reports whether the violated key includes column.
func (e *ConflictError) Involves(column string) bool {
	for _, c := range e.Columns {
		if c == column {
			return true
		}
	}
	return strings.Contains(e.Constraint, column)
}

// TransientError marks a backend failure that is worth retrying (timeouts, dropped connections).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient backend error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// UpstreamError wraps any other backend or storage failure with the operation that failed.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// UploadError reports a failed blob upload.
type UploadError struct {
	File string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("failed to upload %s: %v", e.File, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PartialWriteError reports that the car row exists but its images could not be written.
type PartialWriteError struct {
	CarID string
	Err   error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("car %s saved but images were not: %v", e.CarID, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// Category groups errors for operator hints and metrics.
type Category string

// Error categories.
const (
	CategoryAuth           Category = "auth"
	CategoryValidation     Category = "validation"
	CategorySchemaMismatch Category = "schema-mismatch"
	CategoryConflict       Category = "conflict"
	CategoryUpload         Category = "upload"
	CategoryStorage        Category = "storage"
	CategoryUpstream       Category = "upstream"
)

// CategoryOf classifies err. Order matters: the most specific wrapper wins.
func CategoryOf(err error) Category {
	var (
		validation *ValidationError
		upload     *UploadError
		schema     *SchemaMismatchError
		missing    *TableMissingError
		conflict   *ConflictError
		upstream   *UpstreamError
	)
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrAdminTokenMissing):
		return CategoryAuth
	case errors.As(err, &validation):
		return CategoryValidation
	case errors.As(err, &upload):
		return CategoryUpload
	case errors.As(err, &schema), errors.As(err, &missing):
		return CategorySchemaMismatch
	case errors.As(err, &conflict):
		return CategoryConflict
	case errors.As(err, &upstream):
		return CategoryUpstream
	default:
		return CategoryStorage
	}
}

// Hint returns a static operator-facing hint for err.
func Hint(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrAdminTokenMissing) {
		return "Set auth.admin_token (STOREFRONT_AUTH_ADMIN_TOKEN) on the server, then restart it."
	}
	var validation *ValidationError
	if errors.As(err, &validation) && strings.HasPrefix(validation.Reason, "invalid numeric value") {
		return "Use numeric values for price, year and mileage. Currency symbols are allowed but a number must be present."
	}
	var missing *TableMissingError
	if errors.As(err, &missing) {
		return fmt.Sprintf("Create table %s or point the configuration at the right table name.", missing.Table)
	}
	switch CategoryOf(err) {
	case CategoryAuth:
		return "Check the admin token: send X-Admin-Token or sign in again so the admin_token cookie is set."
	case CategoryValidation:
		return "Add all required fields in car_text: title, price, year, mileage, engine, trans, fuel, status, stock_no."
	case CategorySchemaMismatch:
		return "Verify the table schema: a required column is missing from the database."
	case CategoryConflict:
		return "Verify uniqueness of stock_no; fix the conflicting data then retry."
	case CategoryUpload:
		return "Check storage bucket permissions and make sure the configured bucket exists."
	case CategoryUpstream:
		return "A backing service failed. Review server logs, then retry with the same stock_no for an idempotent import."
	default:
		return "Review server logs and verify the database schema and configuration, then retry with the same stock_no."
	}
}
