// Package apperrors defines the error taxonomy shared by the authorization,
// derived-state and enrollment layers.
//
// Every error carries a stable code and the HTTP status it maps to, so handlers
// can render "you don't have access" separately from "bad input":
//
//	if apperrors.IsPermissionDenied(err) {
//		// 403
//	}
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	CodePermissionDenied = "permission_denied" // write rejected by a policy predicate
	CodeUnauthorized     = "unauthorized"      // privileged routine invoked without resource access
	CodeInvalidToken     = "invalid_token"     // share token unknown, expired, revoked or malformed
	CodeValidation       = "validation"        // constraint violation
	CodeNotFound         = "not_found"         // referenced resource absent or invisible
	CodeConflictIgnored  = "conflict_ignored"  // duplicate-key upsert deliberately no-op
)

var httpStatusMap = map[string]int{
	CodePermissionDenied: http.StatusForbidden,
	CodeUnauthorized:     http.StatusForbidden,
	CodeInvalidToken:     http.StatusUnauthorized,
	CodeValidation:       http.StatusBadRequest,
	CodeNotFound:         http.StatusNotFound,
	CodeConflictIgnored:  http.StatusOK,
}

// Error is a typed application error.
type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap allows errors.Is and errors.As to see the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so sentinel comparisons work:
// errors.Is(err, apperrors.PermissionDenied("")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  httpStatusMap[code],
		Err:     cause,
	}
}

// PermissionDenied is returned when a write fails its policy predicate.
func PermissionDenied(format string, args ...any) *Error {
	return newError(CodePermissionDenied, fmt.Sprintf(format, args...), nil)
}

// Unauthorized is returned when a privileged routine is invoked by a principal
// that cannot access the target resource.
func Unauthorized(format string, args ...any) *Error {
	return newError(CodeUnauthorized, fmt.Sprintf(format, args...), nil)
}

// InvalidToken is returned by share-token resolution.
func InvalidToken(format string, args ...any) *Error {
	return newError(CodeInvalidToken, fmt.Sprintf(format, args...), nil)
}

// Validation is returned for constraint violations.
func Validation(format string, args ...any) *Error {
	return newError(CodeValidation, fmt.Sprintf(format, args...), nil)
}

// NotFound is returned for absent (or invisible) resources.
func NotFound(format string, args ...any) *Error {
	return newError(CodeNotFound, fmt.Sprintf(format, args...), nil)
}

// ConflictIgnored signals a deliberate no-op on a duplicate key.
func ConflictIgnored(format string, args ...any) *Error {
	return newError(CodeConflictIgnored, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches a cause to a typed error.
func Wrap(e *Error, cause error) *Error {
	e.Err = cause
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps err to an HTTP status; untyped errors are 500.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

func IsPermissionDenied(err error) bool { return CodeOf(err) == CodePermissionDenied }
func IsUnauthorized(err error) bool     { return CodeOf(err) == CodeUnauthorized }
func IsInvalidToken(err error) bool     { return CodeOf(err) == CodeInvalidToken }
func IsValidation(err error) bool       { return CodeOf(err) == CodeValidation }
func IsNotFound(err error) bool         { return CodeOf(err) == CodeNotFound }
func IsConflictIgnored(err error) bool  { return CodeOf(err) == CodeConflictIgnored }
