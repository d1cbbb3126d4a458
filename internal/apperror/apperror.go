// Package apperror defines the error taxonomy shared by every layer.
//
// Each failure kind is a sentinel error. Constructors return an *AppError
// that wraps the sentinel, so callers match with errors.Is and read the
// human-readable message with errors.As:
//
//	if errors.Is(err, apperror.ErrInvariant) { ... }
//
// The HTTP layer maps sentinels to status codes in one place (handler.writeError).
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrInvariant marks a request that is well-formed but would break a
	// server-wide rule (last administrator, guest mode disabled).
	ErrInvariant = errors.New("invariant violation")

	// ErrPartialDeletion marks a user deletion that failed part-way through
	// its cascade. Nothing from the failed attempt is committed.
	ErrPartialDeletion = errors.New("partial deletion")

	ErrInternal = errors.New("internal error")
)

type AppError struct {
	Err     error  // sentinel
	Message string // human-readable error message
	Field   string // optional: field causing the error
	Cause   error  // optional: underlying storage or library error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is/As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// PasswordTooShort is returned before any hashing happens.
func PasswordTooShort(minLength int) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: fmt.Sprintf("password must be at least %d characters long", minLength),
		Field:   "password",
	}
}

// EmailTaken is returned when another account already owns the address
// under case-insensitive comparison.
func EmailTaken(email string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("email %s is already in use", email),
		Field:   "email",
	}
}

func InvalidRole(role string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: fmt.Sprintf("invalid role %q", role),
		Field:   "role",
	}
}

func GuestDisabled() *AppError {
	return &AppError{
		Err:     ErrInvariant,
		Message: "guest role cannot be assigned while guest mode is disabled",
		Field:   "role",
	}
}

// LastAdmin is returned when a demotion or deletion would leave the server
// without any administrator.
func LastAdmin(userID string) *AppError {
	return &AppError{
		Err:     ErrInvariant,
		Message: fmt.Sprintf("user %s is the last server administrator", userID),
	}
}

// PartialDeletion names the cascade step that failed.
func PartialDeletion(userID, step string, cause error) *AppError {
	return &AppError{
		Err:     ErrPartialDeletion,
		Message: fmt.Sprintf("deleting user %s failed at step %q", userID, step),
		Cause:   cause,
	}
}

// Internal wraps an unexpected storage or library failure.
func Internal(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrInternal,
		Message: op,
		Cause:   cause,
	}
}
