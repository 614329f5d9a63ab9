package types

import (
	"errors"
	"fmt"
)

// Error kinds. Component errors wrap one of these with %w so callers can
// classify any failure with errors.Is.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrValidation     = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrSelfMessage    = errors.New("cannot message yourself")
	ErrPersistence    = errors.New("persistence failure")
	ErrState          = errors.New("invalid state")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

// Validation errors shared by several components.
var (
	ErrInvalidUserID    = fmt.Errorf("%w: user ID must be 1-50 characters, alphanumeric + underscore/hyphen only", ErrValidation)
	ErrInvalidRole      = fmt.Errorf("%w: role must be one of student, lecturer, departmentHead", ErrValidation)
	ErrInvalidLectureID = fmt.Errorf("%w: lecture ID must be 1-100 characters, alphanumeric + underscore/hyphen only", ErrValidation)
	ErrEmptyContent     = fmt.Errorf("%w: message content cannot be empty", ErrValidation)
	ErrContentTooLarge  = fmt.Errorf("%w: message content exceeds size limit", ErrValidation)
)

// Wire codes carried in AckError.Code.
const (
	CodeAuthentication = "authentication_error"
	CodeValidation     = "validation_error"
	CodeNotFound       = "not_found"
	CodeSelfMessage    = "self_message"
	CodePersistence    = "persistence_error"
	CodeState          = "state_error"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal_error"
)

// ErrorCode maps an error onto its wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return CodeAuthentication
	case errors.Is(err, ErrSelfMessage):
		return CodeSelfMessage
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrState):
		return CodeState
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}
