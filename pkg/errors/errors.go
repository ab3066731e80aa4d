package sentinal_errors

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrNotAMember         = errors.New("not a member of this thread")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrValidation         = errors.New("validation failed")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("already exists")
)

// Acknowledgement codes sent to clients.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotAMember   = "NOT_A_MEMBER"
	CodeRateLimited  = "RATE_LIMITED"
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeInternal     = "INTERNAL_ERROR"
)

// Code maps an error to the acknowledgement code exposed on the wire.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden):
		return CodeUnauthorized
	case errors.Is(err, ErrNotAMember):
		return CodeNotAMember
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidInput):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// PublicMessage returns the text safe to hand to a client. Errors outside the
// taxonomy collapse to a generic message so internals never leak.
func PublicMessage(err error) string {
	if Code(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
