package courtside

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorCode is the closed set of failure classes surfaced to callers
type ErrorCode string

const (
	CodeNetworkUnavailable ErrorCode = "network_unavailable"
	CodeInvalidCredential  ErrorCode = "invalid_credential"
	CodeProfileNotFound    ErrorCode = "profile_not_found"
	CodeTimeout            ErrorCode = "timeout"
	CodeUnknown            ErrorCode = "unknown"
)

// Sentinel errors gateway adapters wrap so failures can be classified.
var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrInvalidCredential  = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrNotConfigured      = errors.New("gateway not configured")
)

// AuthError is the only error type returned by the Auth operations
type AuthError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// NewAuthError creates an AuthError
func NewAuthError(code ErrorCode, message string, cause error) *AuthError {
	return &AuthError{Code: code, Message: message, Cause: cause}
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// Is matches another *AuthError by code, so errors.Is(err, &AuthError{Code: CodeTimeout}) works
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether retrying the same call may succeed
func (e *AuthError) Retryable() bool {
	return e.Code == CodeNetworkUnavailable || e.Code == CodeTimeout
}

// CodeOf returns the ErrorCode of err, or CodeUnknown
func CodeOf(err error) ErrorCode {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// Normalize maps any gateway error into an *AuthError.  Nil stays nil.
func Normalize(err error) *AuthError {
	if err == nil {
		return nil
	}

	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}

	switch {
	case errors.Is(err, ErrInvalidCredential):
		return NewAuthError(CodeInvalidCredential, "Invalid email or password", err)
	case errors.Is(err, ErrEmailTaken):
		return NewAuthError(CodeInvalidCredential, "Email is already registered", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewAuthError(CodeTimeout, "Request timed out", err)
	case errors.Is(err, ErrNetworkUnavailable), errors.Is(err, ErrNotConfigured):
		return NewAuthError(CodeNetworkUnavailable, "Network unavailable", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewAuthError(CodeTimeout, "Request timed out", err)
		}
		return NewAuthError(CodeNetworkUnavailable, "Network unavailable", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return NewAuthError(CodeNetworkUnavailable, "Network unavailable", err)
	}

	return NewAuthError(CodeUnknown, "Something went wrong", err)
}
