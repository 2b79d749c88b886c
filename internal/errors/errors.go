package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents an arenadocs error code.
type ErrorCode string

const (
	ErrAuthRequired      ErrorCode = "AUTH_REQUIRED"      // 401
	ErrInvalidCredential ErrorCode = "INVALID_CREDENTIAL" // 403
	ErrRateLimited       ErrorCode = "RATE_LIMITED"       // 429
	ErrTransient         ErrorCode = "TRANSIENT"          // 503
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrRemote            ErrorCode = "REMOTE_ERROR"       // 502
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// AppError represents a structured error with code, status, and an actionable hint.
type AppError struct {
	Code    ErrorCode
	Status  int
	Message string
	// Hint is the next step the user should take.
	Hint    string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the general retry track may retry this error.
func (e *AppError) Retryable() bool {
	return e.Code == ErrTransient
}

// NewAuthRequired creates a 401 error for a missing or unusable local credential.
func NewAuthRequired(msg string) *AppError {
	return &AppError{
		Code:    ErrAuthRequired,
		Status:  401,
		Message: msg,
		Hint:    "run 'arenadocs login' to sign in again",
	}
}

// NewSessionExpired creates the error returned when the PLM backend rejects a
// previously valid session. It is surfaced as AUTH_REQUIRED.
func NewSessionExpired() *AppError {
	err := NewAuthRequired("session expired")
	err.Details = map[string]any{"reason": "session_expired"}
	return err
}

// NewInvalidCredential creates a 403 error for a rejected API key.
func NewInvalidCredential(msg string) *AppError {
	return &AppError{
		Code:    ErrInvalidCredential,
		Status:  403,
		Message: msg,
		Hint:    "check the AI API key with 'arenadocs set-key'",
	}
}

// NewRateLimited creates a 429 error for a single remote quota rejection.
func NewRateLimited(msg string) *AppError {
	return &AppError{
		Code:    ErrRateLimited,
		Status:  429,
		Message: msg,
		Hint:    "wait a minute and try again",
	}
}

// NewRateLimitExhausted creates the terminal error after repeated remote rate-limit rejections.
func NewRateLimitExhausted(retries int, cause error) *AppError {
	return &AppError{
		Code:    ErrRateLimited,
		Status:  429,
		Message: fmt.Sprintf("rate limit exceeded %d times in a row", retries+1),
		Hint:    "wait a few minutes before trying again",
		Details: map[string]any{"retries": retries},
		Cause:   cause,
	}
}

// NewTransient creates a 503 error for network failures and 5xx responses.
func NewTransient(msg string, cause error) *AppError {
	return &AppError{
		Code:    ErrTransient,
		Status:  503,
		Message: msg,
		Hint:    "check your network connection and try again",
		Cause:   cause,
	}
}

// NewRetriesExhausted creates the terminal error after the general retry budget is spent.
func NewRetriesExhausted(attempts int, cause error) *AppError {
	msg := "request failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &AppError{
		Code:    ErrTransient,
		Status:  503,
		Message: fmt.Sprintf("giving up after %d attempts: %s", attempts, msg),
		Hint:    "the service may be unavailable; try again later",
		Details: map[string]any{"attempts": attempts},
		Cause:   cause,
	}
}

// NewInvalidRequest creates a 400 error for invalid input.
func NewInvalidRequest(msg string) *AppError {
	return &AppError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
		Hint:    "fix the input and try again",
	}
}

// NewNoCursor creates a 400 error for insertions without an insertion point.
func NewNoCursor() *AppError {
	err := NewInvalidRequest("no insertion point in document")
	err.Hint = "place the cursor (--at) where the token should go"
	return err
}

// NewMalformedToken creates a 400 error for token literals that do not parse.
func NewMalformedToken(text string) *AppError {
	err := NewInvalidRequest(fmt.Sprintf("malformed token: %q", text))
	err.Hint = "tokens look like {{ARENA:<category>:<field>}}"
	err.Details = map[string]any{"token": text}
	return err
}

// NewNotFound creates a 404 error for a record, category, or field lookup miss.
func NewNotFound(kind, identifier string) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Hint:    fmt.Sprintf("check the %s identifier", kind),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing local file.
func NewFileNotFound(path string) *AppError {
	return NewNotFound("file", path)
}

// NewRemote creates a 502 error for non-retryable remote failures.
func NewRemote(status int, msg string) *AppError {
	return &AppError{
		Code:    ErrRemote,
		Status:  502,
		Message: fmt.Sprintf("remote returned %d: %s", status, msg),
		Hint:    "check the request and the remote service status",
		Details: map[string]any{"remote_status": status},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the cause is kept in Details for logging.
func NewInternal(err error) *AppError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &AppError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Hint:    "retry; if it persists, run with --log-level debug and report the log",
		Details: details,
		Cause:   err,
	}
}

// WaitHint formats a "wait N minutes" hint for a known delay.
func WaitHint(d time.Duration) string {
	minutes := int(d.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		return "wait a minute and try again"
	}
	return fmt.Sprintf("wait %d minutes and try again", minutes)
}

// Is checks if an error is (or wraps) an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As returns the AppError wrapped by err, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
