package errors

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestAppError_Error(t *testing.T) {
	err := &AppError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "record not found: 42",
	}

	expected := "NOT_FOUND: record not found: 42"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewSessionExpired(t *testing.T) {
	err := NewSessionExpired()

	if err.Code != ErrAuthRequired {
		t.Errorf("Code = %q, want %q", err.Code, ErrAuthRequired)
	}
	if err.Status != 401 {
		t.Errorf("Status = %d, want 401", err.Status)
	}
	if err.Details["reason"] != "session_expired" {
		t.Errorf("Details[reason] = %v, want %q", err.Details["reason"], "session_expired")
	}
	if !strings.Contains(err.Hint, "login") {
		t.Errorf("Hint = %q, want re-login guidance", err.Hint)
	}
}

func TestNewInvalidCredential(t *testing.T) {
	err := NewInvalidCredential("API key rejected")

	if err.Code != ErrInvalidCredential {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidCredential)
	}
	if err.Status != 403 {
		t.Errorf("Status = %d, want 403", err.Status)
	}
}

func TestNewRateLimitExhausted(t *testing.T) {
	cause := NewRateLimited("quota")
	err := NewRateLimitExhausted(3, cause)

	if err.Code != ErrRateLimited {
		t.Errorf("Code = %q, want %q", err.Code, ErrRateLimited)
	}
	if err.Details["retries"] != 3 {
		t.Errorf("Details[retries] = %v, want 3", err.Details["retries"])
	}
	if !strings.Contains(err.Hint, "minutes") {
		t.Errorf("Hint = %q, want wait-minutes guidance", err.Hint)
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the last rejection")
	}
}

func TestNewRetriesExhausted(t *testing.T) {
	err := NewRetriesExhausted(5, fmt.Errorf("connection reset"))

	if err.Code != ErrTransient {
		t.Errorf("Code = %q, want %q", err.Code, ErrTransient)
	}
	if !strings.Contains(err.Message, "5 attempts") {
		t.Errorf("Message = %q, want attempt count", err.Message)
	}
	if err.Details["attempts"] != 5 {
		t.Errorf("Details[attempts] = %v, want 5", err.Details["attempts"])
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("record_id is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "record_id is required" {
		t.Errorf("Message = %q, want %q", err.Message, "record_id is required")
	}
}

func TestNewMalformedToken(t *testing.T) {
	err := NewMalformedToken("{{ARENA:Resistor}}")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Details["token"] != "{{ARENA:Resistor}}" {
		t.Errorf("Details[token] = %v", err.Details["token"])
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("record", "ITEM-1")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["kind"] != "record" {
		t.Errorf("Details[kind] = %v, want %q", err.Details["kind"], "record")
	}
	if err.Details["identifier"] != "ITEM-1" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "ITEM-1")
	}
}

func TestNewRemote(t *testing.T) {
	err := NewRemote(409, "conflict")

	if err.Code != ErrRemote {
		t.Errorf("Code = %q, want %q", err.Code, ErrRemote)
	}
	if err.Details["remote_status"] != 409 {
		t.Errorf("Details[remote_status] = %v, want 409", err.Details["remote_status"])
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := NewInternal(fmt.Errorf("disk full"))

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "disk full" {
			t.Errorf("Details[internal_error] = %v, want %q", err.Details["internal_error"], "disk full")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)
		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  *AppError
		want bool
	}{
		{NewTransient("timeout", nil), true},
		{NewRetriesExhausted(5, nil), true},
		{NewRateLimited("quota"), false},
		{NewAuthRequired("no session"), false},
		{NewInvalidCredential("bad key"), false},
		{NewNotFound("record", "1"), false},
		{NewRemote(418, "teapot"), false},
	}

	for _, tt := range tests {
		if got := tt.err.Retryable(); got != tt.want {
			t.Errorf("%s.Retryable() = %v, want %v", tt.err.Code, got, tt.want)
		}
	}
}

func TestWaitHint(t *testing.T) {
	if got := WaitHint(20 * time.Second); got != "wait a minute and try again" {
		t.Errorf("WaitHint(20s) = %q", got)
	}
	if got := WaitHint(3 * time.Minute); got != "wait 3 minutes and try again" {
		t.Errorf("WaitHint(3m) = %q", got)
	}
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		if !Is(NewNotFound("record", "1"), ErrNotFound) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		if Is(NewNotFound("record", "1"), ErrRemote) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("plain error", func(t *testing.T) {
		if Is(fmt.Errorf("plain error"), ErrNotFound) {
			t.Error("Is() = true, want false for plain error")
		}
	})

	t.Run("wrapped AppError", func(t *testing.T) {
		wrapped := fmt.Errorf("populate: %w", NewSessionExpired())
		if !Is(wrapped, ErrAuthRequired) {
			t.Error("Is() = false, want true for wrapped AppError")
		}
		appErr, ok := As(wrapped)
		if !ok || appErr.Details["reason"] != "session_expired" {
			t.Errorf("As() = %v, %v", appErr, ok)
		}
	})
}
