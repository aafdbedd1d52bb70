// Package errors provides unit tests for error codes and wrapping.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

// TestNew verifies AppError construction without an underlying error.
func TestNew(t *testing.T) {
	err := New(ErrConnectionFailed, "could not reach primary")

	if err.Code != ErrConnectionFailed {
		t.Errorf("Expected code %s, got %s", ErrConnectionFailed, err.Code)
	}
	msg := err.Error()
	if !strings.Contains(msg, string(ErrConnectionFailed)) {
		t.Errorf("Error() should contain the code, got %q", msg)
	}
	if !strings.Contains(msg, "could not reach primary") {
		t.Errorf("Error() should contain the message, got %q", msg)
	}
}

// TestWrap verifies that wrapped errors unwrap to the original.
func TestWrap(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := Wrap(ErrConnectionFailed, "primary connect failed", cause)

	if !stderrors.Is(err, cause) {
		t.Error("Wrapped error should unwrap to the cause")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() should include the cause, got %q", err.Error())
	}
}

// TestIs verifies code matching.
func TestIs(t *testing.T) {
	err := New(ErrReplayExhausted, "retries exhausted")

	if !Is(err, ErrReplayExhausted) {
		t.Error("Is() should match the error's own code")
	}
	if Is(err, ErrSyncFailed) {
		t.Error("Is() should not match a different code")
	}
	if Is(fmt.Errorf("plain error"), ErrSyncFailed) {
		t.Error("Is() should not match a non-AppError")
	}
}
