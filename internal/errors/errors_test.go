package errors_test

import (
	stdErrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/NamanBalaji/rdm/internal/errors"
)

func TestDownloadErrorError(t *testing.T) {
	de := &errors.DownloadError{
		Err:       stdErrors.New("underlying error"),
		Kind:      errors.KindConnection,
		Timestamp: time.Now(),
		Resource:  "http://example.com/a.bin",
	}
	expected := "[CONNECTION] http://example.com/a.bin: underlying error"
	if de.Error() != expected {
		t.Errorf("expected %q, got %q", expected, de.Error())
	}

	de2 := errors.NewServerError(stdErrors.New("not found"), "http://example.com/b.bin", 404)
	expected2 := "[SERVER] http://example.com/b.bin (status: 404): not found"
	if de2.Error() != expected2 {
		t.Errorf("expected %q, got %q", expected2, de2.Error())
	}
}

func TestDownloadErrorUnwrap(t *testing.T) {
	baseErr := stdErrors.New("base error")
	de := errors.NewConnectionError(baseErr, "resource")
	if !errors.Is(de, baseErr) {
		t.Errorf("expected %v to wrap %v", de, baseErr)
	}

	wrapped := fmt.Errorf("outer: %w", de)
	if !errors.IsConnectionError(wrapped) {
		t.Errorf("expected wrapped error to be a connection error")
	}
	if errors.IsServerError(wrapped) {
		t.Errorf("connection error reported as server error")
	}
}

func TestNewServerError_Retryable(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{404, false},
		{403, false},
		{416, false},
		{429, true},
		{500, true},
		{501, false},
		{503, true},
	}

	for _, tt := range tests {
		de := errors.NewServerError(nil, "r", tt.code)
		if de.Retryable != tt.retryable {
			t.Errorf("status %d: retryable = %v, want %v", tt.code, de.Retryable, tt.retryable)
		}
		if !errors.IsServerError(de) {
			t.Errorf("status %d: expected server error", tt.code)
		}
		if de.Err == nil {
			t.Errorf("status %d: expected default underlying error", tt.code)
		}
	}
}

func TestGetStatusCode(t *testing.T) {
	if code, ok := errors.GetStatusCode(errors.NewServerError(nil, "r", 404)); !ok || code != 404 {
		t.Errorf("GetStatusCode = (%d, %v), want (404, true)", code, ok)
	}

	if _, ok := errors.GetStatusCode(errors.NewConnectionError(stdErrors.New("x"), "r")); ok {
		t.Errorf("expected no status code on connection error")
	}

	if _, ok := errors.GetStatusCode(stdErrors.New("plain")); ok {
		t.Errorf("expected no status code on plain error")
	}
}

func TestIsRetryable(t *testing.T) {
	if errors.IsRetryable(nil) {
		t.Errorf("nil must not be retryable")
	}
	if errors.IsRetryable(stdErrors.New("plain")) {
		t.Errorf("plain error must not be retryable")
	}
	if !errors.IsRetryable(errors.NewConnectionError(stdErrors.New("reset"), "r")) {
		t.Errorf("connection errors are retryable")
	}
}
