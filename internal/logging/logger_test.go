package logging

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeError(t *testing.T) {
	err := errors.New("line one\nline two\r\nline three")
	got := SanitizeError(err, 500)
	if strings.ContainsAny(got, "\r\n") {
		t.Errorf("Expected no line breaks, got %q", got)
	}
	if got != "line one line two line three" {
		t.Errorf("Unexpected sanitized message %q", got)
	}
}

func TestSanitizeError_Caps(t *testing.T) {
	got := SanitizeMessage(strings.Repeat("x", 900), 500)
	if len(got) != 500 {
		t.Errorf("Expected 500 chars, got %d", len(got))
	}
	if SanitizeError(nil, 10) != "" {
		t.Error("Expected empty string for nil error")
	}
}

func TestGetLoggerFallback(t *testing.T) {
	if GetLogger() == nil {
		t.Fatal("Expected fallback logger")
	}
	if Named("drain") == nil {
		t.Fatal("Expected named logger")
	}
}
