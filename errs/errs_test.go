package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewRendersScopeCodeMessage(t *testing.T) {
	err := New("bus/publish", CodeBlocked, WithMessage("channel blocked"))
	want := "bus/publish: blocked: channel blocked"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := New("janitor", CodeUnavailable, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
	if got := err.Error(); got != "janitor: unavailable: boom" {
		t.Fatalf("unexpected rendering: %q", got)
	}
}

func TestCodeOfWalksWrappedErrors(t *testing.T) {
	inner := New("registry", CodeNotFound)
	wrapped := fmt.Errorf("lookup: %w", inner)
	if got := CodeOf(wrapped); got != CodeNotFound {
		t.Fatalf("CodeOf = %q, want %q", got, CodeNotFound)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestNilOptionsIgnored(t *testing.T) {
	err := New("x", CodeInvalid, nil, WithMessage("m"))
	if err.Message != "m" {
		t.Fatalf("Message = %q", err.Message)
	}
}
