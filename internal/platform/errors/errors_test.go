package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := Wrap(CodeConflict, "entity changed", stderrors.New("version mismatch"))
	wrapped := fmt.Errorf("mutate: %w", err)

	if !stderrors.Is(wrapped, New(CodeConflict, "")) {
		t.Fatal("expected errors.Is to match by code")
	}
	if stderrors.Is(wrapped, New(CodeNotFound, "")) {
		t.Fatal("expected different code not to match")
	}
	if CodeOf(wrapped) != CodeConflict {
		t.Fatalf("CodeOf = %q, want %q", CodeOf(wrapped), CodeConflict)
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf = %q, want %q", got, CodeUnknown)
	}
	if got := CodeOf(nil); got != "" {
		t.Fatalf("CodeOf(nil) = %q, want empty", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeTransitionNotInGraph, http.StatusConflict},
		{CodeTransitionNotesRequired, http.StatusUnprocessableEntity},
		{CodeUnauthenticated, http.StatusUnauthorized},
		{CodePermissionDenied, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeStatusChanged, http.StatusConflict},
		{CodePersistence, http.StatusServiceUnavailable},
		{CodeEventTypeUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Fatalf("%s.HTTPStatus() = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestHasClass(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeTransitionFromTerminal, "terminal"))
	if !HasClass(err, ClassIllegalTransition) {
		t.Fatal("expected illegal transition class")
	}
	if HasClass(err, ClassValidation) {
		t.Fatal("did not expect validation class")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(CodePersistence, "append event", stderrors.New("disk full"))
	if err.Error() != "append event: disk full" {
		t.Fatalf("Error() = %q", err.Error())
	}
}
