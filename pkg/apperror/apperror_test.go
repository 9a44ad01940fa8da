package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", NotFound("lab request %s not found", "LR001"), KindNotFound},
		{"transition", InvalidTransition("bad"), KindInvalidTransition},
		{"selection", InvalidSelection("bad"), KindInvalidSelection},
		{"validation", Validation("phone is required"), KindValidation},
		{"conflict", Conflict("stale"), KindConflict},
		{"wrapped", fmt.Errorf("collect sample: %w", NotFound("x")), KindNotFound},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	if Is(nil, KindNotFound) {
		t.Error("nil error should not match any kind")
	}
	if !Is(fmt.Errorf("wrap: %w", Validation("x")), KindValidation) {
		t.Error("expected wrapped validation error to match")
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NotFound("x"), http.StatusNotFound},
		{InvalidTransition("x"), http.StatusConflict},
		{Conflict("x"), http.StatusConflict},
		{InvalidSelection("x"), http.StatusUnprocessableEntity},
		{Validation("x"), http.StatusBadRequest},
		{Internal("db", errors.New("down")), http.StatusInternalServerError},
		{errors.New("raw"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHTTP_HidesInternalMessage(t *testing.T) {
	cause := errors.New("connection refused")
	httpErr := HTTP(Internal("load lab request", cause))
	if httpErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", httpErr.Code)
	}
	if httpErr.Message != "internal server error" {
		t.Errorf("unexpected message: %v", httpErr.Message)
	}
	if !errors.Is(httpErr.Internal, cause) {
		t.Error("expected cause to be kept as internal error")
	}
}

func TestHTTP_Body(t *testing.T) {
	httpErr := HTTP(InvalidTransition("test order T001 is pending"))
	body, ok := httpErr.Message.(map[string]string)
	if !ok {
		t.Fatalf("expected map body, got %T", httpErr.Message)
	}
	if body["error"] != "INVALID_TRANSITION" {
		t.Errorf("expected INVALID_TRANSITION, got %s", body["error"])
	}
	if body["message"] != "test order T001 is pending" {
		t.Errorf("unexpected message %q", body["message"])
	}
}
