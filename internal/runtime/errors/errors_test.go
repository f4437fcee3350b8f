package errors

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrNotRunning", ErrNotRunning, "eventbus: event bus is not running"},
		{"ErrHandlerStopped", ErrHandlerStopped, "eventbus: registration handler is stopped"},
		{"ErrGroupAlreadyRegistered", ErrGroupAlreadyRegistered, "eventbus: group is already registered"},
		{"ErrUnknownKeyType", ErrUnknownKeyType, "eventbus: unknown registration key type"},
		{"ErrInvalidKey", ErrInvalidKey, "eventbus: invalid registration key"},
		{"ErrPayloadTooLarge", ErrPayloadTooLarge, "eventbus: notification payload exceeds PostgreSQL NOTIFY limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid execution rate")
	err := ConfigValidationError{Err: inner}

	want := "eventbus: invalid configuration: invalid execution rate"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("wraps error correctly", func(t *testing.T) {
		inner := errors.New("bad config")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, inner) {
			t.Errorf("errors.Is(err, inner) = false")
		}
	})
}
