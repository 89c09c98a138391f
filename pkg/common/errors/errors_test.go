package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValidationErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "without hint",
			err:  NewValidationError("queue", "capacity", -1, "must not be negative"),
			want: "queue: invalid capacity=-1 (must not be negative)",
		},
		{
			name: "with hint",
			err: NewValidationError("channel", "resolution", 0, "must be positive").
				WithHint("try 100ms"),
			want: "channel: invalid resolution=0 (must be positive) - try 100ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationErrorMatching(t *testing.T) {
	err := fmt.Errorf("load settings: %w", NewValidationError("config", "stack.producers", 0, "must be positive"))

	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Error("ValidationError should match ErrInvalidConfiguration")
	}
	if !IsValidationError(err) {
		t.Error("wrapped ValidationError should be detected")
	}
	if IsValidationError(errors.New("plain")) || IsValidationError(nil) {
		t.Error("plain and nil errors are not validation errors")
	}
}

func TestOperationError(t *testing.T) {
	cause := fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded)
	err := NewOperationError("publish", "Publish", cause).WithContext(`event 7 on "events"`)

	msg := err.Error()
	for _, part := range []string{"publish.Publish failed", "operation timed out", `event 7 on "events"`} {
		if !strings.Contains(msg, part) {
			t.Errorf("message %q missing %q", msg, part)
		}
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("OperationError should unwrap to its cause")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"empty store", ErrEmpty, true},
		{"timeout", ErrTimeout, true},
		{"wrapped empty", fmt.Errorf("pop: %w", ErrEmpty), true},
		{"operation timeout", NewOperationError("publish", "Publish", ErrTimeout), true},
		{"capacity", ErrCapacityExceeded, false},
		{"closed", ErrClosed, false},
		{"validation", NewValidationError("m", "f", 0, "bad"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
