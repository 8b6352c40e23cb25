package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped by fmt", fmt.Errorf("openrouter: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"wrapped by eris", eris.Wrap(NewTransientError(errors.New("bad gateway"), 502), "lemlist: create lead"), true},
		{"connection reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"flattened message", errors.New("Post \"https://api\": read: connection reset by peer"), true},
		{"permanent", errors.New("invalid input: missing field"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("%d should be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404, 409, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("%d should not be transient", code)
		}
	}
}

func TestForStatus(t *testing.T) {
	base := errors.New("status 429")
	err := ForStatus(base, 429)
	var te *TransientError
	if !errors.As(err, &te) || te.StatusCode != 429 {
		t.Fatalf("expected TransientError with 429, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to unwrap to base")
	}

	if ForStatus(base, 409) != base {
		t.Error("non-transient status should return err unchanged")
	}
	if ForStatus(nil, 500) != nil {
		t.Error("nil stays nil")
	}
}
