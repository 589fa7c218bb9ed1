package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"explicit", NewTransientError(errors.New("throttled"), 429), true},
		{"wrapped explicit", fmt.Errorf("enrich: %w", NewTransientError(errors.New("x"), 503)), true},
		{"conn reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"timeout text", errors.New("read tcp: i/o timeout"), true},
		{"deadline", context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHTTPStatusError(t *testing.T) {
	err := HTTPStatusError("mailer", http.StatusServiceUnavailable, "down\n")
	if !IsTransient(err) {
		t.Fatalf("503 should be transient")
	}
	if err.Error() != "mailer: unexpected status 503: down" {
		t.Errorf("unexpected message %q", err.Error())
	}

	err = HTTPStatusError("mailer", http.StatusUnprocessableEntity, "bad address")
	if IsTransient(err) {
		t.Errorf("422 should not be transient")
	}
}
