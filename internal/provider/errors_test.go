package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "transient provider error", err: &ProviderError{StatusCode: 503, Transient: true}, want: true},
		{name: "permanent provider error", err: &ProviderError{StatusCode: 400}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsPermanentAndReason(t *testing.T) {
	t.Parallel()

	permanent := fmt.Errorf("wrapped: %w", &ProviderError{StatusCode: 403, Message: "blocked"})
	if !IsPermanent(permanent) {
		t.Fatal("IsPermanent() = false, want true")
	}
	if got := Reason(permanent); got != "permanent_error" {
		t.Fatalf("Reason() = %q, want permanent_error", got)
	}

	if IsPermanent(errors.New("boom")) {
		t.Fatal("unclassified errors must not be permanent")
	}
	if got := Reason(errors.New("boom")); got != "unknown" {
		t.Fatalf("Reason() = %q, want unknown", got)
	}
	if got := Reason(context.DeadlineExceeded); got != "timeout" {
		t.Fatalf("Reason() = %q, want timeout", got)
	}
	if got := Reason(&ProviderError{StatusCode: 500, Transient: true}); got != "transient_error" {
		t.Fatalf("Reason() = %q, want transient_error", got)
	}
}

func TestProviderErrorMessage(t *testing.T) {
	t.Parallel()

	err := &ProviderError{StatusCode: 429, Message: "slow down", Cause: errors.New("flood")}
	if got := err.Error(); got != "provider error: status=429: slow down: flood" {
		t.Fatalf("Error() = %q", got)
	}
}
