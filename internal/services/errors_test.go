package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"curio/internal/services"
)

func TestWrapTagsErrorsForClassification(t *testing.T) {
	base := errors.New("connection reset")
	err := services.Wrap(services.ErrTransient, "download", "fetch", "read chunk", base)

	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("wrapped error lost its marker: %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("wrapped error lost its cause: %v", err)
	}
	want := "transient failure: download: fetch: read chunk: connection reset"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}

	// A nil marker defaults to transient rather than losing classification.
	err = services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("nil marker not treated as transient: %v", err)
	}
	if err.Error() != "transient failure: service failure" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"fatal", services.Wrap(services.ErrFatal, "x", "y", "z", nil), false},
		{"validation", services.ErrValidation, false},
		{"configuration", services.ErrConfiguration, false},
		{"integrity", services.ErrIntegrity, false},
		{"transient", services.ErrTransient, true},
		{"untagged", errors.New("plain"), true},
		{"not found", services.ErrNotFound, true},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Errorf("Retryable(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	err := &services.RetryAfterError{Delay: 30 * time.Second, Err: errors.New("rate limited")}

	if !services.Retryable(err) {
		t.Fatal("rate-limited error should be retryable")
	}
	delay, ok := services.RetryAfter(err)
	if !ok || delay != 30*time.Second {
		t.Fatalf("RetryAfter = (%v, %v), want (30s, true)", delay, ok)
	}

	if _, ok := services.RetryAfter(errors.New("plain")); ok {
		t.Fatal("RetryAfter found a delay on a plain error")
	}
	if _, ok := services.RetryAfter(&services.RetryAfterError{}); ok {
		t.Fatal("RetryAfter reported a zero delay")
	}
}

func TestContextAnnotations(t *testing.T) {
	ctx := context.Background()

	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("empty context reported a request id")
	}

	ctx = services.WithJobID(ctx, 42)
	ctx = services.WithJobType(ctx, "download_design")
	ctx = services.WithDesignID(ctx, 7)
	ctx = services.WithRequestID(ctx, "req-1")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("JobIDFromContext = (%d, %v)", id, ok)
	}
	if jt, ok := services.JobTypeFromContext(ctx); !ok || jt != "download_design" {
		t.Fatalf("JobTypeFromContext = (%q, %v)", jt, ok)
	}
	if id, ok := services.DesignIDFromContext(ctx); !ok || id != 7 {
		t.Fatalf("DesignIDFromContext = (%d, %v)", id, ok)
	}
	if id, ok := services.RequestIDFromContext(ctx); !ok || id != "req-1" {
		t.Fatalf("RequestIDFromContext = (%q, %v)", id, ok)
	}

	// Empty values are ignored rather than stored.
	ctx = services.WithRequestID(context.Background(), "")
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("blank request id stored")
	}
}
