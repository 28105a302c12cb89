package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

type retryableErr struct{}

func (retryableErr) Error() string  { return "rate limited" }
func (retryableErr) Retryable() bool { return true }

type fatalErr struct{}

func (fatalErr) Error() string  { return "bad request" }
func (fatalErr) Retryable() bool { return false }

func TestRetryingProvider_RetriesRetryableError(t *testing.T) {
	attempts := 0
	inner := providerFunc(func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		attempts++
		if attempts < 3 {
			return nil, retryableErr{}
		}
		return &ChatResponse{Text: "ok"}, nil
	})

	p := NewRetryingProvider(inner, RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})
	resp, err := p.Complete(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "ok" || attempts != 3 {
		t.Fatalf("resp=%v attempts=%d, want ok/3", resp, attempts)
	}
}

func TestRetryingProvider_StopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	inner := providerFunc(func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		attempts++
		return nil, fatalErr{}
	})

	p := NewRetryingProvider(inner, RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})
	_, err := p.Complete(context.Background(), ChatRequest{})
	if !errors.Is(err, fatalErr{}) && err.Error() != "bad request" {
		t.Fatalf("err = %v, want bad request", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on fatal error)", attempts)
	}
}

type providerFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

func (f providerFunc) Name() string { return "fakefunc" }
func (f providerFunc) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return f(ctx, req)
}
