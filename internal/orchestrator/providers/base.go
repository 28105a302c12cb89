package providers

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"agentd/internal/observability"
)

// RetryConfig controls RetryingProvider's backoff.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig matches the teacher's provider-retry defaults: a few
// quick attempts with jittered exponential backoff, for transient network
// or rate-limit errors against the remote LLM backend.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second}
}

// Retryable is implemented by errors that should trigger a retry (e.g. a
// 429/5xx from the backend). Errors that don't implement it are treated
// as non-retryable.
type Retryable interface {
	Retryable() bool
}

// RetryingProvider wraps another Provider, retrying Complete calls that
// fail with a Retryable error.
type RetryingProvider struct {
	inner Provider
	cfg   RetryConfig
}

// NewRetryingProvider wraps inner with cfg's retry policy.
func NewRetryingProvider(inner Provider, cfg RetryConfig) *RetryingProvider {
	return &RetryingProvider{inner: inner, cfg: cfg}
}

func (p *RetryingProvider) Name() string { return p.inner.Name() }

func (p *RetryingProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		resp, err := p.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var retryable Retryable
		if !errors.As(err, &retryable) || !retryable.Retryable() {
			return nil, err
		}
		if attempt == p.cfg.MaxAttempts-1 {
			break
		}

		delay := backoffDelay(p.cfg, attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	d := cfg.BaseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2 + 1))
	return d/2 + jitter
}

// InstrumentedProvider wraps a Provider with the engine's Prometheus
// metrics, recording request latency and outcome by provider+model.
type InstrumentedProvider struct {
	inner   Provider
	metrics *observability.Metrics
}

// NewInstrumentedProvider wraps inner, recording to metrics.
func NewInstrumentedProvider(inner Provider, metrics *observability.Metrics) *InstrumentedProvider {
	return &InstrumentedProvider{inner: inner, metrics: metrics}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := p.inner.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.LLMRequestDuration.WithLabelValues(p.Name(), req.Model).Observe(elapsed)
		p.metrics.LLMRequestCounter.WithLabelValues(p.Name(), req.Model, status).Inc()
	}
	return resp, err
}
