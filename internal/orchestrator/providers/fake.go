package providers

import (
	"context"
	"sync"
)

// FakeProvider is a scriptable Provider for tests: each Complete call pops
// the next response (or invokes the next func) from a queue.
type FakeProvider struct {
	mu        sync.Mutex
	responses []func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	calls     []ChatRequest
}

// NewFakeProvider creates an empty scripted provider; use Push to queue
// responses before driving a turn.
func NewFakeProvider() *FakeProvider { return &FakeProvider{} }

func (p *FakeProvider) Name() string { return "fake" }

// Push queues a canned response for the next Complete call.
func (p *FakeProvider) Push(resp *ChatResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		return resp, nil
	})
}

// PushFunc queues an arbitrary handler, e.g. one that sleeps to model a
// slow LLM in the race tests.
func (p *FakeProvider) PushFunc(fn func(ctx context.Context, req ChatRequest) (*ChatResponse, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, fn)
}

func (p *FakeProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	if len(p.responses) == 0 {
		p.mu.Unlock()
		return &ChatResponse{Text: "done"}, nil
	}
	fn := p.responses[0]
	p.responses = p.responses[1:]
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	return fn(ctx, req)
}

// Calls returns every ChatRequest seen so far, for assertions.
func (p *FakeProvider) Calls() []ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ChatRequest, len(p.calls))
	copy(out, p.calls)
	return out
}
