// Package mock provides a scripted in-memory llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/tiermem/tiermem-go/pkg/llm"
)

// Call records one generation request: the messages sent and the resolved
// generation options.
type Call struct {
	Messages []llm.Message
	Options  llm.GenerateOptions
}

// Provider is a scripted llm.Provider.
//
// Responses are consumed front-to-back; the final response is sticky and
// repeats once the queue is exhausted. With no scripted responses every
// call returns "{}" so JSON-mode callers parse an empty object.
type Provider struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     []Call
}

// New creates a provider that replays the given responses in order.
func New(responses ...string) *Provider {
	return &Provider{responses: append([]string(nil), responses...)}
}

// Enqueue appends responses to the script.
func (p *Provider) Enqueue(responses ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, responses...)
}

// Fail makes every subsequent call return err. Pass nil to clear.
func (p *Provider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls returns a copy of all recorded requests.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return p.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

// GenerateWithMessages implements llm.Provider.
func (p *Provider) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	recorded := make([]llm.Message, len(messages))
	copy(recorded, messages)
	p.calls = append(p.calls, Call{Messages: recorded, Options: *llm.ApplyGenerateOptions(opts)})

	if p.err != nil {
		return "", p.err
	}
	if len(p.responses) == 0 {
		return "{}", nil
	}

	response := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return response, nil
}

// Close implements llm.Provider.
func (p *Provider) Close() error {
	return nil
}
