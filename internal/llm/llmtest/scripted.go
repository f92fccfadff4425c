// Package llmtest provides a scripted llm.Gateway for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgard/omega/internal/llm"
)

// Step is one scripted reply. Match, when set, must accept the request for
// the step to be used; steps are otherwise consumed in order.
type Step struct {
	Match  func(llm.Request) bool
	Result llm.Result
	Err    error
	// Block, when non-nil, is waited on before replying.
	Block <-chan struct{}
}

// Gateway replays Steps and records every request it receives.
type Gateway struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.Request
	fallback *Step
}

// New returns a Gateway that replays steps in order.
func New(steps ...Step) *Gateway {
	return &Gateway{steps: steps}
}

// Text is a step replying with free text.
func Text(s string) Step { return Step{Result: llm.Result{Text: s}} }

// Structured is a step replying with tool arguments.
func Structured(args map[string]string) Step { return Step{Result: llm.Result{Structured: args}} }

// Fail is a step returning err wrapped as a gateway error.
func Fail(err error) Step { return Step{Err: fmt.Errorf("%w: %w", llm.ErrGateway, err)} }

// Add appends steps.
func (g *Gateway) Add(steps ...Step) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.steps = append(g.steps, steps...)
	return g
}

// WithFallback sets the reply used once the script is exhausted.
func (g *Gateway) WithFallback(step Step) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fallback = &step
	return g
}

// Generate implements llm.Gateway.
func (g *Gateway) Generate(ctx context.Context, req llm.Request) (llm.Result, error) {
	g.mu.Lock()
	g.requests = append(g.requests, cloneRequest(req))

	var step *Step
	for i := range g.steps {
		if g.steps[i].Match == nil || g.steps[i].Match(req) {
			s := g.steps[i]
			step = &s
			g.steps = append(g.steps[:i], g.steps[i+1:]...)
			break
		}
	}
	if step == nil {
		step = g.fallback
	}
	g.mu.Unlock()

	if step == nil {
		return llm.Result{}, fmt.Errorf("%w: no scripted step for request with %d messages", llm.ErrGateway, len(req.Messages))
	}

	if step.Block != nil {
		select {
		case <-step.Block:
		case <-ctx.Done():
			return llm.Result{}, fmt.Errorf("%w: %w", llm.ErrGateway, ctx.Err())
		}
	}
	return step.Result, step.Err
}

// Requests returns a copy of every request received so far.
func (g *Gateway) Requests() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]llm.Request, len(g.requests))
	copy(out, g.requests)
	return out
}

// Calls reports how many requests were received.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// Pending reports how many scripted steps are still unused.
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.steps)
}

func cloneRequest(req llm.Request) llm.Request {
	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	return req
}

// HasTool matches requests carrying the named tool.
func HasTool(name string) func(llm.Request) bool {
	return func(r llm.Request) bool { return r.Tool != nil && r.Tool.Name == name }
}

// NoTool matches requests without a tool.
func NoTool() func(llm.Request) bool {
	return func(r llm.Request) bool { return r.Tool == nil }
}
