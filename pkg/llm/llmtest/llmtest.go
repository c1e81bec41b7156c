// Package llmtest provides scripted model clients for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/pitchql/pitchql/pkg/llm"
	"github.com/pitchql/pitchql/pkg/models"
)

// Step is one scripted reply: Text on success, or Err.
type Step struct {
	Text string
	Err  error
}

// Client replays Steps in order; once exhausted it repeats the last step.
type Client struct {
	mu       sync.Mutex
	name     string
	steps    []Step
	requests []llm.Request
}

// New returns a Client named "fake" that replays steps.
func New(steps ...Step) *Client {
	return &Client{name: "fake", steps: steps}
}

// Reply returns a Client that always answers text.
func Reply(text string) *Client {
	return New(Step{Text: text})
}

func (c *Client) Name() string { return c.name }

func (c *Client) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.steps) == 0 {
		return &llm.Response{Model: req.Model}, nil
	}
	i := len(c.requests) - 1
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	s := c.steps[i]
	if s.Err != nil {
		return nil, s.Err
	}
	return &llm.Response{
		Text:  s.Text,
		Model: req.Model,
		Usage: models.Usage{PromptTokens: len(req.Prompt) / 4, CompletionTokens: len(s.Text) / 4, TotalTokens: (len(req.Prompt) + len(s.Text)) / 4},
	}, nil
}

// Calls returns how many requests were made.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns a copy of every request received.
func (c *Client) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// Invoker wraps c in a single-target Invoker for stage.
func Invoker(stage string, c llm.Client) *llm.Invoker {
	return llm.NewInvoker(stage, []llm.Target{{Client: c, Model: "test-model"}}, 0, nil)
}
