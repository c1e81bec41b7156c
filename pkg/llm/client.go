// Package llm invokes hosted language models. Backends implement Client;
// cross-cutting behaviour (timeouts, retry, logging, usage tracking) is
// layered on with Middleware.
package llm

import (
	"context"

	"github.com/pitchql/pitchql/pkg/models"
)

// Client sends one prompt to a model and returns its text.
type Client interface {
	// Name identifies the provider, e.g. "gemini".
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Request is a single-turn prompt.
type Request struct {
	Stage       string
	Model       string
	Prompt      string
	Temperature *float32
	// JSON asks the backend for a JSON-only response where supported.
	JSON bool
}

// Response is a model's reply.
type Response struct {
	Text  string
	Model string
	Usage models.Usage
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

func (f ClientFunc) Name() string { return "func" }

func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Temperature returns a pointer to t for Request.Temperature.
func Temperature(t float32) *float32 { return &t }
