package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pitchql/pitchql/pkg/models"
	"github.com/pitchql/pitchql/pkg/requestid"
)

// Middleware decorates a Client.
type Middleware func(Client) Client

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Client, mws ...Middleware) Client {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// -------- Timeout --------

// WithTimeout bounds each call. Placed inside Retry it bounds each attempt.
func WithTimeout(d time.Duration) Middleware {
	return func(next Client) Client {
		if d <= 0 {
			return next
		}
		return &timeoutClient{next: next, d: d}
	}
}

type timeoutClient struct {
	next Client
	d    time.Duration
}

func (c *timeoutClient) Name() string { return c.next.Name() }

func (c *timeoutClient) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.d)
	defer cancel()
	return c.next.Generate(ctx, req)
}

// -------- Logging --------

// WithLogging logs every call with its stage, model, latency and outcome.
func WithLogging(log *zap.Logger) Middleware {
	return func(next Client) Client {
		return &loggingClient{next: next, log: log}
	}
}

type loggingClient struct {
	next Client
	log  *zap.Logger
}

func (c *loggingClient) Name() string { return c.next.Name() }

func (c *loggingClient) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.next.Generate(ctx, req)
	fields := []zap.Field{
		zap.String("request_id", requestid.FromContext(ctx)),
		zap.String("provider", c.next.Name()),
		zap.String("stage", req.Stage),
		zap.String("model", req.Model),
		zap.Duration("latency", time.Since(start)),
	}
	if err != nil {
		c.log.Warn("model call failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	c.log.Debug("model call", append(fields,
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)...)
	return resp, nil
}

// -------- Usage --------

// UsageRecorder persists token usage.
type UsageRecorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// WithUsage records token usage for every successful call. Recording
// failures are logged and never fail the call.
func WithUsage(rec UsageRecorder, log *zap.Logger) Middleware {
	return func(next Client) Client {
		if rec == nil {
			return next
		}
		if log == nil {
			log = zap.NewNop()
		}
		return &usageClient{next: next, rec: rec, log: log}
	}
}

type usageClient struct {
	next Client
	rec  UsageRecorder
	log  *zap.Logger
}

func (c *usageClient) Name() string { return c.next.Name() }

func (c *usageClient) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.next.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	r := models.UsageRecord{
		RequestID:        requestid.FromContext(ctx),
		Stage:            req.Stage,
		Provider:         c.next.Name(),
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		CreatedAt:        time.Now().UTC(),
	}
	if err := c.rec.Record(context.WithoutCancel(ctx), r); err != nil {
		c.log.Warn("record usage", zap.Error(err))
	}
	return resp, nil
}
