package llm

import (
	"context"
	"time"
)

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Retry retries transient failures (see IsTransient) up to MaxAttempts
// total attempts, waiting BaseDelay, 2*BaseDelay, 4*BaseDelay... between
// them. Any other failure is returned immediately. When attempts run out
// the last transient error is returned.
func Retry(p RetryPolicy) Middleware {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return func(next Client) Client {
		return &retrying{next: next, p: p}
	}
}

type retrying struct {
	next Client
	p    RetryPolicy
}

func (r *retrying) Name() string { return r.next.Name() }

func (r *retrying) Generate(ctx context.Context, req Request) (*Response, error) {
	var last error
	for i := 0; i < r.p.MaxAttempts; i++ {
		resp, err := r.next.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		last = err
		if i == r.p.MaxAttempts-1 {
			break
		}
		if err := r.p.Sleep(ctx, r.p.BaseDelay*time.Duration(1<<i)); err != nil {
			return nil, err
		}
	}
	return nil, last
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
