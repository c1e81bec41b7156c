// Package budget caps model token spend per pipeline stage using the usage
// tracker's totals.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/llm"
	"github.com/pitchql/pitchql/pkg/models"
)

// ErrBudgetExceeded is the cause carried by a refused model call.
var ErrBudgetExceeded = errors.New("budget exceeded")

// AllStages matches every stage in a policy.
const AllStages = "*"

// Usage reports recorded token totals.
type Usage interface {
	TotalSince(ctx context.Context, since time.Time) (int64, error)
	TotalByStage(ctx context.Context, stage string, since time.Time) (int64, error)
}

// Enforcer checks token usage against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	usage    Usage
	now      func() time.Time
}

// New creates an Enforcer with the given policies and usage source.
func New(policies []models.BudgetPolicy, u Usage) *Enforcer {
	return &Enforcer{policies: policies, usage: u, now: time.Now}
}

// Check refuses a call for stage once any applicable policy is spent. The
// refusal is NonRetriableUpstream so neither retry nor fallback kicks in.
func (e *Enforcer) Check(ctx context.Context, stage string) error {
	for _, p := range e.policiesFor(stage) {
		used, err := e.used(ctx, p)
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if used >= p.MaxTokens {
			return &apperr.Error{
				Kind: apperr.KindNonRetriableUpstream,
				Op:   "budget " + stage,
				Msg:  "token budget exceeded",
				Err:  ErrBudgetExceeded,
			}
		}
	}
	return nil
}

// Status returns usage against every policy that applies to stage. An empty
// stage returns all policies.
func (e *Enforcer) Status(ctx context.Context, stage string) ([]models.BudgetStatus, error) {
	policies := e.policies
	if stage != "" {
		policies = e.policiesFor(stage)
	}
	statuses := make([]models.BudgetStatus, 0, len(policies))

	for _, p := range policies {
		used, err := e.used(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		remaining := p.MaxTokens - used
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			Used:      used,
			Remaining: remaining,
		})
	}
	return statuses, nil
}

func (e *Enforcer) used(ctx context.Context, p models.BudgetPolicy) (int64, error) {
	since := periodStart(p.Period, e.now())
	if isAll(p.Stage) {
		return e.usage.TotalSince(ctx, since)
	}
	return e.usage.TotalByStage(ctx, p.Stage, since)
}

func (e *Enforcer) policiesFor(stage string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if isAll(p.Stage) || p.Stage == stage {
			result = append(result, p)
		}
	}
	return result
}

func isAll(stage string) bool {
	return stage == "" || stage == AllStages
}

func periodStart(period models.BudgetPeriod, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Middleware checks e before every model call. A nil Enforcer disables it.
func Middleware(e *Enforcer) llm.Middleware {
	return func(next llm.Client) llm.Client {
		if e == nil {
			return next
		}
		return &guarded{next: next, e: e}
	}
}

type guarded struct {
	next llm.Client
	e    *Enforcer
}

func (g *guarded) Name() string { return g.next.Name() }

func (g *guarded) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := g.e.Check(ctx, req.Stage); err != nil {
		return nil, err
	}
	return g.next.Generate(ctx, req)
}
