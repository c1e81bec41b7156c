package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/config"
	"github.com/pitchql/pitchql/pkg/router"
)

// Target is one provider/model pair in a stage's fallback chain.
type Target struct {
	Client Client
	Model  string
}

// Invoker sends a stage's prompts to its chain of targets. It moves to the
// next target only when the current one failed transiently, which with a
// Retry middleware means its attempts are exhausted.
type Invoker struct {
	stage       string
	targets     []Target
	temperature *float32
	json        bool
	log         *zap.Logger
}

// NewInvoker returns an Invoker for stage.
func NewInvoker(stage string, targets []Target, temperature float32, log *zap.Logger) *Invoker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Invoker{stage: stage, targets: targets, temperature: Temperature(temperature), log: log}
}

// JSON returns a copy of inv that requests JSON-only output.
func (inv *Invoker) JSON() *Invoker {
	cp := *inv
	cp.json = true
	return &cp
}

// Stage names the pipeline stage this invoker serves.
func (inv *Invoker) Stage() string { return inv.stage }

// Invoke returns the model's text for prompt. Blank text is EmptyResponse.
func (inv *Invoker) Invoke(ctx context.Context, prompt string) (string, error) {
	if len(inv.targets) == 0 {
		return "", apperr.Wrap(apperr.KindNonRetriableUpstream, "invoke "+inv.stage, fmt.Errorf("no targets"))
	}
	var last error
	for i, t := range inv.targets {
		resp, err := t.Client.Generate(ctx, Request{
			Stage:       inv.stage,
			Model:       t.Model,
			Prompt:      prompt,
			Temperature: inv.temperature,
			JSON:        inv.json,
		})
		if err == nil {
			if strings.TrimSpace(resp.Text) == "" {
				return "", apperr.New(apperr.KindEmptyResponse, "invoke "+inv.stage)
			}
			return resp.Text, nil
		}
		last = err
		if !IsTransient(err) || ctx.Err() != nil || i == len(inv.targets)-1 {
			break
		}
		inv.log.Warn("model target unavailable, trying next",
			zap.String("stage", inv.stage),
			zap.String("provider", t.Client.Name()),
			zap.String("model", t.Model),
			zap.Error(err),
		)
	}
	return "", fmt.Errorf("invoke %s: %w", inv.stage, last)
}

// NewProviderClient builds the backend for p.
func NewProviderClient(ctx context.Context, p config.ProviderConfig) (Client, error) {
	switch p.Type {
	case "", "gemini":
		return NewGemini(ctx, p.Name, p.APIKey, p.URL)
	case "openai":
		return NewOpenAI(p.Name, p.APIKey, p.URL)
	default:
		return nil, fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type)
	}
}

// BuildInvokers resolves every pipeline stage through r and returns one
// Invoker per stage. Each provider client is built once and wrapped with mws.
func BuildInvokers(ctx context.Context, cfg *config.Config, r *router.Router, log *zap.Logger, mws ...Middleware) (map[string]*Invoker, error) {
	clients := make(map[string]Client)
	invokers := make(map[string]*Invoker)
	for _, stage := range []string{config.StageData, config.StageCode, config.StageSQL, config.StageSpec} {
		routes, err := r.Resolve(stage)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", stage, err)
		}
		targets := make([]Target, 0, len(routes))
		for _, rt := range routes {
			c, ok := clients[rt.Provider.Name]
			if !ok {
				base, err := NewProviderClient(ctx, rt.Provider)
				if err != nil {
					return nil, err
				}
				c = Wrap(base, mws...)
				clients[rt.Provider.Name] = c
			}
			targets = append(targets, Target{Client: c, Model: rt.Model})
		}
		invokers[stage] = NewInvoker(stage, targets, cfg.LLM.Stages[stage].SamplingTemperature(), log)
	}
	return invokers, nil
}
