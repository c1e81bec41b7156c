// Package pipeline sequences the stages that answer a question: cache
// check, model call, parsing, code generation, rendering and caching.
// Stages run strictly in sequence and any stage failure ends the run; a
// failed run never writes the cache.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/cache"
	"github.com/pitchql/pitchql/pkg/models"
	"github.com/pitchql/pitchql/pkg/parse"
	"github.com/pitchql/pitchql/pkg/prompt"
	"github.com/pitchql/pitchql/pkg/requestid"
	"github.com/pitchql/pitchql/pkg/validate"
)

// Invoker sends a prompt to a model stage.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// ResponseCache looks up and stores serialized responses.
type ResponseCache interface {
	Query(question string) models.Query
	Lookup(ctx context.Context, q models.Query) ([]byte, bool, error)
	Store(ctx context.Context, q models.Query, response []byte) error
}

// CodeGenerator turns a chart spec into chart code.
type CodeGenerator interface {
	Generate(ctx context.Context, spec map[string]any) (string, error)
}

// Executor renders chart code against data into figure JSON.
type Executor interface {
	Execute(ctx context.Context, data []models.Record, code string) (string, error)
}

// Archiver keeps a copy of freshly rendered responses.
type Archiver interface {
	Put(ctx context.Context, cacheKey string, body []byte) error
}

// InteractiveConfig wires an Interactive pipeline.
type InteractiveConfig struct {
	Cache    ResponseCache
	Model    Invoker
	Codegen  CodeGenerator
	Executor Executor
	// Archive is optional.
	Archive Archiver
	// FailOpen treats cache failures as misses instead of failing the run.
	FailOpen bool
	// Timeout bounds one computation. It is detached from the callers that
	// share it, so one caller giving up does not fail the others.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Interactive answers a question with data, a chart spec, chart code and
// the rendered figure.
type Interactive struct {
	cfg   InteractiveConfig
	log   *zap.Logger
	group singleflight.Group
}

// NewInteractive returns an Interactive pipeline.
func NewInteractive(cfg InteractiveConfig) *Interactive {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Interactive{cfg: cfg, log: log}
}

// Result is a finished interactive run.
type Result struct {
	// Body is the serialized models.InteractiveResponse. On a cache hit it
	// is the stored value byte for byte.
	Body     []byte
	CacheKey string
	CacheHit bool
}

// Run answers question, short-circuiting on a cached response. Identical
// questions already in flight in this process share one computation. The
// cache key covers the question exactly as received.
func (p *Interactive) Run(ctx context.Context, question string) (*Result, error) {
	if _, err := validate.Question(question); err != nil {
		return nil, apperr.Newf(apperr.KindMissingInput, "interactive", "Missing 'nl' in request body")
	}

	q := p.cfg.Cache.Query(question)
	key := cache.Key(q)
	log := p.log.With(zap.String("request_id", requestid.FromContext(ctx)), zap.String("cache_key", key))

	body, hit, err := p.cfg.Cache.Lookup(ctx, q)
	if err != nil {
		if !p.cfg.FailOpen {
			return nil, err
		}
		log.Warn("cache lookup failed, computing", zap.Error(err))
	}
	if hit {
		log.Debug("cache hit")
		return &Result{Body: body, CacheKey: key, CacheHit: true}, nil
	}

	ch := p.group.DoChan(key, func() (any, error) {
		cctx := context.WithoutCancel(ctx)
		if p.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(cctx, p.cfg.Timeout)
			defer cancel()
		}
		return p.compute(cctx, q, key, log)
	})
	select {
	case <-ctx.Done():
		log.Debug("caller gave up, computation continues", zap.Error(ctx.Err()))
		return nil, apperr.Wrap(apperr.KindInternal, "interactive", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Debug("shared in-flight result")
		}
		return &Result{Body: res.Val.([]byte), CacheKey: key}, nil
	}
}

func (p *Interactive) compute(ctx context.Context, q models.Query, key string, log *zap.Logger) ([]byte, error) {
	dataPrompt, err := prompt.DataSpec(q.Question)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "interactive", err)
	}
	raw, err := p.cfg.Model.Invoke(ctx, dataPrompt)
	if err != nil {
		return nil, err
	}
	cs, err := parse.ChartSpec(raw)
	if err != nil {
		log.Warn("unusable data+spec answer", zap.String("raw", truncate(raw, 4096)), zap.Error(err))
		return nil, err
	}

	code, err := p.cfg.Codegen.Generate(ctx, cs.Spec)
	if err != nil {
		return nil, err
	}
	fig, err := p.cfg.Executor.Execute(ctx, cs.Data, code)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(models.InteractiveResponse{Spec: cs.Spec, Code: code, PlotlyJSON: fig})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "interactive", err)
	}

	if err := p.cfg.Cache.Store(ctx, q, body); err != nil {
		if !p.cfg.FailOpen {
			return nil, err
		}
		log.Warn("cache store failed, serving uncached", zap.Error(err))
	}

	if p.cfg.Archive != nil {
		if err := p.cfg.Archive.Put(ctx, key, body); err != nil {
			log.Warn("archive chart", zap.Error(err))
		}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
