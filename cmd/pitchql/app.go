package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitchql/pitchql/pkg/archive"
	"github.com/pitchql/pitchql/pkg/budget"
	"github.com/pitchql/pitchql/pkg/cache"
	"github.com/pitchql/pitchql/pkg/cache/memory"
	redisstore "github.com/pitchql/pitchql/pkg/cache/redis"
	sqlitestore "github.com/pitchql/pitchql/pkg/cache/sqlite"
	"github.com/pitchql/pitchql/pkg/codegen"
	"github.com/pitchql/pitchql/pkg/config"
	"github.com/pitchql/pitchql/pkg/llm"
	"github.com/pitchql/pitchql/pkg/logging"
	"github.com/pitchql/pitchql/pkg/pipeline"
	"github.com/pitchql/pitchql/pkg/router"
	"github.com/pitchql/pitchql/pkg/sandbox"
	"github.com/pitchql/pitchql/pkg/tracker"
)

// app holds the long-lived services a command needs. close releases them
// in reverse order of construction.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	tracker  *tracker.SQLiteTracker
	enforcer *budget.Enforcer
	models   map[string]*llm.Invoker
	codegen  *codegen.Generator
	cache    cache.Admin
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newApp loads configuration and builds the model invokers. Every provider
// call passes the budget check, then retry with a per-attempt timeout,
// logging and usage tracking.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	var usage llm.UsageRecorder
	if cfg.Tracker.Enabled {
		tr, err := tracker.New(cfg.Tracker.DBPath)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("init tracker: %w", err)
		}
		a.tracker = tr
		a.closers = append(a.closers, func() { _ = tr.Close() })
		usage = tr
	}
	if cfg.Budget.Enabled {
		if a.tracker == nil {
			a.close()
			return nil, fmt.Errorf("budget enforcement needs tracker.enabled")
		}
		a.enforcer = budget.New(cfg.Budget.Policies, a.tracker)
	}

	invokers, err := llm.BuildInvokers(ctx, cfg, router.New(cfg), log,
		budget.Middleware(a.enforcer),
		llm.Retry(llm.RetryPolicy{MaxAttempts: cfg.LLM.MaxAttempts, BaseDelay: cfg.LLM.BaseDelay}),
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.WithLogging(log),
		llm.WithUsage(usage, log),
	)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init models: %w", err)
	}
	invokers[config.StageData] = invokers[config.StageData].JSON()
	invokers[config.StageSpec] = invokers[config.StageSpec].JSON()
	a.models = invokers
	a.codegen = codegen.New(invokers[config.StageCode])
	return a, nil
}

// interactive builds the chart pipeline over the configured cache backend.
func (a *app) interactive() (*pipeline.Interactive, error) {
	store, admin, closeStore, err := openCache(a.cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)
	a.cache = admin

	runner := &sandbox.PythonRunner{Python: a.cfg.Sandbox.Python, Timeout: a.cfg.Sandbox.Timeout}
	pc := pipeline.InteractiveConfig{
		Cache:    cache.NewGateway(store, a.cfg.PromptVersion, a.cfg.Cache.TTL),
		Model:    a.models[config.StageData],
		Codegen:  a.codegen,
		Executor: sandbox.New(runner, a.cfg.Sandbox.DefaultPalette, sandbox.WithLogger(a.log)),
		FailOpen: a.cfg.Cache.FailOpen,
		Timeout:  a.cfg.Server.RequestTimeout,
		Logger:   a.log,
	}
	if a.cfg.Archive.Enabled {
		arch, err := archive.New(a.cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
		pc.Archive = arch
	}
	return pipeline.NewInteractive(pc), nil
}

// openCache returns the store selected by cache.backend. "none" disables
// caching and yields a nil store.
func openCache(cfg *config.Config) (cache.Store, cache.Admin, func(), error) {
	switch cfg.Cache.Backend {
	case "none":
		return nil, nil, func() {}, nil
	case "memory":
		s := memory.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
		return s, s, func() {}, nil
	case "sqlite":
		c, err := sqlitestore.New(cfg.Cache.DBPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init sqlite cache: %w", err)
		}
		return c, c, func() { _ = c.Close() }, nil
	case "", "redis":
		s, err := redisstore.New(cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init redis cache: %w", err)
		}
		return s, s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}
