package router

import (
	"fmt"

	"github.com/pitchql/pitchql/pkg/config"
)

// Route represents a resolved provider and model to try.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Router resolves pipeline stages to ordered provider+model chains.
type Router struct {
	cfg *config.Config
}

// New creates a Router from the given configuration.
func New(cfg *config.Config) *Router {
	return &Router{cfg: cfg}
}

// Resolve returns an ordered list of routes for a pipeline stage.
// If the stage matches a configured route, the route's targets are returned.
// Otherwise, the first provider is used with the stage's default model.
func (r *Router) Resolve(stage string) ([]Route, error) {
	if len(r.cfg.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	defaultModel := r.cfg.LLM.Stages[stage].Model

	// Build provider index by name
	providerIndex := make(map[string]config.ProviderConfig, len(r.cfg.Providers))
	for _, p := range r.cfg.Providers {
		providerIndex[p.Name] = p
	}

	// Check configured routes
	for _, route := range r.cfg.Router.Routes {
		if route.Stage != stage {
			continue
		}
		var routes []Route
		for _, target := range route.Targets {
			provider, ok := providerIndex[target.Provider]
			if !ok {
				continue // skip unknown providers
			}
			model := target.Model
			if model == "" {
				model = defaultModel
			}
			routes = append(routes, Route{Provider: provider, Model: model})
		}
		if len(routes) == 0 {
			return nil, fmt.Errorf("route %q: all providers unknown", stage)
		}
		return routes, nil
	}

	if defaultModel == "" {
		return nil, fmt.Errorf("stage %q: no route and no default model", stage)
	}

	// No matching route: default to the first provider.
	return []Route{{Provider: r.cfg.Providers[0], Model: defaultModel}}, nil
}
