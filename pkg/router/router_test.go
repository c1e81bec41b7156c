package router

import (
	"testing"

	"github.com/pitchql/pitchql/pkg/config"
)

func TestResolveNoRoutes(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{
		{Name: "gemini", Type: "gemini", APIKey: "g-1"},
	}
	r := New(cfg)
	routes, err := r.Resolve(config.StageCode)
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 1 {
		t.Fatalf("expected 1 route, got %d", len(routes))
	}
	if routes[0].Provider.Name != "gemini" || routes[0].Model != "gemini-2.5-pro" {
		t.Errorf("unexpected route: %+v", routes[0])
	}
}

func TestResolveWithStageRoute(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{
		{Name: "gemini", Type: "gemini", APIKey: "g-1"},
		{Name: "openai", Type: "openai", APIKey: "sk-2"},
	}
	cfg.Router = config.RouterConfig{
		Routes: []config.RouteConfig{
			{
				Stage: config.StageData,
				Targets: []config.RouteTarget{
					{Provider: "gemini", Model: "gemini-2.5-flash"},
					{Provider: "openai", Model: "gpt-4o"},
				},
			},
		},
	}
	r := New(cfg)
	routes, err := r.Resolve(config.StageData)
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}
	if routes[0].Model != "gemini-2.5-flash" || routes[0].Provider.Name != "gemini" {
		t.Errorf("unexpected first route: %+v", routes[0])
	}
	if routes[1].Model != "gpt-4o" || routes[1].Provider.Name != "openai" {
		t.Errorf("unexpected second route: %+v", routes[1])
	}

	// Other stages still use the default.
	routes, err = r.Resolve(config.StageSQL)
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 1 || routes[0].Provider.Name != "gemini" {
		t.Errorf("unexpected sql routes: %+v", routes)
	}
}

func TestResolveTargetWithoutModel(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{{Name: "gemini", Type: "gemini"}}
	cfg.Router.Routes = []config.RouteConfig{
		{Stage: config.StageSpec, Targets: []config.RouteTarget{{Provider: "gemini"}}},
	}
	routes, err := New(cfg).Resolve(config.StageSpec)
	if err != nil {
		t.Fatal(err)
	}
	if routes[0].Model != cfg.LLM.Stages[config.StageSpec].Model {
		t.Errorf("expected stage default model, got %s", routes[0].Model)
	}
}

func TestResolveUnknownProviders(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{{Name: "gemini"}}
	cfg.Router.Routes = []config.RouteConfig{
		{Stage: config.StageCode, Targets: []config.RouteTarget{{Provider: "nope", Model: "x"}}},
	}
	if _, err := New(cfg).Resolve(config.StageCode); err == nil {
		t.Error("expected error when all providers are unknown")
	}
}

func TestResolveNoProviders(t *testing.T) {
	if _, err := New(config.Default()).Resolve(config.StageData); err == nil {
		t.Error("expected error with no providers")
	}
}

func TestResolveUnknownStage(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{{Name: "gemini"}}
	if _, err := New(cfg).Resolve("summarize"); err == nil {
		t.Error("expected error for a stage with no route or default model")
	}
}
