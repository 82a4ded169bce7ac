package llm

import (
	"fmt"

	"github.com/mohammad-safakhou/autospook/config"
)

// Route is the provider and model chosen for one gateway function.
type Route struct {
	Provider Provider
	Model    config.LLMModel
}

// Router resolves gateway functions to providers using the llm.routing table.
type Router struct {
	routes   map[string]Route
	fallback Route
}

// NewRouter builds providers once and maps each function key to its model. Unknown or
// empty routing entries use the fallback model.
func NewRouter(cfg config.LLMConfig) (*Router, error) {
	providers := make(map[string]Provider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		p, err := NewProvider(name, pc)
		if err != nil {
			return nil, err
		}
		providers[name] = p
	}
	resolve := func(key string) (Route, bool) {
		pname, model, ok := cfg.ResolveModel(key)
		if !ok {
			return Route{}, false
		}
		return Route{Provider: providers[pname], Model: model}, true
	}

	fallback, ok := resolve(cfg.Routing.Fallback)
	if !ok {
		return nil, fmt.Errorf("fallback model %q not found", cfg.Routing.Fallback)
	}
	r := &Router{routes: make(map[string]Route), fallback: fallback}
	for fn, key := range map[string]string{
		"stepback":           cfg.Routing.Stepback,
		"generate_topics":    cfg.Routing.Topics,
		"generate_questions": cfg.Routing.Questions,
		"generate_queries":   cfg.Routing.Queries,
		"evaluate_question":  cfg.Routing.EvaluateQuestion,
		"evaluate_topic":     cfg.Routing.EvaluateTopic,
		"write_report":       cfg.Routing.Report,
		"assess_risk":        cfg.Routing.Risk,
	} {
		if route, ok := resolve(key); ok {
			r.routes[fn] = route
		}
	}
	return r, nil
}

// NewStaticRouter routes every function to a single provider; used by tests and the
// scripted CLI mode.
func NewStaticRouter(p Provider, model config.LLMModel) *Router {
	return &Router{routes: map[string]Route{}, fallback: Route{Provider: p, Model: model}}
}

// RouteFor returns the route for a gateway function name.
func (r *Router) RouteFor(function string) Route {
	if route, ok := r.routes[function]; ok {
		return route
	}
	return r.fallback
}
