package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"toolchat/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// ErrUnknownModel means no provider group serves the requested model.
var ErrUnknownModel = errors.New("no provider configured for model")

// NewFromConfig 根據設定檔建立 LLM Router
// An empty "llm" list yields a single catch-all Ollama group pointed at
// the system default URL.
func NewFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (*Router, error) {
	var groups []ProviderGroupConfig
	if len(rawLLM) > 0 && string(rawLLM) != "null" {
		if err := json.Unmarshal(rawLLM, &groups); err != nil {
			return nil, fmt.Errorf("failed to parse 'llm' config: %w", err)
		}
	}
	if len(groups) == 0 {
		groups = []ProviderGroupConfig{{Type: "ollama"}}
	}

	router := NewRouter()
	for _, group := range groups {
		slog.Info("Loading LLM Group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown provider type", "type", group.Type, "known", ProviderNames())
			continue
		}

		client, err := factory.Create(group, system)
		if err != nil {
			slog.Warn("Failed to create client", "type", group.Type, "error", err)
			continue
		}
		router.Add(client, group.Models...)
	}

	if router.Len() == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}

	slog.Info("LLM provider groups initialized", "count", router.Len())
	return router, nil
}

type route struct {
	models []string
	client Client
}

// Router resolves a model identifier to the client of the group that
// serves it. Explicit model lists win over catch-all groups; among equals
// the first configured group wins. Router is itself a Client.
type Router struct {
	routes []route
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Add registers a client. No models means the client accepts any model.
func (r *Router) Add(client Client, models ...string) {
	r.routes = append(r.routes, route{models: models, client: client})
}

// Len returns the number of registered clients.
func (r *Router) Len() int {
	return len(r.routes)
}

// Resolve picks the client for model.
func (r *Router) Resolve(model string) (Client, error) {
	for _, rt := range r.routes {
		if slices.Contains(rt.models, model) {
			return rt.client, nil
		}
	}
	for _, rt := range r.routes {
		if len(rt.models) == 0 {
			return rt.client, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
}

func (r *Router) Provider() string {
	return "router"
}

func (r *Router) Complete(ctx context.Context, req Request) (Completion, error) {
	c, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	return c.Complete(ctx, req)
}

func (r *Router) SupportsTools(ctx context.Context, model string) (bool, error) {
	c, err := r.Resolve(model)
	if err != nil {
		return false, err
	}
	return c.SupportsTools(ctx, model)
}

// IsTransientError reports true if any routed client considers err transient.
func (r *Router) IsTransientError(err error) bool {
	for _, rt := range r.routes {
		if rt.client.IsTransientError(err) {
			return true
		}
	}
	return false
}

// ListModels merges statically configured model names with whatever the
// listing-capable clients report. The first entry for a name wins. An error
// is returned only when nothing could be listed at all.
func (r *Router) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var (
		models   []ModelInfo
		firstErr error
	)
	add := func(infos ...ModelInfo) {
		for _, m := range infos {
			if !slices.ContainsFunc(models, func(o ModelInfo) bool { return o.Name == m.Name }) {
				models = append(models, m)
			}
		}
	}
	for _, rt := range r.routes {
		if lister, ok := rt.client.(ModelLister); ok {
			listed, err := lister.ListModels(ctx)
			if err != nil {
				slog.WarnContext(ctx, "Failed to list models", "provider", rt.client.Provider(), "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
			add(listed...)
		}
		for _, n := range rt.models {
			add(ModelInfo{Name: n})
		}
	}
	if len(models) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return models, nil
}

// Passthrough forwards a plain chat turn to the client serving req.Model.
func (r *Router) Passthrough(ctx context.Context, req PassthroughRequest, emit func([]byte) error) error {
	c, err := r.Resolve(req.Model)
	if err != nil {
		return err
	}
	p, ok := c.(Passthrougher)
	if !ok {
		return fmt.Errorf("provider %s does not support plain chat passthrough", c.Provider())
	}
	return p.Passthrough(ctx, req, emit)
}
