package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrToolNotFound is returned when a name is not registered.
var ErrToolNotFound = errors.New("tool not found")

// Registry acts as a central inventory for all tools available to the agent.
// It is built once at startup and never modified afterwards, so concurrent
// runs read it without locking.
type Registry struct {
	tools map[string]Tool
	specs []Spec
}

// NewRegistry builds an immutable registry. Empty or duplicate names are
// rejected.
func NewRegistry(ts ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		name := strings.TrimSpace(t.Name())
		if name == "" {
			return nil, fmt.Errorf("tool with empty name (%T)", t)
		}
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", name)
		}
		r.tools[name] = t
	}

	r.specs = make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		r.specs = append(r.specs, Spec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(r.specs, func(i, j int) bool { return r.specs[i].Name < r.specs[j].Name })
	return r, nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Lookup is Get with an error carrying the missing name.
func (r *Registry) Lookup(name string) (Tool, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Specs returns the tool catalogue sorted by name. The slice is shared;
// callers must not modify it.
func (r *Registry) Specs() []Spec {
	if r == nil {
		return nil
	}
	return r.specs
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.Len())
	for _, s := range r.Specs() {
		names = append(names, s.Name)
	}
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tools)
}
