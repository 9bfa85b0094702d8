package tool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mb0/glob"

	"github.com/hupe1980/agentturn/model"
)

// ErrDuplicateTool is returned when a name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

// Registry is a concurrent-safe set of tools addressed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools. Duplicate names panic.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}

	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}

	return r
}

// Register adds t. Registering an existing name fails.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
	}

	r.tools[t.Name()] = t

	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]

	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// Names returns the registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Tools returns the registered tools ordered by name.
func (r *Registry) Tools() []Tool {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(names))
	for _, n := range names {
		out = append(out, r.tools[n])
	}

	return out
}

// Definitions returns the model-facing definitions of all tools ordered by name.
func (r *Registry) Definitions() []model.ToolDefinition {
	tools := r.Tools()

	defs := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, model.NewToolDefinition(t.Name(), t.Description(), t.Parameters()))
	}

	return defs
}

// Filter returns a new registry holding the tools whose name matches any of
// the glob patterns. No patterns selects every tool.
func (r *Registry) Filter(patterns ...string) (*Registry, error) {
	out := NewRegistry()

	for _, t := range r.Tools() {
		ok, err := matchAny(patterns, t.Name())
		if err != nil {
			return nil, err
		}

		if ok {
			out.tools[t.Name()] = t
		}
	}

	return out, nil
}

// With returns a copy of the registry extended by tools not yet present.
func (r *Registry) With(tools ...Tool) *Registry {
	out := NewRegistry()

	for _, t := range r.Tools() {
		out.tools[t.Name()] = t
	}

	for _, t := range tools {
		if _, exists := out.tools[t.Name()]; !exists {
			out.tools[t.Name()] = t
		}
	}

	return out
}

func matchAny(patterns []string, name string) (bool, error) {
	if len(patterns) == 0 {
		return true, nil
	}

	for _, p := range patterns {
		ok, err := glob.Match(p, name)
		if err != nil {
			return false, fmt.Errorf("invalid tool pattern %q: %w", p, err)
		}

		if ok {
			return true, nil
		}
	}

	return false, nil
}
