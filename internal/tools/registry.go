package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the available tools, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewDefaultRegistry registers the PKCE and SAML tools.
func NewDefaultRegistry(maxInflateBytes int64) *Registry {
	r := NewRegistry()
	r.MustRegister(NewPKCETool())
	r.MustRegister(NewSAMLTool(maxInflateBytes))
	return r
}

// Register adds t. Names are case-insensitive and must be unique.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	name := strings.ToLower(t.Name())
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if len(t.Directions()) == 0 {
		return fmt.Errorf("tool %s declares no directions", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s is already registered", name)
	}
	r.tools[name] = t
	return nil
}

// MustRegister is Register that panics on error. For static wiring only.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t, nil
}

// List returns all tools ordered by Order, then name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Order() != out[j].Order() {
			return out[i].Order() < out[j].Order()
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Detect returns the tools that can handle data, in List order.
func (r *Registry) Detect(data string) []Tool {
	var out []Tool
	for _, t := range r.List() {
		if t.CanHandle(data) {
			out = append(out, t)
		}
	}
	return out
}
