package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/orangyan/JManus-sub000/llm"
)

// Registry maps qualified names to tools. A registry is built per plan
// invocation; it is not shared mutably across plans.
type Registry struct {
	tools map[string]Tool
	order []string
	mu    sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its qualified name.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	name := QualifiedName(t.ServiceGroup(), t.Name())
	if t.Name() == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if !json.Valid([]byte(t.InputSchema())) {
		return fmt.Errorf("tool %s: input schema is not valid JSON", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// RegisterAll adds multiple tools.
func (r *Registry) RegisterAll(tools []Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a tool by qualified name.
func (r *Registry) Get(qualifiedName string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[qualifiedName]
	return t, ok
}

// List returns the qualified names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// ToolStates collects environment snapshots from every state-providing
// tool, deduplicated by key in registration order.
func (r *Registry) ToolStates(ctx context.Context) []State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var states []State
	for _, name := range r.order {
		provider, ok := r.tools[name].(StateProvider)
		if !ok {
			continue
		}
		state := provider.CurrentToolState(ctx)
		if state == nil || seen[state.Key] {
			continue
		}
		seen[state.Key] = true
		states = append(states, *state)
	}
	return states
}

// CanTerminate reports whether the named tool can end the agent loop.
func (r *Registry) CanTerminate(qualifiedName string) bool {
	t, ok := r.Get(qualifiedName)
	if !ok {
		return false
	}
	term, ok := t.(Terminable)
	return ok && term.CanTerminate()
}

// Cleanup invokes Cleanup on every cleaner tool. Errors are collected so
// one failing tool does not skip the rest.
func (r *Registry) Cleanup(ctx context.Context, planID string) []error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, name := range r.order {
		cleaner, ok := r.tools[name].(Cleaner)
		if !ok {
			continue
		}
		if err := cleaner.Cleanup(ctx, planID); err != nil {
			errs = append(errs, fmt.Errorf("cleanup %s: %w", name, err))
		}
	}
	return errs
}

// ToSpecs converts the registered tools to model tool specs.
func (r *Registry) ToSpecs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, llm.ToolSpec{
			Name:        name,
			Description: t.Description(),
			InputSchema: json.RawMessage(t.InputSchema()),
		})
	}
	return specs
}
