// Package hooks provides lifecycle callbacks fired by the execution
// engine: plan start/end, think rounds, tool calls and memory compression.
package hooks

import (
	"context"
	"encoding/json"
	"sync"
)

// PlanStartHook is called when a plan begins executing.
type PlanStartHook func(ctx context.Context, planID, title string) error

// PlanEndHook is called when a plan finishes, on every exit path.
type PlanEndHook func(ctx context.Context, planID string, completed bool, result string) error

// ThinkHook is called before each think phase.
type ThinkHook func(ctx context.Context, stepID string, round int) error

// ToolCallHook is called after each tool invocation.
type ToolCallHook func(ctx context.Context, toolName string, input json.RawMessage, output string, err error) error

// CompactionHook is called after memory compression with the character
// counts before and after.
type CompactionHook func(ctx context.Context, beforeChars, afterChars int) error

// Registry holds all registered hooks.
type Registry struct {
	mu         sync.RWMutex
	planStart  []PlanStartHook
	planEnd    []PlanEndHook
	think      []ThinkHook
	toolCall   []ToolCallHook
	compaction []CompactionHook
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// OnPlanStart registers a plan start hook.
func (r *Registry) OnPlanStart(hook PlanStartHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planStart = append(r.planStart, hook)
}

// OnPlanEnd registers a plan end hook.
func (r *Registry) OnPlanEnd(hook PlanEndHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planEnd = append(r.planEnd, hook)
}

// OnThink registers a think hook.
func (r *Registry) OnThink(hook ThinkHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.think = append(r.think, hook)
}

// OnToolCall registers a tool call hook.
func (r *Registry) OnToolCall(hook ToolCallHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolCall = append(r.toolCall, hook)
}

// OnCompaction registers a compaction hook.
func (r *Registry) OnCompaction(hook CompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compaction = append(r.compaction, hook)
}

// FirePlanStart invokes the plan start hooks; the first error stops the
// chain and is returned for the caller to log.
func (r *Registry) FirePlanStart(ctx context.Context, planID, title string) error {
	r.mu.RLock()
	hooks := r.planStart
	r.mu.RUnlock()
	for _, hook := range hooks {
		if err := hook(ctx, planID, title); err != nil {
			return err
		}
	}
	return nil
}

// FirePlanEnd invokes the plan end hooks.
func (r *Registry) FirePlanEnd(ctx context.Context, planID string, completed bool, result string) error {
	r.mu.RLock()
	hooks := r.planEnd
	r.mu.RUnlock()
	for _, hook := range hooks {
		if err := hook(ctx, planID, completed, result); err != nil {
			return err
		}
	}
	return nil
}

// FireThink invokes the think hooks.
func (r *Registry) FireThink(ctx context.Context, stepID string, round int) error {
	r.mu.RLock()
	hooks := r.think
	r.mu.RUnlock()
	for _, hook := range hooks {
		if err := hook(ctx, stepID, round); err != nil {
			return err
		}
	}
	return nil
}

// FireToolCall invokes the tool call hooks.
func (r *Registry) FireToolCall(ctx context.Context, toolName string, input json.RawMessage, output string, callErr error) error {
	r.mu.RLock()
	hooks := r.toolCall
	r.mu.RUnlock()
	for _, hook := range hooks {
		if err := hook(ctx, toolName, input, output, callErr); err != nil {
			return err
		}
	}
	return nil
}

// FireCompaction invokes the compaction hooks.
func (r *Registry) FireCompaction(ctx context.Context, beforeChars, afterChars int) error {
	r.mu.RLock()
	hooks := r.compaction
	r.mu.RUnlock()
	for _, hook := range hooks {
		if err := hook(ctx, beforeChars, afterChars); err != nil {
			return err
		}
	}
	return nil
}
