// Package tool defines the contract between the execution engine and the
// tools it dispatches. Tools are identified by a qualified
// "serviceGroup-toolName" and receive per-call identity through the
// execution context attached to ctx.
package tool

import (
	"context"
	"encoding/json"
)

// Tool is the interface all tools implement.
type Tool interface {
	// ServiceGroup returns the tool's service group, e.g. "fs".
	ServiceGroup() string

	// Name returns the tool name within its group.
	Name() string

	// Description returns a human-readable description shown to the model.
	Description() string

	// InputSchema returns the JSON Schema for the tool input as a string.
	InputSchema() string

	// Run executes the tool. Per-call identity (toolCallId, planDepth, …)
	// is available via ExecContextFrom(ctx).
	Run(ctx context.Context, input json.RawMessage) (string, error)
}

// State is an environment snapshot contributed to the think prompt.
type State struct {
	Key         string
	StateString string
}

// StateProvider is implemented by tools that expose environment state.
type StateProvider interface {
	CurrentToolState(ctx context.Context) *State
}

// Terminable is implemented by tools that can end the agent loop.
type Terminable interface {
	CanTerminate() bool
}

// Cleaner is implemented by tools holding per-plan resources.
type Cleaner interface {
	Cleanup(ctx context.Context, planID string) error
}

// QualifiedName joins a service group and tool name the way the model
// references tools.
func QualifiedName(serviceGroup, name string) string {
	return serviceGroup + "-" + name
}

// funcTool is a Tool implemented by a plain function.
type funcTool struct {
	group       string
	name        string
	description string
	schema      string
	fn          func(context.Context, json.RawMessage) (string, error)
}

func (t *funcTool) ServiceGroup() string { return t.group }
func (t *funcTool) Name() string         { return t.name }
func (t *funcTool) Description() string  { return t.description }
func (t *funcTool) InputSchema() string  { return t.schema }

func (t *funcTool) Run(ctx context.Context, input json.RawMessage) (string, error) {
	return t.fn(ctx, input)
}

// NewFuncTool creates a Tool from a function, useful for simple tools that
// don't warrant a dedicated struct.
func NewFuncTool(
	serviceGroup, name, description, schema string,
	fn func(context.Context, json.RawMessage) (string, error),
) Tool {
	return &funcTool{
		group:       serviceGroup,
		name:        name,
		description: description,
		schema:      schema,
		fn:          fn,
	}
}
