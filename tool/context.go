package tool

import "context"

// ExecContext carries per-call identity into a tool invocation. The engine
// seeds a child context from the parent before each call; no ambient global
// state is involved.
type ExecContext struct {
	// CurrentPlanID is the plan whose step triggered this call.
	CurrentPlanID string

	// RootPlanID is the root of the plan tree.
	RootPlanID string

	// ToolCallID uniquely identifies this invocation.
	ToolCallID string

	// PlanDepth is the distance of the current plan from the root.
	PlanDepth int

	// ConversationID links the call to a client conversation, if any.
	ConversationID string
}

type execContextKey struct{}

// WithExecContext attaches the execution context to ctx. Called by the
// dispatcher before each tool run.
func WithExecContext(ctx context.Context, ec ExecContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, ec)
}

// ExecContextFrom extracts the execution context from ctx. The second
// return is false when the context was not enriched by the dispatcher.
func ExecContextFrom(ctx context.Context) (ExecContext, bool) {
	ec, ok := ctx.Value(execContextKey{}).(ExecContext)
	return ec, ok
}
