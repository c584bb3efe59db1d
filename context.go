package manus

// ExecutionContext carries plan identity through the executor and agents.
// It travels explicitly; there is no ambient global state.
type ExecutionContext struct {
	// CurrentPlanID is the plan being executed.
	CurrentPlanID string

	// RootPlanID is the root of the plan tree. Equals CurrentPlanID for
	// root plans.
	RootPlanID string

	// ParentPlanID is set for sub-plans only.
	ParentPlanID string

	// ToolCallID is the tool call that spawned this plan; set iff the
	// plan is a sub-plan.
	ToolCallID string

	// ConversationID links the execution to a client conversation.
	ConversationID string

	// UserRequest is the originating request text.
	UserRequest string

	// UploadKey names pre-uploaded files to link into the root plan's
	// workspace. Root plans only.
	UploadKey string

	// Depth is the distance from the root plan; used to pick worker pools.
	Depth int
}

// IsRoot reports whether this context belongs to a root plan.
func (ec ExecutionContext) IsRoot() bool {
	return ec.Depth == 0
}

// Child derives the context for a sub-plan spawned by the given tool call.
func (ec ExecutionContext) Child(subPlanID, toolCallID string) ExecutionContext {
	return ExecutionContext{
		CurrentPlanID:  subPlanID,
		RootPlanID:     ec.RootPlanID,
		ParentPlanID:   ec.CurrentPlanID,
		ToolCallID:     toolCallID,
		ConversationID: ec.ConversationID,
		Depth:          ec.Depth + 1,
	}
}
