package manus

import (
	"context"
	"fmt"

	"github.com/orangyan/JManus-sub000/recorder"
)

// PlanRequest describes a root plan to execute.
type PlanRequest struct {
	// Title is a short human-readable name for the plan.
	Title string

	// UserRequest is the overall goal, shown to every agent.
	UserRequest string

	// Steps are the ordered step requirements. Prefix a step with
	// [AGENT_NAME] to target a registered agent; untagged steps go to the
	// default agent.
	Steps []string

	// ConversationID optionally links the run to a client conversation.
	ConversationID string

	// UploadKey optionally names pre-uploaded files to make available in
	// the plan workspace.
	UploadKey string
}

// PlanResult is the outcome of a completed root plan.
type PlanResult struct {
	PlanID string
	Result string
}

// Engine is the entry point of the execution runtime. It owns the shared
// infrastructure: the recorder store, the depth pools, the interruption
// manager, the form registry and the agent definitions.
type Engine struct {
	cfg        *internalConfig
	ids        *IDGenerator
	pools      *DepthPools
	interrupts *InterruptionManager
	forms      *FormInputRegistry
	parallel   *ParallelExecutionService
	executor   *PlanExecutor
	hierarchy  *recorder.HierarchyReader
}

// New creates an engine from the required config and options.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ic := newInternalConfig(cfg)
	for _, opt := range opts {
		if err := opt(ic); err != nil {
			return nil, err
		}
	}
	if ic.store == nil {
		ic.store = recorder.NewPostgresStore(cfg.DB)
	}
	if len(ic.agents) == 0 {
		return nil, fmt.Errorf("%w: at least one agent definition is required", ErrInvalidConfig)
	}
	if _, ok := ic.agents[ic.defaultAgent]; !ok {
		return nil, fmt.Errorf("%w: default agent %q is not registered", ErrInvalidConfig, ic.defaultAgent)
	}

	pools, err := NewDepthPools(ic.poolSizes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	ids := NewIDGenerator()
	interrupts := NewInterruptionManager()
	forms := NewFormInputRegistry(ic.formLockTimeout, ic.logger)
	parallel := NewParallelExecutionService(pools, ids, interrupts, ic.hooks, ic.logger)

	e := &Engine{
		cfg:        ic,
		ids:        ids,
		pools:      pools,
		interrupts: interrupts,
		forms:      forms,
		parallel:   parallel,
		hierarchy:  recorder.NewHierarchyReader(ic.store),
	}
	e.executor = newPlanExecutor(ic, ids, pools, interrupts, forms, parallel)
	return e, nil
}

// Migrate applies the recorder schema. No-op for stores that do not
// manage their own schema, such as the in-memory store.
func (e *Engine) Migrate(ctx context.Context) error {
	if pg, ok := e.cfg.store.(*recorder.PostgresStore); ok {
		return pg.Migrate(ctx)
	}
	return nil
}

// ExecutePlan runs a root plan synchronously and returns its final
// result. Callers wanting fire-and-forget semantics run it on their own
// goroutine and poll PlanDetails.
func (e *Engine) ExecutePlan(ctx context.Context, req PlanRequest) (PlanResult, error) {
	if len(req.Steps) == 0 {
		return PlanResult{}, NewEngineError("Engine.ExecutePlan", ErrInvalidConfig).
			WithContext("reason", "at least one step is required")
	}

	planID := e.ids.NewPlanID()
	plan := &recorder.PlanRecord{
		CurrentPlanID: planID,
		Title:         req.Title,
		UserRequest:   req.UserRequest,
	}
	for _, step := range req.Steps {
		plan.Steps = append(plan.Steps, &recorder.StepRecord{StepRequirement: step})
	}

	ec := ExecutionContext{
		CurrentPlanID:  planID,
		RootPlanID:     planID,
		ConversationID: req.ConversationID,
		UserRequest:    req.UserRequest,
		UploadKey:      req.UploadKey,
	}

	result, err := e.executor.Execute(ctx, ec, plan)
	return PlanResult{PlanID: planID, Result: result}, err
}

// Interrupt requests cooperative cancellation of a running root plan.
// Returns false when the plan is unknown or already finished.
func (e *Engine) Interrupt(rootPlanID string) bool {
	return e.interrupts.Request(rootPlanID)
}

// SubmitFormInput delivers user-provided values to the form the plan is
// waiting on. Returns ErrNoPendingForm when nothing is waiting.
func (e *Engine) SubmitFormInput(rootPlanID string, values map[string]string) error {
	return e.forms.Submit(rootPlanID, values)
}

// FormWaitState reports whether the plan is blocked on user input.
func (e *Engine) FormWaitState(rootPlanID string) FormWaitView {
	return e.forms.WaitState(rootPlanID)
}

// PlanTree returns the full plan hierarchy for a root plan, without
// think-act detail.
func (e *Engine) PlanTree(ctx context.Context, rootPlanID string) (*recorder.PlanView, error) {
	return e.hierarchy.PlanTree(ctx, rootPlanID)
}

// PlanDetails returns the view of one plan inside its tree.
func (e *Engine) PlanDetails(ctx context.Context, planID string) (*recorder.PlanView, error) {
	return e.hierarchy.Details(ctx, planID)
}

// AgentExecutionDetail returns the agent record for a step with all
// think-act cycles and tool calls.
func (e *Engine) AgentExecutionDetail(ctx context.Context, stepID string) (*recorder.AgentExecutionRecord, error) {
	return e.cfg.store.GetAgentExecutionDetail(ctx, stepID)
}

// DeletePlanTree removes a root plan and all of its descendants from the
// store.
func (e *Engine) DeletePlanTree(ctx context.Context, rootPlanID string) error {
	return e.cfg.store.DeletePlanTree(ctx, rootPlanID)
}
