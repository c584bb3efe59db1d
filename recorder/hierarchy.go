package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PlanView is the client-facing value object for one plan in the tree.
// Agent executions are included without their think-act detail; the full
// detail is served per step by GetAgentExecutionDetail.
type PlanView struct {
	CurrentPlanID     string        `json:"currentPlanId"`
	RootPlanID        string        `json:"rootPlanId"`
	ParentPlanID      *string       `json:"parentPlanId,omitempty"`
	ToolCallID        *string       `json:"toolCallId,omitempty"`
	Title             string        `json:"title"`
	UserRequest       string        `json:"userRequest"`
	Summary           *string       `json:"summary,omitempty"`
	Result            *string       `json:"result,omitempty"`
	Completed         bool          `json:"completed"`
	StartTime         time.Time     `json:"startTime"`
	EndTime           *time.Time    `json:"endTime,omitempty"`
	CurrentStepIndex  int           `json:"currentStepIndex"`
	Steps             []*StepRecord `json:"steps"`
	AgentExecutions   []*AgentExecutionRecord `json:"agentExecutions,omitempty"`
	SubPlans          []*PlanView   `json:"subPlans,omitempty"`
	ParentActToolCall *ActToolInfo  `json:"parentActToolCall,omitempty"`
}

// HierarchyReader reconstructs the plan tree on demand from the store.
type HierarchyReader struct {
	store Store
}

// NewHierarchyReader creates a reader over the given store.
func NewHierarchyReader(store Store) *HierarchyReader {
	return &HierarchyReader{store: store}
}

// PlanTree builds the full tree for a root plan. Sub-plans nest under
// their parents; each sub-plan resolves the tool call that spawned it.
func (r *HierarchyReader) PlanTree(ctx context.Context, rootPlanID string) (*PlanView, error) {
	plans, err := r.store.GetPlansByRoot(ctx, rootPlanID)
	if err != nil {
		return nil, err
	}

	views := make(map[string]*PlanView, len(plans))
	for _, plan := range plans {
		view, err := r.toView(ctx, plan)
		if err != nil {
			return nil, err
		}
		views[plan.CurrentPlanID] = view
	}

	var root *PlanView
	for _, plan := range plans {
		view := views[plan.CurrentPlanID]
		if plan.ParentPlanID == nil {
			root = view
			continue
		}
		parent, ok := views[*plan.ParentPlanID]
		if !ok {
			return nil, fmt.Errorf("plan %s references missing parent %s: %w",
				plan.CurrentPlanID, *plan.ParentPlanID, ErrNotFound)
		}
		parent.SubPlans = append(parent.SubPlans, view)
	}
	if root == nil {
		return nil, fmt.Errorf("root plan %s: %w", rootPlanID, ErrNotFound)
	}
	return root, nil
}

// Details returns the subtree rooted at the given plan, which may be a
// sub-plan anywhere in its tree.
func (r *HierarchyReader) Details(ctx context.Context, planID string) (*PlanView, error) {
	plan, err := r.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	tree, err := r.PlanTree(ctx, plan.RootPlanID)
	if err != nil {
		return nil, err
	}
	if node := findView(tree, planID); node != nil {
		return node, nil
	}
	return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
}

func findView(view *PlanView, planID string) *PlanView {
	if view.CurrentPlanID == planID {
		return view
	}
	for _, sub := range view.SubPlans {
		if found := findView(sub, planID); found != nil {
			return found
		}
	}
	return nil
}

func (r *HierarchyReader) toView(ctx context.Context, plan *PlanRecord) (*PlanView, error) {
	view := &PlanView{
		CurrentPlanID:    plan.CurrentPlanID,
		RootPlanID:       plan.RootPlanID,
		ParentPlanID:     plan.ParentPlanID,
		ToolCallID:       plan.ToolCallID,
		Title:            plan.Title,
		UserRequest:      plan.UserRequest,
		Summary:          plan.Summary,
		Result:           plan.Result,
		Completed:        plan.Completed,
		StartTime:        plan.StartTime,
		EndTime:          plan.EndTime,
		CurrentStepIndex: plan.CurrentStepIndex,
		Steps:            plan.Steps,
	}

	stepIDs := make([]string, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		stepIDs = append(stepIDs, step.StepID)
	}
	agents, err := r.store.ListAgentExecutions(ctx, stepIDs)
	if err != nil {
		return nil, err
	}
	for _, agent := range agents {
		agent.ThinkActSteps = nil // detail is a separate endpoint
	}
	view.AgentExecutions = agents

	if plan.ToolCallID != nil {
		info, err := r.store.FindActToolInfoByToolCallID(ctx, *plan.ToolCallID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		view.ParentActToolCall = info
	}

	return view, nil
}
