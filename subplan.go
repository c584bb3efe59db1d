package manus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orangyan/JManus-sub000/recorder"
	"github.com/orangyan/JManus-sub000/tool"
)

const subplanSchema = `{
	"type": "object",
	"properties": {
		"title": {
			"type": "string",
			"description": "Short title for the sub-plan"
		},
		"user_request": {
			"type": "string",
			"description": "What the sub-plan should accomplish overall"
		},
		"steps": {
			"type": "array",
			"description": "Ordered step requirements. Prefix a step with [AGENT_NAME] to target a specific agent.",
			"items": {"type": "string"},
			"minItems": 1
		}
	},
	"required": ["title", "steps"]
}`

// SubplanTool lets an agent decompose its step into a nested plan. The
// sub-plan runs one depth below the current plan and its final result is
// returned as the tool output; a failed sub-plan is a tool error.
type SubplanTool struct {
	executor *PlanExecutor
}

func newSubplanTool(executor *PlanExecutor) *SubplanTool {
	return &SubplanTool{executor: executor}
}

func (t *SubplanTool) ServiceGroup() string { return "system" }
func (t *SubplanTool) Name() string         { return "sub-plan" }

func (t *SubplanTool) Description() string {
	return "Execute a nested plan for a task too large for a single step. Returns the sub-plan's final result."
}

func (t *SubplanTool) InputSchema() string { return subplanSchema }

func (t *SubplanTool) Run(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Title       string   `json:"title"`
		UserRequest string   `json:"user_request"`
		Steps       []string `json:"steps"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("sub-plan: invalid input: %w", err)
	}
	if len(params.Steps) == 0 {
		return "", fmt.Errorf("sub-plan: at least one step is required")
	}

	tc, ok := tool.ExecContextFrom(ctx)
	if !ok {
		return "", fmt.Errorf("sub-plan: no execution context")
	}

	subPlanID := t.executor.ids.NewPlanID()
	parent := ExecutionContext{
		CurrentPlanID:  tc.CurrentPlanID,
		RootPlanID:     tc.RootPlanID,
		ConversationID: tc.ConversationID,
		Depth:          tc.PlanDepth,
	}
	ec := parent.Child(subPlanID, tc.ToolCallID)
	ec.UserRequest = params.UserRequest

	plan := &recorder.PlanRecord{
		CurrentPlanID: subPlanID,
		Title:         params.Title,
		UserRequest:   params.UserRequest,
	}
	for _, req := range params.Steps {
		plan.Steps = append(plan.Steps, &recorder.StepRecord{StepRequirement: req})
	}

	result, err := t.executor.Execute(ctx, ec, plan)
	if err != nil {
		return "", fmt.Errorf("sub-plan %s: %w", subPlanID, err)
	}
	return result, nil
}
