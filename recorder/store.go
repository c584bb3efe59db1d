// Package recorder is the single gateway to durable execution state. It
// persists plans, steps, agent executions, think-act cycles and tool calls,
// and reconstructs the plan hierarchy for inspection clients.
package recorder

import (
	"context"
	"errors"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned for unknown plan, step or tool-call ids.
	ErrNotFound = errors.New("recorder: record not found")

	// ErrConflict is returned on concurrent updates; callers may retry.
	ErrConflict = errors.New("recorder: conflicting update")
)

// Store persists execution records. All operations are idempotent on the
// keyed id. Only the recorder mutates persisted state; every other
// component goes through it.
type Store interface {
	// RecordPlanStart inserts the plan and its step rows. Missing step ids
	// must be assigned by the caller beforehand.
	RecordPlanStart(ctx context.Context, plan *PlanRecord) error

	// RecordStepStart updates the step status and the plan's current step
	// index.
	RecordStepStart(ctx context.Context, step *StepRecord, planID string) error

	// RecordStepEnd updates the step's terminal status, result and error.
	RecordStepEnd(ctx context.Context, step *StepRecord, planID string) error

	// RecordPlanComplete marks the plan completed with summary and result.
	RecordPlanComplete(ctx context.Context, planID string, summary, result string) error

	// RecordAgentStart inserts an agent execution record with status
	// RUNNING. At most one RUNNING record per step at a time.
	RecordAgentStart(ctx context.Context, rec *AgentExecutionRecord) error

	// RecordAgentEnd updates the agent record's terminal state.
	RecordAgentEnd(ctx context.Context, rec *AgentExecutionRecord) error

	// RecordThinkingAndAction inserts a think-act record and its tool-call
	// entries with null results (phase one of the two-phase tool write).
	RecordThinkingAndAction(ctx context.Context, rec *ThinkActRecord) error

	// RecordActionResult writes phase two: for each entry the tool call is
	// looked up by id and its result set; unknown ids are inserted so
	// out-of-order writes are tolerated.
	RecordActionResult(ctx context.Context, results []ActToolResult) error

	// GetPlan loads one plan with its steps.
	GetPlan(ctx context.Context, planID string) (*PlanRecord, error)

	// GetPlansByRoot loads every plan in the tree, roots first.
	GetPlansByRoot(ctx context.Context, rootPlanID string) ([]*PlanRecord, error)

	// GetAgentExecutionDetail returns the agent record for the step with
	// all think-act steps and tool calls eagerly loaded.
	GetAgentExecutionDetail(ctx context.Context, stepID string) (*AgentExecutionRecord, error)

	// ListAgentExecutions returns the agent records for the given steps
	// without think-act detail.
	ListAgentExecutions(ctx context.Context, stepIDs []string) ([]*AgentExecutionRecord, error)

	// FindActToolInfoByToolCallID resolves one tool-call entry, used to
	// link sub-plans to the call that spawned them.
	FindActToolInfoByToolCallID(ctx context.Context, toolCallID string) (*ActToolInfo, error)

	// DeletePlanTree removes a root plan and everything it owns.
	DeletePlanTree(ctx context.Context, rootPlanID string) error
}
