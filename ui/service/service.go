// Package service sits between the HTTP surfaces and the engine. It
// narrows the engine to the operations the inspection UI needs.
package service

import (
	"context"

	manus "github.com/orangyan/JManus-sub000"
	"github.com/orangyan/JManus-sub000/recorder"
)

// Executor is the engine surface the UI depends on. *manus.Engine
// satisfies it.
type Executor interface {
	ExecutePlan(ctx context.Context, req manus.PlanRequest) (manus.PlanResult, error)
	Interrupt(rootPlanID string) bool
	SubmitFormInput(rootPlanID string, values map[string]string) error
	FormWaitState(rootPlanID string) manus.FormWaitView
	PlanTree(ctx context.Context, rootPlanID string) (*recorder.PlanView, error)
	PlanDetails(ctx context.Context, planID string) (*recorder.PlanView, error)
	AgentExecutionDetail(ctx context.Context, stepID string) (*recorder.AgentExecutionRecord, error)
	DeletePlanTree(ctx context.Context, rootPlanID string) error
}

// Service provides inspection and control operations over an engine.
type Service struct {
	exec Executor
}

// New creates a service over the given engine.
func New(exec Executor) *Service {
	return &Service{exec: exec}
}

// PlanDetails returns the view of one plan inside its tree.
func (s *Service) PlanDetails(ctx context.Context, planID string) (*recorder.PlanView, error) {
	return s.exec.PlanDetails(ctx, planID)
}

// PlanTree returns the full hierarchy for a root plan.
func (s *Service) PlanTree(ctx context.Context, rootPlanID string) (*recorder.PlanView, error) {
	return s.exec.PlanTree(ctx, rootPlanID)
}

// AgentExecution returns the full agent record for a step.
func (s *Service) AgentExecution(ctx context.Context, stepID string) (*recorder.AgentExecutionRecord, error) {
	return s.exec.AgentExecutionDetail(ctx, stepID)
}

// Interrupt requests cancellation of a running root plan.
func (s *Service) Interrupt(rootPlanID string) bool {
	return s.exec.Interrupt(rootPlanID)
}

// SubmitFormInput forwards user form values to the waiting plan.
func (s *Service) SubmitFormInput(rootPlanID string, values map[string]string) error {
	return s.exec.SubmitFormInput(rootPlanID, values)
}

// FormWaitState reports whether the plan is blocked on user input.
func (s *Service) FormWaitState(rootPlanID string) manus.FormWaitView {
	return s.exec.FormWaitState(rootPlanID)
}

// DeletePlan removes a root plan tree from the store.
func (s *Service) DeletePlan(ctx context.Context, rootPlanID string) error {
	return s.exec.DeletePlanTree(ctx, rootPlanID)
}
