package manus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/orangyan/JManus-sub000/recorder"
	"github.com/orangyan/JManus-sub000/tool"
	"github.com/orangyan/JManus-sub000/tool/builtin"
)

// agentTagPattern matches the optional [AGENT_NAME] prefix of a step
// requirement.
var agentTagPattern = regexp.MustCompile(`^\s*\[([A-Za-z0-9_\- ]+)\]\s*`)

// PlanExecutor runs plans step by step: pick the agent named by the step
// tag, run its think-act loop on the depth pool, record every transition,
// and stop on the first failure or interrupt. Sub-plans re-enter it
// through the sub-plan tool.
type PlanExecutor struct {
	cfg        *internalConfig
	ids        *IDGenerator
	pools      *DepthPools
	interrupts *InterruptionManager
	forms      *FormInputRegistry
	parallel   *ParallelExecutionService
	logger     Logger
}

// newPlanExecutor wires an executor from the engine's shared components.
func newPlanExecutor(cfg *internalConfig, ids *IDGenerator, pools *DepthPools, interrupts *InterruptionManager, forms *FormInputRegistry, parallel *ParallelExecutionService) *PlanExecutor {
	return &PlanExecutor{
		cfg:        cfg,
		ids:        ids,
		pools:      pools,
		interrupts: interrupts,
		forms:      forms,
		parallel:   parallel,
		logger:     cfg.logger,
	}
}

// Execute runs the plan to completion and returns its final result text.
// Step failure and interruption stop the remaining steps; the plan record
// is always marked complete, with the failure carried in the summary, and
// cleanup runs on every exit path.
func (e *PlanExecutor) Execute(ctx context.Context, ec ExecutionContext, plan *recorder.PlanRecord) (result string, err error) {
	e.normalize(&ec, plan)

	if ec.IsRoot() {
		e.interrupts.Register(ec.RootPlanID)
		if wsErr := e.prepareWorkspace(ec.RootPlanID, ec.UploadKey); wsErr != nil {
			e.logger.Warn("workspace preparation failed",
				"plan_id", ec.RootPlanID,
				"error", wsErr,
			)
		}
	}

	if err := e.cfg.store.RecordPlanStart(ctx, plan); err != nil {
		return "", NewEngineError("PlanExecutor.Execute", err).
			WithContext("plan_id", ec.CurrentPlanID)
	}
	if hookErr := e.cfg.hooks.FirePlanStart(ctx, ec.CurrentPlanID, plan.Title); hookErr != nil {
		e.logger.Warn("plan start hook failed", "plan_id", ec.CurrentPlanID, "error", hookErr)
	}

	defer func() {
		e.cleanup(ec)
		completed := err == nil
		if hookErr := e.cfg.hooks.FirePlanEnd(ctx, ec.CurrentPlanID, completed, result); hookErr != nil {
			e.logger.Warn("plan end hook failed", "plan_id", ec.CurrentPlanID, "error", hookErr)
		}
	}()

	result, err = e.runSteps(ctx, ec, plan)

	summary := result
	if err != nil {
		summary = err.Error()
	}
	if recErr := e.cfg.store.RecordPlanComplete(ctx, ec.CurrentPlanID, summary, result); recErr != nil {
		e.logger.Error("record plan complete failed", "plan_id", ec.CurrentPlanID, "error", recErr)
	}
	return result, err
}

// runSteps iterates the plan's steps in order.
func (e *PlanExecutor) runSteps(ctx context.Context, ec ExecutionContext, plan *recorder.PlanRecord) (string, error) {
	lastResult := ""
	for _, step := range plan.Steps {
		if !e.interrupts.ShouldContinue(ec.RootPlanID) {
			step.Status = recorder.StepInterrupted
			if err := e.cfg.store.RecordStepEnd(ctx, step, ec.CurrentPlanID); err != nil {
				e.logger.Error("record step end failed", "step_id", step.StepID, "error", err)
			}
			return lastResult, ErrInterrupted
		}

		def, requirement, err := e.selectAgent(step.StepRequirement)
		if err != nil {
			step.Status = recorder.StepFailed
			step.ErrorMessage = strPtr(err.Error())
			if recErr := e.cfg.store.RecordStepEnd(ctx, step, ec.CurrentPlanID); recErr != nil {
				e.logger.Error("record step end failed", "step_id", step.StepID, "error", recErr)
			}
			return lastResult, err
		}
		step.AgentName = strPtr(def.Name)
		step.StepRequirement = requirement
		step.Status = recorder.StepInProgress
		if err := e.cfg.store.RecordStepStart(ctx, step, ec.CurrentPlanID); err != nil {
			e.logger.Error("record step start failed", "step_id", step.StepID, "error", err)
		}

		agentRes, err := e.runStep(ctx, ec, def, step)
		if err != nil {
			step.Status = recorder.StepFailed
			step.ErrorMessage = strPtr(err.Error())
			if recErr := e.cfg.store.RecordStepEnd(ctx, step, ec.CurrentPlanID); recErr != nil {
				e.logger.Error("record step end failed", "step_id", step.StepID, "error", recErr)
			}
			return lastResult, err
		}

		switch agentRes.Status {
		case recorder.AgentFinished:
			step.Status = recorder.StepCompleted
			step.Result = strPtr(agentRes.Result)
			lastResult = agentRes.Result
		case recorder.AgentInterrupted:
			step.Status = recorder.StepInterrupted
			step.ErrorMessage = strPtr(agentRes.ErrorMessage)
		default:
			step.Status = recorder.StepFailed
			step.ErrorMessage = strPtr(agentRes.ErrorMessage)
		}
		if err := e.cfg.store.RecordStepEnd(ctx, step, ec.CurrentPlanID); err != nil {
			e.logger.Error("record step end failed", "step_id", step.StepID, "error", err)
		}

		switch step.Status {
		case recorder.StepInterrupted:
			return lastResult, ErrInterrupted
		case recorder.StepFailed:
			return lastResult, NewEngineError("PlanExecutor.runSteps", fmt.Errorf("step %d failed: %s", step.StepIndex, agentRes.ErrorMessage)).
				WithContext("plan_id", ec.CurrentPlanID).
				WithContext("step_id", step.StepID)
		}
	}
	return lastResult, nil
}

// runStep executes one step's agent. Root plans submit the agent to the
// depth-0 pool; sub-plans run inline because their sub-plan tool call
// already occupies a worker at this depth.
func (e *PlanExecutor) runStep(ctx context.Context, ec ExecutionContext, def AgentDefinition, step *recorder.StepRecord) (AgentResult, error) {
	registry, err := e.buildRegistry(def)
	if err != nil {
		return AgentResult{}, NewEngineError("PlanExecutor.runStep", err).
			WithContext("agent", def.Name)
	}
	agent := newDynamicAgent(def, e.cfg, e.parallel, e.interrupts, e.ids)

	var res AgentResult
	run := func() error {
		res = agent.Run(ctx, ec, step, registry)
		return nil
	}
	if ec.IsRoot() {
		err = e.pools.Run(ctx, ec.Depth, run)
	} else {
		err = run()
	}

	if errs := registry.Cleanup(ctx, ec.CurrentPlanID); len(errs) > 0 {
		for _, cleanupErr := range errs {
			e.logger.Warn("tool cleanup failed",
				"plan_id", ec.CurrentPlanID,
				"step_id", step.StepID,
				"error", cleanupErr,
			)
		}
	}
	if err != nil {
		return AgentResult{}, err
	}
	return res, nil
}

// selectAgent resolves the [AGENT_NAME] tag, falling back to the default
// agent for untagged steps.
func (e *PlanExecutor) selectAgent(requirement string) (AgentDefinition, string, error) {
	name := e.cfg.defaultAgent
	if m := agentTagPattern.FindStringSubmatch(requirement); m != nil {
		name = strings.ToUpper(strings.TrimSpace(m[1]))
		requirement = requirement[len(m[0]):]
	}
	if name == "" {
		return AgentDefinition{}, "", NewEngineError("PlanExecutor.selectAgent", ErrAgentNotFound).
			WithContext("reason", "no agents registered")
	}
	def, ok := e.cfg.agents[name]
	if !ok {
		// An unknown tag falls back to the default agent rather than
		// failing the whole plan.
		def, ok = e.cfg.agents[e.cfg.defaultAgent]
		if !ok {
			return AgentDefinition{}, "", NewEngineError("PlanExecutor.selectAgent", ErrAgentNotFound).
				WithContext("agent", name)
		}
		e.logger.Warn("unknown agent tag, using default", "tag", name, "default", def.Name)
	}
	return def, requirement, nil
}

// buildRegistry assembles the per-step tool registry: built-ins, the
// agent's own tools and the sub-plan tool.
func (e *PlanExecutor) buildRegistry(def AgentDefinition) (*tool.Registry, error) {
	registry := tool.NewRegistry()
	builtins := []tool.Tool{
		builtin.NewTerminateTool(),
		builtin.NewErrorReportTool(),
		builtin.NewSystemErrorReportTool(),
		builtin.NewFormInputTool(e.forms, e.cfg.formTimeout, e.interrupts.ShouldContinue),
		newSubplanTool(e),
	}
	if err := registry.RegisterAll(builtins); err != nil {
		return nil, err
	}
	if err := registry.RegisterAll(def.Tools); err != nil {
		return nil, err
	}
	return registry, nil
}

// normalize assigns missing ids, renumbers steps and stamps the start
// time so the plan record is insertable as-is.
func (e *PlanExecutor) normalize(ec *ExecutionContext, plan *recorder.PlanRecord) {
	if plan.CurrentPlanID == "" {
		plan.CurrentPlanID = e.ids.NewPlanID()
	}
	ec.CurrentPlanID = plan.CurrentPlanID
	if ec.RootPlanID == "" {
		ec.RootPlanID = plan.CurrentPlanID
	}
	plan.RootPlanID = ec.RootPlanID
	if ec.ParentPlanID != "" {
		plan.ParentPlanID = strPtr(ec.ParentPlanID)
	}
	if ec.ToolCallID != "" {
		plan.ToolCallID = strPtr(ec.ToolCallID)
	}
	if plan.ModelName == nil {
		plan.ModelName = strPtr(e.cfg.model.Name())
	}
	if plan.UserRequest == "" {
		plan.UserRequest = ec.UserRequest
	} else if ec.UserRequest == "" {
		ec.UserRequest = plan.UserRequest
	}
	plan.StartTime = time.Now().UTC()
	for i, step := range plan.Steps {
		if step.StepID == "" {
			step.StepID = e.ids.NewStepID()
		}
		step.StepIndex = i
		if step.Status == "" {
			step.Status = recorder.StepNotStarted
		}
	}
}

// prepareWorkspace creates the root plan's working directory and links in
// any files uploaded ahead of execution under the plan's upload key.
func (e *PlanExecutor) prepareWorkspace(rootPlanID, uploadKey string) error {
	dir := filepath.Join(e.cfg.workspaceRoot, "inner_storage", rootPlanID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workspace %s: %w", dir, err)
	}
	if uploadKey == "" {
		return nil
	}
	src, err := filepath.Abs(filepath.Join(e.cfg.workspaceRoot, "uploads", uploadKey))
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("upload key %s: %w", uploadKey, err)
	}
	link := filepath.Join(dir, "uploads")
	if err := os.Symlink(src, link); err != nil && !os.IsExist(err) {
		return fmt.Errorf("link uploads: %w", err)
	}
	return nil
}

// cleanup runs on every Execute exit path. Per-step tool cleanup happens
// in runStep; roots additionally tear down the form slot, the interrupt
// state and the upload link.
func (e *PlanExecutor) cleanup(ec ExecutionContext) {
	if !ec.IsRoot() {
		return
	}
	e.forms.Remove(ec.RootPlanID)
	e.interrupts.MarkTerminated(ec.RootPlanID)
	e.interrupts.Remove(ec.RootPlanID)

	link := filepath.Join(e.cfg.workspaceRoot, "inner_storage", ec.RootPlanID, "uploads")
	if info, err := os.Lstat(link); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(link); err != nil {
			e.logger.Warn("remove upload link failed", "plan_id", ec.RootPlanID, "error", err)
		}
	}
}
