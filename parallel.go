package manus

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/orangyan/JManus-sub000/hooks"
	"github.com/orangyan/JManus-sub000/tool"
)

// ExecStatus is the outcome of a single dispatched tool call.
type ExecStatus string

const (
	ExecSuccess     ExecStatus = "SUCCESS"
	ExecError       ExecStatus = "ERROR"
	ExecInterrupted ExecStatus = "INTERRUPTED"
)

// ToolCallRequest is one tool invocation in a batch.
type ToolCallRequest struct {
	ToolName   string
	Params     json.RawMessage
	ToolCallID string
}

// ToolCallResult is the outcome of one invocation. Index matches the
// position of the request in the submitted batch.
type ToolCallResult struct {
	Index      int
	ToolCallID string
	Status     ExecStatus
	Output     string
	Error      string
}

// ParallelExecutionService dispatches tool call batches over the depth
// pools. Results always come back in request order regardless of
// completion order.
type ParallelExecutionService struct {
	pools      *DepthPools
	ids        *IDGenerator
	interrupts *InterruptionManager
	hooks      *hooks.Registry
	logger     Logger
}

// NewParallelExecutionService wires the dispatcher.
func NewParallelExecutionService(pools *DepthPools, ids *IDGenerator, interrupts *InterruptionManager, hookReg *hooks.Registry, logger Logger) *ParallelExecutionService {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ParallelExecutionService{
		pools:      pools,
		ids:        ids,
		interrupts: interrupts,
		hooks:      hookReg,
		logger:     logger,
	}
}

// ExecuteParallel runs every request concurrently. The batch is submitted
// one depth below the calling plan: the agent holds a worker at ec.Depth
// while it waits, and nesting on the same pool deadlocks once the pool is
// saturated. A failed or panicking tool never aborts its siblings.
func (s *ParallelExecutionService) ExecuteParallel(ctx context.Context, ec ExecutionContext, registry *tool.Registry, reqs []ToolCallRequest) []ToolCallResult {
	batchID := s.ids.NewParallelExecID()
	s.logger.Debug("dispatching tool batch",
		"batch_id", batchID,
		"plan_id", ec.CurrentPlanID,
		"calls", len(reqs),
	)

	results := make([]ToolCallResult, len(reqs))
	tasks := make([]*Task, len(reqs))

	for i := range reqs {
		i := i
		req := reqs[i]
		task, err := s.pools.Submit(ctx, ec.Depth+1, func() error {
			results[i] = s.executeOne(ctx, ec, registry, i, req)
			return nil
		})
		if err != nil {
			results[i] = ToolCallResult{
				Index:      i,
				ToolCallID: req.ToolCallID,
				Status:     ExecInterrupted,
				Error:      err.Error(),
			}
			continue
		}
		tasks[i] = task
	}

	for _, task := range tasks {
		if task != nil {
			task.Wait()
		}
	}

	s.logger.Debug("tool batch finished", "batch_id", batchID)
	return results
}

// ExecuteSequential runs the requests one at a time on the caller's
// goroutine. Used for batches containing tools that block on user input,
// where parallel siblings would contend for the form slot.
func (s *ParallelExecutionService) ExecuteSequential(ctx context.Context, ec ExecutionContext, registry *tool.Registry, reqs []ToolCallRequest) []ToolCallResult {
	results := make([]ToolCallResult, len(reqs))
	for i, req := range reqs {
		results[i] = s.executeOne(ctx, ec, registry, i, req)
	}
	return results
}

// executeOne invokes a single tool, converting panics and unknown tools
// into ERROR results.
func (s *ParallelExecutionService) executeOne(ctx context.Context, ec ExecutionContext, registry *tool.Registry, index int, req ToolCallRequest) (res ToolCallResult) {
	res = ToolCallResult{Index: index, ToolCallID: req.ToolCallID}
	if res.ToolCallID == "" {
		res.ToolCallID = s.ids.NewToolCallID()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panicked",
				"tool", req.ToolName,
				"plan_id", ec.CurrentPlanID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res.Status = ExecError
			res.Error = fmt.Sprintf("tool %s panicked: %v", req.ToolName, r)
		}
	}()

	if !s.interrupts.ShouldContinue(ec.RootPlanID) {
		res.Status = ExecInterrupted
		res.Error = ErrInterrupted.Error()
		return res
	}

	tl, ok := registry.Get(req.ToolName)
	if !ok {
		res.Status = ExecError
		res.Error = fmt.Errorf("tool %s: %w", req.ToolName, ErrToolNotFound).Error()
		return res
	}

	callCtx := tool.WithExecContext(ctx, tool.ExecContext{
		CurrentPlanID:  ec.CurrentPlanID,
		RootPlanID:     ec.RootPlanID,
		ToolCallID:     res.ToolCallID,
		PlanDepth:      ec.Depth,
		ConversationID: ec.ConversationID,
	})

	output, err := tl.Run(callCtx, req.Params)
	if s.hooks != nil {
		if hookErr := s.hooks.FireToolCall(ctx, req.ToolName, req.Params, output, err); hookErr != nil {
			s.logger.Warn("tool call hook failed", "tool", req.ToolName, "error", hookErr)
		}
	}
	if err != nil {
		if ctx.Err() != nil || !s.interrupts.ShouldContinue(ec.RootPlanID) {
			res.Status = ExecInterrupted
		} else {
			res.Status = ExecError
		}
		res.Error = err.Error()
		return res
	}

	res.Status = ExecSuccess
	res.Output = output
	return res
}
