package manus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orangyan/JManus-sub000/hooks"
	"github.com/orangyan/JManus-sub000/llm"
	"github.com/orangyan/JManus-sub000/memory"
	"github.com/orangyan/JManus-sub000/recorder"
	"github.com/orangyan/JManus-sub000/streaming"
	"github.com/orangyan/JManus-sub000/tool"
	"github.com/orangyan/JManus-sub000/tool/builtin"
)

// earlyTerminationThreshold is how many consecutive text-only responses
// the agent tolerates before failing the step.
const earlyTerminationThreshold = 3

// loopWindowSize is the number of consecutive identical act outputs that
// triggers a forced memory compression.
const loopWindowSize = 3

// toolCallDirective is appended to the environment prompt after the model
// responds with plain text instead of calling a tool.
const toolCallDirective = "You must call at least one tool in your response. Call system-terminate when the step is complete, or system-error-report when it cannot be completed."

// AgentResult is the outcome of one agent run on one step.
type AgentResult struct {
	Status       recorder.AgentStatus
	Result       string
	ErrorMessage string
}

// DynamicAgent runs the think-act loop for a single step: ask the model,
// dispatch the tool calls it requests, feed the results back, repeat until
// a terminating tool fires or a limit is hit. One instance serves one run.
type DynamicAgent struct {
	def        AgentDefinition
	model      llm.Model
	store      recorder.Store
	memory     *memory.Service
	parallel   *ParallelExecutionService
	interrupts *InterruptionManager
	ids        *IDGenerator
	hooks      *hooks.Registry
	logger     Logger

	maxSteps   int
	maxRetries int

	// sleep is the retry backoff wait, injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// newDynamicAgent builds an agent for one step run.
func newDynamicAgent(def AgentDefinition, c *internalConfig, parallel *ParallelExecutionService, interrupts *InterruptionManager, ids *IDGenerator) *DynamicAgent {
	model := def.Model
	if model == nil {
		model = c.model
	}
	maxSteps := def.MaxSteps
	if maxSteps <= 0 {
		maxSteps = c.maxSteps
	}
	return &DynamicAgent{
		def:        def,
		model:      model,
		store:      c.store,
		memory:     memory.NewService(model, c.memoryBudget, c.preserveLastN, c.logger),
		parallel:   parallel,
		interrupts: interrupts,
		ids:        ids,
		hooks:      c.hooks,
		logger:     c.logger,
		maxSteps:   maxSteps,
		maxRetries: c.maxModelRetries,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run executes the think-act loop for the given step. The returned result
// always carries a terminal status; infrastructure errors surface as
// FAILED results rather than Go errors so the plan can record them.
func (a *DynamicAgent) Run(ctx context.Context, ec ExecutionContext, step *recorder.StepRecord, registry *tool.Registry) AgentResult {
	rec := &recorder.AgentExecutionRecord{
		ID:               uuid.NewString(),
		StepID:           step.StepID,
		AgentName:        a.def.Name,
		AgentDescription: strPtr(a.def.Description),
		AgentRequest:     strPtr(step.StepRequirement),
		Status:           recorder.AgentRunning,
		StartTime:        time.Now().UTC(),
		MaxSteps:         a.maxSteps,
		ModelName:        strPtr(a.model.Name()),
	}
	if ec.ConversationID != "" {
		rec.ConversationID = strPtr(ec.ConversationID)
	}
	if err := a.store.RecordAgentStart(ctx, rec); err != nil {
		a.logger.Error("record agent start failed",
			"step_id", step.StepID,
			"agent", a.def.Name,
			"error", err,
		)
		return a.finish(ctx, rec, AgentResult{
			Status:       recorder.AgentFailed,
			ErrorMessage: fmt.Sprintf("record agent start: %v", err),
		})
	}

	var (
		msgs           []llm.Message
		earlyTermCount int
		recentOutputs  []string
		demandToolCall bool
	)

	for round := 1; round <= a.maxSteps; round++ {
		if !a.interrupts.ShouldContinue(ec.RootPlanID) {
			return a.finish(ctx, rec, AgentResult{
				Status:       recorder.AgentInterrupted,
				ErrorMessage: ErrInterrupted.Error(),
			})
		}
		rec.CurrentStep = round

		if err := a.hooks.FireThink(ctx, step.StepID, round); err != nil {
			a.logger.Warn("think hook failed", "step_id", step.StepID, "error", err)
		}

		beforeChars := memory.TotalChars(msgs)
		msgs = a.memory.EnsureBudget(ctx, msgs)
		if after := memory.TotalChars(msgs); after < beforeChars {
			a.fireCompaction(ctx, beforeChars, after)
		}

		prompt := a.buildPrompt(ctx, ec, step, registry, msgs, demandToolCall)
		demandToolCall = false

		thinkStart := time.Now().UTC()
		result, callErr := a.callModel(ctx, ec, registry, prompt)
		thinkEnd := time.Now().UTC()

		if callErr != nil {
			return a.finish(ctx, rec, a.recordModelFailure(ctx, rec, prompt, thinkStart, callErr))
		}

		// Covers both text-only responses and fully empty ones; either way
		// there is nothing to dispatch this round.
		if len(result.ToolCalls) == 0 {
			earlyTermCount++
			a.recordTextOnlyRound(ctx, rec, prompt, result, thinkStart, thinkEnd)
			if earlyTermCount >= earlyTerminationThreshold {
				return a.finish(ctx, rec, AgentResult{
					Status:       recorder.AgentFailed,
					ErrorMessage: "Early termination threshold reached: model stopped calling tools",
				})
			}
			demandToolCall = true
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Text: result.Text})
			continue
		}
		earlyTermCount = 0

		// Phase one: persist the round and its tool calls before running
		// anything, so a crash mid-act leaves the calls visible with null
		// results.
		engineIDs := make([]string, len(result.ToolCalls))
		infos := make([]*recorder.ActToolInfo, len(result.ToolCalls))
		for i, tc := range result.ToolCalls {
			engineIDs[i] = a.ids.NewToolCallID()
			infos[i] = &recorder.ActToolInfo{
				ToolCallID: engineIDs[i],
				Name:       tc.Name,
				Parameters: tc.Arguments,
			}
		}
		thinkRec := &recorder.ThinkActRecord{
			ID:                uuid.NewString(),
			ParentExecutionID: rec.ID,
			ThinkActID:        a.ids.NewThinkActID(),
			ThinkInput:        renderPrompt(prompt),
			ThinkOutput:       renderThinkOutput(result),
			InputCharCount:    result.InputCharCount,
			OutputCharCount:   result.OutputCharCount,
			ActionNeeded:      true,
			ThinkStartTime:    &thinkStart,
			ThinkEndTime:      &thinkEnd,
			ActToolInfoList:   infos,
		}
		if err := a.store.RecordThinkingAndAction(ctx, thinkRec); err != nil {
			a.logger.Error("record think-act failed", "step_id", step.StepID, "error", err)
		}

		actStart := time.Now().UTC()
		results := a.dispatch(ctx, ec, registry, result.ToolCalls, engineIDs)
		actEnd := time.Now().UTC()

		// Upsert the act window before the results land so a phase-two
		// failure still leaves the timing on record.
		thinkRec.ActStartTime = &actStart
		thinkRec.ActEndTime = &actEnd
		if err := a.store.RecordThinkingAndAction(ctx, thinkRec); err != nil {
			a.logger.Error("record act window failed", "step_id", step.StepID, "error", err)
		}

		// Phase two: attach results by the ids written in phase one.
		actResults := make([]recorder.ActToolResult, len(results))
		for i, r := range results {
			output := r.Output
			if r.Status != ExecSuccess {
				output = r.Error
			}
			actResults[i] = recorder.ActToolResult{
				ToolCallID: engineIDs[i],
				Name:       result.ToolCalls[i].Name,
				Parameters: result.ToolCalls[i].Arguments,
				Result:     output,
			}
		}
		if err := a.store.RecordActionResult(ctx, actResults); err != nil {
			a.logger.Error("record act results failed", "step_id", step.StepID, "error", err)
		}

		for _, r := range results {
			if r.Status == ExecInterrupted {
				return a.finish(ctx, rec, AgentResult{
					Status:       recorder.AgentInterrupted,
					ErrorMessage: ErrInterrupted.Error(),
				})
			}
		}

		// A successful terminating tool ends the loop. Error reports fail
		// the step; terminate finishes it with the tool output as result.
		for i, tc := range result.ToolCalls {
			if results[i].Status != ExecSuccess || !registry.CanTerminate(tc.Name) {
				continue
			}
			if tc.Name == builtin.ErrorReportName || tc.Name == builtin.SystemErrorReportName {
				return a.finish(ctx, rec, AgentResult{
					Status:       recorder.AgentFailed,
					ErrorMessage: builtin.ExtractErrorMessage(tc.Arguments),
				})
			}
			return a.finish(ctx, rec, AgentResult{
				Status: recorder.AgentFinished,
				Result: results[i].Output,
			})
		}

		msgs = a.appendRound(msgs, result, results)

		combined := combineOutputs(results)
		recentOutputs = append(recentOutputs, combined)
		if len(recentOutputs) > loopWindowSize {
			recentOutputs = recentOutputs[1:]
		}
		// Clearing the window re-arms the detector: the next compression
		// needs three fresh identical results.
		if len(recentOutputs) == loopWindowSize && allEqual(recentOutputs) {
			before := memory.TotalChars(msgs)
			msgs = a.memory.ForceCompress(msgs)
			a.fireCompaction(ctx, before, memory.TotalChars(msgs))
			a.logger.Warn("identical tool results detected, compressed memory to break the loop",
				"step_id", step.StepID,
				"round", round,
			)
			recentOutputs = nil
		}
	}

	return a.finish(ctx, rec, AgentResult{
		Status: recorder.AgentFinished,
		Result: fmt.Sprintf("Terminated: Reached max steps (%d)", a.maxSteps),
	})
}

// callModel streams one completion with bounded retries on transient
// failures. Backoff doubles from 2s and caps at 60s.
func (a *DynamicAgent) callModel(ctx context.Context, ec ExecutionContext, registry *tool.Registry, prompt []llm.Message) (*streaming.Result, error) {
	req := llm.Request{
		Model:    a.model.Name(),
		System:   a.def.SystemPrompt,
		Messages: prompt,
		Tools:    registry.ToSpecs(),
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		if !a.interrupts.ShouldContinue(ec.RootPlanID) {
			return nil, ErrInterrupted
		}

		stream, err := a.model.StreamChat(ctx, req)
		if err == nil {
			result := streaming.Aggregate(prompt, stream)
			if result.Err == nil {
				return result, nil
			}
			err = result.Err
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, fmt.Errorf("%w: %v", ErrLLMExhausted, err)
		}
		if attempt == a.maxRetries {
			break
		}
		backoff := retryBackoff(attempt)
		a.logger.Warn("model call failed, retrying",
			"agent", a.def.Name,
			"attempt", attempt,
			"backoff", backoff.String(),
			"error", err,
		)
		if sleepErr := a.sleep(ctx, backoff); sleepErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrLLMExhausted, sleepErr)
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrLLMExhausted, a.maxRetries, lastErr)
}

// retryBackoff returns min(60s, 2s * 2^(attempt-1)).
func retryBackoff(attempt int) time.Duration {
	d := 2 * time.Second << (attempt - 1)
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

// isRetryable reports whether a model call failure is worth retrying.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"connection reset",
		"connection refused",
		"timeout",
		"temporarily unavailable",
		"overloaded",
		"rate limit",
		"429",
		"529",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// recordModelFailure writes the exhaustion as a synthetic
// system-error-report tool call so the failure shows up in the think-act
// history like any other outcome.
func (a *DynamicAgent) recordModelFailure(ctx context.Context, rec *recorder.AgentExecutionRecord, prompt []llm.Message, thinkStart time.Time, callErr error) AgentResult {
	args, _ := json.Marshal(map[string]string{"error_message": callErr.Error()})
	toolCallID := a.ids.NewToolCallID()
	now := time.Now().UTC()

	thinkRec := &recorder.ThinkActRecord{
		ID:                uuid.NewString(),
		ParentExecutionID: rec.ID,
		ThinkActID:        a.ids.NewThinkActID(),
		ThinkInput:        renderPrompt(prompt),
		ThinkOutput:       "model call failed",
		ErrorMessage:      strPtr(callErr.Error()),
		ActionNeeded:      true,
		ThinkStartTime:    &thinkStart,
		ThinkEndTime:      &now,
		ActToolInfoList: []*recorder.ActToolInfo{{
			ToolCallID: toolCallID,
			Name:       builtin.SystemErrorReportName,
			Parameters: string(args),
		}},
	}
	if err := a.store.RecordThinkingAndAction(ctx, thinkRec); err != nil {
		a.logger.Error("record model failure failed", "agent", a.def.Name, "error", err)
	}
	if err := a.store.RecordActionResult(ctx, []recorder.ActToolResult{{
		ToolCallID: toolCallID,
		Name:       builtin.SystemErrorReportName,
		Parameters: string(args),
		Result:     fmt.Sprintf("system error: %s", callErr.Error()),
	}}); err != nil {
		a.logger.Error("record model failure result failed", "agent", a.def.Name, "error", err)
	}

	if errors.Is(callErr, ErrInterrupted) {
		return AgentResult{Status: recorder.AgentInterrupted, ErrorMessage: callErr.Error()}
	}
	return AgentResult{Status: recorder.AgentFailed, ErrorMessage: callErr.Error()}
}

// recordTextOnlyRound persists a round where the model produced text but
// no tool calls.
func (a *DynamicAgent) recordTextOnlyRound(ctx context.Context, rec *recorder.AgentExecutionRecord, prompt []llm.Message, result *streaming.Result, thinkStart, thinkEnd time.Time) {
	thinkRec := &recorder.ThinkActRecord{
		ID:                uuid.NewString(),
		ParentExecutionID: rec.ID,
		ThinkActID:        a.ids.NewThinkActID(),
		ThinkInput:        renderPrompt(prompt),
		ThinkOutput:       result.Text,
		InputCharCount:    result.InputCharCount,
		OutputCharCount:   result.OutputCharCount,
		ActionNeeded:      false,
	}
	thinkRec.ThinkStartTime = &thinkStart
	thinkRec.ThinkEndTime = &thinkEnd
	if err := a.store.RecordThinkingAndAction(ctx, thinkRec); err != nil {
		a.logger.Error("record text-only round failed", "agent", a.def.Name, "error", err)
	}
}

// dispatch runs the round's tool calls. Batches containing the form input
// tool go sequentially so the form slot is never contended by siblings.
func (a *DynamicAgent) dispatch(ctx context.Context, ec ExecutionContext, registry *tool.Registry, calls []llm.ToolCall, engineIDs []string) []ToolCallResult {
	reqs := make([]ToolCallRequest, len(calls))
	sequential := false
	for i, tc := range calls {
		reqs[i] = ToolCallRequest{
			ToolName:   tc.Name,
			Params:     json.RawMessage(tc.Arguments),
			ToolCallID: engineIDs[i],
		}
		if tc.Name == builtin.FormInputName {
			sequential = true
		}
	}
	if sequential {
		return a.parallel.ExecuteSequential(ctx, ec, registry, reqs)
	}
	return a.parallel.ExecuteParallel(ctx, ec, registry, reqs)
}

// buildPrompt assembles the model input: the step request, the agent's
// conversation so far, and a trailing environment snapshot.
func (a *DynamicAgent) buildPrompt(ctx context.Context, ec ExecutionContext, step *recorder.StepRecord, registry *tool.Registry, msgs []llm.Message, demandToolCall bool) []llm.Message {
	var request strings.Builder
	fmt.Fprintf(&request, "Current step requirement: %s\n", step.StepRequirement)
	if ec.UserRequest != "" {
		fmt.Fprintf(&request, "Overall user request: %s\n", ec.UserRequest)
	}
	request.WriteString("Work on the current step only. Call system-terminate with the step result when done.")

	prompt := make([]llm.Message, 0, len(msgs)+2)
	prompt = append(prompt, llm.Message{Role: llm.RoleUser, Text: request.String()})
	prompt = append(prompt, msgs...)
	prompt = append(prompt, llm.Message{Role: llm.RoleUser, Text: a.environment(ctx, ec, registry, demandToolCall)})
	return prompt
}

// environment renders the tool state snapshot injected before each think.
func (a *DynamicAgent) environment(ctx context.Context, ec ExecutionContext, registry *tool.Registry, demandToolCall bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s\n", time.Now().UTC().Format(time.RFC3339))

	stateCtx := tool.WithExecContext(ctx, tool.ExecContext{
		CurrentPlanID:  ec.CurrentPlanID,
		RootPlanID:     ec.RootPlanID,
		PlanDepth:      ec.Depth,
		ConversationID: ec.ConversationID,
	})
	states := registry.ToolStates(stateCtx)
	if len(states) > 0 {
		b.WriteString("Tool environment:\n")
		for _, s := range states {
			fmt.Fprintf(&b, "%s:\n%s\n", s.Key, s.StateString)
		}
	}
	if demandToolCall {
		b.WriteString("\n")
		b.WriteString(toolCallDirective)
	}
	return b.String()
}

// appendRound folds a completed round into the agent's memory: the
// assistant turn with its tool calls and a tool turn with the results. The
// model-native call ids are kept so results pair with the calls.
func (a *DynamicAgent) appendRound(msgs []llm.Message, result *streaming.Result, results []ToolCallResult) []llm.Message {
	assistant := llm.Message{
		Role:      llm.RoleAssistant,
		Text:      result.Text,
		ToolCalls: result.ToolCalls,
	}
	toolMsg := llm.Message{Role: llm.RoleTool}
	for i, tc := range result.ToolCalls {
		output := results[i].Output
		if results[i].Status != ExecSuccess {
			output = results[i].Error
		}
		toolMsg.ToolResults = append(toolMsg.ToolResults, llm.ToolResult{
			ToolCallID: tc.ID,
			Output:     output,
			IsError:    results[i].Status != ExecSuccess,
		})
	}
	return append(msgs, assistant, toolMsg)
}

func (a *DynamicAgent) fireCompaction(ctx context.Context, before, after int) {
	if err := a.hooks.FireCompaction(ctx, before, after); err != nil {
		a.logger.Warn("compaction hook failed", "error", err)
	}
}

// finish writes the terminal agent record and returns res unchanged.
func (a *DynamicAgent) finish(ctx context.Context, rec *recorder.AgentExecutionRecord, res AgentResult) AgentResult {
	now := time.Now().UTC()
	rec.Status = res.Status
	rec.EndTime = &now
	if res.Result != "" {
		rec.Result = strPtr(res.Result)
	}
	if res.ErrorMessage != "" {
		rec.ErrorMessage = strPtr(res.ErrorMessage)
	}
	if err := a.store.RecordAgentEnd(ctx, rec); err != nil {
		a.logger.Error("record agent end failed",
			"step_id", rec.StepID,
			"agent", a.def.Name,
			"error", err,
		)
	}
	return res
}

// renderPrompt flattens the model input for the think-act record.
func renderPrompt(prompt []llm.Message) string {
	var b strings.Builder
	for _, m := range prompt {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Text)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "[%s] call %s %s\n", m.Role, tc.Name, tc.Arguments)
		}
		for _, tr := range m.ToolResults {
			fmt.Fprintf(&b, "[%s] result %s\n", m.Role, tr.Output)
		}
	}
	return b.String()
}

// renderThinkOutput flattens a model response for the think-act record.
func renderThinkOutput(result *streaming.Result) string {
	var b strings.Builder
	b.WriteString(result.Text)
	for _, tc := range result.ToolCalls {
		fmt.Fprintf(&b, "\n[call %s %s]", tc.Name, tc.Arguments)
	}
	return b.String()
}

// combineOutputs joins a round's tool outputs for loop detection.
func combineOutputs(results []ToolCallResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		if r.Status == ExecSuccess {
			parts[i] = r.Output
		} else {
			parts[i] = r.Error
		}
	}
	return strings.Join(parts, "\n")
}

func allEqual(values []string) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
