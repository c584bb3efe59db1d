package recorder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/orangyan/JManus-sub000/internal/testutil"
	"github.com/orangyan/JManus-sub000/recorder"
)

func newPostgresStore(t *testing.T) (*recorder.PostgresStore, *testutil.TestDB) {
	t.Helper()

	db := testutil.NewTestDB(t)
	t.Cleanup(db.Close)
	if err := db.CleanTables(context.Background()); err != nil {
		t.Fatal(err)
	}
	return recorder.NewPostgresStore(db.Pool), db
}

func pgPlan(planID, rootID string, stepIDs ...string) *recorder.PlanRecord {
	plan := &recorder.PlanRecord{
		CurrentPlanID: planID,
		RootPlanID:    rootID,
		Title:         "integration plan",
		UserRequest:   "do it",
		StartTime:     time.Now().UTC().Truncate(time.Millisecond),
	}
	for i, stepID := range stepIDs {
		plan.Steps = append(plan.Steps, &recorder.StepRecord{
			StepID:          stepID,
			StepIndex:       i,
			StepRequirement: "work",
			Status:          recorder.StepNotStarted,
		})
	}
	return plan
}

func TestPostgresPlanLifecycle(t *testing.T) {
	store, _ := newPostgresStore(t)
	ctx := context.Background()

	plan := pgPlan("plan-1", "plan-1", "step-1", "step-2")
	if err := store.RecordPlanStart(ctx, plan); err != nil {
		t.Fatal(err)
	}
	// Duplicate starts are no-ops on the conflict target.
	if err := store.RecordPlanStart(ctx, pgPlan("plan-1", "plan-1", "step-other")); err != nil {
		t.Fatal(err)
	}

	step := &recorder.StepRecord{
		StepID: "step-2", StepIndex: 1, StepRequirement: "work",
		Status: recorder.StepInProgress,
	}
	if err := store.RecordStepStart(ctx, step, "plan-1"); err != nil {
		t.Fatal(err)
	}

	result := "finished"
	step.Status = recorder.StepCompleted
	step.Result = &result
	if err := store.RecordStepEnd(ctx, step, "plan-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordPlanComplete(ctx, "plan-1", "summary", "finished"); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetPlan(ctx, "plan-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("duplicate start replaced the plan: %d steps", len(got.Steps))
	}
	if got.CurrentStepIndex != 1 {
		t.Fatalf("current step index = %d", got.CurrentStepIndex)
	}
	if got.Steps[1].Status != recorder.StepCompleted {
		t.Fatalf("step status = %s", got.Steps[1].Status)
	}
	if !got.Completed || got.EndTime == nil || got.Result == nil || *got.Result != "finished" {
		t.Fatalf("completion not recorded: %+v", got)
	}

	if err := store.RecordStepStart(ctx, &recorder.StepRecord{StepID: "ghost"}, "plan-1"); !errors.Is(err, recorder.ErrNotFound) {
		t.Fatalf("unknown step: %v", err)
	}
	if _, err := store.GetPlan(ctx, "plan-none"); !errors.Is(err, recorder.ErrNotFound) {
		t.Fatalf("unknown plan: %v", err)
	}
}

func TestPostgresAgentConflict(t *testing.T) {
	store, _ := newPostgresStore(t)
	ctx := context.Background()

	start := time.Now().UTC()
	first := &recorder.AgentExecutionRecord{
		ID: uuid.NewString(), StepID: "step-1", AgentName: "A",
		Status: recorder.AgentRunning, StartTime: start,
	}
	if err := store.RecordAgentStart(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := &recorder.AgentExecutionRecord{
		ID: uuid.NewString(), StepID: "step-1", AgentName: "A",
		Status: recorder.AgentRunning, StartTime: start,
	}
	if err := store.RecordAgentStart(ctx, second); !errors.Is(err, recorder.ErrConflict) {
		t.Fatalf("concurrent start: %v, want ErrConflict", err)
	}

	end := time.Now().UTC()
	first.Status = recorder.AgentFinished
	first.EndTime = &end
	if err := store.RecordAgentEnd(ctx, first); err != nil {
		t.Fatal(err)
	}

	// A finished step can be retried under a fresh execution id.
	if err := store.RecordAgentStart(ctx, second); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordAgentEnd(ctx, first); !errors.Is(err, recorder.ErrNotFound) {
		t.Fatalf("stale end: %v, want ErrNotFound", err)
	}
}

func TestPostgresTwoPhaseToolWrites(t *testing.T) {
	store, _ := newPostgresStore(t)
	ctx := context.Background()

	agent := &recorder.AgentExecutionRecord{
		ID: uuid.NewString(), StepID: "step-1", AgentName: "A",
		Status: recorder.AgentRunning, StartTime: time.Now().UTC(),
	}
	if err := store.RecordAgentStart(ctx, agent); err != nil {
		t.Fatal(err)
	}

	rec := &recorder.ThinkActRecord{
		ID:                uuid.NewString(),
		ParentExecutionID: agent.ID,
		ThinkActID:        "thinkact-1",
		ThinkOutput:       "calling tools",
		ActionNeeded:      true,
		ActToolInfoList: []*recorder.ActToolInfo{
			{ToolCallID: "tc-1", Name: "fs-read", Parameters: `{"path":"a"}`},
			{ToolCallID: "tc-2", Name: "fs-read", Parameters: `{"path":"b"}`},
			{ToolCallID: "tc-3", Name: "fs-read", Parameters: `{"path":"c"}`},
			{ToolCallID: "tc-4", Name: "fs-read", Parameters: `{"path":"d"}`},
		},
	}
	if err := store.RecordThinkingAndAction(ctx, rec); err != nil {
		t.Fatal(err)
	}

	info, err := store.FindActToolInfoByToolCallID(ctx, "tc-1")
	if err != nil {
		t.Fatal(err)
	}
	if info.Result != nil {
		t.Fatal("result must be null before phase two")
	}

	if err := store.RecordActionResult(ctx, []recorder.ActToolResult{
		{ToolCallID: "tc-1", Name: "fs-read", Parameters: `{"path":"a"}`, Result: "contents a"},
		{ToolCallID: "tc-2", Name: "fs-read", Parameters: `{"path":"b"}`, Result: "contents b"},
		{ToolCallID: "tc-3", Name: "fs-read", Parameters: `{"path":"c"}`, Result: "contents c"},
		{ToolCallID: "tc-4", Name: "fs-read", Parameters: `{"path":"d"}`, Result: "contents d"},
	}); err != nil {
		t.Fatal(err)
	}

	// Out-of-order result for a call never recorded in phase one.
	if err := store.RecordActionResult(ctx, []recorder.ActToolResult{
		{ToolCallID: "tc-early", Name: "fs-read", Parameters: `{}`, Result: "early"},
	}); err != nil {
		t.Fatal(err)
	}
	early, err := store.FindActToolInfoByToolCallID(ctx, "tc-early")
	if err != nil {
		t.Fatal(err)
	}
	if early.Result == nil || *early.Result != "early" {
		t.Fatalf("out-of-order result = %v", early.Result)
	}

	detail, err := store.GetAgentExecutionDetail(ctx, "step-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.ThinkActSteps) != 1 {
		t.Fatalf("think-act steps = %d", len(detail.ThinkActSteps))
	}
	infos := detail.ThinkActSteps[0].ActToolInfoList
	if len(infos) != 4 {
		t.Fatalf("tool infos = %d", len(infos))
	}
	// The list must come back in call order, not row order.
	for i, want := range []string{"tc-1", "tc-2", "tc-3", "tc-4"} {
		if infos[i].ToolCallID != want {
			t.Fatalf("infos[%d] = %s, want %s", i, infos[i].ToolCallID, want)
		}
		if infos[i].Result == nil {
			t.Fatalf("tool call %s missing phase-two result", want)
		}
	}
}

func TestPostgresThinkActOrdering(t *testing.T) {
	store, _ := newPostgresStore(t)
	ctx := context.Background()

	agent := &recorder.AgentExecutionRecord{
		ID: uuid.NewString(), StepID: "step-1", AgentName: "A",
		Status: recorder.AgentRunning, StartTime: time.Now().UTC(),
	}
	if err := store.RecordAgentStart(ctx, agent); err != nil {
		t.Fatal(err)
	}

	// All rounds share one think start time so a timestamp sort cannot
	// recover the order.
	start := time.Now().UTC().Truncate(time.Millisecond)
	rounds := []string{"thinkact-1", "thinkact-2", "thinkact-3"}
	for _, thinkActID := range rounds {
		if err := store.RecordThinkingAndAction(ctx, &recorder.ThinkActRecord{
			ID:                uuid.NewString(),
			ParentExecutionID: agent.ID,
			ThinkActID:        thinkActID,
			ThinkStartTime:    &start,
		}); err != nil {
			t.Fatal(err)
		}
	}

	detail, err := store.GetAgentExecutionDetail(ctx, "step-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.ThinkActSteps) != len(rounds) {
		t.Fatalf("think-act steps = %d", len(detail.ThinkActSteps))
	}
	for i, want := range rounds {
		if detail.ThinkActSteps[i].ThinkActID != want {
			t.Fatalf("steps[%d] = %s, want %s", i, detail.ThinkActSteps[i].ThinkActID, want)
		}
	}
}

func TestPostgresPlansByRootAndDelete(t *testing.T) {
	store, _ := newPostgresStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	root := pgPlan("plan-root", "plan-root", "step-1")
	root.StartTime = base
	parentID := "plan-root"
	toolCallID := "tc-spawn"
	sub := pgPlan("plan-sub", "plan-root", "step-sub")
	sub.ParentPlanID = &parentID
	sub.ToolCallID = &toolCallID
	sub.StartTime = base.Add(time.Second)

	// Inserted sub first; the root must still come back first.
	for _, p := range []*recorder.PlanRecord{sub, root} {
		if err := store.RecordPlanStart(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	agent := &recorder.AgentExecutionRecord{
		ID: uuid.NewString(), StepID: "step-1", AgentName: "A",
		Status: recorder.AgentRunning, StartTime: base,
	}
	if err := store.RecordAgentStart(ctx, agent); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordThinkingAndAction(ctx, &recorder.ThinkActRecord{
		ID:                uuid.NewString(),
		ParentExecutionID: agent.ID,
		ActToolInfoList: []*recorder.ActToolInfo{
			{ToolCallID: "tc-spawn", Name: "system-sub-plan", Parameters: `{}`},
		},
	}); err != nil {
		t.Fatal(err)
	}

	plans, err := store.GetPlansByRoot(ctx, "plan-root")
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != 2 || plans[0].CurrentPlanID != "plan-root" || plans[1].CurrentPlanID != "plan-sub" {
		t.Fatalf("plan order = %+v", plans)
	}

	if err := store.DeletePlanTree(ctx, "plan-root"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetPlan(ctx, "plan-root"); !errors.Is(err, recorder.ErrNotFound) {
		t.Fatal("root plan survived deletion")
	}
	if _, err := store.GetPlan(ctx, "plan-sub"); !errors.Is(err, recorder.ErrNotFound) {
		t.Fatal("sub plan survived deletion")
	}
	if _, err := store.GetAgentExecutionDetail(ctx, "step-1"); !errors.Is(err, recorder.ErrNotFound) {
		t.Fatal("agent record survived deletion")
	}
	if _, err := store.FindActToolInfoByToolCallID(ctx, "tc-spawn"); !errors.Is(err, recorder.ErrNotFound) {
		t.Fatal("tool call survived the cascade")
	}

	// Deleting an already-deleted tree is a no-op.
	if err := store.DeletePlanTree(ctx, "plan-root"); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresRecordsInsideTransaction(t *testing.T) {
	store, db := newPostgresStore(t)
	ctx := context.Background()

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	txCtx := recorder.WithTx(ctx, tx)

	if err := store.RecordPlanStart(txCtx, pgPlan("plan-tx", "plan-tx", "step-1")); err != nil {
		t.Fatal(err)
	}
	// Visible inside the transaction, not outside.
	if _, err := store.GetPlan(txCtx, "plan-tx"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetPlan(ctx, "plan-tx"); !errors.Is(err, recorder.ErrNotFound) {
		t.Fatalf("uncommitted plan visible outside tx: %v", err)
	}

	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetPlan(ctx, "plan-tx"); !errors.Is(err, recorder.ErrNotFound) {
		t.Fatal("rolled-back plan persisted")
	}
}
