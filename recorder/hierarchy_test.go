package recorder

import (
	"context"
	"errors"
	"testing"
	"time"
)

// seedTree stores a root plan with one sub-plan spawned by a recorded tool
// call, plus an agent execution carrying think-act detail on the root step.
func seedTree(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	root := testPlan("plan-root", "plan-root", "step-1")
	if err := store.RecordPlanStart(ctx, root); err != nil {
		t.Fatal(err)
	}

	agent := &AgentExecutionRecord{ID: "exec-1", StepID: "step-1", AgentName: "A", Status: AgentRunning}
	if err := store.RecordAgentStart(ctx, agent); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordThinkingAndAction(ctx, &ThinkActRecord{
		ID:                "ta-1",
		ParentExecutionID: "exec-1",
		ThinkOutput:       "delegating",
		ActionNeeded:      true,
		ActToolInfoList: []*ActToolInfo{
			{ToolCallID: "tc-spawn", Name: "system-sub-plan", Parameters: `{"title":"nested"}`},
		},
	}); err != nil {
		t.Fatal(err)
	}

	parentID := "plan-root"
	toolCallID := "tc-spawn"
	sub := testPlan("plan-sub", "plan-root", "step-sub-1")
	sub.Title = "nested"
	sub.ParentPlanID = &parentID
	sub.ToolCallID = &toolCallID
	sub.StartTime = root.StartTime.Add(time.Second)
	if err := store.RecordPlanStart(ctx, sub); err != nil {
		t.Fatal(err)
	}

	if err := store.RecordActionResult(ctx, []ActToolResult{
		{ToolCallID: "tc-spawn", Name: "system-sub-plan", Parameters: `{"title":"nested"}`, Result: "nested done"},
	}); err != nil {
		t.Fatal(err)
	}
}

func TestHierarchyPlanTree(t *testing.T) {
	store := NewMemoryStore()
	seedTree(t, store)
	reader := NewHierarchyReader(store)

	tree, err := reader.PlanTree(context.Background(), "plan-root")
	if err != nil {
		t.Fatal(err)
	}
	if tree.CurrentPlanID != "plan-root" {
		t.Fatalf("root id = %s", tree.CurrentPlanID)
	}
	if len(tree.SubPlans) != 1 {
		t.Fatalf("sub plans = %d, want 1", len(tree.SubPlans))
	}

	sub := tree.SubPlans[0]
	if sub.CurrentPlanID != "plan-sub" || sub.Title != "nested" {
		t.Fatalf("sub plan = %+v", sub)
	}
	if sub.ParentActToolCall == nil {
		t.Fatal("spawning tool call not resolved")
	}
	if sub.ParentActToolCall.Result == nil || *sub.ParentActToolCall.Result != "nested done" {
		t.Fatalf("spawning call result = %v", sub.ParentActToolCall.Result)
	}

	// The tree view carries agent executions without think-act detail.
	if len(tree.AgentExecutions) != 1 {
		t.Fatalf("root agent executions = %d", len(tree.AgentExecutions))
	}
	if tree.AgentExecutions[0].ThinkActSteps != nil {
		t.Fatal("tree view must strip think-act steps")
	}
}

func TestHierarchyDetailsFindsNestedNode(t *testing.T) {
	store := NewMemoryStore()
	seedTree(t, store)
	reader := NewHierarchyReader(store)

	node, err := reader.Details(context.Background(), "plan-sub")
	if err != nil {
		t.Fatal(err)
	}
	if node.CurrentPlanID != "plan-sub" {
		t.Fatalf("node id = %s", node.CurrentPlanID)
	}
	if node.RootPlanID != "plan-root" {
		t.Fatalf("node root = %s", node.RootPlanID)
	}
}

func TestHierarchyMissingPlans(t *testing.T) {
	store := NewMemoryStore()
	reader := NewHierarchyReader(store)

	if _, err := reader.PlanTree(context.Background(), "plan-none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing root: %v, want ErrNotFound", err)
	}
	if _, err := reader.Details(context.Background(), "plan-none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing plan: %v, want ErrNotFound", err)
	}
}

func TestHierarchyOrphanedParent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	root := testPlan("plan-root", "plan-root")
	if err := store.RecordPlanStart(ctx, root); err != nil {
		t.Fatal(err)
	}
	ghost := "plan-ghost"
	orphan := testPlan("plan-orphan", "plan-root")
	orphan.ParentPlanID = &ghost
	orphan.StartTime = root.StartTime.Add(time.Second)
	if err := store.RecordPlanStart(ctx, orphan); err != nil {
		t.Fatal(err)
	}

	if _, err := NewHierarchyReader(store).PlanTree(ctx, "plan-root"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("orphaned sub-plan: %v, want ErrNotFound", err)
	}
}
