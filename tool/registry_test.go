package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func echoTool(group, name string) Tool {
	return NewFuncTool(group, name, "echoes its input", `{"type":"object"}`,
		func(_ context.Context, input json.RawMessage) (string, error) {
			return string(input), nil
		})
}

// stateTool is a funcTool that also contributes environment state.
type stateTool struct {
	Tool
	key   string
	state string
}

func (t *stateTool) CurrentToolState(context.Context) *State {
	if t.state == "" {
		return nil
	}
	return &State{Key: t.key, StateString: t.state}
}

// terminatingTool marks itself as a loop terminator.
type terminatingTool struct {
	Tool
}

func (t *terminatingTool) CanTerminate() bool { return true }

// cleanupTool records cleanup calls and optionally fails.
type cleanupTool struct {
	Tool
	planIDs []string
	err     error
}

func (t *cleanupTool) Cleanup(_ context.Context, planID string) error {
	t.planIDs = append(t.planIDs, planID)
	return t.err
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("fs", "read")); err != nil {
		t.Fatal(err)
	}

	if _, ok := r.Get("fs-read"); !ok {
		t.Fatal("registered tool not found under its qualified name")
	}
	if _, ok := r.Get("read"); ok {
		t.Fatal("bare name must not resolve")
	}

	if err := r.Register(echoTool("fs", "read")); err == nil {
		t.Fatal("duplicate registration must fail")
	}
	if err := r.Register(nil); err == nil {
		t.Fatal("nil tool must fail")
	}
	bad := NewFuncTool("fs", "bad", "broken schema", `{not json`,
		func(context.Context, json.RawMessage) (string, error) { return "", nil })
	if err := r.Register(bad); err == nil {
		t.Fatal("invalid schema must fail")
	}
}

func TestRegistryListAndSpecsKeepOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zulu", "alpha", "mike"} {
		if err := r.Register(echoTool("test", name)); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"test-zulu", "test-alpha", "test-mike"}
	names := r.List()
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	specs := r.ToSpecs()
	for i := range want {
		if specs[i].Name != want[i] {
			t.Fatalf("specs[%d] = %s, want %s", i, specs[i].Name, want[i])
		}
	}
}

func TestRegistryToolStatesDeduplicated(t *testing.T) {
	r := NewRegistry()
	tools := []Tool{
		&stateTool{Tool: echoTool("browser", "open"), key: "browser", state: "page A"},
		&stateTool{Tool: echoTool("browser", "click"), key: "browser", state: "page B"},
		&stateTool{Tool: echoTool("fs", "read"), key: "fs", state: "cwd /tmp"},
		&stateTool{Tool: echoTool("fs", "write"), key: "fs", state: ""},
		echoTool("plain", "noop"),
	}
	if err := r.RegisterAll(tools); err != nil {
		t.Fatal(err)
	}

	states := r.ToolStates(context.Background())
	if len(states) != 2 {
		t.Fatalf("states = %+v, want one per key", states)
	}
	// First provider per key wins.
	if states[0].Key != "browser" || states[0].StateString != "page A" {
		t.Fatalf("states[0] = %+v", states[0])
	}
	if states[1].Key != "fs" {
		t.Fatalf("states[1] = %+v", states[1])
	}
}

func TestRegistryCanTerminate(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAll([]Tool{
		&terminatingTool{Tool: echoTool("system", "stop")},
		echoTool("fs", "read"),
	}); err != nil {
		t.Fatal(err)
	}

	if !r.CanTerminate("system-stop") {
		t.Fatal("terminating tool not recognized")
	}
	if r.CanTerminate("fs-read") {
		t.Fatal("plain tool must not terminate")
	}
	if r.CanTerminate("ghost") {
		t.Fatal("unknown tool must not terminate")
	}
}

func TestRegistryCleanupCollectsErrors(t *testing.T) {
	failing := &cleanupTool{Tool: echoTool("a", "one"), err: errors.New("boom")}
	succeeding := &cleanupTool{Tool: echoTool("b", "two")}

	r := NewRegistry()
	if err := r.RegisterAll([]Tool{failing, succeeding, echoTool("c", "three")}); err != nil {
		t.Fatal(err)
	}

	errs := r.Cleanup(context.Background(), "plan-1")
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want the one failure", errs)
	}
	// The failure must not have skipped the remaining cleaners.
	if len(succeeding.planIDs) != 1 || succeeding.planIDs[0] != "plan-1" {
		t.Fatalf("cleanup calls = %v", succeeding.planIDs)
	}
}
