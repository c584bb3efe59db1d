package manus

import "testing"

func TestInterruptionManagerLifecycle(t *testing.T) {
	m := NewInterruptionManager()

	// Unknown roots always continue so components need no registration
	// ordering.
	if !m.ShouldContinue("plan-unknown") {
		t.Fatal("unknown plan should continue")
	}
	if m.Request("plan-unknown") {
		t.Fatal("requesting an unknown plan should fail")
	}

	m.Register("plan-1")
	if !m.ShouldContinue("plan-1") {
		t.Fatal("registered plan should continue before any request")
	}

	if !m.Request("plan-1") {
		t.Fatal("request on a running plan should succeed")
	}
	if m.ShouldContinue("plan-1") {
		t.Fatal("plan should stop after an interrupt request")
	}

	m.MarkTerminated("plan-1")
	if m.Request("plan-1") {
		t.Fatal("request on a terminated plan should fail")
	}

	m.Remove("plan-1")
	if !m.ShouldContinue("plan-1") {
		t.Fatal("removed plan should behave like an unknown one")
	}
}

func TestInterruptionManagerRegisterIdempotent(t *testing.T) {
	m := NewInterruptionManager()

	m.Register("plan-1")
	m.Request("plan-1")

	// A second Register must not reset the interrupt flag.
	m.Register("plan-1")
	if m.ShouldContinue("plan-1") {
		t.Fatal("re-registering must not clear a pending interrupt")
	}
}
