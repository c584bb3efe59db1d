package manus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orangyan/JManus-sub000/tool/builtin"
)

// stubForm is a minimal builtin.Form for registry tests.
type stubForm struct {
	mu       sync.Mutex
	state    builtin.FormState
	title    string
	inputs   []builtin.FormInput
	received map[string]string
}

func newStubForm(title string, state builtin.FormState) *stubForm {
	return &stubForm{state: state, title: title, inputs: []builtin.FormInput{{Name: "city", Label: "City"}}}
}

func (f *stubForm) Submit(values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = values
	f.state = builtin.FormStateReceived
	return nil
}

func (f *stubForm) WaitState() builtin.FormWaitState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return builtin.FormWaitState{State: f.state, Title: f.title, FormInputs: f.inputs}
}

func (f *stubForm) MarkTimeout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = builtin.FormStateTimeout
}

func TestFormRegistryExclusiveSlot(t *testing.T) {
	reg := NewFormInputRegistry(300*time.Millisecond, nil)

	first := newStubForm("first", builtin.FormStateAwaitingInput)
	if !reg.StoreExclusive(context.Background(), "root-1", first, "plan-1") {
		t.Fatal("first form should take the free slot")
	}

	// The slot is occupied by a form still awaiting input; the second
	// store must give up after the lock timeout.
	second := newStubForm("second", builtin.FormStateAwaitingInput)
	start := time.Now()
	if reg.StoreExclusive(context.Background(), "root-1", second, "plan-2") {
		t.Fatal("second form must not displace a waiting form")
	}
	if time.Since(start) < 300*time.Millisecond {
		t.Fatal("second store returned before the lock timeout")
	}
}

func TestFormRegistrySameFormRetakesSlot(t *testing.T) {
	reg := NewFormInputRegistry(300*time.Millisecond, nil)

	form := newStubForm("ask", builtin.FormStateAwaitingInput)
	if !reg.StoreExclusive(context.Background(), "root-1", form, "plan-1") {
		t.Fatal("store on free slot failed")
	}

	// A later round of the same step re-registers the same form; it must
	// retake its own slot immediately instead of waiting itself out.
	start := time.Now()
	if !reg.StoreExclusive(context.Background(), "root-1", form, "plan-1") {
		t.Fatal("same form must retake its own slot")
	}
	if time.Since(start) >= 300*time.Millisecond {
		t.Fatal("same-form store waited for the lock timeout")
	}
}

func TestFormRegistrySlotFreedAfterResolution(t *testing.T) {
	reg := NewFormInputRegistry(time.Second, nil)

	resolved := newStubForm("done", builtin.FormStateReceived)
	if !reg.StoreExclusive(context.Background(), "root-1", resolved, "plan-1") {
		t.Fatal("store on free slot failed")
	}

	// A resolved form no longer blocks the slot.
	next := newStubForm("next", builtin.FormStateAwaitingInput)
	if !reg.StoreExclusive(context.Background(), "root-1", next, "plan-2") {
		t.Fatal("resolved form should be replaceable")
	}

	state := reg.WaitState("root-1")
	if !state.Waiting || state.Title != "next" {
		t.Fatalf("wait state = %+v, want waiting on %q", state, "next")
	}
	if state.PlanID != "plan-2" {
		t.Fatalf("wait state plan = %q, want plan-2", state.PlanID)
	}
}

func TestFormRegistrySubmit(t *testing.T) {
	reg := NewFormInputRegistry(time.Second, nil)

	if err := reg.Submit("root-none", map[string]string{"a": "b"}); !errors.Is(err, ErrNoPendingForm) {
		t.Fatalf("submit without form: %v, want ErrNoPendingForm", err)
	}

	form := newStubForm("ask", builtin.FormStateAwaitingInput)
	reg.StoreExclusive(context.Background(), "root-1", form, "plan-1")

	if err := reg.Submit("root-1", map[string]string{"city": "Vienna"}); err != nil {
		t.Fatal(err)
	}
	if form.received["city"] != "Vienna" {
		t.Fatalf("form values not delivered: %v", form.received)
	}
	if reg.WaitState("root-1").Waiting {
		t.Fatal("form should no longer be waiting after submit")
	}
}

func TestFormRegistryRemove(t *testing.T) {
	reg := NewFormInputRegistry(time.Second, nil)

	form := newStubForm("ask", builtin.FormStateAwaitingInput)
	reg.StoreExclusive(context.Background(), "root-1", form, "plan-1")
	reg.Remove("root-1")

	if err := reg.Submit("root-1", nil); !errors.Is(err, ErrNoPendingForm) {
		t.Fatalf("submit after remove: %v, want ErrNoPendingForm", err)
	}
	if reg.WaitState("root-1").Waiting {
		t.Fatal("removed slot must not report waiting")
	}
}
