package builtin

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orangyan/JManus-sub000/tool"
)

// recordingWaiter captures the registered form so tests can drive it.
type recordingWaiter struct {
	mu    sync.Mutex
	form  Form
	allow bool
}

func (w *recordingWaiter) StoreExclusive(_ context.Context, _ string, form Form, _ string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.allow {
		return false
	}
	w.form = form
	return true
}

func (w *recordingWaiter) stored() Form {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.form
}

func formCtx() context.Context {
	return tool.WithExecContext(context.Background(), tool.ExecContext{
		CurrentPlanID: "plan-1",
		RootPlanID:    "plan-1",
		ToolCallID:    "tc-1",
	})
}

const formRequest = `{"title":"Need info","inputs":[{"name":"city","label":"City"}]}`

// awaitRegistered waits until the tool has taken the slot and is awaiting
// input.
func awaitRegistered(t *testing.T, waiter *recordingWaiter) Form {
	t.Helper()
	for i := 0; i < 200; i++ {
		if form := waiter.stored(); form != nil && form.WaitState().State == FormStateAwaitingInput {
			return form
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("form never registered with the waiter")
	return nil
}

func TestFormInputToolSubmission(t *testing.T) {
	waiter := &recordingWaiter{allow: true}
	ft := NewFormInputTool(waiter, time.Minute, nil)
	ft.pollInterval = 10 * time.Millisecond

	done := make(chan struct{})
	var output string
	var runErr error
	go func() {
		defer close(done)
		output, runErr = ft.Run(formCtx(), json.RawMessage(formRequest))
	}()

	form := awaitRegistered(t, waiter)
	if ws := form.WaitState(); ws.Title != "Need info" {
		t.Fatalf("wait state before submit = %+v", ws)
	}

	if err := form.Submit(map[string]string{"city": "Vienna"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tool did not return after submission")
	}
	if runErr != nil {
		t.Fatal(runErr)
	}
	if !strings.Contains(output, "Vienna") {
		t.Fatalf("output %q missing submitted value", output)
	}
	if ws := form.WaitState(); ws.State != FormStateReceived {
		t.Fatalf("state after submit = %s, want INPUT_RECEIVED", ws.State)
	}
}

func TestFormInputToolReusedAcrossRounds(t *testing.T) {
	waiter := &recordingWaiter{allow: true}
	ft := NewFormInputTool(waiter, time.Minute, nil)
	ft.pollInterval = 10 * time.Millisecond

	runRound := func(values map[string]string) string {
		t.Helper()
		done := make(chan struct{})
		var output string
		var runErr error
		go func() {
			defer close(done)
			output, runErr = ft.Run(formCtx(), json.RawMessage(formRequest))
		}()

		form := awaitRegistered(t, waiter)
		// The tool must wait for this round's submission rather than
		// replay the previous one.
		select {
		case <-done:
			t.Fatal("tool returned before the submission")
		case <-time.After(30 * time.Millisecond):
		}

		if err := form.Submit(values); err != nil {
			t.Fatal(err)
		}
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("tool did not return after submission")
		}
		if runErr != nil {
			t.Fatal(runErr)
		}
		return output
	}

	first := runRound(map[string]string{"city": "Vienna"})
	if !strings.Contains(first, "Vienna") {
		t.Fatalf("first round output %q", first)
	}

	// An agent can legitimately ask the user again in a later think-act
	// round; the same instance serves the whole step run.
	second := runRound(map[string]string{"city": "Graz"})
	if !strings.Contains(second, "Graz") || strings.Contains(second, "Vienna") {
		t.Fatalf("second round output %q must carry the new submission", second)
	}
}

func TestFormInputToolTimeoutThenLateSubmission(t *testing.T) {
	waiter := &recordingWaiter{allow: true}
	ft := NewFormInputTool(waiter, 30*time.Millisecond, nil)
	ft.pollInterval = 10 * time.Millisecond

	output, err := ft.Run(formCtx(), json.RawMessage(formRequest))
	if err != nil {
		t.Fatalf("timeout must be an observation, not an error: %v", err)
	}
	if !strings.Contains(output, "timed out") {
		t.Fatalf("output %q should mention the timeout", output)
	}
	if ws := ft.WaitState(); ws.State != FormStateTimeout {
		t.Fatalf("state after timeout = %s, want INPUT_TIMEOUT", ws.State)
	}

	// A late submission is stored for the record but nothing resumes.
	if err := ft.Submit(map[string]string{"city": "Graz"}); err != nil {
		t.Fatal(err)
	}
	ws := ft.WaitState()
	if ws.State != FormStateReceived {
		t.Fatalf("state after late submit = %s, want INPUT_RECEIVED", ws.State)
	}
	if ws.FormInputs[0].Value != "Graz" {
		t.Fatalf("late value not stored: %+v", ws.FormInputs)
	}
}

func TestFormInputToolRejectedSlot(t *testing.T) {
	waiter := &recordingWaiter{allow: false}
	ft := NewFormInputTool(waiter, time.Minute, nil)

	if _, err := ft.Run(formCtx(), json.RawMessage(formRequest)); err == nil {
		t.Fatal("contended slot should fail the tool call")
	}
	if ws := ft.WaitState(); ws.State != FormStateIdle {
		t.Fatalf("state after rejection = %s, want IDLE", ws.State)
	}
}

func TestFormInputToolInterruption(t *testing.T) {
	waiter := &recordingWaiter{allow: true}
	stop := make(chan struct{})
	ft := NewFormInputTool(waiter, time.Minute, func(string) bool {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	})
	ft.pollInterval = 10 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := ft.Run(formCtx(), json.RawMessage(formRequest))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("interrupted wait should return an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tool did not observe the interruption")
	}
}

func TestFormInputToolValidation(t *testing.T) {
	ft := NewFormInputTool(&recordingWaiter{allow: true}, time.Minute, nil)

	if _, err := ft.Run(formCtx(), json.RawMessage(`{"title":"x","inputs":[]}`)); err == nil {
		t.Fatal("empty inputs should be rejected")
	}
	if _, err := ft.Run(formCtx(), json.RawMessage(`not json`)); err == nil {
		t.Fatal("invalid JSON should be rejected")
	}
}
