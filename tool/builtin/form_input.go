package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/orangyan/JManus-sub000/tool"
)

// FormInputName is the qualified name of the form input tool. Batches
// containing it must be dispatched sequentially.
var FormInputName = tool.QualifiedName(ServiceGroup, "form-input")

// FormState is the form tool state machine.
type FormState string

const (
	FormStateIdle          FormState = "IDLE"
	FormStateAwaitingInput FormState = "AWAITING_USER_INPUT"
	FormStateReceived      FormState = "INPUT_RECEIVED"
	FormStateTimeout       FormState = "INPUT_TIMEOUT"
)

// FormInput describes one field requested from the user.
type FormInput struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}

// FormWaitState is the client-visible snapshot of a pending form.
type FormWaitState struct {
	State      FormState   `json:"state"`
	Title      string      `json:"title"`
	FormInputs []FormInput `json:"form_inputs"`
}

// Form is the registry-facing surface of a pending form request.
type Form interface {
	// Submit completes the form with user data. Late submissions after a
	// timeout are stored but do not resurrect the waiting step.
	Submit(values map[string]string) error

	// WaitState returns the current form snapshot.
	WaitState() FormWaitState

	// MarkTimeout transitions the form to INPUT_TIMEOUT.
	MarkTimeout()
}

// Waiter grants exclusive form slots per root plan. Implemented by the
// engine's form input registry.
type Waiter interface {
	StoreExclusive(ctx context.Context, rootPlanID string, form Form, currentPlanID string) bool
}

const formInputSchema = `{
	"type": "object",
	"properties": {
		"title": {
			"type": "string",
			"description": "Short prompt shown to the user"
		},
		"inputs": {
			"type": "array",
			"description": "Fields the user must fill in",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"label": {"type": "string"}
				},
				"required": ["name", "label"]
			}
		}
	},
	"required": ["title", "inputs"]
}`

// FormInputTool pauses the agent until the user submits the requested
// fields or the configured timeout elapses. One instance serves one plan
// invocation.
type FormInputTool struct {
	waiter         Waiter
	timeout        time.Duration
	pollInterval   time.Duration
	shouldContinue func(rootPlanID string) bool

	mu         sync.Mutex
	state      FormState
	title      string
	formInputs []FormInput
	received   map[string]string
	receivedCh chan struct{}
}

// NewFormInputTool creates a form input tool bound to the given waiter.
// shouldContinue is the cooperative interruption check polled while
// waiting; a nil func never interrupts.
func NewFormInputTool(waiter Waiter, timeout time.Duration, shouldContinue func(rootPlanID string) bool) *FormInputTool {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if shouldContinue == nil {
		shouldContinue = func(string) bool { return true }
	}
	return &FormInputTool{
		waiter:         waiter,
		timeout:        timeout,
		pollInterval:   500 * time.Millisecond,
		shouldContinue: shouldContinue,
		state:          FormStateIdle,
		receivedCh:     make(chan struct{}),
	}
}

func (t *FormInputTool) ServiceGroup() string { return ServiceGroup }
func (t *FormInputTool) Name() string         { return "form-input" }

func (t *FormInputTool) Description() string {
	return "Ask the user to fill in a form and wait for the submission. Use when required information can only come from the user."
}

func (t *FormInputTool) InputSchema() string { return formInputSchema }

func (t *FormInputTool) Run(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Title  string      `json:"title"`
		Inputs []FormInput `json:"inputs"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("form-input: invalid input: %w", err)
	}
	if len(params.Inputs) == 0 {
		return "", fmt.Errorf("form-input: at least one input field is required")
	}

	ec, _ := tool.ExecContextFrom(ctx)

	// Re-arm for this request. The same instance serves every form round
	// of a step run, so the previous round's submission channel and values
	// must not leak into this one.
	t.mu.Lock()
	t.title = params.Title
	t.formInputs = params.Inputs
	t.received = nil
	t.receivedCh = make(chan struct{})
	t.state = FormStateIdle
	t.mu.Unlock()

	if t.waiter != nil {
		if !t.waiter.StoreExclusive(ctx, ec.RootPlanID, t, ec.CurrentPlanID) {
			return "", fmt.Errorf("form-input: another form is already pending for this plan")
		}
	}

	t.mu.Lock()
	t.state = FormStateAwaitingInput
	submitted := t.receivedCh
	t.mu.Unlock()

	return t.await(ctx, ec.RootPlanID, submitted)
}

// await polls for a submission every pollInterval, checking the
// interruption flag at a >= 2s cadence, until the total timeout elapses.
func (t *FormInputTool) await(ctx context.Context, rootPlanID string, submitted <-chan struct{}) (string, error) {
	deadline := time.Now().Add(t.timeout)
	lastInterruptCheck := time.Now()

	for {
		select {
		case <-submitted:
			return t.submittedOutput()
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.pollInterval):
		}

		if time.Since(lastInterruptCheck) >= 2*time.Second {
			lastInterruptCheck = time.Now()
			if !t.shouldContinue(rootPlanID) {
				return "", context.Canceled
			}
		}

		if time.Now().After(deadline) {
			t.MarkTimeout()
			return fmt.Sprintf("user input timed out after %s; proceed without the requested information", t.timeout), nil
		}
	}
}

func (t *FormInputTool) submittedOutput() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out, err := json.Marshal(t.received)
	if err != nil {
		return "", fmt.Errorf("form-input: marshal submission: %w", err)
	}
	return string(out), nil
}

// Submit implements Form. Submissions after a timeout are stored so
// clients can still observe them, but the step is not resurrected.
func (t *FormInputTool) Submit(values map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case FormStateAwaitingInput:
		t.received = values
		t.state = FormStateReceived
		close(t.receivedCh)
		return nil
	case FormStateTimeout:
		t.received = values
		t.state = FormStateReceived
		return nil
	default:
		return fmt.Errorf("form-input: no pending form (state %s)", t.state)
	}
}

// MarkTimeout implements Form.
func (t *FormInputTool) MarkTimeout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == FormStateAwaitingInput {
		t.state = FormStateTimeout
	}
}

// WaitState implements Form.
func (t *FormInputTool) WaitState() FormWaitState {
	t.mu.Lock()
	defer t.mu.Unlock()

	inputs := make([]FormInput, len(t.formInputs))
	copy(inputs, t.formInputs)
	for i := range inputs {
		if v, ok := t.received[inputs[i].Name]; ok {
			inputs[i].Value = v
		}
	}
	return FormWaitState{State: t.state, Title: t.title, FormInputs: inputs}
}
