package manus

import (
	"context"
	"sync"
	"time"

	"github.com/orangyan/JManus-sub000/tool/builtin"
)

// formSlot is the single pending form for one root plan tree.
type formSlot struct {
	form          builtin.Form
	currentPlanID string
}

// FormInputRegistry holds at most one pending form per root plan. A second
// form-input call in the same tree waits for the first to resolve before
// taking the slot.
type FormInputRegistry struct {
	mu          sync.Mutex
	slots       map[string]*formSlot
	lockTimeout time.Duration
	logger      Logger
}

// FormWaitView is the externally visible wait state for a root plan.
type FormWaitView struct {
	PlanID     string              `json:"planId"`
	Waiting    bool                `json:"waiting"`
	Title      string              `json:"title"`
	FormInputs []builtin.FormInput `json:"formInputs"`
}

// NewFormInputRegistry creates a registry. lockTimeout bounds how long a
// second caller waits to take over the slot.
func NewFormInputRegistry(lockTimeout time.Duration, logger Logger) *FormInputRegistry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &FormInputRegistry{
		slots:       make(map[string]*formSlot),
		lockTimeout: lockTimeout,
		logger:      logger,
	}
}

// StoreExclusive installs form as the pending form for rootPlanID. When
// another form is still awaiting input the call polls until that form
// resolves or lockTimeout passes; it returns false on timeout.
func (r *FormInputRegistry) StoreExclusive(ctx context.Context, rootPlanID string, form builtin.Form, currentPlanID string) bool {
	deadline := time.Now().Add(r.lockTimeout)
	for {
		if r.tryStore(rootPlanID, form, currentPlanID) {
			return true
		}
		if time.Now().After(deadline) {
			r.logger.Warn("form slot contended past lock timeout", "root_plan_id", rootPlanID)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// tryStore takes the slot when it is free, already held by the same form,
// or its occupant is no longer awaiting input.
func (r *FormInputRegistry) tryStore(rootPlanID string, form builtin.Form, currentPlanID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.slots[rootPlanID]; ok && slot.form != form {
		if slot.form.WaitState().State == builtin.FormStateAwaitingInput {
			return false
		}
	}
	r.slots[rootPlanID] = &formSlot{form: form, currentPlanID: currentPlanID}
	return true
}

// Submit delivers user values to the pending form for rootPlanID. Values
// submitted after a timeout are stored for the record but do not resume
// the waiting tool.
func (r *FormInputRegistry) Submit(rootPlanID string, values map[string]string) error {
	r.mu.Lock()
	slot, ok := r.slots[rootPlanID]
	r.mu.Unlock()
	if !ok {
		return ErrNoPendingForm
	}
	return slot.form.Submit(values)
}

// WaitState reports whether rootPlanID is blocked on user input and, if
// so, which inputs it needs.
func (r *FormInputRegistry) WaitState(rootPlanID string) FormWaitView {
	r.mu.Lock()
	slot, ok := r.slots[rootPlanID]
	r.mu.Unlock()
	if !ok {
		return FormWaitView{PlanID: rootPlanID}
	}
	ws := slot.form.WaitState()
	return FormWaitView{
		PlanID:     slot.currentPlanID,
		Waiting:    ws.State == builtin.FormStateAwaitingInput,
		Title:      ws.Title,
		FormInputs: ws.FormInputs,
	}
}

// Remove drops any form registered for rootPlanID. Called on plan teardown.
func (r *FormInputRegistry) Remove(rootPlanID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, rootPlanID)
}
