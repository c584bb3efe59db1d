package manus

import "sync"

// interruptState is the per-root cancellation flag.
type interruptState int

const (
	stateRunning interruptState = iota
	stateInterruptRequested
	stateTerminated
)

// InterruptionManager keeps a cooperative cancellation flag per root plan.
// Every component polls ShouldContinue at its safe points; once it returns
// false the observer must unwind with ErrInterrupted.
type InterruptionManager struct {
	mu     sync.RWMutex
	states map[string]interruptState
}

// NewInterruptionManager creates an empty manager.
func NewInterruptionManager() *InterruptionManager {
	return &InterruptionManager{states: make(map[string]interruptState)}
}

// Register starts tracking a root plan. Idempotent.
func (m *InterruptionManager) Register(rootPlanID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[rootPlanID]; !ok {
		m.states[rootPlanID] = stateRunning
	}
}

// Request asks the root plan to stop. Returns false when the plan is
// unknown or already terminated.
func (m *InterruptionManager) Request(rootPlanID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[rootPlanID]
	if !ok || state == stateTerminated {
		return false
	}
	m.states[rootPlanID] = stateInterruptRequested
	return true
}

// ShouldContinue is the safe-point check. Unknown roots continue, so
// components need no registration ordering.
func (m *InterruptionManager) ShouldContinue(rootPlanID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[rootPlanID]
	if !ok {
		return true
	}
	return state == stateRunning
}

// MarkTerminated records that the plan tree has fully unwound.
func (m *InterruptionManager) MarkTerminated(rootPlanID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[rootPlanID]; ok {
		m.states[rootPlanID] = stateTerminated
	}
}

// Remove forgets the root plan. Called on plan teardown.
func (m *InterruptionManager) Remove(rootPlanID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, rootPlanID)
}
