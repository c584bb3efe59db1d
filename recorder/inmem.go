package recorder

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and embedded use.
type MemoryStore struct {
	mu        sync.RWMutex
	plans     map[string]*PlanRecord           // currentPlanId -> plan
	agents    map[string]*AgentExecutionRecord // stepId -> record
	thinkActs map[string][]*ThinkActRecord     // parentExecutionId -> ordered records
	toolCalls map[string]*ActToolInfo          // toolCallId -> entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:     make(map[string]*PlanRecord),
		agents:    make(map[string]*AgentExecutionRecord),
		thinkActs: make(map[string][]*ThinkActRecord),
		toolCalls: make(map[string]*ActToolInfo),
	}
}

// RecordPlanStart implements Store.
func (s *MemoryStore) RecordPlanStart(_ context.Context, plan *PlanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plans[plan.CurrentPlanID]; exists {
		return nil // idempotent on the keyed id
	}
	s.plans[plan.CurrentPlanID] = clonePlan(plan)
	return nil
}

// RecordStepStart implements Store.
func (s *MemoryStore) RecordStepStart(_ context.Context, step *StepRecord, planID string) error {
	return s.updateStep(step, planID, true)
}

// RecordStepEnd implements Store.
func (s *MemoryStore) RecordStepEnd(_ context.Context, step *StepRecord, planID string) error {
	return s.updateStep(step, planID, false)
}

func (s *MemoryStore) updateStep(step *StepRecord, planID string, updateIndex bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[planID]
	if !ok {
		return ErrNotFound
	}
	for i, existing := range plan.Steps {
		if existing.StepID == step.StepID {
			plan.Steps[i] = cloneStep(step)
			if updateIndex {
				plan.CurrentStepIndex = step.StepIndex
			}
			return nil
		}
	}
	return ErrNotFound
}

// RecordPlanComplete implements Store.
func (s *MemoryStore) RecordPlanComplete(_ context.Context, planID string, summary, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, ok := s.plans[planID]
	if !ok {
		return ErrNotFound
	}
	plan.Completed = true
	now := nowUTC()
	plan.EndTime = &now
	plan.Summary = &summary
	plan.Result = &result
	return nil
}

// RecordAgentStart implements Store.
func (s *MemoryStore) RecordAgentStart(_ context.Context, rec *AgentExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.agents[rec.StepID]; ok {
		if existing.Status == AgentRunning && existing.ID != rec.ID {
			return ErrConflict
		}
	}
	s.agents[rec.StepID] = cloneAgent(rec)
	return nil
}

// RecordAgentEnd implements Store.
func (s *MemoryStore) RecordAgentEnd(_ context.Context, rec *AgentExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.agents[rec.StepID]
	if !ok || existing.ID != rec.ID {
		return ErrNotFound
	}
	s.agents[rec.StepID] = cloneAgent(rec)
	return nil
}

// RecordThinkingAndAction implements Store.
func (s *MemoryStore) RecordThinkingAndAction(_ context.Context, rec *ThinkActRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneThinkAct(rec)
	for i, existing := range s.thinkActs[rec.ParentExecutionID] {
		if existing.ID == rec.ID {
			s.thinkActs[rec.ParentExecutionID][i] = c
			s.indexToolCalls(c)
			return nil
		}
	}
	s.thinkActs[rec.ParentExecutionID] = append(s.thinkActs[rec.ParentExecutionID], c)
	s.indexToolCalls(c)
	return nil
}

func (s *MemoryStore) indexToolCalls(rec *ThinkActRecord) {
	for _, info := range rec.ActToolInfoList {
		s.toolCalls[info.ToolCallID] = info
	}
}

// RecordActionResult implements Store.
func (s *MemoryStore) RecordActionResult(_ context.Context, results []ActToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, res := range results {
		result := res.Result
		if info, ok := s.toolCalls[res.ToolCallID]; ok {
			info.Result = &result
			continue
		}
		// Out-of-order write: the result arrived before phase one.
		s.toolCalls[res.ToolCallID] = &ActToolInfo{
			ToolCallID: res.ToolCallID,
			Name:       res.Name,
			Parameters: res.Parameters,
			Result:     &result,
		}
	}
	return nil
}

// GetPlan implements Store.
func (s *MemoryStore) GetPlan(_ context.Context, planID string) (*PlanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[planID]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePlan(plan), nil
}

// GetPlansByRoot implements Store.
func (s *MemoryStore) GetPlansByRoot(_ context.Context, rootPlanID string) ([]*PlanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var plans []*PlanRecord
	for _, plan := range s.plans {
		if plan.RootPlanID == rootPlanID {
			plans = append(plans, clonePlan(plan))
		}
	}
	if len(plans) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].CurrentPlanID == rootPlanID {
			return true
		}
		if plans[j].CurrentPlanID == rootPlanID {
			return false
		}
		return plans[i].StartTime.Before(plans[j].StartTime)
	})
	return plans, nil
}

// GetAgentExecutionDetail implements Store.
func (s *MemoryStore) GetAgentExecutionDetail(_ context.Context, stepID string) (*AgentExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.agents[stepID]
	if !ok {
		return nil, ErrNotFound
	}
	detail := cloneAgent(rec)
	for _, ta := range s.thinkActs[rec.ID] {
		detail.ThinkActSteps = append(detail.ThinkActSteps, cloneThinkAct(ta))
	}
	return detail, nil
}

// ListAgentExecutions implements Store.
func (s *MemoryStore) ListAgentExecutions(_ context.Context, stepIDs []string) ([]*AgentExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*AgentExecutionRecord
	for _, stepID := range stepIDs {
		if rec, ok := s.agents[stepID]; ok {
			recs = append(recs, cloneAgent(rec))
		}
	}
	return recs, nil
}

// FindActToolInfoByToolCallID implements Store.
func (s *MemoryStore) FindActToolInfoByToolCallID(_ context.Context, toolCallID string) (*ActToolInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.toolCalls[toolCallID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *info
	return &c, nil
}

// DeletePlanTree implements Store.
func (s *MemoryStore) DeletePlanTree(_ context.Context, rootPlanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for planID, plan := range s.plans {
		if plan.RootPlanID != rootPlanID {
			continue
		}
		for _, step := range plan.Steps {
			if agent, ok := s.agents[step.StepID]; ok {
				for _, ta := range s.thinkActs[agent.ID] {
					for _, info := range ta.ActToolInfoList {
						delete(s.toolCalls, info.ToolCallID)
					}
				}
				delete(s.thinkActs, agent.ID)
				delete(s.agents, step.StepID)
			}
		}
		delete(s.plans, planID)
	}
	return nil
}

func clonePlan(p *PlanRecord) *PlanRecord {
	c := *p
	c.Steps = make([]*StepRecord, len(p.Steps))
	for i, step := range p.Steps {
		c.Steps[i] = cloneStep(step)
	}
	return &c
}

func cloneStep(s *StepRecord) *StepRecord {
	c := *s
	return &c
}

func cloneAgent(a *AgentExecutionRecord) *AgentExecutionRecord {
	c := *a
	c.ThinkActSteps = nil
	return &c
}

func cloneThinkAct(t *ThinkActRecord) *ThinkActRecord {
	c := *t
	c.ActToolInfoList = make([]*ActToolInfo, len(t.ActToolInfoList))
	for i, info := range t.ActToolInfoList {
		ic := *info
		c.ActToolInfoList[i] = &ic
	}
	return &c
}
