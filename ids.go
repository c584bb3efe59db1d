package manus

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Id prefixes issued by the dispatcher.
const (
	PlanIDPrefix         = "plan"
	StepIDPrefix         = "step"
	ThinkActIDPrefix     = "thinkact"
	ToolCallIDPrefix     = "toolcall"
	ParallelExecIDPrefix = "par"
)

// IDGenerator issues opaque string ids unique within a process lifetime:
// millisecond timestamp + monotonic counter + short random fragment.
type IDGenerator struct {
	counter atomic.Uint64
}

// NewIDGenerator creates an id dispatcher.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

func (g *IDGenerator) newID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d-%s",
		prefix,
		time.Now().UnixMilli(),
		g.counter.Add(1),
		uuid.NewString()[:8],
	)
}

// NewPlanID issues a plan id.
func (g *IDGenerator) NewPlanID() string { return g.newID(PlanIDPrefix) }

// NewStepID issues a step id.
func (g *IDGenerator) NewStepID() string { return g.newID(StepIDPrefix) }

// NewThinkActID issues a think-act cycle id.
func (g *IDGenerator) NewThinkActID() string { return g.newID(ThinkActIDPrefix) }

// NewToolCallID issues a tool-call id.
func (g *IDGenerator) NewToolCallID() string { return g.newID(ToolCallIDPrefix) }

// NewParallelExecID issues a parallel-batch id.
func (g *IDGenerator) NewParallelExecID() string { return g.newID(ParallelExecIDPrefix) }
