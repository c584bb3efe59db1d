package recorder

import "time"

// StepStatus is the lifecycle state of one plan step.
type StepStatus string

const (
	StepNotStarted  StepStatus = "NOT_STARTED"
	StepInProgress  StepStatus = "IN_PROGRESS"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepInterrupted StepStatus = "INTERRUPTED"
)

// AgentStatus is the lifecycle state of one agent execution.
type AgentStatus string

const (
	AgentRunning     AgentStatus = "RUNNING"
	AgentFinished    AgentStatus = "FINISHED"
	AgentFailed      AgentStatus = "FAILED"
	AgentInterrupted AgentStatus = "INTERRUPTED"
)

// PlanRecord is the persisted state of one plan. A plan is a sub-plan iff
// ToolCallID is set; ParentPlanID is set iff ToolCallID is set.
type PlanRecord struct {
	CurrentPlanID    string        `json:"currentPlanId"`
	RootPlanID       string        `json:"rootPlanId"`
	ParentPlanID     *string       `json:"parentPlanId,omitempty"`
	ToolCallID       *string       `json:"toolCallId,omitempty"`
	Title            string        `json:"title"`
	UserRequest      string        `json:"userRequest"`
	ModelName        *string       `json:"modelName,omitempty"`
	Summary          *string       `json:"summary,omitempty"`
	Result           *string       `json:"result,omitempty"`
	Completed        bool          `json:"completed"`
	StartTime        time.Time     `json:"startTime"`
	EndTime          *time.Time    `json:"endTime,omitempty"`
	CurrentStepIndex int           `json:"currentStepIndex"`
	Steps            []*StepRecord `json:"steps"`
}

// StepRecord is one item in a plan's ordered step sequence.
type StepRecord struct {
	StepID          string     `json:"stepId"`
	StepIndex       int        `json:"stepIndex"`
	StepRequirement string     `json:"stepRequirement"`
	AgentName       *string    `json:"agentName,omitempty"`
	Status          StepStatus `json:"status"`
	Result          *string    `json:"result,omitempty"`
	ErrorMessage    *string    `json:"errorMessage,omitempty"`
}

// AgentExecutionRecord is one execution of one agent on one step.
type AgentExecutionRecord struct {
	ID               string            `json:"id"`
	StepID           string            `json:"stepId"`
	ConversationID   *string           `json:"conversationId,omitempty"`
	AgentName        string            `json:"agentName"`
	AgentDescription *string           `json:"agentDescription,omitempty"`
	AgentRequest     *string           `json:"agentRequest,omitempty"`
	Result           *string           `json:"result,omitempty"`
	ErrorMessage     *string           `json:"errorMessage,omitempty"`
	Status           AgentStatus       `json:"status"`
	StartTime        time.Time         `json:"startTime"`
	EndTime          *time.Time        `json:"endTime,omitempty"`
	MaxSteps         int               `json:"maxSteps"`
	CurrentStep      int               `json:"currentStep"`
	ModelName        *string           `json:"modelName,omitempty"`
	ThinkActSteps    []*ThinkActRecord `json:"thinkActSteps,omitempty"`
}

// ThinkActRecord is one think → act iteration inside an agent execution.
type ThinkActRecord struct {
	ID                string         `json:"id"`
	ParentExecutionID string         `json:"parentExecutionId"`
	ThinkActID        string         `json:"thinkActId"`
	ThinkInput        string         `json:"thinkInput"`
	ThinkOutput       string         `json:"thinkOutput"`
	InputCharCount    int            `json:"inputCharCount"`
	OutputCharCount   int            `json:"outputCharCount"`
	ErrorMessage      *string        `json:"errorMessage,omitempty"`
	ActionNeeded      bool           `json:"actionNeeded"`
	ActionResult      *string        `json:"actionResult,omitempty"`
	ThinkStartTime    *time.Time     `json:"thinkStartTime,omitempty"`
	ThinkEndTime      *time.Time     `json:"thinkEndTime,omitempty"`
	ActStartTime      *time.Time     `json:"actStartTime,omitempty"`
	ActEndTime        *time.Time     `json:"actEndTime,omitempty"`
	ActToolInfoList   []*ActToolInfo `json:"actToolInfoList,omitempty"`
}

// ActToolInfo is one tool invocation within an act phase. Result stays nil
// until the invocation completes; readers must tolerate the gap.
type ActToolInfo struct {
	ToolCallID string  `json:"toolCallId"`
	Name       string  `json:"name"`
	Parameters string  `json:"parameters"`
	Result     *string `json:"result,omitempty"`
}

// ActToolResult is the second phase of a tool-call write: the result keyed
// by the toolCallId recorded before execution.
type ActToolResult struct {
	ToolCallID string
	Name       string
	Parameters string
	Result     string
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
