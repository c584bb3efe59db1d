package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orangyan/JManus-sub000/tool"
)

// Qualified names the agent inspects when routing error observations.
var (
	ErrorReportName       = tool.QualifiedName(ServiceGroup, "error-report")
	SystemErrorReportName = tool.QualifiedName(ServiceGroup, "system-error-report")
)

const errorReportSchema = `{
	"type": "object",
	"properties": {
		"error_message": {
			"type": "string",
			"description": "Description of the error encountered"
		}
	},
	"required": ["error_message"]
}`

// ExtractErrorMessage pulls the error_message field out of an error-report
// tool call's arguments. Falls back to the raw arguments when they are not
// the expected shape.
func ExtractErrorMessage(arguments string) string {
	var params struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal([]byte(arguments), &params); err != nil || params.ErrorMessage == "" {
		return arguments
	}
	return params.ErrorMessage
}

// ErrorReportTool lets the model surface an unrecoverable problem. The
// agent attaches the reported message to the step and keeps the think/act
// record for observability.
type ErrorReportTool struct{}

// NewErrorReportTool creates the error report tool.
func NewErrorReportTool() *ErrorReportTool { return &ErrorReportTool{} }

func (t *ErrorReportTool) ServiceGroup() string { return ServiceGroup }
func (t *ErrorReportTool) Name() string         { return "error-report" }

func (t *ErrorReportTool) Description() string {
	return "Report an unrecoverable error for the current step. The step fails with the given message."
}

func (t *ErrorReportTool) InputSchema() string { return errorReportSchema }

// CanTerminate implements tool.Terminable; an error report ends the loop.
func (t *ErrorReportTool) CanTerminate() bool { return true }

func (t *ErrorReportTool) Run(_ context.Context, input json.RawMessage) (string, error) {
	msg := ExtractErrorMessage(string(input))
	return fmt.Sprintf("error reported: %s", msg), nil
}

// SystemErrorReportTool is the synthetic tool the agent records when LLM
// retries are exhausted, so infrastructure failures are visible in the same
// shape as any other tool outcome. The model never calls it directly.
type SystemErrorReportTool struct{}

// NewSystemErrorReportTool creates the system error report tool.
func NewSystemErrorReportTool() *SystemErrorReportTool { return &SystemErrorReportTool{} }

func (t *SystemErrorReportTool) ServiceGroup() string { return ServiceGroup }
func (t *SystemErrorReportTool) Name() string         { return "system-error-report" }

func (t *SystemErrorReportTool) Description() string {
	return "Internal tool recording infrastructure failures. Not intended for model use."
}

func (t *SystemErrorReportTool) InputSchema() string { return errorReportSchema }

func (t *SystemErrorReportTool) CanTerminate() bool { return true }

func (t *SystemErrorReportTool) Run(_ context.Context, input json.RawMessage) (string, error) {
	msg := ExtractErrorMessage(string(input))
	return fmt.Sprintf("system error: %s", msg), nil
}
