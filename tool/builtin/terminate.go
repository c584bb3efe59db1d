// Package builtin provides the engine's stock tools: loop termination,
// error reporting and the human-in-the-loop form input tool.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orangyan/JManus-sub000/tool"
)

// ServiceGroup is the service group of all builtin tools.
const ServiceGroup = "system"

// TerminateName is the qualified name of the terminate tool.
var TerminateName = tool.QualifiedName(ServiceGroup, "terminate")

const terminateSchema = `{
	"type": "object",
	"properties": {
		"message": {
			"type": "string",
			"description": "The final answer for the current step"
		}
	},
	"required": ["message"]
}`

// TerminateTool ends the agent loop and carries the final answer for the
// step as its output.
type TerminateTool struct{}

// NewTerminateTool creates the terminate tool.
func NewTerminateTool() *TerminateTool { return &TerminateTool{} }

func (t *TerminateTool) ServiceGroup() string { return ServiceGroup }
func (t *TerminateTool) Name() string         { return "terminate" }

func (t *TerminateTool) Description() string {
	return "Call this tool when the current step is complete. Pass the final result of the step as the message."
}

func (t *TerminateTool) InputSchema() string { return terminateSchema }

// CanTerminate implements tool.Terminable.
func (t *TerminateTool) CanTerminate() bool { return true }

func (t *TerminateTool) Run(_ context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("terminate: invalid input: %w", err)
	}
	return params.Message, nil
}
