package hooks

import (
	"context"
	"encoding/json"
)

// Logger is the logging surface used by the stock logging hooks.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// RegisterLogging attaches hooks that log every lifecycle event to the
// given logger.
func RegisterLogging(r *Registry, log Logger) {
	r.OnPlanStart(func(_ context.Context, planID, title string) error {
		log.Info("plan started", "plan_id", planID, "title", title)
		return nil
	})

	r.OnPlanEnd(func(_ context.Context, planID string, completed bool, result string) error {
		log.Info("plan finished",
			"plan_id", planID,
			"completed", completed,
			"result_chars", len(result),
		)
		return nil
	})

	r.OnThink(func(_ context.Context, stepID string, round int) error {
		log.Debug("think round", "step_id", stepID, "round", round)
		return nil
	})

	r.OnToolCall(func(_ context.Context, toolName string, input json.RawMessage, output string, err error) error {
		if err != nil {
			log.Warn("tool call failed", "tool", toolName, "error", err)
			return nil
		}
		log.Debug("tool call",
			"tool", toolName,
			"input_chars", len(input),
			"output_chars", len(output),
		)
		return nil
	})

	r.OnCompaction(func(_ context.Context, beforeChars, afterChars int) error {
		log.Info("memory compacted", "before_chars", beforeChars, "after_chars", afterChars)
		return nil
	})
}
