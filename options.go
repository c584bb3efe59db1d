package manus

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/orangyan/JManus-sub000/hooks"
)

// Option is a functional option for configuring an Engine.
type Option func(*internalConfig) error

// WithMaxSteps sets the default think-act round limit per agent run.
func WithMaxSteps(n int) Option {
	return func(c *internalConfig) error {
		if n <= 0 {
			return NewEngineError("WithMaxSteps", ErrInvalidConfig).
				WithContext("max_steps", n)
		}
		c.maxSteps = n
		return nil
	}
}

// WithModelRetries sets how many attempts a single model call gets before
// the agent gives up on the round.
func WithModelRetries(n int) Option {
	return func(c *internalConfig) error {
		if n <= 0 {
			return NewEngineError("WithModelRetries", ErrInvalidConfig).
				WithContext("retries", n)
		}
		c.maxModelRetries = n
		return nil
	}
}

// WithMemoryBudget sets the conversation character budget. Exceeding it
// triggers summarization before the next model call.
func WithMemoryBudget(chars int) Option {
	return func(c *internalConfig) error {
		if chars <= 0 {
			return NewEngineError("WithMemoryBudget", ErrInvalidConfig).
				WithContext("budget_chars", chars)
		}
		c.memoryBudget = chars
		return nil
	}
}

// WithPreserveLastN sets how many trailing messages survive a forced
// compression untouched.
func WithPreserveLastN(n int) Option {
	return func(c *internalConfig) error {
		if n <= 0 {
			return NewEngineError("WithPreserveLastN", ErrInvalidConfig).
				WithContext("preserve_last_n", n)
		}
		c.preserveLastN = n
		return nil
	}
}

// WithPoolSizes sets the worker count per plan depth; sizes[d] bounds
// concurrency at depth d and deeper levels reuse the last entry.
func WithPoolSizes(sizes ...int) Option {
	return func(c *internalConfig) error {
		if len(sizes) == 0 {
			return NewEngineError("WithPoolSizes", ErrInvalidConfig).
				WithContext("reason", "at least one pool size required")
		}
		for _, s := range sizes {
			if s <= 0 {
				return NewEngineError("WithPoolSizes", ErrInvalidConfig).
					WithContext("reason", "pool sizes must be positive")
			}
		}
		c.poolSizes = sizes
		return nil
	}
}

// WithFormInputTimeout sets how long a form input tool waits for the user.
func WithFormInputTimeout(d time.Duration) Option {
	return func(c *internalConfig) error {
		if d <= 0 {
			return NewEngineError("WithFormInputTimeout", ErrInvalidConfig).
				WithContext("timeout", d.String())
		}
		c.formTimeout = d
		return nil
	}
}

// WithWorkspaceRoot sets the directory under which per-plan workspaces
// are created.
func WithWorkspaceRoot(dir string) Option {
	return func(c *internalConfig) error {
		if dir == "" {
			return NewEngineError("WithWorkspaceRoot", ErrInvalidConfig).
				WithContext("reason", "directory must not be empty")
		}
		c.workspaceRoot = dir
		return nil
	}
}

// WithAgents registers agent definitions. The first registered agent
// becomes the default unless WithDefaultAgent overrides it.
func WithAgents(defs ...AgentDefinition) Option {
	return func(c *internalConfig) error {
		for _, def := range defs {
			if def.Name == "" {
				return NewEngineError("WithAgents", ErrInvalidConfig).
					WithContext("reason", "agent name must not be empty")
			}
			for _, t := range def.Tools {
				if !json.Valid([]byte(t.InputSchema())) {
					return NewEngineError("WithAgents", ErrInvalidConfig).
						WithContext("agent", def.Name).
						WithContext("tool", t.Name()).
						WithContext("reason", "tool input schema is not valid JSON")
				}
			}
			key := strings.ToUpper(def.Name)
			c.agents[key] = def
			if c.defaultAgent == "" {
				c.defaultAgent = key
			}
		}
		return nil
	}
}

// WithDefaultAgent picks which registered agent handles untagged steps.
func WithDefaultAgent(name string) Option {
	return func(c *internalConfig) error {
		c.defaultAgent = strings.ToUpper(name)
		return nil
	}
}

// WithHooks replaces the hook registry, e.g. one preloaded with logging
// hooks.
func WithHooks(reg *hooks.Registry) Option {
	return func(c *internalConfig) error {
		if reg == nil {
			return NewEngineError("WithHooks", ErrInvalidConfig).
				WithContext("reason", "registry must not be nil")
		}
		c.hooks = reg
		return nil
	}
}
