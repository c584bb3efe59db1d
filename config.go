package manus

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orangyan/JManus-sub000/hooks"
	"github.com/orangyan/JManus-sub000/llm"
	"github.com/orangyan/JManus-sub000/recorder"
	"github.com/orangyan/JManus-sub000/tool"
)

// AgentDefinition describes a named agent profile that plan steps can
// target with an [AGENT_NAME] tag.
type AgentDefinition struct {
	// Name is the tag used in step requirements, matched case-insensitively.
	Name string

	// Description is shown to planners and in the UI.
	Description string

	// SystemPrompt is prepended to every model call for this agent.
	SystemPrompt string

	// Tools are the agent's domain tools. Built-in tools (terminate,
	// error reporting, form input, sub-plan) are added automatically.
	Tools []tool.Tool

	// Model overrides the engine default model for this agent. Optional.
	Model llm.Model

	// MaxSteps overrides the engine default think-act round limit. Zero
	// means use the default.
	MaxSteps int
}

// Config holds the required configuration for an Engine.
//
// Example:
//
//	engine, _ := manus.New(manus.Config{
//	    DB:    pool,
//	    Model: llm.NewAnthropicModel(&client, "claude-sonnet-4-5-20250929"),
//	}, manus.WithAgents(agents...))
type Config struct {
	// DB is the Postgres pool backing the execution recorder. Either DB
	// or Store must be set; Store wins when both are.
	DB *pgxpool.Pool

	// Store overrides the recorder store, e.g. recorder.NewMemoryStore()
	// for tests.
	Store recorder.Store

	// Model is the default language model (required).
	Model llm.Model

	// Logger receives engine logs. Nil disables logging.
	Logger Logger
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Model == nil {
		return fmt.Errorf("%w: Model is required", ErrInvalidConfig)
	}
	if c.DB == nil && c.Store == nil {
		return fmt.Errorf("%w: DB or Store is required", ErrInvalidConfig)
	}
	return nil
}

// internalConfig holds the full engine configuration including optional
// parameters.
type internalConfig struct {
	store  recorder.Store
	model  llm.Model
	logger Logger

	maxSteps        int
	maxModelRetries int
	memoryBudget    int
	preserveLastN   int
	poolSizes       []int
	formTimeout     time.Duration
	formLockTimeout time.Duration
	workspaceRoot   string

	agents       map[string]AgentDefinition
	defaultAgent string
	hooks        *hooks.Registry
}

// newInternalConfig creates an internal config from the public Config.
func newInternalConfig(cfg Config) *internalConfig {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &internalConfig{
		store:  cfg.Store,
		model:  cfg.Model,
		logger: logger,

		// Defaults
		maxSteps:        20,
		maxModelRetries: 3,
		memoryBudget:    60000, // characters
		preserveLastN:   4,
		poolSizes:       []int{8, 4, 2},
		formTimeout:     5 * time.Minute,
		formLockTimeout: 10 * time.Second,
		workspaceRoot:   "extensions",

		agents: make(map[string]AgentDefinition),
		hooks:  hooks.NewRegistry(),
	}
}
