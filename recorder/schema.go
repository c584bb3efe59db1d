package recorder

// Schema is the DDL for the recorder tables. Intended for bootstrap and
// tests; production deployments usually manage migrations externally.
const Schema = `
CREATE TABLE IF NOT EXISTS plan_execution_record (
	id UUID PRIMARY KEY,
	current_plan_id TEXT NOT NULL UNIQUE,
	root_plan_id TEXT NOT NULL,
	parent_plan_id TEXT,
	tool_call_id TEXT,
	title TEXT NOT NULL,
	user_request TEXT NOT NULL,
	summary TEXT,
	result TEXT,
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ,
	model_name TEXT,
	current_step_index INT NOT NULL DEFAULT 0,
	steps JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_plan_execution_record_root_plan_id
	ON plan_execution_record(root_plan_id);
CREATE INDEX IF NOT EXISTS idx_plan_execution_record_tool_call_id
	ON plan_execution_record(tool_call_id);

CREATE TABLE IF NOT EXISTS agent_execution_record (
	id TEXT PRIMARY KEY,
	step_id TEXT NOT NULL UNIQUE,
	conversation_id TEXT,
	agent_name TEXT NOT NULL,
	agent_description TEXT,
	agent_request TEXT,
	result TEXT,
	error_message TEXT,
	status TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ,
	max_steps INT NOT NULL,
	current_step INT NOT NULL DEFAULT 0,
	model_name TEXT
);

CREATE INDEX IF NOT EXISTS idx_agent_execution_record_step_id
	ON agent_execution_record(step_id);

CREATE TABLE IF NOT EXISTS think_act_record (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	parent_execution_id TEXT NOT NULL REFERENCES agent_execution_record(id) ON DELETE CASCADE,
	think_act_id TEXT NOT NULL,
	think_input TEXT NOT NULL DEFAULT '',
	think_output TEXT NOT NULL DEFAULT '',
	error_message TEXT,
	input_char_count INT NOT NULL DEFAULT 0,
	output_char_count INT NOT NULL DEFAULT 0,
	action_needed BOOLEAN NOT NULL DEFAULT FALSE,
	action_result TEXT,
	think_start_time TIMESTAMPTZ,
	think_end_time TIMESTAMPTZ,
	act_start_time TIMESTAMPTZ,
	act_end_time TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_think_act_record_parent_execution_id
	ON think_act_record(parent_execution_id);

CREATE TABLE IF NOT EXISTS act_tool_info (
	id UUID PRIMARY KEY,
	think_act_record_id TEXT REFERENCES think_act_record(id) ON DELETE CASCADE,
	tool_call_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	parameters TEXT NOT NULL DEFAULT '',
	call_index INT NOT NULL DEFAULT 0,
	result TEXT
);

CREATE INDEX IF NOT EXISTS idx_act_tool_info_tool_call_id
	ON act_tool_info(tool_call_id);
`
