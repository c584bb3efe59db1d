package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txContextKey is the context key for storing pgx.Tx.
type txContextKey struct{}

// WithTx returns a new context carrying the given transaction. Recorder
// operations performed with this context join the transaction.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext retrieves the transaction from context, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// querier is the common surface of pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore implements Store on PostgreSQL with pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the recorder schema. Safe to call repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply recorder schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) getQuerier(ctx context.Context) querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// RecordPlanStart implements Store.
func (s *PostgresStore) RecordPlanStart(ctx context.Context, plan *PlanRecord) error {
	stepsJSON, err := json.Marshal(plan.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	query := `
		INSERT INTO plan_execution_record
			(id, current_plan_id, root_plan_id, parent_plan_id, tool_call_id,
			 title, user_request, completed, start_time, model_name,
			 current_step_index, steps)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9, $10, $11)
		ON CONFLICT (current_plan_id) DO NOTHING
	`
	_, err = s.getQuerier(ctx).Exec(ctx, query,
		uuid.New(), plan.CurrentPlanID, plan.RootPlanID, plan.ParentPlanID,
		plan.ToolCallID, plan.Title, plan.UserRequest, plan.StartTime,
		plan.ModelName, plan.CurrentStepIndex, stepsJSON,
	)
	if err != nil {
		return fmt.Errorf("record plan start: %w", err)
	}
	return nil
}

// updateStepJSON rewrites the embedded step entry and optionally the
// current step index inside the plan row.
func (s *PostgresStore) updateStepJSON(ctx context.Context, step *StepRecord, planID string, updateIndex bool) error {
	q := s.getQuerier(ctx)

	var stepsJSON []byte
	err := q.QueryRow(ctx,
		`SELECT steps FROM plan_execution_record WHERE current_plan_id = $1 FOR UPDATE`,
		planID,
	).Scan(&stepsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load plan steps: %w", err)
	}

	var steps []*StepRecord
	if err := json.Unmarshal(stepsJSON, &steps); err != nil {
		return fmt.Errorf("unmarshal plan steps: %w", err)
	}

	found := false
	for i, existing := range steps {
		if existing.StepID == step.StepID {
			steps[i] = step
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("step %s: %w", step.StepID, ErrNotFound)
	}

	updated, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal plan steps: %w", err)
	}

	if updateIndex {
		_, err = q.Exec(ctx,
			`UPDATE plan_execution_record SET steps = $1, current_step_index = $2 WHERE current_plan_id = $3`,
			updated, step.StepIndex, planID,
		)
	} else {
		_, err = q.Exec(ctx,
			`UPDATE plan_execution_record SET steps = $1 WHERE current_plan_id = $2`,
			updated, planID,
		)
	}
	if err != nil {
		return fmt.Errorf("update plan steps: %w", err)
	}
	return nil
}

// RecordStepStart implements Store.
func (s *PostgresStore) RecordStepStart(ctx context.Context, step *StepRecord, planID string) error {
	return s.updateStepJSON(ctx, step, planID, true)
}

// RecordStepEnd implements Store.
func (s *PostgresStore) RecordStepEnd(ctx context.Context, step *StepRecord, planID string) error {
	return s.updateStepJSON(ctx, step, planID, false)
}

// RecordPlanComplete implements Store.
func (s *PostgresStore) RecordPlanComplete(ctx context.Context, planID string, summary, result string) error {
	tag, err := s.getQuerier(ctx).Exec(ctx, `
		UPDATE plan_execution_record
		SET completed = TRUE, end_time = NOW(), summary = $1, result = $2
		WHERE current_plan_id = $3
	`, summary, result, planID)
	if err != nil {
		return fmt.Errorf("record plan complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	return nil
}

// RecordAgentStart implements Store.
func (s *PostgresStore) RecordAgentStart(ctx context.Context, rec *AgentExecutionRecord) error {
	query := `
		INSERT INTO agent_execution_record
			(id, step_id, conversation_id, agent_name, agent_description,
			 agent_request, status, start_time, max_steps, current_step, model_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (step_id) DO UPDATE SET
			id = EXCLUDED.id,
			status = EXCLUDED.status,
			start_time = EXCLUDED.start_time,
			current_step = EXCLUDED.current_step,
			end_time = NULL,
			result = NULL,
			error_message = NULL
		WHERE agent_execution_record.status <> 'RUNNING'
	`
	tag, err := s.getQuerier(ctx).Exec(ctx, query,
		rec.ID, rec.StepID, rec.ConversationID, rec.AgentName,
		rec.AgentDescription, rec.AgentRequest, rec.Status, rec.StartTime,
		rec.MaxSteps, rec.CurrentStep, rec.ModelName,
	)
	if err != nil {
		return fmt.Errorf("record agent start: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// A RUNNING record already exists for the step.
		return fmt.Errorf("step %s has a running agent: %w", rec.StepID, ErrConflict)
	}
	return nil
}

// RecordAgentEnd implements Store.
func (s *PostgresStore) RecordAgentEnd(ctx context.Context, rec *AgentExecutionRecord) error {
	tag, err := s.getQuerier(ctx).Exec(ctx, `
		UPDATE agent_execution_record
		SET status = $1, result = $2, error_message = $3, end_time = $4, current_step = $5
		WHERE id = $6
	`, rec.Status, rec.Result, rec.ErrorMessage, rec.EndTime, rec.CurrentStep, rec.ID)
	if err != nil {
		return fmt.Errorf("record agent end: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent execution %s: %w", rec.ID, ErrNotFound)
	}
	return nil
}

// RecordThinkingAndAction implements Store. The think-act row and its tool
// calls go in one batch so the write is transactional on the pool too.
func (s *PostgresStore) RecordThinkingAndAction(ctx context.Context, rec *ThinkActRecord) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO think_act_record
			(id, parent_execution_id, think_act_id, think_input, think_output,
			 error_message, input_char_count, output_char_count, action_needed,
			 action_result, think_start_time, think_end_time, act_start_time, act_end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			think_output = EXCLUDED.think_output,
			error_message = EXCLUDED.error_message,
			action_needed = EXCLUDED.action_needed,
			action_result = EXCLUDED.action_result,
			think_end_time = EXCLUDED.think_end_time,
			act_start_time = EXCLUDED.act_start_time,
			act_end_time = EXCLUDED.act_end_time
	`, rec.ID, rec.ParentExecutionID, rec.ThinkActID, rec.ThinkInput,
		rec.ThinkOutput, rec.ErrorMessage, rec.InputCharCount, rec.OutputCharCount,
		rec.ActionNeeded, rec.ActionResult, rec.ThinkStartTime, rec.ThinkEndTime,
		rec.ActStartTime, rec.ActEndTime)

	for i, info := range rec.ActToolInfoList {
		batch.Queue(`
			INSERT INTO act_tool_info (id, think_act_record_id, tool_call_id, name, parameters, call_index, result)
			VALUES ($1, $2, $3, $4, $5, $6, NULL)
			ON CONFLICT (tool_call_id) DO UPDATE SET
				think_act_record_id = EXCLUDED.think_act_record_id,
				name = EXCLUDED.name,
				parameters = EXCLUDED.parameters,
				call_index = EXCLUDED.call_index
		`, uuid.New(), rec.ID, info.ToolCallID, info.Name, info.Parameters, i)
	}

	results := s.getQuerier(ctx).SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("record thinking and action: %w", err)
		}
	}
	return nil
}

// RecordActionResult implements Store. Unknown tool-call ids are inserted
// so out-of-order writes are tolerated.
func (s *PostgresStore) RecordActionResult(ctx context.Context, results []ActToolResult) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, res := range results {
		batch.Queue(`
			INSERT INTO act_tool_info (id, tool_call_id, name, parameters, result)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (tool_call_id) DO UPDATE SET result = EXCLUDED.result
		`, uuid.New(), res.ToolCallID, res.Name, res.Parameters, res.Result)
	}

	batchResults := s.getQuerier(ctx).SendBatch(ctx, batch)
	defer batchResults.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := batchResults.Exec(); err != nil {
			return fmt.Errorf("record action result: %w", err)
		}
	}
	return nil
}

const planColumns = `
	current_plan_id, root_plan_id, parent_plan_id, tool_call_id, title,
	user_request, summary, result, completed, start_time, end_time,
	model_name, current_step_index, steps
`

func scanPlan(row pgx.Row) (*PlanRecord, error) {
	var plan PlanRecord
	var stepsJSON []byte
	err := row.Scan(
		&plan.CurrentPlanID, &plan.RootPlanID, &plan.ParentPlanID,
		&plan.ToolCallID, &plan.Title, &plan.UserRequest, &plan.Summary,
		&plan.Result, &plan.Completed, &plan.StartTime, &plan.EndTime,
		&plan.ModelName, &plan.CurrentStepIndex, &stepsJSON,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stepsJSON, &plan.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal plan steps: %w", err)
	}
	return &plan, nil
}

// GetPlan implements Store.
func (s *PostgresStore) GetPlan(ctx context.Context, planID string) (*PlanRecord, error) {
	row := s.getQuerier(ctx).QueryRow(ctx,
		`SELECT `+planColumns+` FROM plan_execution_record WHERE current_plan_id = $1`,
		planID,
	)
	plan, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

// GetPlansByRoot implements Store.
func (s *PostgresStore) GetPlansByRoot(ctx context.Context, rootPlanID string) ([]*PlanRecord, error) {
	rows, err := s.getQuerier(ctx).Query(ctx, `
		SELECT `+planColumns+`
		FROM plan_execution_record
		WHERE root_plan_id = $1
		ORDER BY (current_plan_id = root_plan_id) DESC, start_time ASC
	`, rootPlanID)
	if err != nil {
		return nil, fmt.Errorf("get plans by root: %w", err)
	}
	defer rows.Close()

	var plans []*PlanRecord
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get plans by root: %w", err)
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("root plan %s: %w", rootPlanID, ErrNotFound)
	}
	return plans, nil
}

const agentColumns = `
	id, step_id, conversation_id, agent_name, agent_description,
	agent_request, result, error_message, status, start_time, end_time,
	max_steps, current_step, model_name
`

func scanAgent(row pgx.Row) (*AgentExecutionRecord, error) {
	var rec AgentExecutionRecord
	err := row.Scan(
		&rec.ID, &rec.StepID, &rec.ConversationID, &rec.AgentName,
		&rec.AgentDescription, &rec.AgentRequest, &rec.Result,
		&rec.ErrorMessage, &rec.Status, &rec.StartTime, &rec.EndTime,
		&rec.MaxSteps, &rec.CurrentStep, &rec.ModelName,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetAgentExecutionDetail implements Store. Think-act rows and their tool
// calls are loaded with two range queries rather than one query per record.
func (s *PostgresStore) GetAgentExecutionDetail(ctx context.Context, stepID string) (*AgentExecutionRecord, error) {
	q := s.getQuerier(ctx)

	rec, err := scanAgent(q.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agent_execution_record WHERE step_id = $1`,
		stepID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("step %s: %w", stepID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent execution: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, parent_execution_id, think_act_id, think_input, think_output,
		       error_message, input_char_count, output_char_count, action_needed,
		       action_result, think_start_time, think_end_time, act_start_time, act_end_time
		FROM think_act_record
		WHERE parent_execution_id = $1
		ORDER BY seq ASC
	`, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("get think-act records: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*ThinkActRecord)
	var thinkActIDs []string
	for rows.Next() {
		var ta ThinkActRecord
		err := rows.Scan(
			&ta.ID, &ta.ParentExecutionID, &ta.ThinkActID, &ta.ThinkInput,
			&ta.ThinkOutput, &ta.ErrorMessage, &ta.InputCharCount,
			&ta.OutputCharCount, &ta.ActionNeeded, &ta.ActionResult,
			&ta.ThinkStartTime, &ta.ThinkEndTime, &ta.ActStartTime, &ta.ActEndTime,
		)
		if err != nil {
			return nil, fmt.Errorf("scan think-act record: %w", err)
		}
		rec.ThinkActSteps = append(rec.ThinkActSteps, &ta)
		byID[ta.ID] = &ta
		thinkActIDs = append(thinkActIDs, ta.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get think-act records: %w", err)
	}

	if len(thinkActIDs) == 0 {
		return rec, nil
	}

	toolRows, err := q.Query(ctx, `
		SELECT think_act_record_id, tool_call_id, name, parameters, result
		FROM act_tool_info
		WHERE think_act_record_id = ANY($1)
		ORDER BY call_index ASC, tool_call_id ASC
	`, thinkActIDs)
	if err != nil {
		return nil, fmt.Errorf("get act tool info: %w", err)
	}
	defer toolRows.Close()

	for toolRows.Next() {
		var parentID string
		var info ActToolInfo
		if err := toolRows.Scan(&parentID, &info.ToolCallID, &info.Name, &info.Parameters, &info.Result); err != nil {
			return nil, fmt.Errorf("scan act tool info: %w", err)
		}
		if ta, ok := byID[parentID]; ok {
			ta.ActToolInfoList = append(ta.ActToolInfoList, &info)
		}
	}
	if err := toolRows.Err(); err != nil {
		return nil, fmt.Errorf("get act tool info: %w", err)
	}

	return rec, nil
}

// ListAgentExecutions implements Store.
func (s *PostgresStore) ListAgentExecutions(ctx context.Context, stepIDs []string) ([]*AgentExecutionRecord, error) {
	if len(stepIDs) == 0 {
		return nil, nil
	}

	rows, err := s.getQuerier(ctx).Query(ctx,
		`SELECT `+agentColumns+` FROM agent_execution_record WHERE step_id = ANY($1)`,
		stepIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("list agent executions: %w", err)
	}
	defer rows.Close()

	byStep := make(map[string]*AgentExecutionRecord)
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent execution: %w", err)
		}
		byStep[rec.StepID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agent executions: %w", err)
	}

	// Preserve the caller's step order.
	var recs []*AgentExecutionRecord
	for _, stepID := range stepIDs {
		if rec, ok := byStep[stepID]; ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// FindActToolInfoByToolCallID implements Store.
func (s *PostgresStore) FindActToolInfoByToolCallID(ctx context.Context, toolCallID string) (*ActToolInfo, error) {
	var info ActToolInfo
	err := s.getQuerier(ctx).QueryRow(ctx, `
		SELECT tool_call_id, name, parameters, result
		FROM act_tool_info
		WHERE tool_call_id = $1
	`, toolCallID).Scan(&info.ToolCallID, &info.Name, &info.Parameters, &info.Result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("tool call %s: %w", toolCallID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find act tool info: %w", err)
	}
	return &info, nil
}

// DeletePlanTree implements Store. Agent records cascade to think-act and
// tool-call rows.
func (s *PostgresStore) DeletePlanTree(ctx context.Context, rootPlanID string) error {
	q := s.getQuerier(ctx)

	plans, err := s.GetPlansByRoot(ctx, rootPlanID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var stepIDs []string
	for _, plan := range plans {
		for _, step := range plan.Steps {
			stepIDs = append(stepIDs, step.StepID)
		}
	}

	if len(stepIDs) > 0 {
		if _, err := q.Exec(ctx,
			`DELETE FROM agent_execution_record WHERE step_id = ANY($1)`, stepIDs,
		); err != nil {
			return fmt.Errorf("delete agent executions: %w", err)
		}
	}
	if _, err := q.Exec(ctx,
		`DELETE FROM plan_execution_record WHERE root_plan_id = $1`, rootPlanID,
	); err != nil {
		return fmt.Errorf("delete plans: %w", err)
	}
	return nil
}
