package store

import (
	"context"
	"fmt"
	"time"

	"github.com/maestro-sh/maestro/pkg/models"
)

// executionRow mirrors the executions table. task_id and agent_id are
// nullable so the startup sweep can detect rows whose references were lost.
type executionRow struct {
	ID               string     `db:"id"`
	TaskID           *string    `db:"task_id"`
	AgentID          *string    `db:"agent_id"`
	Status           string     `db:"status"`
	StartTime        time.Time  `db:"start_time"`
	EndTime          *time.Time `db:"end_time"`
	Logs             string     `db:"logs"`
	Output           *string    `db:"output"`
	ErrorDetails     *string    `db:"error_details"`
	AgentResponse    string     `db:"agent_response"`
	WorkDirectory    string     `db:"work_directory"`
	NeedsInteraction bool       `db:"needs_interaction"`
	DurationSeconds  float64    `db:"duration_seconds"`
	MemoryUsage      *string    `db:"memory_usage"`
	APICallsMade     *string    `db:"api_calls_made"`
	PausedAt         *time.Time `db:"paused_at"`
}

func (r *executionRow) toModel() *models.Execution {
	e := &models.Execution{
		ID:               r.ID,
		Status:           models.ExecutionStatus(r.Status),
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		AgentResponse:    r.AgentResponse,
		WorkDirectory:    r.WorkDirectory,
		NeedsInteraction: r.NeedsInteraction,
		DurationSeconds:  r.DurationSeconds,
		PausedAt:         r.PausedAt,
	}
	if r.TaskID != nil {
		e.TaskID = *r.TaskID
	}
	if r.AgentID != nil {
		e.AgentID = *r.AgentID
	}
	unmarshalJSON(r.Logs, &e.Logs)
	if r.Output != nil {
		unmarshalJSON(*r.Output, &e.Output)
	}
	if r.ErrorDetails != nil {
		var details models.ErrorDetails
		unmarshalJSON(*r.ErrorDetails, &details)
		e.ErrorDetails = &details
	}
	if r.MemoryUsage != nil {
		unmarshalJSON(*r.MemoryUsage, &e.MemoryUsage)
	}
	if r.APICallsMade != nil {
		unmarshalJSON(*r.APICallsMade, &e.APICallsMade)
	}
	return e
}

const executionColumns = `id, task_id, agent_id, status, start_time, end_time,
	logs, output, error_details, agent_response, work_directory,
	needs_interaction, duration_seconds, memory_usage, api_calls_made, paused_at`

// CreateExecution inserts a new execution row in the starting state.
func (s *Store) CreateExecution(ctx context.Context, q Querier, e *models.Execution) error {
	_, err := exec(ctx, q, `
		INSERT INTO executions (id, task_id, agent_id, status, start_time,
			logs, agent_response, work_directory, needs_interaction,
			duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, e.AgentID, string(e.Status), e.StartTime,
		marshalJSON(e.Logs, "[]"), e.AgentResponse, e.WorkDirectory,
		e.NeedsInteraction, e.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// GetExecution fetches one execution by id.
func (s *Store) GetExecution(ctx context.Context, q Querier, id string) (*models.Execution, error) {
	var row executionRow
	err := get(ctx, q, &row,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return row.toModel(), nil
}

// ListExecutions returns executions newest first, optionally filtered by
// status and task id.
func (s *Store) ListExecutions(ctx context.Context, q Querier, status, taskID string, limit, offset int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	args := []any{}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if taskID != "" {
		query += ` AND task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY start_time DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var rows []executionRow
	if err := selectAll(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	out := make([]*models.Execution, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// ListNonTerminalExecutionsForTask returns starting, running, or paused
// executions referencing the task. Used for admission checks.
func (s *Store) ListNonTerminalExecutionsForTask(ctx context.Context, q Querier, taskID string) ([]*models.Execution, error) {
	var rows []executionRow
	err := selectAll(ctx, q, &rows,
		`SELECT `+executionColumns+` FROM executions
		 WHERE task_id = ? AND status IN (?, ?, ?)
		 ORDER BY start_time`,
		taskID, string(models.ExecutionStatusStarting),
		string(models.ExecutionStatusRunning), string(models.ExecutionStatusPaused))
	if err != nil {
		return nil, fmt.Errorf("failed to list non-terminal executions: %w", err)
	}
	out := make([]*models.Execution, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// ListNonTerminalExecutionsForAgent returns active executions assigned to
// the agent. Used by delete-agent admission checks.
func (s *Store) ListNonTerminalExecutionsForAgent(ctx context.Context, q Querier, agentID string) ([]*models.Execution, error) {
	var rows []executionRow
	err := selectAll(ctx, q, &rows,
		`SELECT `+executionColumns+` FROM executions
		 WHERE agent_id = ? AND status IN (?, ?, ?)
		 ORDER BY start_time`,
		agentID, string(models.ExecutionStatusStarting),
		string(models.ExecutionStatusRunning), string(models.ExecutionStatusPaused))
	if err != nil {
		return nil, fmt.Errorf("failed to list non-terminal executions: %w", err)
	}
	out := make([]*models.Execution, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// SaveExecution persists all mutable fields of an execution.
func (s *Store) SaveExecution(ctx context.Context, q Querier, e *models.Execution) error {
	res, err := exec(ctx, q, `
		UPDATE executions SET status = ?, end_time = ?, logs = ?, output = ?,
			error_details = ?, agent_response = ?, work_directory = ?,
			needs_interaction = ?, duration_seconds = ?, memory_usage = ?,
			api_calls_made = ?, paused_at = ?
		WHERE id = ?`,
		string(e.Status), e.EndTime, marshalJSON(e.Logs, "[]"),
		nullableJSON(e.Output), nullableErrorDetails(e.ErrorDetails),
		e.AgentResponse, e.WorkDirectory, e.NeedsInteraction,
		e.DurationSeconds, nullableJSON(e.MemoryUsage),
		nullableJSON(e.APICallsMade), e.PausedAt, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	return requireRowAffected(res)
}

// AppendExecutionLog appends one log entry to the execution's log array.
// The read-modify-write runs on the caller's Querier so callers that need
// atomicity can pass a transaction.
func (s *Store) AppendExecutionLog(ctx context.Context, q Querier, id string, entry models.LogEntry) error {
	var raw string
	err := get(ctx, q, &raw, `SELECT logs FROM executions WHERE id = ?`, id)
	if err != nil {
		return mapRowErr(err)
	}
	var logs []models.LogEntry
	unmarshalJSON(raw, &logs)
	logs = append(logs, entry)

	res, err := exec(ctx, q, `UPDATE executions SET logs = ? WHERE id = ?`,
		marshalJSON(logs, "[]"), id)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}
	return requireRowAffected(res)
}

// DeleteExecution removes one execution row.
func (s *Store) DeleteExecution(ctx context.Context, q Querier, id string) error {
	res, err := exec(ctx, q, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	return requireRowAffected(res)
}

// DeleteCorruptExecutions removes rows that lost their task or agent
// reference. Returns the ids removed so the sweep can log them.
func (s *Store) DeleteCorruptExecutions(ctx context.Context, q Querier) ([]string, error) {
	var ids []string
	err := selectAll(ctx, q, &ids,
		`SELECT id FROM executions
		 WHERE task_id IS NULL OR task_id = '' OR agent_id IS NULL OR agent_id = ''`)
	if err != nil {
		return nil, fmt.Errorf("failed to find corrupt executions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	for _, id := range ids {
		if _, err := exec(ctx, q,
			`DELETE FROM executions WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to delete corrupt execution: %w", err)
		}
	}
	return ids, nil
}

// ListInterruptedExecutions returns executions left in starting or running
// state, as found after an unclean shutdown.
func (s *Store) ListInterruptedExecutions(ctx context.Context, q Querier) ([]*models.Execution, error) {
	var rows []executionRow
	err := selectAll(ctx, q, &rows,
		`SELECT `+executionColumns+` FROM executions WHERE status IN (?, ?)`,
		string(models.ExecutionStatusStarting), string(models.ExecutionStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to list interrupted executions: %w", err)
	}
	out := make([]*models.Execution, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// CountExecutionsByStatus aggregates execution counts for the system surface.
func (s *Store) CountExecutionsByStatus(ctx context.Context, q Querier) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	err := selectAll(ctx, q, &rows,
		`SELECT status, COUNT(*) AS count FROM executions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func nullableErrorDetails(d *models.ErrorDetails) *string {
	if d == nil {
		return nil
	}
	raw := marshalJSON(d, "{}")
	return &raw
}
