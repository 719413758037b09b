package store

import (
	"context"
	"fmt"
	"time"

	"github.com/maestro-sh/maestro/pkg/models"
)

type workflowRunRow struct {
	ID                  string     `db:"id"`
	PatternID           string     `db:"pattern_id"`
	Status              string     `db:"status"`
	StartTime           time.Time  `db:"start_time"`
	EndTime             *time.Time `db:"end_time"`
	CurrentStep         string     `db:"current_step"`
	Progress            float64    `db:"progress"`
	Results             *string    `db:"results"`
	ErrorDetails        *string    `db:"error_details"`
	ExecutionLogs       string     `db:"execution_logs"`
	AgentCommunications string     `db:"agent_communications"`
}

func (r *workflowRunRow) toModel() *models.WorkflowExecution {
	w := &models.WorkflowExecution{
		ID:          r.ID,
		PatternID:   r.PatternID,
		Status:      models.WorkflowStatus(r.Status),
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		CurrentStep: r.CurrentStep,
		Progress:    r.Progress,
	}
	if r.Results != nil {
		unmarshalJSON(*r.Results, &w.Results)
	}
	if r.ErrorDetails != nil {
		var details models.ErrorDetails
		unmarshalJSON(*r.ErrorDetails, &details)
		w.ErrorDetails = &details
	}
	unmarshalJSON(r.ExecutionLogs, &w.ExecutionLogs)
	unmarshalJSON(r.AgentCommunications, &w.AgentCommunications)
	return w
}

const workflowRunColumns = `id, pattern_id, status, start_time, end_time,
	current_step, progress, results, error_details, execution_logs,
	agent_communications`

// CreateWorkflowRun inserts a new workflow execution row.
func (s *Store) CreateWorkflowRun(ctx context.Context, q Querier, w *models.WorkflowExecution) error {
	_, err := exec(ctx, q, `
		INSERT INTO workflow_executions (id, pattern_id, status, start_time,
			current_step, progress, execution_logs, agent_communications)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.PatternID, string(w.Status), w.StartTime,
		w.CurrentStep, w.Progress,
		marshalJSON(w.ExecutionLogs, "[]"),
		marshalJSON(w.AgentCommunications, "[]"))
	if err != nil {
		return fmt.Errorf("failed to insert workflow run: %w", err)
	}
	return nil
}

// GetWorkflowRun fetches one workflow execution by id.
func (s *Store) GetWorkflowRun(ctx context.Context, q Querier, id string) (*models.WorkflowExecution, error) {
	var row workflowRunRow
	err := get(ctx, q, &row,
		`SELECT `+workflowRunColumns+` FROM workflow_executions WHERE id = ?`, id)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return row.toModel(), nil
}

// ListWorkflowRuns returns runs newest first, optionally filtered by pattern
// and status.
func (s *Store) ListWorkflowRuns(ctx context.Context, q Querier, patternID, status string, limit, offset int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + workflowRunColumns + ` FROM workflow_executions WHERE 1=1`
	args := []any{}
	if patternID != "" {
		query += ` AND pattern_id = ?`
		args = append(args, patternID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY start_time DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var rows []workflowRunRow
	if err := selectAll(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list workflow runs: %w", err)
	}
	out := make([]*models.WorkflowExecution, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// ListNonTerminalWorkflowRunsForPattern returns active runs for the pattern.
// Used by delete-pattern admission checks.
func (s *Store) ListNonTerminalWorkflowRunsForPattern(ctx context.Context, q Querier, patternID string) ([]*models.WorkflowExecution, error) {
	var rows []workflowRunRow
	err := selectAll(ctx, q, &rows,
		`SELECT `+workflowRunColumns+` FROM workflow_executions
		 WHERE pattern_id = ? AND status IN (?, ?, ?, ?)
		 ORDER BY start_time`,
		patternID,
		string(models.WorkflowStatusPending), string(models.WorkflowStatusStarting),
		string(models.WorkflowStatusRunning), string(models.WorkflowStatusPaused))
	if err != nil {
		return nil, fmt.Errorf("failed to list active workflow runs: %w", err)
	}
	out := make([]*models.WorkflowExecution, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// SaveWorkflowRun persists all mutable fields of a workflow execution.
func (s *Store) SaveWorkflowRun(ctx context.Context, q Querier, w *models.WorkflowExecution) error {
	res, err := exec(ctx, q, `
		UPDATE workflow_executions SET status = ?, end_time = ?,
			current_step = ?, progress = ?, results = ?, error_details = ?,
			execution_logs = ?, agent_communications = ?
		WHERE id = ?`,
		string(w.Status), w.EndTime, w.CurrentStep, w.Progress,
		nullableJSON(w.Results), nullableErrorDetails(w.ErrorDetails),
		marshalJSON(w.ExecutionLogs, "[]"),
		marshalJSON(w.AgentCommunications, "[]"), w.ID)
	if err != nil {
		return fmt.Errorf("failed to update workflow run: %w", err)
	}
	return requireRowAffected(res)
}

// DeleteWorkflowRun removes one workflow execution row.
func (s *Store) DeleteWorkflowRun(ctx context.Context, q Querier, id string) error {
	res, err := exec(ctx, q, `DELETE FROM workflow_executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow run: %w", err)
	}
	return requireRowAffected(res)
}

// ListStaleWorkflowRuns returns non-terminal runs that started before the
// cutoff. The retention sweep aborts these.
func (s *Store) ListStaleWorkflowRuns(ctx context.Context, q Querier, cutoff time.Time) ([]*models.WorkflowExecution, error) {
	var rows []workflowRunRow
	err := selectAll(ctx, q, &rows,
		`SELECT `+workflowRunColumns+` FROM workflow_executions
		 WHERE status IN (?, ?, ?, ?) AND start_time < ?`,
		string(models.WorkflowStatusPending), string(models.WorkflowStatusStarting),
		string(models.WorkflowStatusRunning), string(models.WorkflowStatusPaused),
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale workflow runs: %w", err)
	}
	out := make([]*models.WorkflowExecution, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// PruneTerminalWorkflowRuns deletes terminal runs whose end time is before
// the cutoff. Returns the number of rows removed.
func (s *Store) PruneTerminalWorkflowRuns(ctx context.Context, q Querier, cutoff time.Time) (int64, error) {
	res, err := exec(ctx, q,
		`DELETE FROM workflow_executions
		 WHERE status IN (?, ?, ?, ?) AND end_time IS NOT NULL AND end_time < ?`,
		string(models.WorkflowStatusCompleted), string(models.WorkflowStatusFailed),
		string(models.WorkflowStatusCancelled), string(models.WorkflowStatusAborted),
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune workflow runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// CountWorkflowRunsByStatus aggregates run counts for the system surface.
func (s *Store) CountWorkflowRunsByStatus(ctx context.Context, q Querier) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	err := selectAll(ctx, q, &rows,
		`SELECT status, COUNT(*) AS count FROM workflow_executions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflow runs: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
