package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-sh/maestro/pkg/models"
)

type taskRow struct {
	ID                string     `db:"id"`
	Title             string     `db:"title"`
	Description       string     `db:"description"`
	ExpectedOutput    string     `db:"expected_output"`
	Resources         string     `db:"resources"`
	Dependencies      string     `db:"dependencies"`
	Priority          string     `db:"priority"`
	Deadline          *time.Time `db:"deadline"`
	EstimatedDuration *string    `db:"estimated_duration"`
	Status            string     `db:"status"`
	Results           *string    `db:"results"`
	ErrorMessage      string     `db:"error_message"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
	StartedAt         *time.Time `db:"started_at"`
	CompletedAt       *time.Time `db:"completed_at"`
}

func (r *taskRow) toModel() *models.Task {
	t := &models.Task{
		ID:             r.ID,
		Title:          r.Title,
		Description:    r.Description,
		ExpectedOutput: r.ExpectedOutput,
		Priority:       models.TaskPriority(r.Priority),
		Deadline:       r.Deadline,
		Status:         models.TaskStatus(r.Status),
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
	}
	unmarshalJSON(r.Resources, &t.Resources)
	unmarshalJSON(r.Dependencies, &t.Dependencies)
	if r.EstimatedDuration != nil {
		t.EstimatedDuration = models.DecodeEstimatedDuration(*r.EstimatedDuration)
	}
	if r.Results != nil {
		unmarshalJSON(*r.Results, &t.Results)
	}
	return t
}

const taskColumns = `id, title, description, expected_output, resources,
	dependencies, priority, deadline, estimated_duration, status, results,
	error_message, created_at, updated_at, started_at, completed_at`

// CreateTask inserts a new task. Agent assignments are created separately
// through ReplaceTaskAssignments so both steps share a transaction.
func (s *Store) CreateTask(ctx context.Context, q Querier, req models.CreateTaskRequest) (*models.Task, error) {
	now := nowUTC()
	priority := models.TaskPriority(req.Priority)
	if priority == "" {
		priority = models.PriorityMedium
	}
	task := &models.Task{
		ID:                uuid.New().String(),
		Title:             req.Title,
		Description:       req.Description,
		ExpectedOutput:    req.ExpectedOutput,
		Resources:         req.Resources,
		Dependencies:      req.Dependencies,
		Priority:          priority,
		Deadline:          req.Deadline,
		EstimatedDuration: req.EstimatedDuration,
		Status:            models.TaskStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	_, err := exec(ctx, q, `
		INSERT INTO tasks (id, title, description, expected_output, resources,
			dependencies, priority, deadline, estimated_duration, status,
			error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, task.ExpectedOutput,
		marshalJSON(task.Resources, "[]"), marshalJSON(task.Dependencies, "[]"),
		string(task.Priority), task.Deadline,
		encodeDuration(task.EstimatedDuration),
		string(task.Status), "", task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}
	return task, nil
}

// GetTask fetches one task by id, including its assigned agent ids in
// assignment order.
func (s *Store) GetTask(ctx context.Context, q Querier, id string) (*models.Task, error) {
	var row taskRow
	err := get(ctx, q, &row,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, mapRowErr(err)
	}
	task := row.toModel()
	ids, err := s.listAssignedAgentIDs(ctx, q, id)
	if err != nil {
		return nil, err
	}
	task.AssignedAgentIDs = ids
	return task, nil
}

// ListTasks returns tasks ordered by creation time, optionally filtered by
// status and priority.
func (s *Store) ListTasks(ctx context.Context, q Querier, status, priority string, limit, offset int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if priority != "" {
		query += ` AND priority = ?`
		args = append(args, priority)
	}
	query += ` ORDER BY created_at LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var rows []taskRow
	if err := selectAll(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	tasks := make([]*models.Task, len(rows))
	for i := range rows {
		task := rows[i].toModel()
		ids, err := s.listAssignedAgentIDs(ctx, q, task.ID)
		if err != nil {
			return nil, err
		}
		task.AssignedAgentIDs = ids
		tasks[i] = task
	}
	return tasks, nil
}

// SaveTask persists all mutable fields of a task.
func (s *Store) SaveTask(ctx context.Context, q Querier, t *models.Task) error {
	t.UpdatedAt = nowUTC()
	res, err := exec(ctx, q, `
		UPDATE tasks SET title = ?, description = ?, expected_output = ?,
			resources = ?, dependencies = ?, priority = ?, deadline = ?,
			estimated_duration = ?, status = ?, results = ?, error_message = ?,
			updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		t.Title, t.Description, t.ExpectedOutput,
		marshalJSON(t.Resources, "[]"), marshalJSON(t.Dependencies, "[]"),
		string(t.Priority), t.Deadline, encodeDuration(t.EstimatedDuration),
		string(t.Status), nullableJSON(t.Results), t.ErrorMessage,
		t.UpdatedAt, t.StartedAt, t.CompletedAt, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return requireRowAffected(res)
}

// SetTaskStatus transitions a task, stamping started_at on the first move to
// in_progress and completed_at on reaching a terminal status.
func (s *Store) SetTaskStatus(ctx context.Context, q Querier, id string, status models.TaskStatus, errorMessage string) error {
	now := nowUTC()
	query := `UPDATE tasks SET status = ?, updated_at = ?`
	args := []any{string(status), now}
	switch {
	case status == models.TaskStatusInProgress:
		query += `, started_at = COALESCE(started_at, ?)`
		args = append(args, now)
	case status.Terminal():
		query += `, completed_at = ?`
		args = append(args, now)
	}
	if errorMessage != "" {
		query += `, error_message = ?`
		args = append(args, errorMessage)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := exec(ctx, q, query, args...)
	if err != nil {
		return fmt.Errorf("failed to set task status: %w", err)
	}
	return requireRowAffected(res)
}

// SetTaskResults records completion output on the task row.
func (s *Store) SetTaskResults(ctx context.Context, q Querier, id string, results map[string]any) error {
	res, err := exec(ctx, q,
		`UPDATE tasks SET results = ?, updated_at = ? WHERE id = ?`,
		nullableJSON(results), nowUTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set task results: %w", err)
	}
	return requireRowAffected(res)
}

// DeleteTask removes the task row; assignments cascade.
func (s *Store) DeleteTask(ctx context.Context, q Querier, id string) error {
	res, err := exec(ctx, q, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return requireRowAffected(res)
}

// CountTasksByStatus aggregates task counts for the system surface.
func (s *Store) CountTasksByStatus(ctx context.Context, q Querier) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	err := selectAll(ctx, q, &rows,
		`SELECT status, COUNT(*) AS count FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// ReplaceTaskAssignments removes all existing assignments for the task and
// writes fresh rows, one per agent id in order. The first agent is primary,
// the rest collaborators.
func (s *Store) ReplaceTaskAssignments(ctx context.Context, q Querier, taskID string, agentIDs []string) error {
	if _, err := exec(ctx, q,
		`DELETE FROM task_agent_assignments WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to clear task assignments: %w", err)
	}
	now := nowUTC()
	for i, agentID := range agentIDs {
		role := models.RolePrimary
		if i > 0 {
			role = models.RoleCollaborator
		}
		_, err := exec(ctx, q, `
			INSERT INTO task_agent_assignments (id, task_id, agent_id, role_in_task, assigned_at)
			VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), taskID, agentID, string(role),
			// Offset keeps assignment order stable under a coarse clock.
			now.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			return fmt.Errorf("failed to insert task assignment: %w", err)
		}
	}
	return nil
}

// ListTaskAssignments returns the join rows for a task in assignment order.
func (s *Store) ListTaskAssignments(ctx context.Context, q Querier, taskID string) ([]*models.TaskAgentAssignment, error) {
	var rows []models.TaskAgentAssignment
	err := selectAll(ctx, q, &rows, `
		SELECT id, task_id, agent_id, role_in_task, assigned_at
		FROM task_agent_assignments WHERE task_id = ? ORDER BY assigned_at`,
		taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task assignments: %w", err)
	}
	out := make([]*models.TaskAgentAssignment, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// CountAssignmentsForAgent reports how many tasks reference the agent.
func (s *Store) CountAssignmentsForAgent(ctx context.Context, q Querier, agentID string) (int, error) {
	var count int
	err := get(ctx, q, &count,
		`SELECT COUNT(*) FROM task_agent_assignments WHERE agent_id = ?`, agentID)
	if err != nil {
		return 0, fmt.Errorf("failed to count agent assignments: %w", err)
	}
	return count, nil
}

// ListTaskIDsForAgent returns the ids of tasks the agent is assigned to.
func (s *Store) ListTaskIDsForAgent(ctx context.Context, q Querier, agentID string) ([]string, error) {
	var ids []string
	err := selectAll(ctx, q, &ids, `
		SELECT task_id FROM task_agent_assignments
		WHERE agent_id = ? ORDER BY assigned_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for agent: %w", err)
	}
	return ids, nil
}

func (s *Store) listAssignedAgentIDs(ctx context.Context, q Querier, taskID string) ([]string, error) {
	var ids []string
	err := selectAll(ctx, q, &ids, `
		SELECT agent_id FROM task_agent_assignments
		WHERE task_id = ? ORDER BY assigned_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assigned agents: %w", err)
	}
	return ids, nil
}

// encodeDuration maps a minutes value to the stored phrase, nil to NULL.
func encodeDuration(minutes *int) *string {
	if minutes == nil {
		return nil
	}
	phrase := models.EncodeEstimatedDuration(minutes)
	return &phrase
}

// nullableJSON encodes a map for a nullable TEXT column.
func nullableJSON(v map[string]any) *string {
	if v == nil {
		return nil
	}
	raw := marshalJSON(v, "{}")
	return &raw
}
