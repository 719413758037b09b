package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-sh/maestro/pkg/models"
)

type patternRow struct {
	ID               string    `db:"id"`
	Name             string    `db:"name"`
	Description      string    `db:"description"`
	WorkflowType     string    `db:"workflow_type"`
	AgentIDs         string    `db:"agent_ids"`
	TaskIDs          string    `db:"task_ids"`
	Dependencies     string    `db:"dependencies"`
	Config           string    `db:"config"`
	UserObjective    string    `db:"user_objective"`
	ProjectDirectory string    `db:"project_directory"`
	Status           string    `db:"status"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r *patternRow) toModel() *models.WorkflowPattern {
	p := &models.WorkflowPattern{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		WorkflowType:     models.WorkflowType(r.WorkflowType),
		UserObjective:    r.UserObjective,
		ProjectDirectory: r.ProjectDirectory,
		Status:           models.PatternStatus(r.Status),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	unmarshalJSON(r.AgentIDs, &p.AgentIDs)
	unmarshalJSON(r.TaskIDs, &p.TaskIDs)
	unmarshalJSON(r.Dependencies, &p.Dependencies)
	// Defaults first so keys absent from the stored config keep their
	// binding values.
	p.Config = models.DefaultWorkflowConfig()
	unmarshalJSON(r.Config, &p.Config)
	return p
}

const patternColumns = `id, name, description, workflow_type, agent_ids,
	task_ids, dependencies, config, user_objective, project_directory,
	status, created_at, updated_at`

// CreatePattern inserts a new workflow pattern.
func (s *Store) CreatePattern(ctx context.Context, q Querier, p *models.WorkflowPattern) error {
	now := nowUTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := exec(ctx, q, `
		INSERT INTO workflow_patterns (id, name, description, workflow_type,
			agent_ids, task_ids, dependencies, config, user_objective,
			project_directory, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, string(p.WorkflowType),
		marshalJSON(p.AgentIDs, "[]"), marshalJSON(p.TaskIDs, "[]"),
		marshalJSON(p.Dependencies, "{}"), marshalJSON(p.Config, "{}"),
		p.UserObjective, p.ProjectDirectory, string(p.Status),
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pattern name %q: %w", p.Name, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert pattern: %w", err)
	}
	return nil
}

// GetPattern fetches one workflow pattern by id.
func (s *Store) GetPattern(ctx context.Context, q Querier, id string) (*models.WorkflowPattern, error) {
	var row patternRow
	err := get(ctx, q, &row,
		`SELECT `+patternColumns+` FROM workflow_patterns WHERE id = ?`, id)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return row.toModel(), nil
}

// ListPatterns returns patterns ordered by creation time, filtered by the
// given filters.
func (s *Store) ListPatterns(ctx context.Context, q Querier, f models.PatternFilters) ([]*models.WorkflowPattern, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + patternColumns + ` FROM workflow_patterns WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	var rows []patternRow
	if err := selectAll(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	out := make([]*models.WorkflowPattern, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// SavePattern persists all mutable fields of a pattern.
func (s *Store) SavePattern(ctx context.Context, q Querier, p *models.WorkflowPattern) error {
	p.UpdatedAt = nowUTC()
	res, err := exec(ctx, q, `
		UPDATE workflow_patterns SET name = ?, description = ?,
			workflow_type = ?, agent_ids = ?, task_ids = ?, dependencies = ?,
			config = ?, user_objective = ?, project_directory = ?, status = ?,
			updated_at = ?
		WHERE id = ?`,
		p.Name, p.Description, string(p.WorkflowType),
		marshalJSON(p.AgentIDs, "[]"), marshalJSON(p.TaskIDs, "[]"),
		marshalJSON(p.Dependencies, "{}"), marshalJSON(p.Config, "{}"),
		p.UserObjective, p.ProjectDirectory, string(p.Status),
		p.UpdatedAt, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pattern name %q: %w", p.Name, ErrDuplicate)
		}
		return fmt.Errorf("failed to update pattern: %w", err)
	}
	return requireRowAffected(res)
}

// DeletePattern removes the pattern row. Workflow runs referencing it are
// handled by the service layer before deletion.
func (s *Store) DeletePattern(ctx context.Context, q Querier, id string) error {
	res, err := exec(ctx, q, `DELETE FROM workflow_patterns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pattern: %w", err)
	}
	return requireRowAffected(res)
}

// CountPatterns reports the total number of stored patterns.
func (s *Store) CountPatterns(ctx context.Context, q Querier) (int, error) {
	var count int
	if err := get(ctx, q, &count,
		`SELECT COUNT(*) FROM workflow_patterns`); err != nil {
		return 0, fmt.Errorf("failed to count patterns: %w", err)
	}
	return count, nil
}
