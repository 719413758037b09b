package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/maestro-sh/maestro/pkg/models"
)

type agentRow struct {
	ID                string     `db:"id"`
	Name              string     `db:"name"`
	Role              string     `db:"role"`
	Description       string     `db:"description"`
	SystemPrompt      string     `db:"system_prompt"`
	Capabilities      string     `db:"capabilities"`
	Tools             string     `db:"tools"`
	Objectives        string     `db:"objectives"`
	Constraints       string     `db:"constraints"`
	MemorySettings    string     `db:"memory_settings"`
	ExecutionSettings string     `db:"execution_settings"`
	Status            string     `db:"status"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
	LastActive        *time.Time `db:"last_active"`
}

func (r *agentRow) toModel() *models.Agent {
	a := &models.Agent{
		ID:           r.ID,
		Name:         r.Name,
		Role:         r.Role,
		Description:  r.Description,
		SystemPrompt: r.SystemPrompt,
		Status:       models.AgentStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		LastActive:   r.LastActive,
	}
	unmarshalJSON(r.Capabilities, &a.Capabilities)
	unmarshalJSON(r.Tools, &a.Tools)
	unmarshalJSON(r.Objectives, &a.Objectives)
	unmarshalJSON(r.Constraints, &a.Constraints)
	unmarshalJSON(r.MemorySettings, &a.MemorySettings)
	unmarshalJSON(r.ExecutionSettings, &a.ExecutionSettings)
	return a
}

const agentColumns = `id, name, role, description, system_prompt, capabilities,
	tools, objectives, "constraints", memory_settings, execution_settings,
	status, created_at, updated_at, last_active`

// CreateAgent inserts a new agent and returns it with server-assigned fields.
func (s *Store) CreateAgent(ctx context.Context, q Querier, req models.CreateAgentRequest) (*models.Agent, error) {
	now := nowUTC()
	agent := &models.Agent{
		ID:                uuid.New().String(),
		Name:              req.Name,
		Role:              req.Role,
		Description:       req.Description,
		SystemPrompt:      req.SystemPrompt,
		Capabilities:      req.Capabilities,
		Tools:             req.Tools,
		Objectives:        req.Objectives,
		Constraints:       req.Constraints,
		MemorySettings:    req.MemorySettings,
		ExecutionSettings: req.ExecutionSettings,
		Status:            models.AgentStatusIdle,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	_, err := exec(ctx, q, `
		INSERT INTO agents (id, name, role, description, system_prompt,
			capabilities, tools, objectives, "constraints",
			memory_settings, execution_settings, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.Name, agent.Role, agent.Description, agent.SystemPrompt,
		marshalJSON(agent.Capabilities, "[]"), marshalJSON(agent.Tools, "[]"),
		marshalJSON(agent.Objectives, "[]"), marshalJSON(agent.Constraints, "[]"),
		marshalJSON(agent.MemorySettings, "{}"), marshalJSON(agent.ExecutionSettings, "{}"),
		string(agent.Status), agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("agent name %q: %w", req.Name, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to insert agent: %w", err)
	}
	return agent, nil
}

// GetAgent fetches one agent by id.
func (s *Store) GetAgent(ctx context.Context, q Querier, id string) (*models.Agent, error) {
	var row agentRow
	err := get(ctx, q, &row,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	if err != nil {
		return nil, mapRowErr(err)
	}
	return row.toModel(), nil
}

// ListAgents returns agents ordered by creation time.
func (s *Store) ListAgents(ctx context.Context, q Querier, limit, offset int) ([]*models.Agent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []agentRow
	err := selectAll(ctx, q, &rows,
		`SELECT `+agentColumns+` FROM agents ORDER BY created_at LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	agents := make([]*models.Agent, len(rows))
	for i := range rows {
		agents[i] = rows[i].toModel()
	}
	return agents, nil
}

// ListAgentsByIDs fetches agents preserving the order of ids. Missing ids
// yield ErrNotFound naming the first missing id.
func (s *Store) ListAgentsByIDs(ctx context.Context, q Querier, ids []string) ([]*models.Agent, error) {
	agents := make([]*models.Agent, 0, len(ids))
	for _, id := range ids {
		agent, err := s.GetAgent(ctx, q, id)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", id, err)
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// SaveAgent persists all mutable fields of an agent.
func (s *Store) SaveAgent(ctx context.Context, q Querier, a *models.Agent) error {
	a.UpdatedAt = nowUTC()
	res, err := exec(ctx, q, `
		UPDATE agents SET name = ?, role = ?, description = ?, system_prompt = ?,
			capabilities = ?, tools = ?, objectives = ?, "constraints" = ?,
			memory_settings = ?, execution_settings = ?, status = ?,
			updated_at = ?, last_active = ?
		WHERE id = ?`,
		a.Name, a.Role, a.Description, a.SystemPrompt,
		marshalJSON(a.Capabilities, "[]"), marshalJSON(a.Tools, "[]"),
		marshalJSON(a.Objectives, "[]"), marshalJSON(a.Constraints, "[]"),
		marshalJSON(a.MemorySettings, "{}"), marshalJSON(a.ExecutionSettings, "{}"),
		string(a.Status), a.UpdatedAt, a.LastActive, a.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("agent name %q: %w", a.Name, ErrDuplicate)
		}
		return fmt.Errorf("failed to update agent: %w", err)
	}
	return requireRowAffected(res)
}

// SetAgentStatus transitions an agent's status; lastActive is recorded when
// non-nil.
func (s *Store) SetAgentStatus(ctx context.Context, q Querier, id string, status models.AgentStatus, lastActive *time.Time) error {
	res, err := exec(ctx, q, `
		UPDATE agents SET status = ?, updated_at = ?,
			last_active = COALESCE(?, last_active)
		WHERE id = ?`,
		string(status), nowUTC(), lastActive, id)
	if err != nil {
		return fmt.Errorf("failed to set agent status: %w", err)
	}
	return requireRowAffected(res)
}

// DeleteAgent removes the agent row; assignments cascade.
func (s *Store) DeleteAgent(ctx context.Context, q Querier, id string) error {
	res, err := exec(ctx, q, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return requireRowAffected(res)
}

// CountAgentsByStatus aggregates agent counts for the system surface.
func (s *Store) CountAgentsByStatus(ctx context.Context, q Querier) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	err := selectAll(ctx, q, &rows,
		`SELECT status, COUNT(*) AS count FROM agents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count agents: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func requireRowAffected(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
