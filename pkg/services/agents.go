package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/maestro-sh/maestro/pkg/engine"
	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/models"
	"github.com/maestro-sh/maestro/pkg/store"
)

const (
	maxNameLength         = 255
	minSystemPromptLength = 10
)

// AgentService owns the agent CRUD surface.
type AgentService struct {
	store  *store.Store
	bus    *events.Bus
	engine *engine.Engine
	logger *slog.Logger
}

// NewAgentService creates an agent service.
func NewAgentService(st *store.Store, bus *events.Bus, eng *engine.Engine, logger *slog.Logger) *AgentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentService{
		store:  st,
		bus:    bus,
		engine: eng,
		logger: logger.With("component", "agent_service"),
	}
}

func validateAgentRequest(name, systemPrompt string) error {
	if name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if len(name) > maxNameLength {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxNameLength)}
	}
	if systemPrompt == "" {
		return &ValidationError{Field: "system_prompt", Message: "must not be empty"}
	}
	if len(systemPrompt) < minSystemPromptLength {
		return &ValidationError{Field: "system_prompt", Message: fmt.Sprintf("must be at least %d characters", minSystemPromptLength)}
	}
	return nil
}

// CreateAgent validates and persists a new agent.
func (s *AgentService) CreateAgent(ctx context.Context, req models.CreateAgentRequest) (*models.Agent, error) {
	if err := validateAgentRequest(req.Name, req.SystemPrompt); err != nil {
		return nil, err
	}

	agent, err := s.store.CreateAgent(ctx, s.store.DB(), req)
	if err != nil {
		return nil, mapStoreErr(err, "agent", req.Name)
	}

	s.bus.Publish(events.AgentEvent(events.EventTypeCreated, agent))
	s.logger.Info("Agent created", "agent_id", agent.ID, "name", agent.Name)
	return agent, nil
}

// GetAgent fetches one agent by id.
func (s *AgentService) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := s.store.GetAgent(ctx, s.store.DB(), id)
	if err != nil {
		return nil, mapStoreErr(err, "agent", id)
	}
	return agent, nil
}

// ListAgents pages through agents in creation order.
func (s *AgentService) ListAgents(ctx context.Context, limit, offset int) ([]*models.Agent, error) {
	agents, err := s.store.ListAgents(ctx, s.store.DB(), limit, offset)
	if err != nil {
		return nil, NewInternal(err)
	}
	return agents, nil
}

// UpdateAgent applies a partial update. Nil fields are left unchanged.
func (s *AgentService) UpdateAgent(ctx context.Context, id string, req models.UpdateAgentRequest) (*models.Agent, error) {
	agent, err := s.store.GetAgent(ctx, s.store.DB(), id)
	if err != nil {
		return nil, mapStoreErr(err, "agent", id)
	}

	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Role != nil {
		agent.Role = *req.Role
	}
	if req.Description != nil {
		agent.Description = *req.Description
	}
	if req.SystemPrompt != nil {
		agent.SystemPrompt = *req.SystemPrompt
	}
	if req.Capabilities != nil {
		agent.Capabilities = *req.Capabilities
	}
	if req.Tools != nil {
		agent.Tools = *req.Tools
	}
	if req.Objectives != nil {
		agent.Objectives = *req.Objectives
	}
	if req.Constraints != nil {
		agent.Constraints = *req.Constraints
	}
	if req.MemorySettings != nil {
		agent.MemorySettings = *req.MemorySettings
	}
	if req.ExecutionSettings != nil {
		agent.ExecutionSettings = *req.ExecutionSettings
	}
	if req.Status != nil {
		status, err := models.ParseAgentStatus(*req.Status)
		if err != nil {
			return nil, &ValidationError{Field: "status", Message: err.Error()}
		}
		agent.Status = status
	}

	if err := validateAgentRequest(agent.Name, agent.SystemPrompt); err != nil {
		return nil, err
	}
	if err := s.store.SaveAgent(ctx, s.store.DB(), agent); err != nil {
		return nil, mapStoreErr(err, "agent", id)
	}

	s.bus.Publish(events.AgentEvent(events.EventTypeUpdated, agent))
	s.logger.Info("Agent updated", "agent_id", agent.ID)
	return agent, nil
}

// DeleteAgent removes an agent. Non-terminal executions block the delete
// unless force is set, in which case they are aborted first and dependent
// tasks are reset to pending.
func (s *AgentService) DeleteAgent(ctx context.Context, id string, force bool) error {
	agent, err := s.store.GetAgent(ctx, s.store.DB(), id)
	if err != nil {
		return mapStoreErr(err, "agent", id)
	}

	active, err := s.store.ListNonTerminalExecutionsForAgent(ctx, s.store.DB(), id)
	if err != nil {
		return NewInternal(err)
	}
	if len(active) > 0 && !force {
		conflict := &ConflictError{
			Message:        fmt.Sprintf("agent %s has active executions", agent.Name),
			Suggestion:     "use force=true to override",
			BlockingAgents: []string{agent.Name},
		}
		for _, exec := range active {
			conflict.BlockingExecutions = append(conflict.BlockingExecutions, exec.ID)
		}
		return conflict
	}

	for _, exec := range active {
		if err := s.engine.AbortExecution(ctx, exec.ID); err != nil && !errors.Is(err, engine.ErrInvalidTransition) {
			return NewInternal(fmt.Errorf("abort execution %s: %w", exec.ID, err))
		}
	}

	taskIDs, err := s.store.ListTaskIDsForAgent(ctx, s.store.DB(), id)
	if err != nil {
		return NewInternal(err)
	}

	if err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		message := fmt.Sprintf("Agent %s was deleted", agent.Name)
		for _, taskID := range taskIDs {
			if err := s.store.SetTaskStatus(ctx, tx, taskID, models.TaskStatusPending, message); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		return s.store.DeleteAgent(ctx, tx, id)
	}); err != nil {
		return mapStoreErr(err, "agent", id)
	}

	s.bus.Publish(events.AgentEvent(events.EventTypeDeleted, agent))
	s.logger.Info("Agent deleted", "agent_id", id, "name", agent.Name, "forced", force)
	return nil
}
