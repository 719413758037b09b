package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maestro-sh/maestro/pkg/engine"
	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/models"
	"github.com/maestro-sh/maestro/pkg/store"
)

// ExecutionService is the control surface over the execution engine.
type ExecutionService struct {
	store  *store.Store
	bus    *events.Bus
	engine *engine.Engine
	logger *slog.Logger
}

// NewExecutionService creates an execution service.
func NewExecutionService(st *store.Store, bus *events.Bus, eng *engine.Engine, logger *slog.Logger) *ExecutionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionService{
		store:  st,
		bus:    bus,
		engine: eng,
		logger: logger.With("component", "execution_service"),
	}
}

// mapEngineErr converts engine sentinels into the service taxonomy.
func mapEngineErr(err error, id string) error {
	var busy *engine.BusyError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &busy):
		return &ConflictError{
			Message:            "referenced agents are busy",
			Suggestion:         "retry with force_restart=true to abort the conflicting executions",
			BlockingAgents:     busy.AgentNames,
			BlockingExecutions: busy.ExecutionIDs,
		}
	case errors.Is(err, engine.ErrNoAgents):
		return &ValidationError{Field: "agent_ids", Message: "no agents available for task"}
	case errors.Is(err, engine.ErrInvalidTransition):
		return &ConflictError{Message: err.Error()}
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{Entity: "execution", ID: id}
	default:
		return NewInternal(err)
	}
}

// StartExecution schedules a supervised run for the task.
func (s *ExecutionService) StartExecution(ctx context.Context, req models.StartExecutionRequest) (*models.StartExecutionResponse, error) {
	if req.TaskID == "" {
		return nil, &ValidationError{Field: "task_id", Message: "must not be empty"}
	}
	resp, err := s.engine.StartTaskExecution(ctx, req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Entity: "task", ID: req.TaskID}
		}
		return nil, mapEngineErr(err, req.TaskID)
	}
	return resp, nil
}

// PauseExecution pauses a running execution.
func (s *ExecutionService) PauseExecution(ctx context.Context, id string) (*models.Execution, error) {
	exec, err := s.engine.PauseExecution(ctx, id)
	if err != nil {
		return nil, mapEngineErr(err, id)
	}
	return exec, nil
}

// ResumeExecution resumes a paused execution.
func (s *ExecutionService) ResumeExecution(ctx context.Context, id string) (*models.Execution, error) {
	exec, err := s.engine.ResumeExecution(ctx, id)
	if err != nil {
		return nil, mapEngineErr(err, id)
	}
	return exec, nil
}

// AbortExecution cancels an execution from any non-terminal state.
func (s *ExecutionService) AbortExecution(ctx context.Context, id string) error {
	return mapEngineErr(s.engine.AbortExecution(ctx, id), id)
}

// GetExecution fetches one execution by id.
func (s *ExecutionService) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	exec, err := s.store.GetExecution(ctx, s.store.DB(), id)
	if err != nil {
		return nil, mapStoreErr(err, "execution", id)
	}
	return exec, nil
}

// ListExecutions pages through executions, newest first.
func (s *ExecutionService) ListExecutions(ctx context.Context, status, taskID string, limit, offset int) ([]*models.Execution, error) {
	if status != "" {
		if _, err := models.ParseExecutionStatus(status); err != nil {
			return nil, &ValidationError{Field: "status", Message: err.Error()}
		}
	}
	execs, err := s.store.ListExecutions(ctx, s.store.DB(), status, taskID, limit, offset)
	if err != nil {
		return nil, NewInternal(err)
	}
	return execs, nil
}

// DeleteExecution removes a terminal execution's record. Non-terminal
// executions are rejected; abort them first.
func (s *ExecutionService) DeleteExecution(ctx context.Context, id string) error {
	exec, err := s.store.GetExecution(ctx, s.store.DB(), id)
	if err != nil {
		return mapStoreErr(err, "execution", id)
	}
	if !exec.Status.Terminal() {
		return &ConflictError{
			Message:            fmt.Sprintf("execution %s is %s", id, exec.Status),
			Suggestion:         "abort the execution before deleting it",
			BlockingExecutions: []string{id},
		}
	}
	if err := s.store.DeleteExecution(ctx, s.store.DB(), id); err != nil {
		return mapStoreErr(err, "execution", id)
	}
	s.logger.Info("Execution deleted", "execution_id", id)
	return nil
}
