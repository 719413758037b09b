package services

import (
	"context"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/models"
	"github.com/maestro-sh/maestro/pkg/store"
)

// TaskService owns the task CRUD surface and agent assignments.
type TaskService struct {
	store  *store.Store
	bus    *events.Bus
	logger *slog.Logger
}

// NewTaskService creates a task service.
func NewTaskService(st *store.Store, bus *events.Bus, logger *slog.Logger) *TaskService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{
		store:  st,
		bus:    bus,
		logger: logger.With("component", "task_service"),
	}
}

func (s *TaskService) validateTaskRequest(ctx context.Context, title, description string, estimatedDuration *int, agentIDs []string) error {
	if title == "" {
		return &ValidationError{Field: "title", Message: "must not be empty"}
	}
	if len(title) > maxNameLength {
		return &ValidationError{Field: "title", Message: "too long"}
	}
	if description == "" {
		return &ValidationError{Field: "description", Message: "must not be empty"}
	}
	if estimatedDuration != nil && *estimatedDuration < 0 {
		return &ValidationError{Field: "estimated_duration", Message: "must be non-negative"}
	}
	for _, id := range agentIDs {
		if _, err := s.store.GetAgent(ctx, s.store.DB(), id); err != nil {
			return mapStoreErr(err, "agent", id)
		}
	}
	return nil
}

// CreateTask validates and persists a new task with its agent assignments.
func (s *TaskService) CreateTask(ctx context.Context, req models.CreateTaskRequest) (*models.Task, error) {
	if req.Priority != "" {
		if _, err := models.ParseTaskPriority(req.Priority); err != nil {
			return nil, &ValidationError{Field: "priority", Message: err.Error()}
		}
	}
	if err := s.validateTaskRequest(ctx, req.Title, req.Description, req.EstimatedDuration, req.AgentIDs); err != nil {
		return nil, err
	}

	var task *models.Task
	if err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		task, err = s.store.CreateTask(ctx, tx, req)
		if err != nil {
			return err
		}
		if len(req.AgentIDs) > 0 {
			if err := s.store.ReplaceTaskAssignments(ctx, tx, task.ID, req.AgentIDs); err != nil {
				return err
			}
			task.AssignedAgentIDs = req.AgentIDs
		}
		return nil
	}); err != nil {
		return nil, NewInternal(err)
	}

	s.bus.Publish(events.TaskEvent(events.EventTypeCreated, task))
	s.logger.Info("Task created", "task_id", task.ID, "title", task.Title)
	return task, nil
}

// GetTask fetches one task with its assigned agent ids.
func (s *TaskService) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.store.GetTask(ctx, s.store.DB(), id)
	if err != nil {
		return nil, mapStoreErr(err, "task", id)
	}
	return task, nil
}

// ListTasks pages through tasks, optionally filtered by status and priority.
func (s *TaskService) ListTasks(ctx context.Context, status, priority string, limit, offset int) ([]*models.Task, error) {
	if status != "" {
		if _, err := models.ParseTaskStatus(status); err != nil {
			return nil, &ValidationError{Field: "status", Message: err.Error()}
		}
	}
	if priority != "" {
		if _, err := models.ParseTaskPriority(priority); err != nil {
			return nil, &ValidationError{Field: "priority", Message: err.Error()}
		}
	}
	tasks, err := s.store.ListTasks(ctx, s.store.DB(), status, priority, limit, offset)
	if err != nil {
		return nil, NewInternal(err)
	}
	return tasks, nil
}

// UpdateTask applies a partial update, reassigning agents when agent_ids is
// present.
func (s *TaskService) UpdateTask(ctx context.Context, id string, req models.UpdateTaskRequest) (*models.Task, error) {
	task, err := s.store.GetTask(ctx, s.store.DB(), id)
	if err != nil {
		return nil, mapStoreErr(err, "task", id)
	}

	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.ExpectedOutput != nil {
		task.ExpectedOutput = *req.ExpectedOutput
	}
	if req.Resources != nil {
		task.Resources = *req.Resources
	}
	if req.Dependencies != nil {
		task.Dependencies = *req.Dependencies
	}
	if req.Priority != nil {
		priority, err := models.ParseTaskPriority(*req.Priority)
		if err != nil {
			return nil, &ValidationError{Field: "priority", Message: err.Error()}
		}
		task.Priority = priority
	}
	if req.Deadline != nil {
		task.Deadline = req.Deadline
	}
	if req.EstimatedDuration != nil {
		task.EstimatedDuration = req.EstimatedDuration
	}
	if req.Status != nil {
		status, err := models.ParseTaskStatus(*req.Status)
		if err != nil {
			return nil, &ValidationError{Field: "status", Message: err.Error()}
		}
		task.Status = status
	}

	agentIDs := task.AssignedAgentIDs
	if req.AgentIDs != nil {
		agentIDs = *req.AgentIDs
	}
	if err := s.validateTaskRequest(ctx, task.Title, task.Description, task.EstimatedDuration, agentIDs); err != nil {
		return nil, err
	}

	if err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.store.SaveTask(ctx, tx, task); err != nil {
			return err
		}
		if req.AgentIDs != nil {
			if err := s.store.ReplaceTaskAssignments(ctx, tx, task.ID, agentIDs); err != nil {
				return err
			}
			task.AssignedAgentIDs = agentIDs
		}
		return nil
	}); err != nil {
		return nil, mapStoreErr(err, "task", id)
	}

	s.bus.Publish(events.TaskEvent(events.EventTypeUpdated, task))
	s.logger.Info("Task updated", "task_id", task.ID)
	return task, nil
}

// DeleteTask removes the task; its assignments cascade.
func (s *TaskService) DeleteTask(ctx context.Context, id string) error {
	task, err := s.store.GetTask(ctx, s.store.DB(), id)
	if err != nil {
		return mapStoreErr(err, "task", id)
	}
	if err := s.store.DeleteTask(ctx, s.store.DB(), id); err != nil {
		return mapStoreErr(err, "task", id)
	}

	s.bus.Publish(events.TaskEvent(events.EventTypeDeleted, task))
	s.logger.Info("Task deleted", "task_id", id)
	return nil
}
