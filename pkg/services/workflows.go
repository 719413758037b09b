package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maestro-sh/maestro/pkg/analyzer"
	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/models"
	"github.com/maestro-sh/maestro/pkg/orchestrator"
	"github.com/maestro-sh/maestro/pkg/store"
)

const maxPatternNameLength = 100

// WorkflowService owns the pattern CRUD surface, workflow runs, and the
// analyzer endpoint.
type WorkflowService struct {
	store        *store.Store
	bus          *events.Bus
	orchestrator *orchestrator.Core
	logger       *slog.Logger
}

// NewWorkflowService creates a workflow service.
func NewWorkflowService(st *store.Store, bus *events.Bus, core *orchestrator.Core, logger *slog.Logger) *WorkflowService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowService{
		store:        st,
		bus:          bus,
		orchestrator: core,
		logger:       logger.With("component", "workflow_service"),
	}
}

func (s *WorkflowService) validatePatternRefs(ctx context.Context, agentIDs, taskIDs []string) error {
	for _, id := range agentIDs {
		if _, err := s.store.GetAgent(ctx, s.store.DB(), id); err != nil {
			return mapStoreErr(err, "agent", id)
		}
	}
	for _, id := range taskIDs {
		if _, err := s.store.GetTask(ctx, s.store.DB(), id); err != nil {
			return mapStoreErr(err, "task", id)
		}
	}
	return nil
}

// CreatePattern validates references and persists a new workflow pattern.
func (s *WorkflowService) CreatePattern(ctx context.Context, req models.CreatePatternRequest) (*models.WorkflowPattern, error) {
	if req.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if len(req.Name) > maxPatternNameLength {
		return nil, &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxPatternNameLength)}
	}
	if len(req.AgentIDs) == 0 {
		return nil, &ValidationError{Field: "agent_ids", Message: "must not be empty"}
	}
	if len(req.TaskIDs) == 0 {
		return nil, &ValidationError{Field: "task_ids", Message: "must not be empty"}
	}

	workflowType := models.WorkflowParallel
	if req.WorkflowType != "" {
		parsed, err := models.ParseWorkflowType(req.WorkflowType)
		if err != nil {
			return nil, &ValidationError{Field: "workflow_type", Message: err.Error()}
		}
		workflowType = parsed
	}
	if err := s.validatePatternRefs(ctx, req.AgentIDs, req.TaskIDs); err != nil {
		return nil, err
	}

	config := models.DefaultWorkflowConfig()
	if req.Config != nil {
		config = *req.Config
	}
	pattern := &models.WorkflowPattern{
		Name:             req.Name,
		Description:      req.Description,
		WorkflowType:     workflowType,
		AgentIDs:         req.AgentIDs,
		TaskIDs:          req.TaskIDs,
		Dependencies:     req.Dependencies,
		Config:           config,
		UserObjective:    req.UserObjective,
		ProjectDirectory: req.ProjectDirectory,
		Status:           models.PatternStatusActive,
	}
	if err := s.store.CreatePattern(ctx, s.store.DB(), pattern); err != nil {
		return nil, mapStoreErr(err, "pattern", req.Name)
	}

	s.bus.Publish(events.SystemEvent(events.EventTypeCreated, map[string]any{
		"entity":        "workflow_pattern",
		"pattern_id":    pattern.ID,
		"name":          pattern.Name,
		"workflow_type": string(pattern.WorkflowType),
	}))
	s.logger.Info("Pattern created",
		"pattern_id", pattern.ID, "name", pattern.Name, "workflow_type", pattern.WorkflowType)
	return pattern, nil
}

// GetPattern fetches one workflow pattern by id.
func (s *WorkflowService) GetPattern(ctx context.Context, id string) (*models.WorkflowPattern, error) {
	pattern, err := s.store.GetPattern(ctx, s.store.DB(), id)
	if err != nil {
		return nil, mapStoreErr(err, "pattern", id)
	}
	return pattern, nil
}

// ListPatterns pages through patterns with optional status filtering.
func (s *WorkflowService) ListPatterns(ctx context.Context, filters models.PatternFilters) ([]*models.WorkflowPattern, error) {
	if filters.Status != "" {
		if _, err := models.ParsePatternStatus(filters.Status); err != nil {
			return nil, &ValidationError{Field: "status", Message: err.Error()}
		}
	}
	patterns, err := s.store.ListPatterns(ctx, s.store.DB(), filters)
	if err != nil {
		return nil, NewInternal(err)
	}
	return patterns, nil
}

// UpdatePattern applies a partial update to a workflow pattern.
func (s *WorkflowService) UpdatePattern(ctx context.Context, id string, req models.UpdatePatternRequest) (*models.WorkflowPattern, error) {
	pattern, err := s.store.GetPattern(ctx, s.store.DB(), id)
	if err != nil {
		return nil, mapStoreErr(err, "pattern", id)
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, &ValidationError{Field: "name", Message: "must not be empty"}
		}
		if len(*req.Name) > maxPatternNameLength {
			return nil, &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxPatternNameLength)}
		}
		pattern.Name = *req.Name
	}
	if req.Description != nil {
		pattern.Description = *req.Description
	}
	if req.WorkflowType != nil {
		parsed, err := models.ParseWorkflowType(*req.WorkflowType)
		if err != nil {
			return nil, &ValidationError{Field: "workflow_type", Message: err.Error()}
		}
		pattern.WorkflowType = parsed
	}
	if req.AgentIDs != nil {
		if len(*req.AgentIDs) == 0 {
			return nil, &ValidationError{Field: "agent_ids", Message: "must not be empty"}
		}
		pattern.AgentIDs = *req.AgentIDs
	}
	if req.TaskIDs != nil {
		if len(*req.TaskIDs) == 0 {
			return nil, &ValidationError{Field: "task_ids", Message: "must not be empty"}
		}
		pattern.TaskIDs = *req.TaskIDs
	}
	if req.Dependencies != nil {
		pattern.Dependencies = *req.Dependencies
	}
	if req.Config != nil {
		pattern.Config = *req.Config
	}
	if req.UserObjective != nil {
		pattern.UserObjective = *req.UserObjective
	}
	if req.ProjectDirectory != nil {
		pattern.ProjectDirectory = *req.ProjectDirectory
	}
	if req.Status != nil {
		status, err := models.ParsePatternStatus(*req.Status)
		if err != nil {
			return nil, &ValidationError{Field: "status", Message: err.Error()}
		}
		pattern.Status = status
	}

	if err := s.validatePatternRefs(ctx, pattern.AgentIDs, pattern.TaskIDs); err != nil {
		return nil, err
	}
	if err := s.store.SavePattern(ctx, s.store.DB(), pattern); err != nil {
		return nil, mapStoreErr(err, "pattern", id)
	}

	s.logger.Info("Pattern updated", "pattern_id", pattern.ID)
	return pattern, nil
}

// DeletePattern removes a workflow pattern. Non-terminal runs block the
// delete unless force is set, in which case they are cancelled first.
func (s *WorkflowService) DeletePattern(ctx context.Context, id string, force bool) error {
	pattern, err := s.store.GetPattern(ctx, s.store.DB(), id)
	if err != nil {
		return mapStoreErr(err, "pattern", id)
	}

	active, err := s.store.ListNonTerminalWorkflowRunsForPattern(ctx, s.store.DB(), id)
	if err != nil {
		return NewInternal(err)
	}
	if len(active) > 0 && !force {
		conflict := &ConflictError{
			Message:    fmt.Sprintf("pattern %s has active workflow executions", pattern.Name),
			Suggestion: "use force=true to cancel them and delete the pattern",
		}
		for _, run := range active {
			conflict.BlockingExecutions = append(conflict.BlockingExecutions, run.ID)
		}
		return conflict
	}

	for _, run := range active {
		err := s.orchestrator.AbortWorkflowExecution(ctx, run.ID, orchestrator.AbortReasonPatternDeleted)
		if err != nil && !errors.Is(err, orchestrator.ErrRunTerminal) {
			return NewInternal(fmt.Errorf("abort workflow run %s: %w", run.ID, err))
		}
	}

	if err := s.store.DeletePattern(ctx, s.store.DB(), id); err != nil {
		return mapStoreErr(err, "pattern", id)
	}

	s.bus.Publish(events.SystemEvent(events.EventTypeDeleted, map[string]any{
		"entity":     "workflow_pattern",
		"pattern_id": id,
		"name":       pattern.Name,
	}))
	s.logger.Info("Pattern deleted", "pattern_id", id, "forced", force)
	return nil
}

// ExecutePattern starts a workflow run for the pattern.
func (s *WorkflowService) ExecutePattern(ctx context.Context, id string, req models.ExecuteWorkflowRequest) (*models.WorkflowExecution, error) {
	run, err := s.orchestrator.ExecuteWorkflow(ctx, id, req)
	switch {
	case err == nil:
		return run, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, &NotFoundError{Entity: "pattern", ID: id}
	case errors.Is(err, orchestrator.ErrPatternNotActive):
		return nil, &ConflictError{
			Message:    err.Error(),
			Suggestion: "set the pattern status to active before executing",
		}
	case errors.Is(err, orchestrator.ErrEmptyPattern):
		return nil, &ValidationError{Field: "pattern", Message: "pattern has no agents or tasks"}
	default:
		return nil, NewInternal(err)
	}
}

// GetWorkflowExecution fetches one workflow run by id.
func (s *WorkflowService) GetWorkflowExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	run, err := s.store.GetWorkflowRun(ctx, s.store.DB(), id)
	if err != nil {
		return nil, mapStoreErr(err, "workflow execution", id)
	}
	return run, nil
}

// ListWorkflowExecutions pages through runs, newest first.
func (s *WorkflowService) ListWorkflowExecutions(ctx context.Context, patternID, status string, limit, offset int) ([]*models.WorkflowExecution, error) {
	if status != "" {
		if _, err := models.ParseWorkflowStatus(status); err != nil {
			return nil, &ValidationError{Field: "status", Message: err.Error()}
		}
	}
	runs, err := s.store.ListWorkflowRuns(ctx, s.store.DB(), patternID, status, limit, offset)
	if err != nil {
		return nil, NewInternal(err)
	}
	return runs, nil
}

// AbortWorkflowExecution cancels a non-terminal workflow run.
func (s *WorkflowService) AbortWorkflowExecution(ctx context.Context, id string) error {
	err := s.orchestrator.AbortWorkflowExecution(ctx, id, orchestrator.AbortReasonUser)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{Entity: "workflow execution", ID: id}
	case errors.Is(err, orchestrator.ErrRunTerminal):
		return &ConflictError{Message: err.Error()}
	default:
		return NewInternal(err)
	}
}

// DeleteWorkflowExecution removes a terminal workflow run's record.
func (s *WorkflowService) DeleteWorkflowExecution(ctx context.Context, id string) error {
	run, err := s.store.GetWorkflowRun(ctx, s.store.DB(), id)
	if err != nil {
		return mapStoreErr(err, "workflow execution", id)
	}
	if !run.Status.Terminal() {
		return &ConflictError{
			Message:    fmt.Sprintf("workflow execution %s is %s", id, run.Status),
			Suggestion: "abort the workflow execution before deleting it",
		}
	}
	if err := s.store.DeleteWorkflowRun(ctx, s.store.DB(), id); err != nil {
		return mapStoreErr(err, "workflow execution", id)
	}
	s.logger.Info("Workflow execution deleted", "workflow_execution_id", id)
	return nil
}

// AnalyzeWorkflow resolves the referenced agents and tasks and returns the
// analyzer's pattern recommendation.
func (s *WorkflowService) AnalyzeWorkflow(ctx context.Context, agentIDs, taskIDs []string, objective string) (*analyzer.Recommendation, error) {
	if len(agentIDs) == 0 {
		return nil, &ValidationError{Field: "agent_ids", Message: "must not be empty"}
	}
	if len(taskIDs) == 0 {
		return nil, &ValidationError{Field: "task_ids", Message: "must not be empty"}
	}

	agents := make([]*models.Agent, 0, len(agentIDs))
	for _, id := range agentIDs {
		agent, err := s.store.GetAgent(ctx, s.store.DB(), id)
		if err != nil {
			return nil, mapStoreErr(err, "agent", id)
		}
		agents = append(agents, agent)
	}
	tasks := make([]*models.Task, 0, len(taskIDs))
	for _, id := range taskIDs {
		task, err := s.store.GetTask(ctx, s.store.DB(), id)
		if err != nil {
			return nil, mapStoreErr(err, "task", id)
		}
		tasks = append(tasks, task)
	}

	return analyzer.Analyze(agents, tasks, objective), nil
}
