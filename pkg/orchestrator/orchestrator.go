// Package orchestrator runs workflow patterns: it drives child executions
// through the execution engine according to one of seven coordination
// strategies and aggregates their outcomes onto the workflow-execution row.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-sh/maestro/pkg/config"
	"github.com/maestro-sh/maestro/pkg/engine"
	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/models"
	"github.com/maestro-sh/maestro/pkg/store"
)

// Sentinel errors surfaced to the service layer.
var (
	// ErrPatternNotActive is returned when executing a non-active pattern.
	ErrPatternNotActive = errors.New("pattern is not active")

	// ErrEmptyPattern is returned when the pattern names no agents or no
	// tasks.
	ErrEmptyPattern = errors.New("pattern has no agents or tasks")

	// ErrRunTerminal is returned when aborting an already-terminal run.
	ErrRunTerminal = errors.New("workflow run already terminal")
)

// AbortReasonUser is logged when the caller aborts a run directly.
const AbortReasonUser = "user aborted"

// AbortReasonPatternDeleted is logged when a force pattern delete cancels
// the run.
const AbortReasonPatternDeleted = "Pattern deleted with force flag"

// Core supervises workflow runs and owns their cancel registry.
type Core struct {
	store  *store.Store
	bus    *events.Bus
	engine *engine.Engine
	cfg    *config.OrchestratorConfig
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an orchestrator over the store, bus, and engine.
func New(st *store.Store, bus *events.Bus, eng *engine.Engine, cfg *config.OrchestratorConfig, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{
		store:   st,
		bus:     bus,
		engine:  eng,
		cfg:     cfg,
		logger:  logger.With("component", "orchestrator"),
		running: make(map[string]context.CancelFunc),
	}
}

// ExecuteWorkflow validates the pattern, creates the workflow-execution row,
// and schedules the strategy run in a supervised goroutine.
func (c *Core) ExecuteWorkflow(ctx context.Context, patternID string, req models.ExecuteWorkflowRequest) (*models.WorkflowExecution, error) {
	pattern, err := c.store.GetPattern(ctx, c.store.DB(), patternID)
	if err != nil {
		return nil, fmt.Errorf("pattern %s: %w", patternID, err)
	}
	if pattern.Status != models.PatternStatusActive {
		return nil, fmt.Errorf("%w: pattern %s is %s", ErrPatternNotActive, pattern.Name, pattern.Status)
	}
	if len(pattern.AgentIDs) == 0 || len(pattern.TaskIDs) == 0 {
		return nil, ErrEmptyPattern
	}

	agents, err := c.store.ListAgentsByIDs(ctx, c.store.DB(), pattern.AgentIDs)
	if err != nil {
		return nil, err
	}
	tasks := make([]*models.Task, 0, len(pattern.TaskIDs))
	for _, id := range pattern.TaskIDs {
		task, err := c.store.GetTask(ctx, c.store.DB(), id)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", id, err)
		}
		tasks = append(tasks, task)
	}

	projectDir := req.ProjectDirectory
	if projectDir == "" {
		projectDir = pattern.ProjectDirectory
	}
	objective := req.UserObjective
	if objective == "" {
		objective = pattern.UserObjective
	}

	run := &models.WorkflowExecution{
		ID:          uuid.New().String(),
		PatternID:   pattern.ID,
		Status:      models.WorkflowStatusStarting,
		StartTime:   time.Now().UTC(),
		CurrentStep: "initializing",
		ExecutionLogs: []models.LogEntry{{
			Timestamp: time.Now().UTC(),
			Level:     models.LogLevelInfo,
			Message: fmt.Sprintf("Workflow '%s' starting with %s pattern (%d agents, %d tasks)",
				pattern.Name, pattern.WorkflowType, len(agents), len(tasks)),
		}},
	}
	if err := c.store.CreateWorkflowRun(ctx, c.store.DB(), run); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.running[run.ID] = cancel
	c.mu.Unlock()

	w := &workflowRun{
		core:       c,
		run:        run,
		pattern:    pattern,
		agents:     agents,
		tasks:      tasks,
		config:     pattern.Config,
		projectDir: projectDir,
		objective:  objective,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.removeRunning(run.ID)
		c.supervise(runCtx, w)
	}()

	c.bus.Publish(events.WorkflowEvent(events.EventTypeStarted, run))
	c.logger.Info("Workflow scheduled",
		"workflow_execution_id", run.ID, "pattern_id", pattern.ID,
		"workflow_type", pattern.WorkflowType)
	return run, nil
}

// AbortWorkflowExecution cancels a run's context and persists the cancelled
// state with the given reason. Strategies observe the cancellation at their
// next checkpoint; in-flight children are not auto-aborted.
func (c *Core) AbortWorkflowExecution(ctx context.Context, runID, reason string) error {
	run, err := c.store.GetWorkflowRun(ctx, c.store.DB(), runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrRunTerminal, run.Status)
	}
	if reason == "" {
		reason = AbortReasonUser
	}

	c.mu.Lock()
	cancel, ok := c.running[runID]
	delete(c.running, runID)
	c.mu.Unlock()
	if ok {
		cancel()
	}

	now := time.Now().UTC()
	run.Status = models.WorkflowStatusCancelled
	run.EndTime = &now
	run.ExecutionLogs = append(run.ExecutionLogs, models.LogEntry{
		Timestamp: now, Level: models.LogLevelInfo, Message: reason,
	})
	if err := c.store.SaveWorkflowRun(ctx, c.store.DB(), run); err != nil {
		return err
	}

	c.bus.Publish(events.WorkflowEvent(events.EventTypeAborted, run))
	c.logger.Info("Workflow aborted", "workflow_execution_id", runID, "reason", reason)
	return nil
}

// ActiveRuns reports the number of supervised workflow runs.
func (c *Core) ActiveRuns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}

// Shutdown cancels all supervised runs and waits for their goroutines.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for _, cancel := range c.running {
		cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// supervise runs the selected strategy and persists the terminal outcome.
func (c *Core) supervise(ctx context.Context, w *workflowRun) {
	w.run.Status = models.WorkflowStatusRunning
	if err := w.save(); err != nil {
		c.logger.Error("Failed to mark workflow running",
			"workflow_execution_id", w.run.ID, "error", err)
		return
	}

	results, err := c.runStrategy(ctx, w)

	// A cancelled run context means an abort already persisted the outcome.
	if ctx.Err() != nil {
		c.logger.Info("Workflow run cancelled",
			"workflow_execution_id", w.run.ID)
		return
	}

	now := time.Now().UTC()
	w.run.EndTime = &now
	if err != nil {
		w.run.Status = models.WorkflowStatusFailed
		w.run.ErrorDetails = &models.ErrorDetails{
			Kind:    "internal",
			Message: err.Error(),
			ErrorID: strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
		}
		w.run.ExecutionLogs = append(w.run.ExecutionLogs, models.LogEntry{
			Timestamp: now, Level: models.LogLevelError,
			Message: fmt.Sprintf("Workflow failed: %v", err),
		})
		if saveErr := w.save(); saveErr != nil {
			c.logger.Error("Failed to persist workflow failure",
				"workflow_execution_id", w.run.ID, "error", saveErr)
		}
		c.bus.Publish(events.WorkflowEvent(events.EventTypeFailed, w.run))
		c.logger.Warn("Workflow failed",
			"workflow_execution_id", w.run.ID, "error", err)
		return
	}

	w.run.Status = models.WorkflowStatusCompleted
	w.run.Progress = 1.0
	w.run.Results = results
	w.run.ExecutionLogs = append(w.run.ExecutionLogs, models.LogEntry{
		Timestamp: now, Level: models.LogLevelInfo,
		Message: fmt.Sprintf("Workflow completed with %s pattern", w.pattern.WorkflowType),
	})
	if err := w.save(); err != nil {
		c.logger.Error("Failed to persist workflow completion",
			"workflow_execution_id", w.run.ID, "error", err)
		return
	}
	c.bus.Publish(events.WorkflowEvent(events.EventTypeCompleted, w.run))
	c.logger.Info("Workflow completed", "workflow_execution_id", w.run.ID)
}

func (c *Core) runStrategy(ctx context.Context, w *workflowRun) (map[string]any, error) {
	switch w.pattern.WorkflowType {
	case models.WorkflowSequential:
		return c.runSequential(ctx, w)
	case models.WorkflowParallel:
		return c.runParallel(ctx, w)
	case models.WorkflowRouter:
		return c.runRouter(ctx, w)
	case models.WorkflowEvaluatorOptimizer:
		return c.runEvaluatorOptimizer(ctx, w)
	case models.WorkflowSwarm:
		return c.runSwarm(ctx, w)
	case models.WorkflowOrchestrator:
		return c.runOrchestrated(ctx, w)
	case models.WorkflowAdaptive:
		return c.runAdaptive(ctx, w)
	default:
		return nil, fmt.Errorf("unknown workflow type %q", w.pattern.WorkflowType)
	}
}

func (c *Core) removeRunning(runID string) {
	c.mu.Lock()
	delete(c.running, runID)
	c.mu.Unlock()
}
