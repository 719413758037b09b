// Package engine drives single task executions from start to terminal
// state under a deadline, with pause/resume/abort controls and per-step
// event emission.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/maestro-sh/maestro/pkg/config"
	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/models"
	"github.com/maestro-sh/maestro/pkg/runner"
	"github.com/maestro-sh/maestro/pkg/store"
)

// Sentinel errors surfaced to the service layer.
var (
	// ErrNoAgents is returned when neither the request nor the task names
	// any agent.
	ErrNoAgents = errors.New("no agents available for task")

	// ErrInvalidTransition is returned when a control operation does not
	// apply to the execution's current status.
	ErrInvalidTransition = errors.New("invalid execution transition")
)

// BusyError reports agents that block a start without force_restart.
type BusyError struct {
	AgentNames   []string
	ExecutionIDs []string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("agents busy: %s", strings.Join(e.AgentNames, ", "))
}

// Engine owns the in-flight execution registry and the supervised run loop.
type Engine struct {
	store    *store.Store
	bus      *events.Bus
	primary  runner.Strategy
	fallback runner.Strategy
	cfg      *config.EngineConfig
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// New creates an engine over the given store, bus, and runner strategies.
func New(st *store.Store, bus *events.Bus, primary, fallback runner.Strategy, cfg *config.EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		bus:      bus,
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		logger:   logger.With("component", "execution_engine"),
		inflight: make(map[string]context.CancelFunc),
	}
}

// StartTaskExecution validates the request, creates the execution row, marks
// the referenced agents executing, and schedules the supervised run.
func (e *Engine) StartTaskExecution(ctx context.Context, req models.StartExecutionRequest) (*models.StartExecutionResponse, error) {
	task, err := e.store.GetTask(ctx, e.store.DB(), req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", req.TaskID, err)
	}

	agentIDs := req.AgentIDs
	if len(agentIDs) == 0 {
		agentIDs = task.AssignedAgentIDs
	}
	if len(agentIDs) == 0 {
		return nil, ErrNoAgents
	}

	agents, err := e.store.ListAgentsByIDs(ctx, e.store.DB(), agentIDs)
	if err != nil {
		return nil, err
	}

	busy := &BusyError{}
	for _, agent := range agents {
		if agent.Status != models.AgentStatusExecuting {
			continue
		}
		busy.AgentNames = append(busy.AgentNames, agent.Name)
		active, err := e.store.ListNonTerminalExecutionsForAgent(ctx, e.store.DB(), agent.ID)
		if err != nil {
			return nil, err
		}
		for _, ex := range active {
			busy.ExecutionIDs = append(busy.ExecutionIDs, ex.ID)
		}
	}
	if len(busy.AgentNames) > 0 {
		if !req.ForceRestart {
			return nil, busy
		}
		// force_restart aborts the conflicting executions before starting.
		for _, execID := range busy.ExecutionIDs {
			if err := e.AbortExecution(ctx, execID); err != nil && !errors.Is(err, ErrInvalidTransition) {
				return nil, fmt.Errorf("abort conflicting execution %s: %w", execID, err)
			}
		}
	}

	exec := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		AgentID:   agents[0].ID,
		Status:    models.ExecutionStatusStarting,
		StartTime: time.Now().UTC(),
		Logs: []models.LogEntry{{
			Timestamp: time.Now().UTC(),
			Level:     models.LogLevelInfo,
			Message:   fmt.Sprintf("Execution created for task '%s' with agent '%s'", task.Title, agents[0].Name),
		}},
	}
	exec.WorkDirectory = req.WorkDirectory
	if exec.WorkDirectory == "" {
		exec.WorkDirectory = filepath.Join(e.cfg.ExecutionRoot, "execution_"+exec.ID)
	}

	if err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.store.CreateExecution(ctx, tx, exec); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, agent := range agents {
			if err := e.store.SetAgentStatus(ctx, tx, agent.ID, models.AgentStatusExecuting, &now); err != nil {
				return err
			}
		}
		return e.store.SetTaskStatus(ctx, tx, task.ID, models.TaskStatusInProgress, "")
	}); err != nil {
		return nil, fmt.Errorf("failed to persist execution start: %w", err)
	}

	e.scheduleRun(exec.ID, agentIDs)

	e.bus.Publish(events.ExecutionEvent(events.EventTypeStarted, exec))
	e.logger.Info("Execution scheduled",
		"execution_id", exec.ID, "task_id", task.ID, "agent_id", agents[0].ID)

	return &models.StartExecutionResponse{
		ExecutionID: exec.ID,
		TaskID:      task.ID,
		Status:      models.ExecutionStatusStarting,
	}, nil
}

// PauseExecution transitions a running execution to paused and cancels its
// in-flight run.
func (e *Engine) PauseExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	exec, err := e.store.GetExecution(ctx, e.store.DB(), executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != models.ExecutionStatusRunning {
		return nil, fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, exec.Status)
	}

	e.cancelInflight(executionID)

	now := time.Now().UTC()
	exec.Status = models.ExecutionStatusPaused
	exec.PausedAt = &now
	exec.Logs = append(exec.Logs, models.LogEntry{
		Timestamp: now, Level: models.LogLevelInfo, Message: "Execution paused by user",
	})
	if err := e.store.SaveExecution(ctx, e.store.DB(), exec); err != nil {
		return nil, err
	}

	e.bus.Publish(events.ExecutionEvent(events.EventTypePaused, exec))
	e.logger.Info("Execution paused", "execution_id", executionID)
	return exec, nil
}

// ResumeExecution re-schedules a paused execution's supervised run.
func (e *Engine) ResumeExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	exec, err := e.store.GetExecution(ctx, e.store.DB(), executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != models.ExecutionStatusPaused {
		return nil, fmt.Errorf("%w: cannot resume from %s", ErrInvalidTransition, exec.Status)
	}

	// The run reloads task and agent itself; resume only needs them to
	// still resolve.
	if _, err := e.store.GetTask(ctx, e.store.DB(), exec.TaskID); err != nil {
		return nil, fmt.Errorf("task %s: %w", exec.TaskID, err)
	}
	if _, err := e.store.GetAgent(ctx, e.store.DB(), exec.AgentID); err != nil {
		return nil, fmt.Errorf("agent %s: %w", exec.AgentID, err)
	}

	now := time.Now().UTC()
	exec.Status = models.ExecutionStatusRunning
	exec.PausedAt = nil
	exec.Logs = append(exec.Logs, models.LogEntry{
		Timestamp: now, Level: models.LogLevelInfo, Message: "Execution resumed by user",
	})
	if err := e.store.SaveExecution(ctx, e.store.DB(), exec); err != nil {
		return nil, err
	}

	e.scheduleRun(exec.ID, []string{exec.AgentID})

	e.bus.Publish(events.ExecutionEvent(events.EventTypeResumed, exec))
	e.logger.Info("Execution resumed", "execution_id", executionID)
	return exec, nil
}

// AbortExecution cancels an execution from any non-terminal state, releases
// its agents, and marks the task cancelled.
func (e *Engine) AbortExecution(ctx context.Context, executionID string) error {
	exec, err := e.store.GetExecution(ctx, e.store.DB(), executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return fmt.Errorf("%w: already %s", ErrInvalidTransition, exec.Status)
	}

	e.cancelInflight(executionID)

	now := time.Now().UTC()
	exec.Status = models.ExecutionStatusCancelled
	exec.EndTime = &now
	exec.DurationSeconds = now.Sub(exec.StartTime).Seconds()
	exec.Logs = append(exec.Logs, models.LogEntry{
		Timestamp: now, Level: models.LogLevelInfo, Message: "Execution aborted by user",
	})

	if err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.store.SaveExecution(ctx, tx, exec); err != nil {
			return err
		}
		if err := e.store.SetAgentStatus(ctx, tx, exec.AgentID, models.AgentStatusIdle, &now); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := e.store.SetTaskStatus(ctx, tx, exec.TaskID, models.TaskStatusCancelled, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to persist abort: %w", err)
	}

	e.bus.Publish(events.ExecutionEvent(events.EventTypeAborted, exec))
	e.logger.Info("Execution aborted", "execution_id", executionID)
	return nil
}

// GetExecution is a read-only projection of one execution.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	return e.store.GetExecution(ctx, e.store.DB(), executionID)
}

// ListExecutions is a read-only projection over the execution log.
func (e *Engine) ListExecutions(ctx context.Context, status, taskID string, limit, offset int) ([]*models.Execution, error) {
	return e.store.ListExecutions(ctx, e.store.DB(), status, taskID, limit, offset)
}

// InFlight reports how many supervised runs are currently registered.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// Shutdown cancels all in-flight runs and waits for their goroutines.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, cancel := range e.inflight {
		cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) scheduleRun(executionID string, agentIDs []string) {
	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.inflight[executionID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.removeInflight(executionID)
		e.run(runCtx, executionID, agentIDs)
	}()
}

func (e *Engine) cancelInflight(executionID string) {
	e.mu.Lock()
	cancel, ok := e.inflight[executionID]
	delete(e.inflight, executionID)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Engine) removeInflight(executionID string) {
	e.mu.Lock()
	delete(e.inflight, executionID)
	e.mu.Unlock()
}
