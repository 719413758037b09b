package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/models"
	"github.com/maestro-sh/maestro/pkg/runner"
)

// deadlineFor derives the per-execution deadline from the task's estimated
// duration: estimated_minutes·60 when present, DefaultTimeout otherwise,
// never exceeding MaxTimeout.
func (e *Engine) deadlineFor(task *models.Task) time.Duration {
	timeout := e.cfg.DefaultTimeout
	if task.EstimatedDuration != nil {
		timeout = time.Duration(*task.EstimatedDuration) * time.Minute
	}
	if timeout > e.cfg.MaxTimeout {
		timeout = e.cfg.MaxTimeout
	}
	return timeout
}

// run is the supervised run loop for one execution. ctx is the in-flight
// cancel handle; pause and abort cancel it, and the control operation that
// cancelled it owns the persisted state.
func (e *Engine) run(ctx context.Context, executionID string, agentIDs []string) {
	bg := context.Background()

	exec, err := e.store.GetExecution(bg, e.store.DB(), executionID)
	if err != nil {
		e.logger.Error("Supervised run lost its execution row",
			"execution_id", executionID, "error", err)
		return
	}
	task, err := e.store.GetTask(bg, e.store.DB(), exec.TaskID)
	if err != nil {
		e.failExecution(exec, agentIDs, "internal", fmt.Sprintf("task lookup: %v", err), 0)
		return
	}
	agent, err := e.store.GetAgent(bg, e.store.DB(), exec.AgentID)
	if err != nil {
		e.failExecution(exec, agentIDs, "internal", fmt.Sprintf("agent lookup: %v", err), 0)
		return
	}

	timeout := e.deadlineFor(task)
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exec.Status = models.ExecutionStatusRunning
	exec.Logs = append(exec.Logs, models.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     models.LogLevelInfo,
		Message:   fmt.Sprintf("Starting execution with %.0f s timeout", timeout.Seconds()),
	})
	if err := e.store.SaveExecution(bg, e.store.DB(), exec); err != nil {
		e.logger.Error("Failed to mark execution running",
			"execution_id", executionID, "error", err)
		return
	}

	result, runErr := e.attempt(deadlineCtx, exec, agent, task)

	// A cancelled in-flight context means pause or abort already persisted
	// the outcome; the run exits without writing.
	if ctx.Err() != nil && deadlineCtx.Err() != context.DeadlineExceeded {
		e.logger.Info("Supervised run cancelled by control operation",
			"execution_id", executionID)
		return
	}

	switch {
	case runErr == nil:
		e.completeExecution(exec, agentIDs, task, result)
	case errors.Is(runErr, runner.ErrTimeout) || deadlineCtx.Err() == context.DeadlineExceeded:
		exec.Logs = append(exec.Logs, models.LogEntry{
			Timestamp: time.Now().UTC(),
			Level:     models.LogLevelError,
			Message:   fmt.Sprintf("Execution timed out after %.0f s", timeout.Seconds()),
		})
		e.failExecution(exec, agentIDs, "timeout", "execution deadline elapsed", int(timeout.Seconds()))
	default:
		e.failExecution(exec, agentIDs, "internal", runErr.Error(), 0)
	}
}

// attempt runs the primary strategy under the inner deadline, falling back
// to the deterministic responder on any recoverable failure.
func (e *Engine) attempt(ctx context.Context, exec *models.Execution, agent *models.Agent, task *models.Task) (*runner.Result, error) {
	innerCtx, cancel := context.WithTimeout(ctx, e.cfg.SubprocessAttempt)
	defer cancel()

	result, err := e.primary.Execute(innerCtx, agent, task, exec.WorkDirectory)
	if err == nil {
		return result, nil
	}

	// The outer deadline elapsing is terminal; an inner-only timeout is a
	// subprocess failure and falls back like any other.
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: outer deadline", runner.ErrTimeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	exec.Logs = append(exec.Logs, models.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     models.LogLevelWarning,
		Message:   fmt.Sprintf("Subprocess failed: %v, using fallback", err),
	})
	return e.fallback.Execute(ctx, agent, task, exec.WorkDirectory)
}

// completeExecution persists the successful terminal state and releases the
// referenced agents.
func (e *Engine) completeExecution(exec *models.Execution, agentIDs []string, task *models.Task, result *runner.Result) {
	bg := context.Background()
	now := time.Now().UTC()

	exec.Status = models.ExecutionStatusCompleted
	exec.EndTime = &now
	exec.DurationSeconds = now.Sub(exec.StartTime).Seconds()
	exec.AgentResponse = result.Response
	exec.WorkDirectory = result.WorkDirectory
	exec.Output = map[string]any{
		"response":         result.Response,
		"analysis":         result.Analysis,
		"messages_count":   result.MessagesCount,
		"execution_method": result.ExecutionMethod,
		"status":           "completed",
	}
	exec.Logs = append(exec.Logs, models.LogEntry{
		Timestamp: now,
		Level:     models.LogLevelInfo,
		Message:   fmt.Sprintf("Execution completed via %s", result.ExecutionMethod),
	})

	err := e.store.WithTx(bg, func(tx *sqlx.Tx) error {
		if err := e.store.SaveExecution(bg, tx, exec); err != nil {
			return err
		}
		if err := e.store.SetTaskStatus(bg, tx, task.ID, models.TaskStatusCompleted, ""); err != nil {
			return err
		}
		if err := e.store.SetTaskResults(bg, tx, task.ID, exec.Output); err != nil {
			return err
		}
		return e.releaseAgents(tx, agentIDs, now)
	})
	if err != nil {
		e.logger.Error("Failed to persist execution completion",
			"execution_id", exec.ID, "error", err)
		return
	}

	e.bus.Publish(events.ExecutionEvent(events.EventTypeCompleted, exec))
	e.logger.Info("Execution completed",
		"execution_id", exec.ID, "method", result.ExecutionMethod,
		"duration_seconds", exec.DurationSeconds)
}

// failExecution persists a failed terminal state with categorized error
// details and releases the referenced agents.
func (e *Engine) failExecution(exec *models.Execution, agentIDs []string, kind, message string, timeoutSeconds int) {
	bg := context.Background()
	now := time.Now().UTC()

	exec.Status = models.ExecutionStatusFailed
	exec.EndTime = &now
	exec.DurationSeconds = now.Sub(exec.StartTime).Seconds()
	exec.ErrorDetails = &models.ErrorDetails{
		Kind:           kind,
		Message:        message,
		TimeoutSeconds: timeoutSeconds,
	}
	if kind == "internal" {
		exec.ErrorDetails.ErrorID = newErrorID()
	}
	exec.Logs = append(exec.Logs, models.LogEntry{
		Timestamp: now,
		Level:     models.LogLevelError,
		Message:   fmt.Sprintf("Execution failed (%s): %s", kind, message),
	})

	err := e.store.WithTx(bg, func(tx *sqlx.Tx) error {
		if err := e.store.SaveExecution(bg, tx, exec); err != nil {
			return err
		}
		if err := e.store.SetTaskStatus(bg, tx, exec.TaskID, models.TaskStatusFailed, message); err != nil {
			return err
		}
		return e.releaseAgents(tx, agentIDs, now)
	})
	if err != nil {
		e.logger.Error("Failed to persist execution failure",
			"execution_id", exec.ID, "error", err)
		return
	}

	e.bus.Publish(events.ExecutionEvent(events.EventTypeFailed, exec))
	e.logger.Warn("Execution failed",
		"execution_id", exec.ID, "kind", kind, "error_message", message)
}

func (e *Engine) releaseAgents(tx *sqlx.Tx, agentIDs []string, now time.Time) error {
	bg := context.Background()
	for _, id := range agentIDs {
		if err := e.store.SetAgentStatus(bg, tx, id, models.AgentStatusIdle, &now); err != nil {
			return err
		}
	}
	return nil
}

// newErrorID returns the opaque 8-char correlation id attached to internal
// failures.
func newErrorID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
