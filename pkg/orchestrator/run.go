package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/models"
)

// workflowRun is the mutable state of one supervised run, shared by the
// strategy implementations.
type workflowRun struct {
	core       *Core
	run        *models.WorkflowExecution
	pattern    *models.WorkflowPattern
	agents     []*models.Agent
	tasks      []*models.Task
	config     models.WorkflowConfig
	projectDir string
	objective  string
}

func (w *workflowRun) save() error {
	return w.core.store.SaveWorkflowRun(context.Background(), w.core.store.DB(), w.run)
}

// setStep records the current step and advances progress. Progress is
// monotone and capped at 0.95 until the terminal transition sets 1.0.
func (w *workflowRun) setStep(step string, progress float64) {
	w.run.CurrentStep = step
	if progress > 0.95 {
		progress = 0.95
	}
	if progress > w.run.Progress {
		w.run.Progress = progress
	}
	if err := w.save(); err != nil {
		w.core.logger.Warn("Failed to persist workflow step",
			"workflow_execution_id", w.run.ID, "step", step, "error", err)
	}
}

// addMessage records a coordination message on the run and broadcasts it.
// Messages are observational; control flow never depends on them.
func (w *workflowRun) addMessage(from, to, messageType, message string) {
	if !w.config.EnableAgentCommunication {
		return
	}
	msg := models.AgentMessage{
		ID:          uuid.New().String(),
		ExecutionID: w.run.ID,
		FromAgent:   from,
		ToAgent:     to,
		MessageType: messageType,
		Message:     message,
		Timestamp:   time.Now().UTC(),
	}
	w.run.AgentCommunications = append(w.run.AgentCommunications, msg)
	if err := w.save(); err != nil {
		w.core.logger.Warn("Failed to persist coordination message",
			"workflow_execution_id", w.run.ID, "error", err)
	}
	w.core.bus.Publish(events.New(events.TopicWorkflow, events.EventTypeUpdated, map[string]any{
		"workflow_execution_id": w.run.ID,
		"message_type":          messageType,
		"from_agent":            from,
		"to_agent":              to,
		"message":               message,
	}))
}

// childResult is the outcome of one child execution as a strategy saw it.
type childResult struct {
	TaskID      string `json:"task_id"`
	TaskTitle   string `json:"task_title"`
	AgentID     string `json:"agent_id"`
	AgentName   string `json:"agent_name"`
	ExecutionID string `json:"execution_id,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// startChild starts one child execution. A start failure is collected as a
// failed child, not raised, so one busy agent cannot sink the workflow.
func (w *workflowRun) startChild(ctx context.Context, agent *models.Agent, task *models.Task) childResult {
	result := childResult{
		TaskID:    task.ID,
		TaskTitle: task.Title,
		AgentID:   agent.ID,
		AgentName: agent.Name,
	}

	w.addMessage("orchestrator", agent.Name, "task_assignment",
		fmt.Sprintf("Starting task '%s'", task.Title))

	resp, err := w.core.engine.StartTaskExecution(ctx, models.StartExecutionRequest{
		TaskID:        task.ID,
		AgentIDs:      []string{agent.ID},
		WorkDirectory: w.projectDir,
	})
	if err != nil {
		result.Status = string(models.ExecutionStatusFailed)
		result.Error = err.Error()
		w.addMessage(agent.Name, "orchestrator", "task_failed",
			fmt.Sprintf("Could not start task '%s': %v", task.Title, err))
		return result
	}

	result.ExecutionID = resp.ExecutionID
	result.Status = string(resp.Status)
	return result
}

// waitChild polls the child until it reaches a terminal status or maxWait
// elapses, then records the completion message. On timeout the child is
// reported failed without being aborted.
func (w *workflowRun) waitChild(ctx context.Context, result *childResult, maxWait time.Duration) {
	if result.ExecutionID == "" {
		return
	}
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(w.core.cfg.PollInterval)
	defer ticker.Stop()

	for {
		exec, err := w.core.store.GetExecution(ctx, w.core.store.DB(), result.ExecutionID)
		if err == nil && exec.Status.Terminal() {
			result.Status = string(exec.Status)
			if exec.ErrorDetails != nil {
				result.Error = exec.ErrorDetails.Message
			}
			msgType := "task_completed"
			if exec.Status != models.ExecutionStatusCompleted {
				msgType = "task_failed"
			}
			w.addMessage(result.AgentName, "orchestrator", msgType,
				fmt.Sprintf("Task '%s' finished with status %s", result.TaskTitle, exec.Status))
			return
		}

		if time.Now().After(deadline) {
			result.Status = string(models.ExecutionStatusFailed)
			result.Error = fmt.Sprintf("child wait exceeded %.0f s", maxWait.Seconds())
			w.addMessage(result.AgentName, "orchestrator", "task_failed",
				fmt.Sprintf("Task '%s' did not finish within %.0f s", result.TaskTitle, maxWait.Seconds()))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// agentFor returns the round-robin agent for a child index.
func (w *workflowRun) agentFor(i int) *models.Agent {
	return w.agents[i%len(w.agents)]
}

func succeeded(r childResult) bool {
	return r.Status == string(models.ExecutionStatusCompleted)
}

func started(r childResult) bool {
	return r.ExecutionID != ""
}

func countSucceeded(results []childResult) int {
	n := 0
	for _, r := range results {
		if succeeded(r) {
			n++
		}
	}
	return n
}

func countStarted(results []childResult) int {
	n := 0
	for _, r := range results {
		if started(r) {
			n++
		}
	}
	return n
}

func asAnySlice(results []childResult) []any {
	out := make([]any, len(results))
	for i, r := range results {
		out[i] = r
	}
	return out
}
