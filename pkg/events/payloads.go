package events

import (
	"github.com/maestro-sh/maestro/pkg/models"
)

// AgentEvent builds an agent_event envelope for a lifecycle transition.
func AgentEvent(eventType string, agent *models.Agent) Event {
	return New(TopicAgent, eventType, map[string]any{
		"agent_id": agent.ID,
		"name":     agent.Name,
		"role":     agent.Role,
		"status":   string(agent.Status),
	})
}

// TaskEvent builds a task_event envelope for a lifecycle transition.
func TaskEvent(eventType string, task *models.Task) Event {
	return New(TopicTask, eventType, map[string]any{
		"task_id":  task.ID,
		"title":    task.Title,
		"priority": string(task.Priority),
		"status":   string(task.Status),
	})
}

// ExecutionEvent builds an execution_event envelope. The payload carries
// enough identity for clients to refresh without a follow-up read.
func ExecutionEvent(eventType string, exec *models.Execution) Event {
	payload := map[string]any{
		"execution_id": exec.ID,
		"task_id":      exec.TaskID,
		"agent_id":     exec.AgentID,
		"status":       string(exec.Status),
	}
	if exec.ErrorDetails != nil {
		payload["error_kind"] = exec.ErrorDetails.Kind
	}
	return New(TopicExecution, eventType, payload)
}

// WorkflowEvent builds a workflow_event envelope for one run of a pattern.
func WorkflowEvent(eventType string, run *models.WorkflowExecution) Event {
	return New(TopicWorkflow, eventType, map[string]any{
		"workflow_execution_id": run.ID,
		"pattern_id":            run.PatternID,
		"status":                string(run.Status),
		"current_step":          run.CurrentStep,
		"progress":              run.Progress,
	})
}

// SystemEvent builds a system_event envelope with a free-form payload.
func SystemEvent(eventType string, payload map[string]any) Event {
	return New(TopicSystem, eventType, payload)
}
