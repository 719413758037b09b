package models

import (
	"fmt"
	"time"
)

// WorkflowStatus is the lifecycle status of one run of a pattern.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusStarting  WorkflowStatus = "starting"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusPaused    WorkflowStatus = "paused"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
	WorkflowStatusAborted   WorkflowStatus = "aborted"
)

// Terminal reports whether the status admits no further transitions.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed,
		WorkflowStatusCancelled, WorkflowStatusAborted:
		return true
	}
	return false
}

// ParseWorkflowStatus validates a raw workflow status at the boundary.
func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	switch WorkflowStatus(s) {
	case WorkflowStatusPending, WorkflowStatusStarting, WorkflowStatusRunning,
		WorkflowStatusPaused, WorkflowStatusCompleted, WorkflowStatusFailed,
		WorkflowStatusCancelled, WorkflowStatusAborted:
		return WorkflowStatus(s), nil
	}
	return "", fmt.Errorf("invalid workflow status: %q", s)
}

// AgentMessage is an observational inter-agent coordination message.
// Immutable once stored; never authoritative for control flow.
type AgentMessage struct {
	ID           string         `json:"id"`
	ExecutionID  string         `json:"execution_id"` // workflow-run scoped
	FromAgent    string         `json:"from_agent"`
	ToAgent      string         `json:"to_agent"`
	MessageType  string         `json:"message_type"`
	Message      string         `json:"message"`
	Payload      map[string]any `json:"payload,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Acknowledged bool           `json:"acknowledged"`
}

// WorkflowExecution is one run of a workflow pattern.
type WorkflowExecution struct {
	ID                  string         `json:"id" db:"id"`
	PatternID           string         `json:"pattern_id" db:"pattern_id"`
	Status              WorkflowStatus `json:"status" db:"status"`
	StartTime           time.Time      `json:"start_time" db:"start_time"`
	EndTime             *time.Time     `json:"end_time,omitempty" db:"end_time"`
	CurrentStep         string         `json:"current_step" db:"current_step"`
	Progress            float64        `json:"progress" db:"progress"`
	Results             map[string]any `json:"results,omitempty"`
	ErrorDetails        *ErrorDetails  `json:"error_details,omitempty"`
	ExecutionLogs       []LogEntry     `json:"execution_logs"`
	AgentCommunications []AgentMessage `json:"agent_communications"`
}

// ExecuteWorkflowRequest carries optional per-run overrides.
type ExecuteWorkflowRequest struct {
	ProjectDirectory string `json:"project_directory,omitempty"`
	UserObjective    string `json:"user_objective,omitempty"`
}
