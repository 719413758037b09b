package models

import (
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle status of a single agent-task attempt.
type ExecutionStatus string

const (
	ExecutionStatusStarting  ExecutionStatus = "starting"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusAborted   ExecutionStatus = "aborted"
	ExecutionStatusTimeout   ExecutionStatus = "timeout"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled,
		ExecutionStatusAborted, ExecutionStatusTimeout:
		return true
	}
	return false
}

// ParseExecutionStatus validates a raw status string at the boundary.
func ParseExecutionStatus(s string) (ExecutionStatus, error) {
	switch ExecutionStatus(s) {
	case ExecutionStatusStarting, ExecutionStatusRunning, ExecutionStatusPaused,
		ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled,
		ExecutionStatusAborted, ExecutionStatusTimeout:
		return ExecutionStatus(s), nil
	}
	return "", fmt.Errorf("invalid execution status: %q", s)
}

// LogLevel classifies execution log entries.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// LogEntry is one append-only execution log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// ErrorDetails categorizes a terminal failure on an execution.
type ErrorDetails struct {
	Kind           string `json:"kind"` // timeout, subprocess_failure, internal
	Message        string `json:"message,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	ErrorID        string `json:"error_id,omitempty"`
}

// Execution is a single agent-task attempt.
type Execution struct {
	ID               string          `json:"id" db:"id"`
	TaskID           string          `json:"task_id" db:"task_id"`
	AgentID          string          `json:"agent_id" db:"agent_id"`
	Status           ExecutionStatus `json:"status" db:"status"`
	StartTime        time.Time       `json:"start_time" db:"start_time"`
	EndTime          *time.Time      `json:"end_time,omitempty" db:"end_time"`
	Logs             []LogEntry      `json:"logs"`
	Output           map[string]any  `json:"output,omitempty"`
	ErrorDetails     *ErrorDetails   `json:"error_details,omitempty"`
	AgentResponse    string          `json:"agent_response,omitempty" db:"agent_response"`
	WorkDirectory    string          `json:"work_directory" db:"work_directory"`
	NeedsInteraction bool            `json:"needs_interaction" db:"needs_interaction"`
	DurationSeconds  float64         `json:"duration_seconds" db:"duration_seconds"`
	MemoryUsage      map[string]any  `json:"memory_usage,omitempty"`
	APICallsMade     map[string]any  `json:"api_calls_made,omitempty"`
	// PausedAt is set when a paused snapshot is captured, cleared on resume.
	PausedAt *time.Time `json:"paused_at,omitempty" db:"paused_at"`
}

// StartExecutionRequest asks the engine to run a task.
type StartExecutionRequest struct {
	TaskID        string   `json:"task_id"`
	AgentIDs      []string `json:"agent_ids,omitempty"`
	WorkDirectory string   `json:"work_directory,omitempty"`
	ForceRestart  bool     `json:"force_restart,omitempty"`
}

// StartExecutionResponse acknowledges a scheduled execution.
type StartExecutionResponse struct {
	ExecutionID string          `json:"execution_id"`
	TaskID      string          `json:"task_id"`
	Status      ExecutionStatus `json:"status"`
}
