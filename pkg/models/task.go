package models

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// ParseTaskStatus validates a raw status string at the boundary.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return TaskStatus(s), nil
	}
	return "", fmt.Errorf("invalid task status: %q", s)
}

// TaskPriority orders tasks by urgency.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// ParseTaskPriority validates a raw priority string at the boundary.
func ParseTaskPriority(s string) (TaskPriority, error) {
	switch TaskPriority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return TaskPriority(s), nil
	}
	return "", fmt.Errorf("invalid task priority: %q", s)
}

// Task is a unit of work.
type Task struct {
	ID             string       `json:"id" db:"id"`
	Title          string       `json:"title" db:"title"`
	Description    string       `json:"description" db:"description"`
	ExpectedOutput string       `json:"expected_output" db:"expected_output"`
	Resources      []string     `json:"resources"`
	Dependencies   []string     `json:"dependencies"` // advisory task ids
	Priority       TaskPriority `json:"priority" db:"priority"`
	Deadline       *time.Time   `json:"deadline,omitempty" db:"deadline"`
	// EstimatedDuration is in minutes; persisted as the phrase "N minutes".
	EstimatedDuration *int           `json:"estimated_duration,omitempty"`
	Status            TaskStatus     `json:"status" db:"status"`
	Results           map[string]any `json:"results,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
	StartedAt         *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	// AssignedAgentIDs is ordered by assignment time.
	AssignedAgentIDs []string `json:"assigned_agent_ids,omitempty"`
}

// CreateTaskRequest contains fields for creating a new task.
type CreateTaskRequest struct {
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	ExpectedOutput    string     `json:"expected_output,omitempty"`
	Resources         []string   `json:"resources,omitempty"`
	Dependencies      []string   `json:"dependencies,omitempty"`
	Priority          string     `json:"priority,omitempty"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	EstimatedDuration *int       `json:"estimated_duration,omitempty"`
	AgentIDs          []string   `json:"agent_ids,omitempty"`
}

// UpdateTaskRequest contains the mutable fields of a task.
// Nil pointers mean "leave unchanged".
type UpdateTaskRequest struct {
	Title             *string    `json:"title,omitempty"`
	Description       *string    `json:"description,omitempty"`
	ExpectedOutput    *string    `json:"expected_output,omitempty"`
	Resources         *[]string  `json:"resources,omitempty"`
	Dependencies      *[]string  `json:"dependencies,omitempty"`
	Priority          *string    `json:"priority,omitempty"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	EstimatedDuration *int       `json:"estimated_duration,omitempty"`
	Status            *string    `json:"status,omitempty"`
	AgentIDs          *[]string  `json:"agent_ids,omitempty"`
}

// AssignmentRole describes an agent's role within a task.
type AssignmentRole string

const (
	RolePrimary      AssignmentRole = "primary"
	RoleCollaborator AssignmentRole = "collaborator"
	RoleReviewer     AssignmentRole = "reviewer"
)

// TaskAgentAssignment is the join row between tasks and agents.
type TaskAgentAssignment struct {
	ID         string         `json:"id" db:"id"`
	TaskID     string         `json:"task_id" db:"task_id"`
	AgentID    string         `json:"agent_id" db:"agent_id"`
	RoleInTask AssignmentRole `json:"role_in_task" db:"role_in_task"`
	AssignedAt time.Time      `json:"assigned_at" db:"assigned_at"`
}
