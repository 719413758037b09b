// Package models defines the domain entities, status enums, and request
// types shared by the store, services, engine, and API layers.
package models

import (
	"fmt"
	"time"
)

// AgentStatus is the lifecycle status of an agent.
type AgentStatus string

const (
	AgentStatusIdle      AgentStatus = "idle"
	AgentStatusExecuting AgentStatus = "executing"
	AgentStatusError     AgentStatus = "error"
	AgentStatusStopped   AgentStatus = "stopped"
)

// ParseAgentStatus validates a raw status string at the boundary.
func ParseAgentStatus(s string) (AgentStatus, error) {
	switch AgentStatus(s) {
	case AgentStatusIdle, AgentStatusExecuting, AgentStatusError, AgentStatusStopped:
		return AgentStatus(s), nil
	}
	return "", fmt.Errorf("invalid agent status: %q", s)
}

// Agent is a named autonomous worker.
type Agent struct {
	ID                string         `json:"id" db:"id"`
	Name              string         `json:"name" db:"name"`
	Role              string         `json:"role" db:"role"`
	Description       string         `json:"description" db:"description"`
	SystemPrompt      string         `json:"system_prompt" db:"system_prompt"`
	Capabilities      []string       `json:"capabilities"`
	Tools             []string       `json:"tools"`
	Objectives        []string       `json:"objectives"`
	Constraints       []string       `json:"constraints"`
	MemorySettings    map[string]any `json:"memory_settings"`
	ExecutionSettings map[string]any `json:"execution_settings"`
	Status            AgentStatus    `json:"status" db:"status"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
	LastActive        *time.Time     `json:"last_active,omitempty" db:"last_active"`
}

// CreateAgentRequest contains fields for creating a new agent.
type CreateAgentRequest struct {
	Name              string         `json:"name"`
	Role              string         `json:"role"`
	Description       string         `json:"description,omitempty"`
	SystemPrompt      string         `json:"system_prompt"`
	Capabilities      []string       `json:"capabilities,omitempty"`
	Tools             []string       `json:"tools,omitempty"`
	Objectives        []string       `json:"objectives,omitempty"`
	Constraints       []string       `json:"constraints,omitempty"`
	MemorySettings    map[string]any `json:"memory_settings,omitempty"`
	ExecutionSettings map[string]any `json:"execution_settings,omitempty"`
}

// UpdateAgentRequest contains the mutable non-status fields of an agent.
// Nil pointers mean "leave unchanged".
type UpdateAgentRequest struct {
	Name              *string         `json:"name,omitempty"`
	Role              *string         `json:"role,omitempty"`
	Description       *string         `json:"description,omitempty"`
	SystemPrompt      *string         `json:"system_prompt,omitempty"`
	Capabilities      *[]string       `json:"capabilities,omitempty"`
	Tools             *[]string       `json:"tools,omitempty"`
	Objectives        *[]string       `json:"objectives,omitempty"`
	Constraints       *[]string       `json:"constraints,omitempty"`
	MemorySettings    *map[string]any `json:"memory_settings,omitempty"`
	ExecutionSettings *map[string]any `json:"execution_settings,omitempty"`
	Status            *string         `json:"status,omitempty"`
}

// AgentStatusSummary aggregates agent counts by status for the system surface.
type AgentStatusSummary struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status"`
	Executing []string       `json:"executing,omitempty"` // names of busy agents
}
