package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowType selects the coordination pattern for a workflow.
type WorkflowType string

const (
	WorkflowSequential         WorkflowType = "sequential"
	WorkflowParallel           WorkflowType = "parallel"
	WorkflowRouter             WorkflowType = "router"
	WorkflowEvaluatorOptimizer WorkflowType = "evaluator_optimizer"
	WorkflowSwarm              WorkflowType = "swarm"
	WorkflowOrchestrator       WorkflowType = "orchestrator"
	WorkflowAdaptive           WorkflowType = "adaptive"
)

// AllWorkflowTypes lists the seven coordination patterns.
var AllWorkflowTypes = []WorkflowType{
	WorkflowSequential, WorkflowParallel, WorkflowRouter,
	WorkflowEvaluatorOptimizer, WorkflowSwarm, WorkflowOrchestrator,
	WorkflowAdaptive,
}

// ParseWorkflowType validates a raw workflow type at the boundary.
func ParseWorkflowType(s string) (WorkflowType, error) {
	for _, t := range AllWorkflowTypes {
		if WorkflowType(s) == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid workflow type: %q", s)
}

// PatternStatus is the lifecycle status of a workflow pattern.
type PatternStatus string

const (
	PatternStatusActive   PatternStatus = "active"
	PatternStatusInactive PatternStatus = "inactive"
	PatternStatusArchived PatternStatus = "archived"
)

// ParsePatternStatus validates a raw pattern status at the boundary.
func ParsePatternStatus(s string) (PatternStatus, error) {
	switch PatternStatus(s) {
	case PatternStatusActive, PatternStatusInactive, PatternStatusArchived:
		return PatternStatus(s), nil
	}
	return "", fmt.Errorf("invalid pattern status: %q", s)
}

// WorkflowConfig holds the recognized pattern configuration keys.
// Unlisted keys ride in Extras and are never branched on.
type WorkflowConfig struct {
	MaxIterations            int            `json:"max_iterations" yaml:"max_iterations"`
	SuccessThreshold         float64        `json:"success_threshold" yaml:"success_threshold"`
	CoordinationRounds       int            `json:"coordination_rounds" yaml:"coordination_rounds"`
	AgentsPerTask            int            `json:"agents_per_task" yaml:"agents_per_task"`
	TimeoutMinutes           int            `json:"timeout_minutes" yaml:"timeout_minutes"`
	EnableAgentCommunication bool           `json:"enable_agent_communication" yaml:"enable_agent_communication"`
	QualityGates             []string       `json:"quality_gates" yaml:"quality_gates"`
	PerformanceMonitoring    bool           `json:"performance_monitoring" yaml:"performance_monitoring"`
	AdaptiveOptimization     bool           `json:"adaptive_optimization" yaml:"adaptive_optimization"`
	Extras                   map[string]any `json:"extras,omitempty" yaml:"extras,omitempty"`
}

// UnmarshalJSON seeds the defaults before decoding so keys absent from the
// payload keep them. Explicit values, including zeros, still win.
func (c *WorkflowConfig) UnmarshalJSON(data []byte) error {
	*c = DefaultWorkflowConfig()
	type plain WorkflowConfig
	return json.Unmarshal(data, (*plain)(c))
}

// DefaultWorkflowConfig returns the binding defaults for unset keys.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		MaxIterations:            10,
		SuccessThreshold:         0.85,
		CoordinationRounds:       2,
		AgentsPerTask:            2,
		TimeoutMinutes:           60,
		EnableAgentCommunication: true,
		QualityGates:             []string{},
		PerformanceMonitoring:    true,
		AdaptiveOptimization:     true,
	}
}

// WorkflowPattern is a named, reusable composition plan.
type WorkflowPattern struct {
	ID               string              `json:"id" db:"id"`
	Name             string              `json:"name" db:"name"`
	Description      string              `json:"description" db:"description"`
	WorkflowType     WorkflowType        `json:"workflow_type" db:"workflow_type"`
	AgentIDs         []string            `json:"agent_ids"`
	TaskIDs          []string            `json:"task_ids"`
	Dependencies     map[string][]string `json:"dependencies,omitempty"` // advisory task graph
	Config           WorkflowConfig      `json:"config"`
	UserObjective    string              `json:"user_objective,omitempty" db:"user_objective"`
	ProjectDirectory string              `json:"project_directory,omitempty" db:"project_directory"`
	Status           PatternStatus       `json:"status" db:"status"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at" db:"updated_at"`
}

// CreatePatternRequest contains fields for creating a workflow pattern.
type CreatePatternRequest struct {
	Name             string              `json:"name"`
	Description      string              `json:"description,omitempty"`
	WorkflowType     string              `json:"workflow_type,omitempty"` // default parallel
	AgentIDs         []string            `json:"agent_ids"`
	TaskIDs          []string            `json:"task_ids"`
	Dependencies     map[string][]string `json:"dependencies,omitempty"`
	Config           *WorkflowConfig     `json:"config,omitempty"`
	UserObjective    string              `json:"user_objective,omitempty"`
	ProjectDirectory string              `json:"project_directory,omitempty"`
}

// UpdatePatternRequest contains the mutable fields of a workflow pattern.
type UpdatePatternRequest struct {
	Name             *string              `json:"name,omitempty"`
	Description      *string              `json:"description,omitempty"`
	WorkflowType     *string              `json:"workflow_type,omitempty"`
	AgentIDs         *[]string            `json:"agent_ids,omitempty"`
	TaskIDs          *[]string            `json:"task_ids,omitempty"`
	Dependencies     *map[string][]string `json:"dependencies,omitempty"`
	Config           *WorkflowConfig      `json:"config,omitempty"`
	UserObjective    *string              `json:"user_objective,omitempty"`
	ProjectDirectory *string              `json:"project_directory,omitempty"`
	Status           *string              `json:"status,omitempty"`
}

// PatternFilters narrows pattern listings.
type PatternFilters struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}
