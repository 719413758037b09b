package services

import (
	"context"
	"log/slog"

	"github.com/maestro-sh/maestro/pkg/database"
	"github.com/maestro-sh/maestro/pkg/engine"
	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/models"
	"github.com/maestro-sh/maestro/pkg/orchestrator"
	"github.com/maestro-sh/maestro/pkg/store"
	"github.com/maestro-sh/maestro/pkg/version"
)

// SystemStatus aggregates counts and health across the whole process.
type SystemStatus struct {
	Version           string                 `json:"version"`
	Agents            map[string]int         `json:"agents"`
	Tasks             map[string]int         `json:"tasks"`
	Executions        map[string]int         `json:"executions"`
	WorkflowRuns      map[string]int         `json:"workflow_executions"`
	Patterns          int                    `json:"patterns"`
	InFlight          int                    `json:"in_flight_executions"`
	ActiveWorkflows   int                    `json:"active_workflows"`
	EventSubscribers  int                    `json:"event_subscribers"`
	ActiveConnections int                    `json:"active_connections"`
	Database          *database.HealthStatus `json:"database"`
}

// WorkflowSystemHealth summarizes the orchestration side of the process.
type WorkflowSystemHealth struct {
	Patterns        int            `json:"patterns"`
	RunsByStatus    map[string]int `json:"runs_by_status"`
	ActiveWorkflows int            `json:"active_workflows"`
	Healthy         bool           `json:"healthy"`
}

// SystemService composes read-only status projections over every subsystem.
type SystemService struct {
	store        *store.Store
	bus          *events.Bus
	manager      *events.ConnectionManager
	engine       *engine.Engine
	orchestrator *orchestrator.Core
	db           *database.Client
	logger       *slog.Logger
}

// NewSystemService creates a system service.
func NewSystemService(st *store.Store, bus *events.Bus, manager *events.ConnectionManager, eng *engine.Engine, core *orchestrator.Core, db *database.Client, logger *slog.Logger) *SystemService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemService{
		store:        st,
		bus:          bus,
		manager:      manager,
		engine:       eng,
		orchestrator: core,
		db:           db,
		logger:       logger.With("component", "system_service"),
	}
}

// GetSystemStatus assembles the full status projection.
func (s *SystemService) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	agents, err := s.store.CountAgentsByStatus(ctx, s.store.DB())
	if err != nil {
		return nil, NewInternal(err)
	}
	tasks, err := s.store.CountTasksByStatus(ctx, s.store.DB())
	if err != nil {
		return nil, NewInternal(err)
	}
	executions, err := s.store.CountExecutionsByStatus(ctx, s.store.DB())
	if err != nil {
		return nil, NewInternal(err)
	}
	runs, err := s.store.CountWorkflowRunsByStatus(ctx, s.store.DB())
	if err != nil {
		return nil, NewInternal(err)
	}
	patterns, err := s.store.CountPatterns(ctx, s.store.DB())
	if err != nil {
		return nil, NewInternal(err)
	}

	// Health degradation is reported in the payload, not as an error.
	health, _ := database.Health(ctx, s.db.DB())

	status := &SystemStatus{
		Version:          version.Version,
		Agents:           agents,
		Tasks:            tasks,
		Executions:       executions,
		WorkflowRuns:     runs,
		Patterns:         patterns,
		InFlight:         s.engine.InFlight(),
		ActiveWorkflows:  s.orchestrator.ActiveRuns(),
		EventSubscribers: s.bus.SubscriberCount(),
		Database:         health,
	}
	if s.manager != nil {
		status.ActiveConnections = s.manager.ActiveConnections()
	}
	return status, nil
}

// GetAgentStatusSummary aggregates agent counts and names the busy ones.
func (s *SystemService) GetAgentStatusSummary(ctx context.Context) (*models.AgentStatusSummary, error) {
	counts, err := s.store.CountAgentsByStatus(ctx, s.store.DB())
	if err != nil {
		return nil, NewInternal(err)
	}
	summary := &models.AgentStatusSummary{ByStatus: counts}
	for _, n := range counts {
		summary.Total += n
	}

	if counts[string(models.AgentStatusExecuting)] > 0 {
		agents, err := s.store.ListAgents(ctx, s.store.DB(), 0, 0)
		if err != nil {
			return nil, NewInternal(err)
		}
		for _, agent := range agents {
			if agent.Status == models.AgentStatusExecuting {
				summary.Executing = append(summary.Executing, agent.Name)
			}
		}
	}
	return summary, nil
}

// GetWorkflowSystemHealth summarizes patterns and runs for the dashboard.
func (s *SystemService) GetWorkflowSystemHealth(ctx context.Context) (*WorkflowSystemHealth, error) {
	patterns, err := s.store.CountPatterns(ctx, s.store.DB())
	if err != nil {
		return nil, NewInternal(err)
	}
	runs, err := s.store.CountWorkflowRunsByStatus(ctx, s.store.DB())
	if err != nil {
		return nil, NewInternal(err)
	}

	_, dbErr := database.Health(ctx, s.db.DB())
	return &WorkflowSystemHealth{
		Patterns:        patterns,
		RunsByStatus:    runs,
		ActiveWorkflows: s.orchestrator.ActiveRuns(),
		Healthy:         dbErr == nil,
	}, nil
}
