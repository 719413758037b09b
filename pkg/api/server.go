// Package api is the HTTP and WebSocket surface over the service layer.
// Handlers stay thin: parse, delegate, map errors.
package api

import (
	"log/slog"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/maestro-sh/maestro/pkg/database"
	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/services"
)

// Server wires the service layer to HTTP routes.
type Server struct {
	agentService     *services.AgentService
	taskService      *services.TaskService
	executionService *services.ExecutionService
	workflowService  *services.WorkflowService
	systemService    *services.SystemService
	connManager      *events.ConnectionManager
	dbClient         *database.Client
	logger           *slog.Logger
}

// Config collects the server's collaborators.
type Config struct {
	Agents      *services.AgentService
	Tasks       *services.TaskService
	Executions  *services.ExecutionService
	Workflows   *services.WorkflowService
	System      *services.SystemService
	ConnManager *events.ConnectionManager
	DBClient    *database.Client
	Logger      *slog.Logger
}

// NewServer creates an API server over the given services.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		agentService:     cfg.Agents,
		taskService:      cfg.Tasks,
		executionService: cfg.Executions,
		workflowService:  cfg.Workflows,
		systemService:    cfg.System,
		connManager:      cfg.ConnManager,
		dbClient:         cfg.DBClient,
		logger:           logger.With("component", "api"),
	}
}

// Handler builds the echo instance with all routes registered.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.Use(securityHeaders())

	e.GET("/healthz", s.healthHandler)
	e.GET("/ws", s.wsHandler)

	v1 := e.Group("/api/v1")

	v1.POST("/agents", s.createAgentHandler)
	v1.GET("/agents", s.listAgentsHandler)
	v1.GET("/agents/:id", s.getAgentHandler)
	v1.PUT("/agents/:id", s.updateAgentHandler)
	v1.DELETE("/agents/:id", s.deleteAgentHandler)

	v1.POST("/tasks", s.createTaskHandler)
	v1.GET("/tasks", s.listTasksHandler)
	v1.GET("/tasks/:id", s.getTaskHandler)
	v1.PUT("/tasks/:id", s.updateTaskHandler)
	v1.DELETE("/tasks/:id", s.deleteTaskHandler)

	v1.POST("/executions", s.startExecutionHandler)
	v1.GET("/executions", s.listExecutionsHandler)
	v1.GET("/executions/:id", s.getExecutionHandler)
	v1.POST("/executions/:id/pause", s.pauseExecutionHandler)
	v1.POST("/executions/:id/resume", s.resumeExecutionHandler)
	v1.POST("/executions/:id/abort", s.abortExecutionHandler)
	v1.DELETE("/executions/:id", s.deleteExecutionHandler)

	v1.POST("/patterns", s.createPatternHandler)
	v1.GET("/patterns", s.listPatternsHandler)
	v1.GET("/patterns/:id", s.getPatternHandler)
	v1.PUT("/patterns/:id", s.updatePatternHandler)
	v1.DELETE("/patterns/:id", s.deletePatternHandler)
	v1.POST("/patterns/:id/execute", s.executePatternHandler)

	v1.GET("/workflow-executions", s.listWorkflowExecutionsHandler)
	v1.GET("/workflow-executions/:id", s.getWorkflowExecutionHandler)
	v1.POST("/workflow-executions/:id/abort", s.abortWorkflowExecutionHandler)
	v1.DELETE("/workflow-executions/:id", s.deleteWorkflowExecutionHandler)

	v1.POST("/analyze", s.analyzeWorkflowHandler)

	v1.GET("/system/status", s.systemStatusHandler)
	v1.GET("/system/agents", s.agentStatusSummaryHandler)
	v1.GET("/system/workflows", s.workflowSystemHealthHandler)

	return e
}

// parsePaging reads limit/offset query parameters. Zero means unbounded.
func parsePaging(c *echo.Context) (limit, offset int, err error) {
	if v := c.QueryParam("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be a non-negative integer")
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid offset: must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// parseForce reads the force query flag. Absent means false.
func parseForce(c *echo.Context) (bool, error) {
	v := c.QueryParam("force")
	if v == "" {
		return false, nil
	}
	force, err := strconv.ParseBool(v)
	if err != nil {
		return false, echo.NewHTTPError(http.StatusBadRequest, "invalid force: must be a boolean")
	}
	return force, nil
}
