package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// systemStatusHandler handles GET /api/v1/system/status.
func (s *Server) systemStatusHandler(c *echo.Context) error {
	status, err := s.systemService.GetSystemStatus(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, status)
}

// agentStatusSummaryHandler handles GET /api/v1/system/agents.
func (s *Server) agentStatusSummaryHandler(c *echo.Context) error {
	summary, err := s.systemService.GetAgentStatusSummary(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

// workflowSystemHealthHandler handles GET /api/v1/system/workflows.
func (s *Server) workflowSystemHealthHandler(c *echo.Context) error {
	health, err := s.systemService.GetWorkflowSystemHealth(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, health)
}
